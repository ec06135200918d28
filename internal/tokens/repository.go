package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/internal/repo"
	"github.com/echopay/echopay-backend/pkg/db"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
)

// Repository persists tokens and their audit chains.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, tokens []*models.Token) error
	Get(ctx context.Context, id uuid.UUID) (*models.Token, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Token, error)
	GetManyForUpdate(ctx context.Context, ids []uuid.UUID) ([]models.Token, error)
	Save(ctx context.Context, token *models.Token) error
	ListByOwner(ctx context.Context, owner string) ([]models.Token, error)
	ListByStatus(ctx context.Context, status enums.TokenStatus) ([]models.Token, error)
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.Token, error)
	ListByTransactionForUpdate(ctx context.Context, transactionID uuid.UUID) ([]models.Token, error)
	ListHeldByCaseForUpdate(ctx context.Context, caseID uuid.UUID) ([]models.Token, error)
	LastAudit(ctx context.Context, tokenID uuid.UUID) (*models.TokenAuditEntry, error)
	AppendAudit(ctx context.Context, entry *models.TokenAuditEntry) error
	ListAudit(ctx context.Context, tokenID uuid.UUID) ([]models.TokenAuditEntry, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, tokens []*models.Token) error {
	if len(tokens) == 0 {
		return nil
	}
	return r.DB(ctx).CreateInBatches(tokens, 200).Error
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*models.Token, error) {
	var token models.Token
	if err := r.DB(ctx).First(&token, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *repository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Token, error) {
	var token models.Token
	if err := repo.ForUpdate(r.DB(ctx)).First(&token, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

// GetManyForUpdate locks rows in id order so concurrent bulk updates cannot deadlock.
func (r *repository) GetManyForUpdate(ctx context.Context, ids []uuid.UUID) ([]models.Token, error) {
	var rows []models.Token
	err := repo.ForUpdate(r.DB(ctx)).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) Save(ctx context.Context, token *models.Token) error {
	token.UpdatedAt = time.Now().UTC()
	res := r.DB(ctx).Model(token).
		Select("current_owner", "status", "dispute_case_id", "transaction_history", "metadata", "updated_at").
		Updates(token)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) ListByOwner(ctx context.Context, owner string) ([]models.Token, error) {
	var rows []models.Token
	err := r.DB(ctx).
		Where("current_owner = ?", owner).
		Order("issued_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByStatus(ctx context.Context, status enums.TokenStatus) ([]models.Token, error) {
	var rows []models.Token
	err := r.DB(ctx).
		Where("status = ?", status).
		Order("issued_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.Token, error) {
	var rows []models.Token
	err := r.historyFilter(r.DB(ctx), transactionID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByTransactionForUpdate(ctx context.Context, transactionID uuid.UUID) ([]models.Token, error) {
	var rows []models.Token
	err := r.historyFilter(repo.ForUpdate(r.DB(ctx)), transactionID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ListHeldByCaseForUpdate locks the disputed tokens a fraud case holds.
func (r *repository) ListHeldByCaseForUpdate(ctx context.Context, caseID uuid.UUID) ([]models.Token, error) {
	var rows []models.Token
	err := repo.ForUpdate(r.DB(ctx)).
		Where("dispute_case_id = ? AND status = ?", caseID, enums.TokenStatusDisputed).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// historyFilter matches tokens whose transaction history contains the id. Postgres
// uses jsonb containment; other dialects fall back to a text match on the encoded array.
func (r *repository) historyFilter(q *gorm.DB, transactionID uuid.UUID) *gorm.DB {
	if db.IsPostgres(q) {
		return q.Where("transaction_history @> ?::jsonb", fmt.Sprintf(`[%q]`, transactionID.String()))
	}
	return q.Where("transaction_history LIKE ?", fmt.Sprintf(`%%%q%%`, transactionID.String()))
}

func (r *repository) LastAudit(ctx context.Context, tokenID uuid.UUID) (*models.TokenAuditEntry, error) {
	var rows []models.TokenAuditEntry
	err := r.DB(ctx).
		Where("token_id = ?", tokenID).
		Order("sequence DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repository) AppendAudit(ctx context.Context, entry *models.TokenAuditEntry) error {
	return r.DB(ctx).Create(entry).Error
}

func (r *repository) ListAudit(ctx context.Context, tokenID uuid.UUID) ([]models.TokenAuditEntry, error) {
	var rows []models.TokenAuditEntry
	err := r.DB(ctx).
		Where("token_id = ?", tokenID).
		Order("sequence ASC").
		Find(&rows).Error
	return rows, err
}
