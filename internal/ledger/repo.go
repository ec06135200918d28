package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/internal/repo"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
)

// Repository persists ledger transactions and their audit chains.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, settledAt *time.Time) error
	SetFraudScore(ctx context.Context, id uuid.UUID, score float64) error
	ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]models.Transaction, error)
	ListPending(ctx context.Context, limit int) ([]models.Transaction, error)
	LastAudit(ctx context.Context, transactionID uuid.UUID) (*models.TransactionAudit, error)
	AppendAudit(ctx context.Context, entry *models.TransactionAudit) error
	ListAudit(ctx context.Context, transactionID uuid.UUID) ([]models.TransactionAudit, error)
	ListAuditFor(ctx context.Context, transactionIDs []uuid.UUID) (map[uuid.UUID][]models.TransactionAudit, error)
	Stats(ctx context.Context) (*Stats, error)
}

// Stats summarizes the ledger.
type Stats struct {
	Total               int64                             `json:"total"`
	ByStatus            map[enums.TransactionStatus]int64 `json:"byStatus"`
	TotalCompletedValue decimal.Decimal                   `json:"totalCompletedValue"`
	AverageFraudScore   *float64                          `json:"averageFraudScore,omitempty"`
}

type repository struct {
	repo.Base
}

// NewRepository returns a gorm-backed ledger repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.DB(ctx).Create(txn).Error
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.DB(ctx).First(&txn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := repo.ForUpdate(r.DB(ctx)).First(&txn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, settledAt *time.Time) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if settledAt != nil {
		updates["settled_at"] = *settledAt
	}
	res := r.DB(ctx).Model(&models.Transaction{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) SetFraudScore(ctx context.Context, id uuid.UUID, score float64) error {
	res := r.DB(ctx).Model(&models.Transaction{}).Where("id = ?", id).Updates(map[string]any{
		"fraud_score": score,
		"updated_at":  time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListByWallet returns transactions on either side of the wallet, newest first.
func (r *repository) ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.DB(ctx).
		Where("from_wallet = ? OR to_wallet = ?", walletID, walletID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListPending(ctx context.Context, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.DB(ctx).
		Where("status = ?", enums.TransactionStatusPending).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) LastAudit(ctx context.Context, transactionID uuid.UUID) (*models.TransactionAudit, error) {
	var rows []models.TransactionAudit
	err := r.DB(ctx).
		Where("transaction_id = ?", transactionID).
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

func (r *repository) AppendAudit(ctx context.Context, entry *models.TransactionAudit) error {
	return r.DB(ctx).Create(entry).Error
}

func (r *repository) ListAudit(ctx context.Context, transactionID uuid.UUID) ([]models.TransactionAudit, error) {
	var rows []models.TransactionAudit
	err := r.DB(ctx).
		Where("transaction_id = ?", transactionID).
		Order("sequence ASC").
		Find(&rows).Error
	return rows, err
}

// ListAuditFor loads the trails of several transactions in one query, grouped by transaction.
func (r *repository) ListAuditFor(ctx context.Context, transactionIDs []uuid.UUID) (map[uuid.UUID][]models.TransactionAudit, error) {
	out := make(map[uuid.UUID][]models.TransactionAudit, len(transactionIDs))
	if len(transactionIDs) == 0 {
		return out, nil
	}
	var rows []models.TransactionAudit
	err := r.DB(ctx).
		Where("transaction_id IN ?", transactionIDs).
		Order("transaction_id ASC, sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.TransactionID] = append(out[row.TransactionID], row)
	}
	return out, nil
}

func (r *repository) Stats(ctx context.Context) (*Stats, error) {
	var counts []struct {
		Status enums.TransactionStatus
		Count  int64
	}
	err := r.DB(ctx).Model(&models.Transaction{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}

	stats := &Stats{ByStatus: map[enums.TransactionStatus]int64{}}
	for _, c := range counts {
		stats.ByStatus[c.Status] = c.Count
		stats.Total += c.Count
	}

	var completed struct {
		Total decimal.NullDecimal
	}
	err = r.DB(ctx).Model(&models.Transaction{}).
		Select("SUM(amount) AS total").
		Where("status = ?", enums.TransactionStatusCompleted).
		Scan(&completed).Error
	if err != nil {
		return nil, err
	}
	stats.TotalCompletedValue = decimal.Zero
	if completed.Total.Valid {
		stats.TotalCompletedValue = completed.Total.Decimal
	}

	var avg struct {
		Score *float64
	}
	err = r.DB(ctx).Model(&models.Transaction{}).
		Select("AVG(fraud_score) AS score").
		Where("fraud_score IS NOT NULL").
		Scan(&avg).Error
	if err != nil {
		return nil, err
	}
	stats.AverageFraudScore = avg.Score
	return stats, nil
}
