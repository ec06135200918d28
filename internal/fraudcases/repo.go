package fraudcases

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/internal/repo"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
)

// Repository persists fraud cases. Methods that change status are guarded by the expected
// current status and report how many rows they flipped.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, fc *models.FraudCase) error
	Get(ctx context.Context, id uuid.UUID) (*models.FraudCase, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.FraudCase, error)
	HasActiveForTransaction(ctx context.Context, transactionID uuid.UUID) (bool, error)
	Assign(ctx context.Context, id uuid.UUID, arbitratorID string, now time.Time) (int64, error)
	SaveEvidence(ctx context.Context, fc *models.FraudCase) error
	Resolve(ctx context.Context, id uuid.UUID, resolution enums.FraudResolution, reasoning, resolvedBy string, now time.Time) (int64, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.FraudCaseStatus, now time.Time) (int64, error)
	MarkEscalated(ctx context.Context, id uuid.UUID, cutoff, now time.Time) (int64, error)
	ListOverdue(ctx context.Context, cutoff time.Time) ([]models.FraudCase, error)
	ListByReporter(ctx context.Context, reporterID string) ([]models.FraudCase, error)
	ListByArbitrator(ctx context.Context, arbitratorID string) ([]models.FraudCase, error)
	ListUnassigned(ctx context.Context) ([]models.FraudCase, error)
	ListActive(ctx context.Context) ([]models.FraudCase, error)
	ListAutomatedCandidates(ctx context.Context, createdBefore time.Time, priorities []enums.FraudCasePriority, limit int) ([]models.FraudCase, error)
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

func (r *repository) Create(ctx context.Context, fc *models.FraudCase) error {
	return r.DB(ctx).Create(fc).Error
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*models.FraudCase, error) {
	var fc models.FraudCase
	if err := r.DB(ctx).First(&fc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &fc, nil
}

func (r *repository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.FraudCase, error) {
	var fc models.FraudCase
	if err := repo.ForUpdate(r.DB(ctx)).First(&fc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &fc, nil
}

func (r *repository) HasActiveForTransaction(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&models.FraudCase{}).
		Where("transaction_id = ? AND status IN ?", transactionID, enums.ActiveFraudCaseStatuses).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) Assign(ctx context.Context, id uuid.UUID, arbitratorID string, now time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.FraudCase{}).
		Where("id = ? AND status = ? AND arbitrator_id IS NULL", id, enums.FraudCaseStatusInvestigating).
		Updates(map[string]any{
			"arbitrator_id": arbitratorID,
			"assigned_at":   now,
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) SaveEvidence(ctx context.Context, fc *models.FraudCase) error {
	fc.UpdatedAt = time.Now().UTC()
	res := r.DB(ctx).Model(fc).Select("evidence", "updated_at").Updates(fc)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) Resolve(ctx context.Context, id uuid.UUID, resolution enums.FraudResolution, reasoning, resolvedBy string, now time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.FraudCase{}).
		Where("id = ? AND status = ?", id, enums.FraudCaseStatusInvestigating).
		Updates(map[string]any{
			"status":               enums.FraudCaseStatusResolved,
			"resolution":           resolution,
			"resolution_reasoning": reasoning,
			"resolved_by":          resolvedBy,
			"resolved_at":          now,
			"updated_at":           now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.FraudCaseStatus, now time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.FraudCase{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// MarkEscalated flips one overdue case. A concurrent sweep that got there first leaves 0 rows.
func (r *repository) MarkEscalated(ctx context.Context, id uuid.UUID, cutoff, now time.Time) (int64, error) {
	res := r.DB(ctx).Model(&models.FraudCase{}).
		Where("id = ? AND status = ? AND escalated_at IS NULL AND created_at < ?", id, enums.FraudCaseStatusInvestigating, cutoff).
		Updates(map[string]any{
			"escalated":    true,
			"escalated_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ListOverdue(ctx context.Context, cutoff time.Time) ([]models.FraudCase, error) {
	var rows []models.FraudCase
	err := r.DB(ctx).
		Where("status = ? AND escalated_at IS NULL AND created_at < ?", enums.FraudCaseStatusInvestigating, cutoff).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByReporter(ctx context.Context, reporterID string) ([]models.FraudCase, error) {
	var rows []models.FraudCase
	err := r.DB(ctx).
		Where("reporter_id = ?", reporterID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByArbitrator(ctx context.Context, arbitratorID string) ([]models.FraudCase, error) {
	var rows []models.FraudCase
	err := r.DB(ctx).
		Where("arbitrator_id = ? AND status = ?", arbitratorID, enums.FraudCaseStatusInvestigating).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListUnassigned(ctx context.Context) ([]models.FraudCase, error) {
	var rows []models.FraudCase
	err := r.DB(ctx).
		Where("status = ? AND arbitrator_id IS NULL", enums.FraudCaseStatusInvestigating).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListActive(ctx context.Context) ([]models.FraudCase, error) {
	var rows []models.FraudCase
	err := r.DB(ctx).
		Where("status IN ?", enums.ActiveFraudCaseStatuses).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListAutomatedCandidates(ctx context.Context, createdBefore time.Time, priorities []enums.FraudCasePriority, limit int) ([]models.FraudCase, error) {
	var rows []models.FraudCase
	err := r.DB(ctx).
		Where("status = ? AND resolution IS NULL AND created_at < ? AND priority IN ?",
			enums.FraudCaseStatusInvestigating, createdBefore, priorities).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
