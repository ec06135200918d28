package outbox

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxDLQErrorLen   = 1024
	defaultDLQListed = 50
)

// DLQRepository stores outbox events the publisher gave up on. One row per event.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx parks an event. A replayed terminal event refreshes the existing row
// instead of adding a second one.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ErrorMessage != nil {
		msg := truncateDLQError(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}

	var existing models.OutboxDLQ
	err := tx.Where("event_id = ?", entry.EventID).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&entry).Error
	case err != nil:
		return err
	}
	return tx.Model(&existing).Updates(map[string]any{
		"error_reason":  entry.ErrorReason,
		"error_message": entry.ErrorMessage,
		"attempt_count": entry.AttemptCount,
		"failed_at":     gorm.Expr("CURRENT_TIMESTAMP"),
	}).Error
}

func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var dlq models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&dlq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dlq, nil
}

// DLQFilter narrows List. Zero values match everything.
type DLQFilter struct {
	Reason    enums.OutboxDLQErrorReason
	EventType enums.OutboxEventType
	Limit     int
}

// List returns the most recent failures first.
func (r *DLQRepository) List(ctx context.Context, filter DLQFilter) ([]models.OutboxDLQ, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultDLQListed
	}
	query := r.db.WithContext(ctx).Model(&models.OutboxDLQ{})
	if filter.Reason != "" {
		query = query.Where("error_reason = ?", filter.Reason)
	}
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	var rows []models.OutboxDLQ
	err := query.Order("failed_at DESC").Order("id").Limit(limit).Find(&rows).Error
	return rows, err
}

// truncateDLQError cuts at a rune boundary so the stored message stays valid UTF-8.
func truncateDLQError(message string) string {
	if len(message) <= maxDLQErrorLen {
		return message
	}
	cut := maxDLQErrorLen
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
