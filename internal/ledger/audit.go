package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/echopay/echopay-backend/internal/audit"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
)

func toAuditEntry(row models.TransactionAudit) audit.Entry {
	return audit.Entry{
		EntityID:      row.TransactionID,
		Sequence:      row.Sequence,
		Action:        row.Action,
		PreviousState: row.PreviousState,
		NewState:      row.NewState,
		Timestamp:     row.Timestamp,
		UserID:        row.UserID,
		ServiceID:     row.ServiceID,
		Details:       row.Details,
		Signature:     row.Signature,
	}
}

// appendAudit chains an entry onto the transaction trail. The caller holds the transaction row lock,
// or created the row inside the same tx.
func (s *service) appendAudit(ctx context.Context, repo Repository, transactionID uuid.UUID, action enums.AuditAction, prevState, newState, details map[string]any, actor audit.Actor) error {
	row := models.TransactionAudit{
		TransactionID: transactionID,
		Action:        action,
		PreviousState: prevState,
		NewState:      newState,
		Timestamp:     audit.NormalizeTime(time.Now()),
		UserID:        actor.UserIDPtr(),
		ServiceID:     s.serviceID,
		Details:       details,
	}

	last, err := repo.LastAudit(ctx, transactionID)
	if err != nil {
		return err
	}
	var prev *audit.Entry
	if last != nil {
		entry := toAuditEntry(*last)
		prev = &entry
	}
	chained, err := s.signer.Chain(prev, toAuditEntry(row))
	if err != nil {
		return err
	}
	row.Sequence = chained.Sequence
	row.Timestamp = chained.Timestamp
	row.Signature = chained.Signature
	return repo.AppendAudit(ctx, &row)
}

func (s *service) verifyTrail(rows []models.TransactionAudit) error {
	entries := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toAuditEntry(row))
	}
	return s.signer.VerifyIntegrity(entries)
}
