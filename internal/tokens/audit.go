package tokens

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/echopay/echopay-backend/internal/audit"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
)

type auditChange struct {
	Operation enums.AuditAction
	OldStatus *enums.TokenStatus
	NewStatus *enums.TokenStatus
	OldOwner  *string
	NewOwner  *string
	Metadata  map[string]any
}

func stateMap(status *string, owner *string) map[string]any {
	out := map[string]any{}
	if status != nil {
		out["status"] = *status
	}
	if owner != nil {
		out["owner"] = *owner
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toAuditEntry(row models.TokenAuditEntry) audit.Entry {
	return audit.Entry{
		EntityID:      row.TokenID,
		Sequence:      row.Sequence,
		Action:        row.Operation,
		PreviousState: stateMap(row.OldStatus, row.OldOwner),
		NewState:      stateMap(row.NewStatus, row.NewOwner),
		Timestamp:     row.Timestamp,
		UserID:        row.UserID,
		ServiceID:     row.ServiceID,
		Details:       row.Metadata,
		Signature:     row.Signature,
	}
}

func statusPtr(s *enums.TokenStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

// appendAudit chains a new entry onto the token's trail. The caller must hold the token row lock.
func (s *service) appendAudit(ctx context.Context, repo Repository, tokenID uuid.UUID, actor audit.Actor, change auditChange) error {
	row := models.TokenAuditEntry{
		TokenID:   tokenID,
		Operation: change.Operation,
		OldStatus: statusPtr(change.OldStatus),
		NewStatus: statusPtr(change.NewStatus),
		OldOwner:  change.OldOwner,
		NewOwner:  change.NewOwner,
		Timestamp: audit.NormalizeTime(time.Now()),
		UserID:    actor.UserIDPtr(),
		ServiceID: s.serviceID,
		Metadata:  change.Metadata,
	}

	last, err := repo.LastAudit(ctx, tokenID)
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

func ptr[T any](v T) *T {
	return &v
}
