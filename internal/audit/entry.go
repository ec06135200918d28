// Package audit builds and verifies the hash-chained audit trails kept for transactions and tokens.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/echopay/echopay-backend/pkg/enums"
)

// Entry is the dialect-neutral view of one audit record. Each entry's signature
// covers its own content plus the signature of the entry before it.
type Entry struct {
	EntityID      uuid.UUID
	Sequence      int
	Action        enums.AuditAction
	PreviousState map[string]any
	NewState      map[string]any
	Timestamp     time.Time
	UserID        *string
	ServiceID     string
	Details       map[string]any
	Signature     string
}

// canonicalEntry fixes field order for hashing. Maps are emitted with sorted keys by encoding/json.
type canonicalEntry struct {
	EntityID      string          `json:"entity_id"`
	Sequence      int             `json:"sequence"`
	Action        string          `json:"action"`
	PreviousState json.RawMessage `json:"previous_state"`
	NewState      json.RawMessage `json:"new_state"`
	Timestamp     string          `json:"timestamp"`
	UserID        string          `json:"user_id"`
	ServiceID     string          `json:"service_id"`
	Details       json.RawMessage `json:"details"`
}

// NormalizeTime drops sub-microsecond precision so a value survives a timestamptz round trip unchanged.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func (e Entry) canonical() ([]byte, error) {
	prev, err := canonicalMap(e.PreviousState)
	if err != nil {
		return nil, fmt.Errorf("previous state: %w", err)
	}
	next, err := canonicalMap(e.NewState)
	if err != nil {
		return nil, fmt.Errorf("new state: %w", err)
	}
	details, err := canonicalMap(e.Details)
	if err != nil {
		return nil, fmt.Errorf("details: %w", err)
	}
	user := ""
	if e.UserID != nil {
		user = *e.UserID
	}
	return json.Marshal(canonicalEntry{
		EntityID:      e.EntityID.String(),
		Sequence:      e.Sequence,
		Action:        string(e.Action),
		PreviousState: prev,
		NewState:      next,
		Timestamp:     NormalizeTime(e.Timestamp).Format(time.RFC3339Nano),
		UserID:        user,
		ServiceID:     e.ServiceID,
		Details:       details,
	})
}

// canonicalMap re-encodes through a generic decode so typed values (uuid, decimal, ints)
// hash the same as the JSON that comes back out of storage.
func canonicalMap(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("null"), nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
