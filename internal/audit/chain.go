package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/google/uuid"

	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
)

// Signer computes entry signatures. A non-empty key switches from plain SHA-256 to HMAC-SHA-256.
type Signer struct {
	key []byte
}

func NewSigner(key string) *Signer {
	if key == "" {
		return &Signer{}
	}
	return &Signer{key: []byte(key)}
}

func (s *Signer) newHash() hash.Hash {
	if s == nil || len(s.key) == 0 {
		return sha256.New()
	}
	return hmac.New(sha256.New, s.key)
}

// Sign returns hex(H(canonical(entry) || prevSignature)).
func (s *Signer) Sign(entry Entry, prevSignature string) (string, error) {
	payload, err := entry.canonical()
	if err != nil {
		return "", fmt.Errorf("canonicalize audit entry: %w", err)
	}
	h := s.newHash()
	h.Write(payload)
	h.Write([]byte(prevSignature))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Chain assigns the next sequence number and signature to entry. prev is nil for the first entry.
func (s *Signer) Chain(prev *Entry, entry Entry) (Entry, error) {
	entry.Timestamp = NormalizeTime(entry.Timestamp)
	prevSignature := ""
	entry.Sequence = 1
	if prev != nil {
		if prev.EntityID != entry.EntityID {
			return Entry{}, fmt.Errorf("audit chain entity mismatch: %s != %s", prev.EntityID, entry.EntityID)
		}
		entry.Sequence = prev.Sequence + 1
		prevSignature = prev.Signature
	}
	sig, err := s.Sign(entry, prevSignature)
	if err != nil {
		return Entry{}, err
	}
	entry.Signature = sig
	return entry, nil
}

// IntegrityViolation reports the first entry whose stored signature or sequence does not match.
type IntegrityViolation struct {
	EntityID uuid.UUID
	Sequence int
	Expected string
	Actual   string
	Reason   string
}

func (v *IntegrityViolation) Error() string {
	return fmt.Sprintf("audit integrity violation for %s at sequence %d: %s", v.EntityID, v.Sequence, v.Reason)
}

// VerifyIntegrity recomputes the chain from the first entry. entries must be ordered by sequence.
func (s *Signer) VerifyIntegrity(entries []Entry) error {
	prevSignature := ""
	for i, entry := range entries {
		want := i + 1
		if entry.Sequence != want {
			return integrityError(&IntegrityViolation{
				EntityID: entry.EntityID,
				Sequence: entry.Sequence,
				Expected: fmt.Sprint(want),
				Actual:   fmt.Sprint(entry.Sequence),
				Reason:   "sequence gap",
			})
		}
		if i > 0 && entry.EntityID != entries[0].EntityID {
			return integrityError(&IntegrityViolation{
				EntityID: entry.EntityID,
				Sequence: entry.Sequence,
				Reason:   "entity mismatch",
			})
		}
		expected, err := s.Sign(entry, prevSignature)
		if err != nil {
			return err
		}
		if !hmac.Equal([]byte(expected), []byte(entry.Signature)) {
			return integrityError(&IntegrityViolation{
				EntityID: entry.EntityID,
				Sequence: entry.Sequence,
				Expected: expected,
				Actual:   entry.Signature,
				Reason:   "signature mismatch",
			})
		}
		prevSignature = entry.Signature
	}
	return nil
}

func integrityError(v *IntegrityViolation) error {
	return pkgerrors.Wrap(pkgerrors.CodeIntegrity, v, "audit chain verification failed").
		WithDetails(map[string]any{
			"entity_id": v.EntityID.String(),
			"sequence":  v.Sequence,
			"reason":    v.Reason,
		})
}
