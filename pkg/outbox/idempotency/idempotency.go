// Package idempotency guards stream consumers against redelivered outbox events.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/echopay/echopay-backend/pkg/redis"
)

// DefaultTTL covers the publisher's retry horizon with room to spare.
const DefaultTTL = 7 * 24 * time.Hour

// Manager remembers processed event ids per consumer with Redis SETNX.
// Keys look like `echopay:idempotency:evt:processed:<consumer>:<event_id>`.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed reports whether the event was already seen, marking it otherwise.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (m *Manager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

// Run executes fn once per event. A failing fn clears the mark so a redelivery can retry.
// The bool result is true when fn was skipped as a duplicate.
func (m *Manager) Run(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error) {
	already, err := m.CheckAndMarkProcessed(ctx, consumer, eventID)
	if err != nil {
		return false, err
	}
	if already {
		return true, nil
	}
	if err := fn(ctx); err != nil {
		if delErr := m.Delete(ctx, consumer, eventID); delErr != nil {
			return false, errors.Join(err, delErr)
		}
		return false, err
	}
	return false, nil
}

func (m *Manager) processedKey(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey(fmt.Sprintf("evt:processed:%s", consumer), eventID.String()), nil
}
