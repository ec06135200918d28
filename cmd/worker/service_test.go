package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echopay/echopay-backend/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func newTestWorker(t *testing.T, redisErr error, consumer runner) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:    logger.Nop(),
		DB:        stubPinger{},
		Redis:     stubPinger{err: redisErr},
		PubSub:    stubPinger{},
		Consumers: map[string]runner{"notifications": consumer},
	})
	require.NoError(t, err)
	return svc
}

func TestWorkerFailsWhenDependencyDown(t *testing.T) {
	started := false
	svc := newTestWorker(t, errors.New("refused"), runnerFunc(func(context.Context) error {
		started = true
		return nil
	}))

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
	assert.False(t, started)
}

func TestWorkerStopsOnConsumerFailure(t *testing.T) {
	svc := newTestWorker(t, nil, runnerFunc(func(context.Context) error {
		return errors.New("subscription deleted")
	}))

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifications")
}

func TestWorkerExitsOnCancel(t *testing.T) {
	svc := newTestWorker(t, nil, runnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewServiceRequiresConsumers(t *testing.T) {
	_, err := NewService(ServiceParams{
		Logger: logger.Nop(),
		DB:     stubPinger{},
		Redis:  stubPinger{},
		PubSub: stubPinger{},
	})
	assert.Error(t, err)
}
