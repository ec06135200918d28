package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/echopay/echopay-backend/pkg/logger"
)

const heartbeatInterval = time.Minute

type pinger interface {
	Ping(context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger    *logger.Logger
	DB        pinger
	Redis     pinger
	PubSub    pinger
	Consumers map[string]runner
}

// Service runs the background consumers until one fails or the context ends.
type Service struct {
	logg      *logger.Logger
	deps      map[string]pinger
	consumers map[string]runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if len(params.Consumers) == 0 {
		return nil, errors.New("at least one consumer is required")
	}
	return &Service{
		logg: params.Logger,
		deps: map[string]pinger{
			"database": params.DB,
			"redis":    params.Redis,
			"pubsub":   params.PubSub,
		},
		consumers: params.Consumers,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	for name, consumer := range s.consumers {
		group.Go(func() error {
			err := consumer.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(s.logg.WithField(gctx, "consumer", name), "worker.consumer_failed", err)
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	group.Go(func() error {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.logg.Debug(gctx, "worker.heartbeat")
			}
		}
	})

	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
