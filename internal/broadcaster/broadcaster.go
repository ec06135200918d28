// Package broadcaster fans transaction, balance and case updates out to in-process subscribers.
package broadcaster

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/echopay/echopay-backend/pkg/config"
	"github.com/echopay/echopay-backend/pkg/logger"
)

type Config struct {
	BufferSize    int
	DropPolicy    string
	InactiveAfter time.Duration
}

// FromConfig maps the env-driven settings.
func FromConfig(cfg config.BroadcasterConfig) Config {
	return Config{
		BufferSize:    cfg.BufferSize,
		DropPolicy:    cfg.DropPolicy,
		InactiveAfter: cfg.InactiveAfter,
	}
}

type metricsSink interface {
	Dropped()
	Published()
	SetSubscribers(n int)
	Swept(n int)
}

// Subscription is a bounded feed of updates. Updates is closed on Unsubscribe or sweep.
type Subscription struct {
	ID      uuid.UUID
	Updates <-chan StatusUpdate

	ch           chan StatusUpdate
	filter       Filter
	lastDelivery time.Time
	lagging      bool
	dropped      atomic.Uint64
}

// Dropped returns how many updates this subscriber has missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

type Broadcaster struct {
	cfg     Config
	logg    *logger.Logger
	metrics metricsSink
	now     func() time.Time

	mu          sync.Mutex
	subscribers map[uuid.UUID]*Subscription
	dropped     atomic.Uint64
}

func New(cfg Config, logg *logger.Logger, metrics metricsSink) *Broadcaster {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.DropPolicy == "" {
		cfg.DropPolicy = config.DropPolicyNewest
	}
	if cfg.InactiveAfter <= 0 {
		cfg.InactiveAfter = 10 * time.Minute
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Broadcaster{
		cfg:         cfg,
		logg:        logg,
		metrics:     metrics,
		now:         time.Now,
		subscribers: make(map[uuid.UUID]*Subscription),
	}
}

func (b *Broadcaster) Subscribe(filter Filter) *Subscription {
	ch := make(chan StatusUpdate, b.cfg.BufferSize)
	sub := &Subscription{
		ID:           uuid.New(),
		Updates:      ch,
		ch:           ch,
		filter:       filter,
		lastDelivery: b.now(),
	}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	count := len(b.subscribers)
	b.mu.Unlock()

	b.setSubscribers(count)
	return sub
}

func (b *Broadcaster) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	if ok {
		b.setSubscribers(count)
	}
}

// Publish delivers u to every matching subscriber without blocking.
func (b *Broadcaster) Publish(u StatusUpdate) {
	if u.Timestamp.IsZero() {
		u.Timestamp = b.now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		if !sub.filter.Matches(u) {
			continue
		}
		delivered, evicted := b.deliver(sub, u)
		if delivered && !evicted {
			sub.lastDelivery = b.now()
			sub.lagging = false
			continue
		}
		b.recordDrop(sub)
	}
	if b.metrics != nil {
		b.metrics.Published()
	}
}

// deliver enqueues u. Under drop_oldest a full buffer evicts its oldest entry first,
// which counts as a drop and does not refresh the subscriber's last delivery.
func (b *Broadcaster) deliver(sub *Subscription, u StatusUpdate) (delivered, evicted bool) {
	select {
	case sub.ch <- u:
		return true, false
	default:
	}
	if b.cfg.DropPolicy != config.DropPolicyOldest {
		return false, false
	}
	select {
	case <-sub.ch:
		evicted = true
	default:
	}
	select {
	case sub.ch <- u:
		return true, evicted
	default:
		return false, evicted
	}
}

func (b *Broadcaster) recordDrop(sub *Subscription) {
	sub.dropped.Add(1)
	b.dropped.Add(1)
	if b.metrics != nil {
		b.metrics.Dropped()
	}
	if !sub.lagging {
		sub.lagging = true
		ctx := b.logg.WithFields(context.Background(), map[string]any{
			"subscriber_id": sub.ID.String(),
			"drop_policy":   b.cfg.DropPolicy,
		})
		b.logg.Warn(ctx, "broadcaster.subscriber_lagging")
	}
}

// Sweep drops subscribers whose buffer is full and that have not accepted an update
// within InactiveAfter. It returns how many were removed.
func (b *Broadcaster) Sweep(now time.Time) int {
	b.mu.Lock()
	removed := 0
	for id, sub := range b.subscribers {
		if len(sub.ch) < cap(sub.ch) {
			continue
		}
		if now.Sub(sub.lastDelivery) < b.cfg.InactiveAfter {
			continue
		}
		delete(b.subscribers, id)
		close(sub.ch)
		removed++
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	if removed > 0 {
		b.logg.Info(b.logg.WithField(context.Background(), "removed", removed), "broadcaster.swept")
		if b.metrics != nil {
			b.metrics.Swept(removed)
		}
		b.setSubscribers(count)
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.Sweep(b.now())
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Dropped is the total number of dropped deliveries across all subscribers.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Broadcaster) setSubscribers(n int) {
	if b.metrics != nil {
		b.metrics.SetSubscribers(n)
	}
}
