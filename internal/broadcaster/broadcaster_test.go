package broadcaster

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echopay/echopay-backend/pkg/config"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/metrics"
)

func newTestBroadcaster(buffer int, policy string) *Broadcaster {
	return New(Config{BufferSize: buffer, DropPolicy: policy, InactiveAfter: time.Minute}, logger.Nop(), metrics.NewBroadcasterMetrics(prometheus.NewRegistry()))
}

func sampleTxn(status enums.TransactionStatus) *models.Transaction {
	return &models.Transaction{
		ID:         uuid.New(),
		FromWallet: "alice",
		ToWallet:   "bob",
		Amount:     decimal.NewFromInt(10),
		Currency:   enums.CurrencyUSDCBDC,
		Status:     status,
	}
}

func TestFilterMatches(t *testing.T) {
	u := StatusUpdate{TransactionID: "t1", FromWallet: "alice", ToWallet: "bob", Status: "completed"}

	assert.True(t, Filter{}.Matches(u))
	assert.True(t, Filter{WalletIDs: []string{"bob"}}.Matches(u))
	assert.True(t, Filter{WalletIDs: []string{"alice"}, Statuses: []string{"completed"}}.Matches(u))
	assert.False(t, Filter{WalletIDs: []string{"alice"}, Statuses: []string{"failed"}}.Matches(u))
	assert.False(t, Filter{TransactionIDs: []string{"t2"}}.Matches(u))
	assert.True(t, Filter{WalletIDs: []string{"carol"}}.Matches(StatusUpdate{WalletID: "carol"}))
}

func TestPublishDeliversToMatchingSubscribers(t *testing.T) {
	b := newTestBroadcaster(4, config.DropPolicyNewest)
	all := b.Subscribe(Filter{})
	bobOnly := b.Subscribe(Filter{WalletIDs: []string{"bob"}})
	carolOnly := b.Subscribe(Filter{WalletIDs: []string{"carol"}})

	txn := sampleTxn(enums.TransactionStatusCompleted)
	b.PublishTransaction(txn, EventTransactionCompleted, "done")

	got := <-all.Updates
	assert.Equal(t, EventTransactionCompleted, got.EventType)
	assert.Equal(t, txn.ID.String(), got.TransactionID)
	assert.Len(t, bobOnly.Updates, 1)
	assert.Len(t, carolOnly.Updates, 0)
}

func TestDropNewestKeepsQueuedUpdates(t *testing.T) {
	b := newTestBroadcaster(2, config.DropPolicyNewest)
	sub := b.Subscribe(Filter{})

	for i := 0; i < 5; i++ {
		b.Publish(StatusUpdate{Message: string(rune('a' + i))})
	}

	assert.Equal(t, uint64(3), sub.Dropped())
	assert.Equal(t, uint64(3), b.Dropped())
	assert.Equal(t, "a", (<-sub.Updates).Message)
	assert.Equal(t, "b", (<-sub.Updates).Message)
}

func TestDropOldestKeepsLatestUpdates(t *testing.T) {
	b := newTestBroadcaster(2, config.DropPolicyOldest)
	sub := b.Subscribe(Filter{})

	for i := 0; i < 5; i++ {
		b.Publish(StatusUpdate{Message: string(rune('a' + i))})
	}

	assert.Equal(t, uint64(3), sub.Dropped())
	assert.Equal(t, "d", (<-sub.Updates).Message)
	assert.Equal(t, "e", (<-sub.Updates).Message)
}

func TestSweepRemovesStalledSubscribers(t *testing.T) {
	b := newTestBroadcaster(1, config.DropPolicyNewest)
	start := time.Now()
	b.now = func() time.Time { return start }

	stalled := b.Subscribe(Filter{})
	healthy := b.Subscribe(Filter{WalletIDs: []string{"nobody"}})
	b.Publish(StatusUpdate{Message: "fill"})
	b.Publish(StatusUpdate{Message: "overflow"})

	assert.Equal(t, 0, b.Sweep(start.Add(30*time.Second)))
	assert.Equal(t, 1, b.Sweep(start.Add(2*time.Minute)))
	assert.Equal(t, 1, b.SubscriberCount())

	<-stalled.Updates
	_, open := <-stalled.Updates
	assert.False(t, open)

	b.Unsubscribe(healthy.ID)
	assert.Equal(t, 0, b.SubscriberCount())
	b.Unsubscribe(healthy.ID)
}

func TestPublishFraudScoreRiskLevels(t *testing.T) {
	b := newTestBroadcaster(4, config.DropPolicyNewest)
	sub := b.Subscribe(Filter{})
	txn := sampleTxn(enums.TransactionStatusCompleted)

	b.PublishFraudScore(txn, 0.9)
	b.PublishFraudScore(txn, 0.5)
	b.PublishFraudScore(txn, 0.3)

	assert.Equal(t, "high fraud risk", (<-sub.Updates).Message)
	assert.Equal(t, "medium fraud risk", (<-sub.Updates).Message)
	assert.Equal(t, "low fraud risk", (<-sub.Updates).Message)
}

func TestRunStopsOnCancel(t *testing.T) {
	b := newTestBroadcaster(1, config.DropPolicyNewest)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, 10*time.Millisecond) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
