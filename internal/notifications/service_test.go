package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echopay/echopay-backend/pkg/db/dbtest"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/outbox"
	"github.com/echopay/echopay-backend/pkg/outbox/idempotency"
	"github.com/echopay/echopay-backend/pkg/outbox/payloads"
	"github.com/echopay/echopay-backend/pkg/types"
)

func newTestService(t *testing.T) (*service, *outbox.Repository) {
	t.Helper()
	client := dbtest.New(t)
	outboxRepo := outbox.NewRepository(client.DB())
	svc, err := NewService(NewRepository(client.DB()), client, outbox.NewService(outboxRepo, logger.Nop()), logger.Nop())
	require.NoError(t, err)
	return svc, outboxRepo
}

func sampleCase() *models.FraudCase {
	arbitrator := "arb-7"
	return &models.FraudCase{
		ID:            uuid.New(),
		TransactionID: uuid.New(),
		ReporterID:    "reporter-1",
		CaseType:      enums.FraudCaseTypePhishing,
		Priority:      enums.FraudCasePriorityHigh,
		Status:        enums.FraudCaseStatusInvestigating,
		Amount:        decimal.RequireFromString("1500.00"),
		Currency:      enums.CurrencyUSDCBDC,
		ArbitratorID:  &arbitrator,
	}
}

func TestSendQueuesInboxRowAndOutboxEvent(t *testing.T) {
	svc, outboxRepo := newTestService(t)
	ctx := context.Background()
	fc := sampleCase()

	require.NoError(t, svc.SendFraudReportConfirmation(ctx, fc, "48 hours"))

	res, err := svc.List(ctx, ListParams{UserID: "reporter-1"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	n := res.Items[0]
	assert.Equal(t, enums.NotificationTypeFraudReportConfirmation, n.Type)
	assert.Contains(t, n.Message, "48 hours")
	require.NotNil(t, n.CaseID)
	assert.Equal(t, fc.ID, *n.CaseID)

	events, err := outboxRepo.ListByAggregate(ctx, enums.AggregateNotification, n.ID.String())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventNotificationRequested, events[0].EventType)
}

func TestAssignmentNotifiesArbitratorAndReporter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	fc := sampleCase()

	require.NoError(t, svc.SendArbitrationAssignment(ctx, fc, "arb-7"))

	arb, err := svc.List(ctx, ListParams{UserID: "arb-7"})
	require.NoError(t, err)
	require.Len(t, arb.Items, 1)
	assert.Equal(t, enums.NotificationTypeArbitrationAssignment, arb.Items[0].Type)

	rep, err := svc.List(ctx, ListParams{UserID: "reporter-1"})
	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, enums.NotificationTypeCaseStatusUpdate, rep.Items[0].Type)
}

func TestDecisionAndReversalMessages(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	fc := sampleCase()
	resolution := enums.FraudResolutionConfirmed
	reasoning := "device fingerprint mismatch"
	fc.Resolution = &resolution
	fc.ResolutionReasoning = &reasoning

	require.NoError(t, svc.SendArbitrationDecision(ctx, fc))
	require.NoError(t, svc.SendReversalCompletion(ctx, fc, &types.ReversalResponse{ReversedAmount: decimal.RequireFromString("1500")}))

	res, err := svc.List(ctx, ListParams{UserID: "reporter-1"})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	var messages []string
	for _, n := range res.Items {
		messages = append(messages, n.Message)
	}
	assert.Contains(t, messages[0]+messages[1], "Fraud confirmed - transaction will be reversed")
	assert.Contains(t, messages[0]+messages[1], "1500.00 USD-CBDC")
}

func TestListPaginatesAndFiltersUnread(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	fc := sampleCase()
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.SendCaseStatusUpdate(ctx, fc, ""))
		time.Sleep(time.Millisecond)
	}

	first, err := svc.List(ctx, ListParams{UserID: "reporter-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.Cursor)

	second, err := svc.List(ctx, ListParams{UserID: "reporter-1", Limit: 2, Cursor: first.Cursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Empty(t, second.Cursor)

	seen := map[uuid.UUID]bool{}
	for _, n := range append(first.Items, second.Items...) {
		assert.False(t, seen[n.ID], "duplicate across pages")
		seen[n.ID] = true
	}

	require.NoError(t, svc.MarkRead(ctx, "reporter-1", first.Items[0].ID))
	unread, err := svc.List(ctx, ListParams{UserID: "reporter-1", UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread.Items, 2)

	count, err := svc.MarkAllRead(ctx, "reporter-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestMarkReadScopesToOwner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.SendCaseStatusUpdate(ctx, sampleCase(), "under review"))
	res, err := svc.List(ctx, ListParams{UserID: "reporter-1"})
	require.NoError(t, err)

	err = svc.MarkRead(ctx, "someone-else", res.Items[0].ID)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	_, err = svc.List(ctx, ListParams{})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = svc.List(ctx, ListParams{UserID: "reporter-1", Cursor: "%%%"})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

type recordingDeliverer struct {
	delivered []payloads.NotificationRequestedEvent
	err       error
}

func (r *recordingDeliverer) Deliver(_ context.Context, n payloads.NotificationRequestedEvent) error {
	if r.err != nil {
		return r.err
	}
	r.delivered = append(r.delivered, n)
	return nil
}

type memoryStore map[string]string

func (m memoryStore) Get(_ context.Context, key string) (string, error) { return m[key], nil }
func (m memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m[key] = value.(string)
	return nil
}
func (m memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m[key]; ok {
		return false, nil
	}
	m[key] = value.(string)
	return true, nil
}
func (m memoryStore) IdempotencyKey(scope, id string) string { return scope + ":" + id }
func (m memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m, k)
	}
	return nil
}

func envelopeFor(t *testing.T, n payloads.NotificationRequestedEvent) []byte {
	t.Helper()
	data, err := json.Marshal(n)
	require.NoError(t, err)
	raw, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: uuid.NewString(), OccurredAt: time.Now(), Data: data})
	require.NoError(t, err)
	return raw
}

func TestConsumerDeliversOnceAndRetriesFailures(t *testing.T) {
	manager, err := idempotency.NewManager(memoryStore{}, time.Hour)
	require.NoError(t, err)
	deliverer := &recordingDeliverer{}
	c := &Consumer{deliverer: deliverer, idempotency: manager, logg: logger.Nop()}
	ctx := context.Background()

	msg := envelopeFor(t, payloads.NotificationRequestedEvent{NotificationID: uuid.New(), UserID: "u1", Type: enums.NotificationTypeEscalationAlert})
	assert.True(t, c.handle(ctx, string(enums.EventNotificationRequested), "m1", msg))
	assert.True(t, c.handle(ctx, string(enums.EventNotificationRequested), "m1", msg))
	assert.Len(t, deliverer.delivered, 1)

	assert.True(t, c.handle(ctx, string(enums.EventTransactionCreated), "m2", []byte("{}")))
	assert.True(t, c.handle(ctx, string(enums.EventNotificationRequested), "m3", []byte("not json")))

	deliverer.err = errors.New("push provider down")
	failing := envelopeFor(t, payloads.NotificationRequestedEvent{NotificationID: uuid.New(), UserID: "u2"})
	assert.False(t, c.handle(ctx, string(enums.EventNotificationRequested), "m4", failing))
	deliverer.err = nil
	assert.True(t, c.handle(ctx, string(enums.EventNotificationRequested), "m4", failing))
	assert.Len(t, deliverer.delivered, 2)
}
