package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/pkg/config"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/outbox"
	"github.com/echopay/echopay-backend/pkg/outbox/payloads"
	"github.com/echopay/echopay-backend/pkg/outbox/registry"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			transactionEvent(t, "event-one", 0),
			transactionEvent(t, "event-two", 0),
		},
	}
	tr := &fakeTransport{errs: []error{errors.New("transient"), nil}}
	service := newTestService(t, repo, tr, &fakeRegistry{resolved: domainResolved()}, &fakeDLQRepo{}, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestPublishResolvedCarriesAttributes(t *testing.T) {
	event := transactionEvent(t, "attrs", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	tr := &fakeTransport{}
	service := newTestService(t, repo, tr, &fakeRegistry{resolved: domainResolved()}, &fakeDLQRepo{}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(tr.sent))
	}
	sent := tr.sent[0]
	if sent.topic != "domain-topic" {
		t.Fatalf("unexpected topic %q", sent.topic)
	}
	if sent.msg.EventID != event.ID.String() {
		t.Fatalf("unexpected event id %q", sent.msg.EventID)
	}
	if sent.msg.Attributes["aggregate_id"] != event.AggregateID {
		t.Fatalf("unexpected aggregate id %q", sent.msg.Attributes["aggregate_id"])
	}
	if sent.msg.Attributes["event_type"] != string(enums.EventTransactionCompleted) {
		t.Fatalf("unexpected event type %q", sent.msg.Attributes["event_type"])
	}
	if !bytes.Equal(sent.msg.Data, event.Payload) {
		t.Fatalf("payload not forwarded verbatim")
	}
}

func TestServiceProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	event := transactionEvent(t, "nonretryable", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, &fakeTransport{}, reg, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.Payload == nil || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func TestServiceProcessBatchDeadLettersTransportRejection(t *testing.T) {
	event := transactionEvent(t, "rejected", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	tr := &fakeTransport{errs: []error{registry.NewNonRetryableError(errors.New("no publisher"))}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, tr, &fakeRegistry{resolved: domainResolved()}, dlqRepo, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(dlqRepo.entries) != 1 || dlqRepo.entries[0].ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("expected one non-retryable dlq entry, got %+v", dlqRepo.entries)
	}
	if len(repo.published) != 0 {
		t.Fatalf("rejected row must not be marked published")
	}
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := transactionEvent(t, "max-attempts", 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	tr := &fakeTransport{errs: []error{errors.New("transient")}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, tr, &fakeRegistry{resolved: domainResolved()}, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func TestNATSTransportRoutesByEventType(t *testing.T) {
	client := &fakeNATS{}
	tr, err := newNATSTransport(client)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	msg := outboundMessage{EventID: "evt-1", EventType: "reversal.completed", Data: []byte(`{}`)}
	if err := tr.Publish(context.Background(), "ignored-topic", msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if client.subject != "echopay.reversal.completed" {
		t.Fatalf("unexpected subject %q", client.subject)
	}
	if client.msgID != "evt-1" {
		t.Fatalf("expected msg id for dedupe, got %q", client.msgID)
	}

	err = tr.Publish(context.Background(), "", outboundMessage{})
	var nonRetry registry.NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func newTestService(t *testing.T, repo outboxRepository, tr transport, reg registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            &fakeDB{},
		Transport:     tr,
		Repository:    repo,
		Registry:      reg,
		DLQRepository: dlq,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func transactionEvent(tb testing.TB, eventID string, attempts int) models.OutboxEvent {
	tb.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventTransactionCompleted,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   uuid.NewString(),
		Payload:       mustEnvelopePayload(tb, eventID),
		AttemptCount:  attempts,
	}
}

func domainResolved() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "domain-topic",
			AggregateType: enums.AggregateTransaction,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    uuid.NewString(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.TransactionEvent{},
	}
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type sentMessage struct {
	topic string
	msg   outboundMessage
}

type fakeTransport struct {
	errs []error
	sent []sentMessage
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Ping(context.Context) error { return nil }

func (f *fakeTransport) Publish(_ context.Context, topic string, msg outboundMessage) error {
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err == nil {
		f.sent = append(f.sent, sentMessage{topic: topic, msg: msg})
	}
	return err
}

type fakeNATS struct {
	subject string
	msgID   string
}

func (f *fakeNATS) Ping(context.Context) error { return nil }

func (f *fakeNATS) Subject(eventType string) string { return "echopay." + eventType }

func (f *fakeNATS) Publish(_ context.Context, subject, msgID string, _ []byte, _ map[string]string) error {
	f.subject = subject
	f.msgID = msgID
	return nil
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
