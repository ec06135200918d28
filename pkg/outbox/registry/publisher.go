package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/echopay/echopay-backend/pkg/config"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	"github.com/echopay/echopay-backend/pkg/outbox"
	"github.com/echopay/echopay-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

// Error implements error.
func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewEventRegistry builds the registry with the configured topic names.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.DomainTopic == "" {
		return nil, fmt.Errorf("domain topic is required")
	}
	if cfg.NotificationTopic == "" {
		return nil, fmt.Errorf("notification topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	domainTopic := cfg.DomainTopic

	transactionPayload := func() interface{} { return &payloads.TransactionEvent{} }
	casePayload := func() interface{} { return &payloads.FraudCaseEvent{} }

	for _, desc := range []EventDescriptor{
		{EventType: enums.EventTransactionCreated, AggregateType: enums.AggregateTransaction, PayloadFactory: transactionPayload},
		{EventType: enums.EventTransactionCompleted, AggregateType: enums.AggregateTransaction, PayloadFactory: transactionPayload},
		{EventType: enums.EventTransactionFailed, AggregateType: enums.AggregateTransaction, PayloadFactory: transactionPayload},
		{EventType: enums.EventTransactionReversed, AggregateType: enums.AggregateTransaction, PayloadFactory: transactionPayload},
		{
			EventType:      enums.EventFraudScoreUpdated,
			AggregateType:  enums.AggregateTransaction,
			PayloadFactory: func() interface{} { return &payloads.FraudScoreUpdatedEvent{} },
		},
		{
			EventType:      enums.EventBalanceUpdated,
			AggregateType:  enums.AggregateWallet,
			PayloadFactory: func() interface{} { return &payloads.BalanceUpdatedEvent{} },
		},
		{
			EventType:      enums.EventTokensStatusChanged,
			AggregateType:  enums.AggregateToken,
			PayloadFactory: func() interface{} { return &payloads.TokensStatusChangedEvent{} },
		},
		{EventType: enums.EventFraudCaseSubmitted, AggregateType: enums.AggregateFraudCase, PayloadFactory: casePayload},
		{EventType: enums.EventFraudCaseAssigned, AggregateType: enums.AggregateFraudCase, PayloadFactory: casePayload},
		{EventType: enums.EventFraudCaseResolved, AggregateType: enums.AggregateFraudCase, PayloadFactory: casePayload},
		{EventType: enums.EventFraudCaseEscalated, AggregateType: enums.AggregateFraudCase, PayloadFactory: casePayload},
		{
			EventType:      enums.EventReversalCompleted,
			AggregateType:  enums.AggregateReversal,
			PayloadFactory: func() interface{} { return &payloads.ReversalCompletedEvent{} },
		},
	} {
		desc.Topic = domainTopic
		reg.register(desc)
	}
	reg.register(EventDescriptor{
		EventType:      enums.EventNotificationRequested,
		AggregateType:  enums.AggregateNotification,
		Topic:          cfg.NotificationTopic,
		PayloadFactory: func() interface{} { return &payloads.NotificationRequestedEvent{} },
	})

	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Descriptor returns the registered descriptor for an event type.
func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == "" {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}

	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
