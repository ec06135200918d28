package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateTransaction  OutboxAggregateType = "transaction"
	AggregateWallet       OutboxAggregateType = "wallet"
	AggregateToken        OutboxAggregateType = "token"
	AggregateFraudCase    OutboxAggregateType = "fraud_case"
	AggregateReversal     OutboxAggregateType = "reversal"
	AggregateNotification OutboxAggregateType = "notification"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateTransaction,
	AggregateWallet,
	AggregateToken,
	AggregateFraudCase,
	AggregateReversal,
	AggregateNotification,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the external stream event name.
type OutboxEventType string

const (
	EventTransactionCreated    OutboxEventType = "transaction.created"
	EventTransactionCompleted  OutboxEventType = "transaction.completed"
	EventTransactionFailed     OutboxEventType = "transaction.failed"
	EventTransactionReversed   OutboxEventType = "transaction.reversed"
	EventFraudScoreUpdated     OutboxEventType = "fraud.score.updated"
	EventBalanceUpdated        OutboxEventType = "balance.updated"
	EventTokensStatusChanged   OutboxEventType = "tokens.status_changed"
	EventFraudCaseSubmitted    OutboxEventType = "fraudcase.submitted"
	EventFraudCaseAssigned     OutboxEventType = "fraudcase.assigned"
	EventFraudCaseResolved     OutboxEventType = "fraudcase.resolved"
	EventFraudCaseEscalated    OutboxEventType = "fraudcase.escalated"
	EventReversalCompleted     OutboxEventType = "reversal.completed"
	EventNotificationRequested OutboxEventType = "notification.requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventTransactionCreated,
	EventTransactionCompleted,
	EventTransactionFailed,
	EventTransactionReversed,
	EventFraudScoreUpdated,
	EventBalanceUpdated,
	EventTokensStatusChanged,
	EventFraudCaseSubmitted,
	EventFraudCaseAssigned,
	EventFraudCaseResolved,
	EventFraudCaseEscalated,
	EventReversalCompleted,
	EventNotificationRequested,
}

// IsValid reports whether the event type is known.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
