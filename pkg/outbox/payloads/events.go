package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/echopay/echopay-backend/pkg/enums"
)

// TransactionEvent is shared by the created/completed/failed/reversed transaction events.
type TransactionEvent struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	FromWallet    string                  `json:"from_wallet"`
	ToWallet      string                  `json:"to_wallet"`
	Amount        decimal.Decimal         `json:"amount"`
	Currency      enums.Currency          `json:"currency"`
	Status        enums.TransactionStatus `json:"status"`
	OccurredAt    time.Time               `json:"occurred_at"`
}

// FraudScoreUpdatedEvent reports a new risk score on a transaction.
type FraudScoreUpdatedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	FraudScore    float64   `json:"fraud_score"`
	RiskLevel     string    `json:"risk_level"`
}

// BalanceUpdatedEvent carries the new balance for one wallet. TransactionID is nil for admin funding.
type BalanceUpdatedEvent struct {
	WalletID      string          `json:"wallet_id"`
	Currency      enums.Currency  `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	Delta         decimal.Decimal `json:"delta"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
}

// TokensStatusChangedEvent summarizes a status change across one or more tokens.
type TokensStatusChangedEvent struct {
	TokenIDs   []uuid.UUID       `json:"token_ids"`
	FromStatus enums.TokenStatus `json:"from_status,omitempty"`
	ToStatus   enums.TokenStatus `json:"to_status"`
	Reason     string            `json:"reason,omitempty"`
	BatchID    *uuid.UUID        `json:"batch_id,omitempty"`
}

// FraudCaseEvent is shared by the submitted/assigned/resolved/escalated case events.
type FraudCaseEvent struct {
	CaseID        uuid.UUID               `json:"case_id"`
	TransactionID uuid.UUID               `json:"transaction_id"`
	ReporterID    string                  `json:"reporter_id"`
	Status        enums.FraudCaseStatus   `json:"status"`
	Priority      enums.FraudCasePriority `json:"priority"`
	ArbitratorID  *string                 `json:"arbitrator_id,omitempty"`
	Resolution    *enums.FraudResolution  `json:"resolution,omitempty"`
}

// ReversalCompletedEvent reports a finished fraud reversal.
type ReversalCompletedEvent struct {
	ReversalID      uuid.UUID          `json:"reversal_id"`
	TransactionID   uuid.UUID          `json:"transaction_id"`
	CaseID          uuid.UUID          `json:"case_id"`
	ReversalType    enums.ReversalType `json:"reversal_type"`
	ReversedAmount  decimal.Decimal    `json:"reversed_amount"`
	NewTokenBatchID uuid.UUID          `json:"new_token_batch_id"`
	NewTokenIDs     []uuid.UUID        `json:"new_token_ids"`
	InvalidatedIDs  []uuid.UUID        `json:"invalidated_token_ids"`
}

// NotificationRequestedEvent asks downstream delivery channels to alert a user.
type NotificationRequestedEvent struct {
	NotificationID uuid.UUID              `json:"notification_id"`
	UserID         string                 `json:"user_id"`
	Type           enums.NotificationType `json:"type"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	CaseID         *uuid.UUID             `json:"case_id,omitempty"`
}
