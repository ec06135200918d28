package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/echopay/echopay-backend/pkg/enums"
)

// ReversalRequest asks the reversal engine to undo a fraudulent transaction for a confirmed case.
type ReversalRequest struct {
	TransactionID uuid.UUID          `json:"transactionId" validate:"required"`
	CaseID        uuid.UUID          `json:"caseId" validate:"required"`
	Type          enums.ReversalType `json:"reversalType" validate:"required"`
	Reasoning     string             `json:"reasoning" validate:"max=2000"`
	ArbitratorID  *string            `json:"arbitratorId,omitempty"`
}

// ReversalResponse describes a completed reversal.
type ReversalResponse struct {
	ReversalID      uuid.UUID          `json:"reversalId"`
	TransactionID   uuid.UUID          `json:"transactionId"`
	CaseID          uuid.UUID          `json:"caseId"`
	Type            enums.ReversalType `json:"reversalType"`
	ReversedAmount  decimal.Decimal    `json:"reversedAmount"`
	NewTokenBatchID uuid.UUID          `json:"newTokenBatchId"`
	NewTokenIDs     []uuid.UUID        `json:"newTokenIds"`
	InvalidatedIDs  []uuid.UUID        `json:"invalidatedTokenIds"`
	Timestamp       time.Time          `json:"timestamp"`
}
