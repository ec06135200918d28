package tokens

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/echopay/echopay-backend/internal/audit"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
)

const (
	MaxBatchSize = 1000
	MaxBulkSize  = 1000
)

// IssueRequest mints Quantity tokens of one denomination, or one token per entry of
// Denominations when that is set.
type IssueRequest struct {
	Owner           string
	CBDCType        enums.Currency
	Denomination    decimal.Decimal
	Denominations   []decimal.Decimal
	Quantity        int
	Metadata        models.TokenMetadata
	ComplianceFlags models.ComplianceFlags
	Actor           audit.Actor
}

// IssueResult lists the tokens created by one issuance.
type IssueResult struct {
	BatchID uuid.UUID      `json:"batchId"`
	Tokens  []models.Token `json:"tokens"`
}

// TokenIDs returns the ids of the issued tokens in creation order.
func (r *IssueResult) TokenIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.Tokens))
	for _, t := range r.Tokens {
		ids = append(ids, t.ID)
	}
	return ids
}

// TransferRequest hands a token to a new owner. A nil TransactionID records a fresh transfer reference.
type TransferRequest struct {
	TokenID       uuid.UUID
	NewOwner      string
	TransactionID uuid.UUID
	Actor         audit.Actor
}

// BulkStatusRequest applies one status to many tokens atomically.
type BulkStatusRequest struct {
	TokenIDs []uuid.UUID
	Status   enums.TokenStatus
	Reason   string
	Actor    audit.Actor
}

type BulkStatusResult struct {
	BatchID      uuid.UUID         `json:"batchId"`
	UpdatedCount int               `json:"updatedCount"`
	NewStatus    enums.TokenStatus `json:"newStatus"`
	Reason       string            `json:"reason,omitempty"`
}

// SettleRequest moves tokens between wallets as part of a ledger transaction.
type SettleRequest struct {
	TransactionID uuid.UUID
	FromWallet    string
	ToWallet      string
	Currency      enums.Currency
	Amount        decimal.Decimal
	TokenIDs      []uuid.UUID
	Actor         audit.Actor
}
