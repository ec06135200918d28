package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/echopay/echopay-backend/internal/audit"
	"github.com/echopay/echopay-backend/internal/wallets"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
)

// ProcessRequest moves Amount of Currency between two wallets. TokenIDs optionally names the
// tokens that change hands with the balance.
type ProcessRequest struct {
	FromWallet string
	ToWallet   string
	Amount     decimal.Decimal
	Currency   enums.Currency
	Metadata   map[string]any
	TokenIDs   []uuid.UUID
	Actor      audit.Actor
}

func validateProcess(req ProcessRequest, max decimal.Decimal) error {
	if req.FromWallet == "" || req.ToWallet == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "from and to wallets are required")
	}
	if req.FromWallet == req.ToWallet {
		return pkgerrors.New(pkgerrors.CodeValidation, "cannot transfer to the same wallet")
	}
	if !req.Currency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency").
			WithDetails(map[string]any{"currency": req.Currency})
	}
	if err := wallets.ValidateAmount(req.Amount, max); err != nil {
		return err
	}
	seen := make(map[uuid.UUID]struct{}, len(req.TokenIDs))
	for _, id := range req.TokenIDs {
		if id == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "token ids must be non-empty")
		}
		if _, dup := seen[id]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, "duplicate token id").
				WithDetails(map[string]any{"token_id": id.String()})
		}
		seen[id] = struct{}{}
	}
	return nil
}
