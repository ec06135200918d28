package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/echopay/echopay-backend/api/middleware"
	"github.com/echopay/echopay-backend/api/responses"
	"github.com/echopay/echopay-backend/api/validators"
	"github.com/echopay/echopay-backend/internal/ledger"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/logger"
)

type createTransactionRequest struct {
	FromWallet string         `json:"fromWallet" validate:"required,max=128"`
	ToWallet   string         `json:"toWallet" validate:"required,max=128,nefield=FromWallet"`
	Amount     string         `json:"amount" validate:"required,positive_decimal"`
	Currency   enums.Currency `json:"currency" validate:"required"`
	TokenIDs   []string       `json:"tokenIds,omitempty" validate:"max=1000"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// CreateTransaction settles a transfer out of one of the caller's wallets.
func CreateTransaction(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createTransactionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !middleware.OwnsWallet(r.Context(), body.FromWallet) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cannot spend from a wallet you do not own"))
			return
		}
		amount, err := validators.ParseAmount(body.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tokenIDs, err := validators.ParseUUIDs(body.TokenIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.ProcessTransaction(r.Context(), ledger.ProcessRequest{
			FromWallet: body.FromWallet,
			ToWallet:   body.ToWallet,
			Amount:     amount,
			Currency:   body.Currency,
			Metadata:   body.Metadata,
			TokenIDs:   tokenIDs,
			Actor:      middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, txn)
	}
}

func GetTransaction(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txn, err := svc.GetTransaction(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := authorizeWallets(r.Context(), txn.FromWallet, txn.ToWallet); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, txn)
	}
}

// GetTransactionAudit returns the signed audit chain for a transaction.
func GetTransactionAudit(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := authorizedTransaction(w, r, svc, logg)
		if !ok {
			return
		}
		trail, err := svc.GetAuditTrail(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"transactionId": id, "auditTrail": trail})
	}
}

func ListPendingTransactions(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 1000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.GetPending(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"transactions": rows, "count": len(rows)})
	}
}

func ListWalletTransactions(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID, err := validators.RequireParam(r, "walletId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := authorizeWallets(r.Context(), walletID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 1000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.GetByWallet(r.Context(), walletID, limit, offset)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"walletId":     walletID,
			"transactions": rows,
			"limit":        limit,
			"offset":       offset,
		})
	}
}

func GetWalletBalances(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID, err := validators.RequireParam(r, "walletId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := authorizeWallets(r.Context(), walletID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balances, err := svc.GetWalletBalances(r.Context(), walletID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"walletId": walletID, "balances": balances})
	}
}

// authorizedTransaction loads the transaction id from the path and checks the caller is a
// party to it. Missing transactions surface as 404 before the access check.
func authorizedTransaction(w http.ResponseWriter, r *http.Request, svc ledger.Service, logg *logger.Logger) (uuid.UUID, bool) {
	id, err := validators.ParseUUIDParam(r, "transactionId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	if isStaff(r.Context()) {
		return id, true
	}
	txn, err := svc.GetTransactionDetails(r.Context(), id)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	if err := authorizeWallets(r.Context(), txn.FromWallet, txn.ToWallet); err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	return id, true
}
