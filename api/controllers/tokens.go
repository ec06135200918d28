package controllers

import (
	"net/http"
	"strings"

	"github.com/echopay/echopay-backend/api/middleware"
	"github.com/echopay/echopay-backend/api/responses"
	"github.com/echopay/echopay-backend/api/validators"
	"github.com/echopay/echopay-backend/internal/tokens"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/logger"
)

type transferTokenRequest struct {
	NewOwner      string `json:"newOwner" validate:"required,max=128"`
	TransactionID string `json:"transactionId,omitempty" validate:"omitempty,uuid"`
}

// TransferToken hands a token the caller holds to another wallet.
func TransferToken(svc tokens.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenID, err := validators.ParseUUIDParam(r, "tokenId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body transferTokenRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		current, err := svc.Get(r.Context(), tokenID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !middleware.OwnsWallet(r.Context(), current.CurrentOwner) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "token is not held by your wallet"))
			return
		}

		req := tokens.TransferRequest{
			TokenID:  tokenID,
			NewOwner: strings.TrimSpace(body.NewOwner),
			Actor:    middleware.ActorFromContext(r.Context()),
		}
		if body.TransactionID != "" {
			ids, err := validators.ParseUUIDs([]string{body.TransactionID})
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			req.TransactionID = ids[0]
		}

		token, err := svc.Transfer(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, token)
	}
}

func GetToken(svc tokens.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenID, err := validators.ParseUUIDParam(r, "tokenId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		token, err := svc.Get(r.Context(), tokenID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := authorizeWallets(r.Context(), token.CurrentOwner); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, token)
	}
}

// ListTokens returns the tokens held by ?owner=. Owner defaults to the caller's only wallet.
func ListTokens(svc tokens.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.URL.Query().Get("owner"))
		if owner == "" {
			if wallets := middleware.WalletIDsFromContext(r.Context()); len(wallets) == 1 {
				owner = wallets[0]
			}
		}
		if owner == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "owner query parameter required"))
			return
		}
		if err := authorizeWallets(r.Context(), owner); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListByOwner(r.Context(), owner)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"owner": owner, "tokens": rows, "count": len(rows)})
	}
}
