package controllers

import (
	"net/http"
	"strings"

	"github.com/echopay/echopay-backend/api/middleware"
	"github.com/echopay/echopay-backend/api/responses"
	"github.com/echopay/echopay-backend/api/validators"
	"github.com/echopay/echopay-backend/internal/ledger"
	"github.com/echopay/echopay-backend/internal/reversal"
	"github.com/echopay/echopay-backend/internal/tokens"
	"github.com/echopay/echopay-backend/internal/wallets"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/types"
)

type addFundsRequest struct {
	Currency enums.Currency `json:"currency" validate:"required"`
	Amount   string         `json:"amount" validate:"required,positive_decimal"`
}

// AddWalletFunds credits a wallet outside of a transfer.
func AddWalletFunds(svc wallets.Service, serviceID string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID, err := validators.RequireParam(r, "walletId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body addFundsRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := validators.ParseAmount(body.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.AddFunds(r.Context(), wallets.AddFundsInput{
			WalletID: walletID,
			Currency: body.Currency,
			Amount:   amount,
			Actor:    middleware.ActorFromContext(r.Context()).Ref(serviceID),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

type issueTokensRequest struct {
	Owner           string                 `json:"owner" validate:"required,max=128"`
	CBDCType        enums.Currency         `json:"cbdcType" validate:"required"`
	Denomination    string                 `json:"denomination" validate:"required,positive_decimal"`
	Quantity        int                    `json:"quantity" validate:"required,gte=1,lte=1000"`
	Metadata        models.TokenMetadata   `json:"metadata"`
	ComplianceFlags models.ComplianceFlags `json:"complianceFlags"`
}

func IssueTokens(svc tokens.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body issueTokensRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		denomination, err := validators.ParseAmount(body.Denomination)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.IssueBatch(r.Context(), tokens.IssueRequest{
			Owner:           strings.TrimSpace(body.Owner),
			CBDCType:        body.CBDCType,
			Denomination:    denomination,
			Quantity:        body.Quantity,
			Metadata:        body.Metadata,
			ComplianceFlags: body.ComplianceFlags,
			Actor:           middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, result)
	}
}

type bulkStatusRequest struct {
	TokenIDs []string          `json:"tokenIds" validate:"required,min=1,max=1000"`
	Status   enums.TokenStatus `json:"status" validate:"required"`
	Reason   string            `json:"reason" validate:"max=500"`
}

func BulkTokenStatus(svc tokens.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body bulkStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ids, err := validators.ParseUUIDs(body.TokenIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.BulkUpdateStatus(r.Context(), tokens.BulkStatusRequest{
			TokenIDs: ids,
			Status:   body.Status,
			Reason:   validators.SanitizeString(body.Reason, 500),
			Actor:    middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type tokenReasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// TokenAction applies one of freeze, unfreeze or destroy. The action is fixed at routing time.
func TokenAction(svc tokens.Service, action string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenID, err := validators.ParseUUIDParam(r, "tokenId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body tokenReasonRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(body.Reason, 500)
		actor := middleware.ActorFromContext(r.Context())

		var token *models.Token
		switch action {
		case "freeze":
			token, err = svc.Freeze(r.Context(), tokenID, reason, actor)
		case "unfreeze":
			token, err = svc.Unfreeze(r.Context(), tokenID, reason, actor)
		default:
			token, err = svc.Destroy(r.Context(), tokenID, reason, actor)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, token)
	}
}

type fraudScoreRequest struct {
	Score   *float64       `json:"score" validate:"required,gte=0,lte=1"`
	Details map[string]any `json:"details,omitempty"`
}

// SetFraudScore records an externally computed risk score.
func SetFraudScore(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body fraudScoreRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txn, err := svc.SetFraudScore(r.Context(), id, *body.Score, body.Details, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, txn)
	}
}

type transactionStatusRequest struct {
	Status  enums.TransactionStatus `json:"status" validate:"required"`
	Details map[string]any          `json:"details,omitempty"`
}

func UpdateTransactionStatus(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body transactionStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txn, err := svc.UpdateTransactionStatus(r.Context(), id, body.Status, middleware.ActorFromContext(r.Context()), body.Details)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, txn)
	}
}

func TransactionStats(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.GetStats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// ExecuteReversal runs a reversal for an investigating case outside the arbitration flow.
// A manual_arbitration request without an arbitrator is attributed to the calling admin.
func ExecuteReversal(svc reversal.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body types.ReversalRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.Type == enums.ReversalTypeManualArbitration && (body.ArbitratorID == nil || strings.TrimSpace(*body.ArbitratorID) == "") {
			caller := middleware.UserIDFromContext(r.Context())
			body.ArbitratorID = &caller
		}
		result, err := svc.ExecuteReversal(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, result)
	}
}

func ReversalStats(svc reversal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, svc.Stats())
	}
}
