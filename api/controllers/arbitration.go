package controllers

import (
	"net/http"
	"strings"

	"github.com/echopay/echopay-backend/api/middleware"
	"github.com/echopay/echopay-backend/api/responses"
	"github.com/echopay/echopay-backend/api/validators"
	"github.com/echopay/echopay-backend/internal/fraudcases"
	"github.com/echopay/echopay-backend/pkg/enums"
	"github.com/echopay/echopay-backend/pkg/logger"
)

// ListArbitratorCases returns the caller's active queue. Admins may pass ?arbitratorId=.
func ListArbitratorCases(svc fraudcases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		arbitratorID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		if middleware.RoleFromContext(r.Context()) == enums.ActorRoleAdmin {
			if requested := strings.TrimSpace(r.URL.Query().Get("arbitratorId")); requested != "" {
				arbitratorID = requested
			}
		}
		cases, err := svc.ListArbitratorCases(r.Context(), arbitratorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"arbitratorId": arbitratorID, "cases": cases, "count": len(cases)})
	}
}

func ListUnassignedCases(svc fraudcases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cases, err := svc.ListUnassigned(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"cases": cases, "count": len(cases)})
	}
}

type assignCaseRequest struct {
	ArbitratorID string `json:"arbitratorId,omitempty" validate:"max=128"`
	Notes        string `json:"notes,omitempty" validate:"max=2000"`
}

// AssignCase claims an open case. Arbitrators claim for themselves; admins may name the arbitrator.
func AssignCase(svc fraudcases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		caseID, err := validators.ParseUUIDParam(r, "caseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body assignCaseRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		arbitratorID := userID
		if middleware.RoleFromContext(r.Context()) == enums.ActorRoleAdmin && strings.TrimSpace(body.ArbitratorID) != "" {
			arbitratorID = strings.TrimSpace(body.ArbitratorID)
		}

		fc, err := svc.AssignToArbitrator(r.Context(), caseID, arbitratorID, validators.SanitizeString(body.Notes, 2000))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, fc)
	}
}

type decisionRequest struct {
	Decision  enums.FraudResolution `json:"decision" validate:"required"`
	Reasoning string                `json:"reasoning" validate:"required,max=2000"`
}

// DecideCase records the assigned arbitrator's ruling. Confirmed fraud triggers the reversal.
func DecideCase(svc fraudcases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		caseID, err := validators.ParseUUIDParam(r, "caseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body decisionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ProcessArbitrationDecision(r.Context(), fraudcases.DecisionRequest{
			CaseID:       caseID,
			ArbitratorID: userID,
			Decision:     body.Decision,
			Reasoning:    body.Reasoning,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func CaseStatistics(svc fraudcases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Statistics(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// CloseCase moves a resolved case to closed.
func CloseCase(svc fraudcases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caseID, err := validators.ParseUUIDParam(r, "caseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		fc, err := svc.CloseCase(r.Context(), caseID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, fc)
	}
}
