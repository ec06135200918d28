package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/echopay/echopay-backend/api/middleware"
	"github.com/echopay/echopay-backend/api/responses"
	"github.com/echopay/echopay-backend/api/validators"
	"github.com/echopay/echopay-backend/internal/fraudcases"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/logger"
)

type submitFraudReportRequest struct {
	TransactionID string              `json:"transactionId" validate:"required,uuid"`
	FraudType     enums.FraudCaseType `json:"fraudType" validate:"required"`
	Description   string              `json:"description" validate:"required"`
	Evidence      fraudcases.Evidence `json:"evidence"`
}

// SubmitFraudReport opens a case for the caller against a completed transaction.
func SubmitFraudReport(svc fraudcases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		var body submitFraudReportRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txnID, err := uuid.Parse(body.TransactionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction id"))
			return
		}

		result, err := svc.SubmitFraudReport(r.Context(), fraudcases.Report{
			TransactionID: txnID,
			ReporterID:    userID,
			Type:          body.FraudType,
			Description:   body.Description,
			Evidence:      body.Evidence,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, result)
	}
}

// GetFraudReport shows a case to its reporter or to staff.
func GetFraudReport(svc fraudcases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caseID, err := validators.ParseUUIDParam(r, "caseId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		fc, err := svc.GetCase(r.Context(), caseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !isStaff(r.Context()) && fc.ReporterID != middleware.UserIDFromContext(r.Context()) {
			// Do not reveal that another user's case exists.
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "fraud case not found"))
			return
		}
		responses.WriteSuccess(w, fc)
	}
}

func ListMyFraudReports(svc fraudcases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		cases, err := svc.ListByReporter(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"cases": cases, "count": len(cases)})
	}
}

// AddCaseEvidence appends evidence from the case's reporter or its assigned arbitrator.
// The service decides which of the two the caller is.
func AddCaseEvidence(svc fraudcases.Service, logg *logger.Logger) http.HandlerFunc {
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
		var body fraudcases.Evidence
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		fc, err := svc.AddEvidence(r.Context(), caseID, userID, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, fc)
	}
}
