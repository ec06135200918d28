package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/outbox"
	"github.com/echopay/echopay-backend/pkg/outbox/payloads"
	"github.com/echopay/echopay-backend/pkg/pagination"
	"github.com/echopay/echopay-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the in-app inbox.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, userID string, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// Notifier alerts case participants. Callers invoke it after their own commit and only log failures.
type Notifier interface {
	SendFraudReportConfirmation(ctx context.Context, fc *models.FraudCase, estimatedResolution string) error
	SendArbitrationAssignment(ctx context.Context, fc *models.FraudCase, arbitratorID string) error
	SendArbitrationDecision(ctx context.Context, fc *models.FraudCase) error
	SendEscalationAlert(ctx context.Context, fc *models.FraudCase) error
	SendReversalCompletion(ctx context.Context, fc *models.FraudCase, reversal *types.ReversalResponse) error
	SendCaseStatusUpdate(ctx context.Context, fc *models.FraudCase, message string) error
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outbox.Emitter
	logg   *logger.Logger
}

// ListParams configures pagination for notifications.
type ListParams struct {
	UserID     string
	Limit      int
	Cursor     string
	UnreadOnly bool
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
}

// NewService wires notifications dependencies. The returned value is both the inbox and the Notifier.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, logg *logger.Logger) (*service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if emitter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, tx: tx, outbox: emitter, logg: logg}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if strings.TrimSpace(params.UserID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	query := listNotificationsParams{
		UserID:     params.UserID,
		Limit:      params.Limit,
		UnreadOnly: params.UnreadOnly,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	if rows == nil {
		rows = []models.Notification{}
	}

	return &ListResult{
		Items:  rows,
		Cursor: cursor,
	}, nil
}

func (s *service) MarkRead(ctx context.Context, userID string, notificationID uuid.UUID) error {
	if strings.TrimSpace(userID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := s.repo.MarkRead(ctx, userID, notificationID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	count, err := s.repo.MarkAllRead(ctx, userID, time.Now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}

func (s *service) SendFraudReportConfirmation(ctx context.Context, fc *models.FraudCase, estimatedResolution string) error {
	return s.notify(ctx, fc, fc.ReporterID, enums.NotificationTypeFraudReportConfirmation,
		"Fraud Report Submitted",
		fmt.Sprintf("Your fraud report (Case #%s) has been submitted successfully. The disputed tokens have been frozen and investigation has begun. Estimated resolution: %s.",
			shortID(fc.ID), estimatedResolution))
}

func (s *service) SendArbitrationAssignment(ctx context.Context, fc *models.FraudCase, arbitratorID string) error {
	msg := fmt.Sprintf("Fraud case #%s (%s priority) has been assigned to you for arbitration. Please review the evidence and make a determination within 72 hours.",
		shortID(fc.ID), fc.Priority)
	if err := s.notify(ctx, fc, arbitratorID, enums.NotificationTypeArbitrationAssignment, "New Case Assigned", msg); err != nil {
		return err
	}
	return s.notify(ctx, fc, fc.ReporterID, enums.NotificationTypeCaseStatusUpdate, "Fraud Case Update",
		fmt.Sprintf("Case #%s has been assigned to an arbitrator.", shortID(fc.ID)))
}

func (s *service) SendArbitrationDecision(ctx context.Context, fc *models.FraudCase) error {
	reasoning := ""
	if fc.ResolutionReasoning != nil {
		reasoning = *fc.ResolutionReasoning
	}
	return s.notify(ctx, fc, fc.ReporterID, enums.NotificationTypeArbitrationDecision, "Arbitration Decision",
		fmt.Sprintf("Case #%s decision: %s. Reasoning: %s", shortID(fc.ID), decisionSummary(fc.Resolution), reasoning))
}

func (s *service) SendEscalationAlert(ctx context.Context, fc *models.FraudCase) error {
	msg := fmt.Sprintf("Fraud case #%s (%s priority) has exceeded the 72-hour arbitration deadline and has been escalated.",
		shortID(fc.ID), fc.Priority)
	if fc.IsAssigned() {
		if err := s.notify(ctx, fc, *fc.ArbitratorID, enums.NotificationTypeEscalationAlert, "Case Escalated", msg); err != nil {
			return err
		}
	}
	return s.notify(ctx, fc, fc.ReporterID, enums.NotificationTypeEscalationAlert, "Case Escalated", msg)
}

func (s *service) SendReversalCompletion(ctx context.Context, fc *models.FraudCase, reversal *types.ReversalResponse) error {
	amount := fc.Amount
	if reversal != nil {
		amount = reversal.ReversedAmount
	}
	return s.notify(ctx, fc, fc.ReporterID, enums.NotificationTypeReversalCompletion, "Transaction Reversed",
		fmt.Sprintf("Your transaction has been reversed successfully. Amount %s %s has been restored to your wallet. Case #%s is now closed.",
			amount.StringFixed(2), fc.Currency, shortID(fc.ID)))
}

func (s *service) SendCaseStatusUpdate(ctx context.Context, fc *models.FraudCase, message string) error {
	if strings.TrimSpace(message) == "" {
		message = statusSummary(fc.Status)
	}
	return s.notify(ctx, fc, fc.ReporterID, enums.NotificationTypeCaseStatusUpdate, "Fraud Case Update",
		fmt.Sprintf("Case #%s status updated: %s", shortID(fc.ID), message))
}

// notify stores the inbox row and queues external delivery in one tx.
func (s *service) notify(ctx context.Context, fc *models.FraudCase, userID string, kind enums.NotificationType, title, message string) error {
	if fc == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "fraud case required")
	}
	if strings.TrimSpace(userID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient required")
	}
	caseID := fc.ID
	link := "/fraud-reports/" + caseID.String()
	row := &models.Notification{
		ID:      uuid.New(),
		UserID:  userID,
		Type:    kind,
		Title:   title,
		Message: message,
		CaseID:  &caseID,
		Link:    &link,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, row); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateNotification,
			AggregateID:   row.ID.String(),
			Data: payloads.NotificationRequestedEvent{
				NotificationID: row.ID,
				UserID:         userID,
				Type:           kind,
				Title:          title,
				Message:        message,
				CaseID:         &caseID,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store notification")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"notification_id": row.ID.String(),
		"user_id":         userID,
		"type":            kind,
		"case_id":         caseID.String(),
	}), "notifications.queued")
	return nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func statusSummary(status enums.FraudCaseStatus) string {
	switch status {
	case enums.FraudCaseStatusOpen:
		return "Your case has been opened and is awaiting initial review."
	case enums.FraudCaseStatusInvestigating:
		return "Your case is under active investigation. We're gathering evidence."
	case enums.FraudCaseStatusResolved:
		return "Your case has been resolved. Check the app for details."
	case enums.FraudCaseStatusClosed:
		return "Your case has been closed."
	default:
		return "Your case status has been updated."
	}
}

func decisionSummary(resolution *enums.FraudResolution) string {
	if resolution == nil {
		return "Decision made"
	}
	switch *resolution {
	case enums.FraudResolutionConfirmed:
		return "Fraud confirmed - transaction will be reversed"
	case enums.FraudResolutionDenied:
		return "Fraud not confirmed - transaction stands"
	case enums.FraudResolutionInsufficientEvidence:
		return "Insufficient evidence - transaction stands"
	default:
		return "Decision made"
	}
}
