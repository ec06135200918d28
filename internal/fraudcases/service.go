package fraudcases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/internal/audit"
	"github.com/echopay/echopay-backend/internal/notifications"
	"github.com/echopay/echopay-backend/pkg/db"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/outbox"
	"github.com/echopay/echopay-backend/pkg/outbox/payloads"
	"github.com/echopay/echopay-backend/pkg/redis"
	"github.com/echopay/echopay-backend/pkg/types"
)

const activeCaseIndex = "ux_fraud_cases_active_transaction"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type transactionLookup interface {
	GetTransactionDetails(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	IsValidForFraudReport(ctx context.Context, id uuid.UUID) (bool, error)
}

type tokenDisputes interface {
	DisputeForCaseTx(ctx context.Context, tx *gorm.DB, transactionID, caseID uuid.UUID, reason string, actor audit.Actor) ([]uuid.UUID, error)
	ReleaseForCaseTx(ctx context.Context, tx *gorm.DB, caseID uuid.UUID, reason string, actor audit.Actor) ([]uuid.UUID, error)
}

type reversalExecutor interface {
	ExecuteReversal(ctx context.Context, req types.ReversalRequest) (*types.ReversalResponse, error)
}

type casePublisher interface {
	PublishCase(fc *models.FraudCase, message string)
}

// Service runs the fraud case state machine.
type Service interface {
	SubmitFraudReport(ctx context.Context, report Report) (*SubmitResult, error)
	AssignToArbitrator(ctx context.Context, caseID uuid.UUID, arbitratorID, notes string) (*models.FraudCase, error)
	AddEvidence(ctx context.Context, caseID uuid.UUID, submittedBy string, evidence Evidence) (*models.FraudCase, error)
	ProcessArbitrationDecision(ctx context.Context, req DecisionRequest) (*DecisionResult, error)
	CheckForOverdueCases(ctx context.Context) (int, error)
	CloseCase(ctx context.Context, caseID uuid.UUID, actor audit.Actor) (*models.FraudCase, error)

	GetCase(ctx context.Context, caseID uuid.UUID) (*models.FraudCase, error)
	ListByReporter(ctx context.Context, reporterID string) ([]models.FraudCase, error)
	ListArbitratorCases(ctx context.Context, arbitratorID string) ([]CaseView, error)
	ListUnassigned(ctx context.Context) ([]models.FraudCase, error)
	Statistics(ctx context.Context) (*Statistics, error)
	ListAutomatedCandidates(ctx context.Context, now time.Time) ([]models.FraudCase, error)
}

// ServiceParams groups the fraud case collaborators. RateLimiter is optional.
type ServiceParams struct {
	Repo         Repository
	TxRunner     txRunner
	Outbox       outbox.Emitter
	Transactions transactionLookup
	Tokens       tokenDisputes
	Reversals    reversalExecutor
	Notifier     notifications.Notifier
	Publisher    casePublisher
	RateLimiter  redis.RateLimiter
	Thresholds   Thresholds
	ServiceID    string
	Logger       *logger.Logger
}

type service struct {
	repo         Repository
	tx           txRunner
	outbox       outbox.Emitter
	transactions transactionLookup
	tokens       tokenDisputes
	reversals    reversalExecutor
	notifier     notifications.Notifier
	publisher    casePublisher
	limiter      redis.RateLimiter
	limits       Thresholds
	serviceID    string
	logg         *logger.Logger
	now          func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("fraud case repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("transaction lookup required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token service required")
	}
	if params.Reversals == nil {
		return nil, fmt.Errorf("reversal engine required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Publisher == nil {
		return nil, fmt.Errorf("case publisher required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:         params.Repo,
		tx:           params.TxRunner,
		outbox:       params.Outbox,
		transactions: params.Transactions,
		tokens:       params.Tokens,
		reversals:    params.Reversals,
		notifier:     params.Notifier,
		publisher:    params.Publisher,
		limiter:      params.RateLimiter,
		limits:       params.Thresholds.withDefaults(),
		serviceID:    params.ServiceID,
		logg:         logg,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) SubmitFraudReport(ctx context.Context, report Report) (*SubmitResult, error) {
	if err := s.limits.validateReport(&report); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, report.ReporterID); err != nil {
		return nil, err
	}

	valid, err := s.transactions.IsValidForFraudReport(ctx, report.TransactionID)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction is not eligible for a fraud report").
			WithDetails(map[string]any{"reason": "transaction_not_completed"})
	}
	txn, err := s.transactions.GetTransactionDetails(ctx, report.TransactionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	priority := s.limits.Priority(txn.Amount, report.Type)
	reporter := audit.Actor{UserID: report.ReporterID, Role: enums.ActorRoleUser}
	fc := &models.FraudCase{
		ID:            uuid.New(),
		TransactionID: txn.ID,
		ReporterID:    report.ReporterID,
		CaseType:      report.Type,
		Priority:      priority,
		Status:        enums.FraudCaseStatusInvestigating,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Description:   report.Description,
		Evidence: models.FraudEvidence{
			UserReport:      report.Evidence.UserReport,
			Screenshots:     report.Evidence.Screenshots,
			AdditionalInfo:  report.Evidence.AdditionalInfo,
			ReportTimestamp: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	var disputed []uuid.UUID
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		active, err := repo.HasActiveForTransaction(ctx, txn.ID)
		if err != nil {
			return err
		}
		if active {
			return errActiveCase(txn.ID)
		}
		if err := repo.Create(ctx, fc); err != nil {
			if db.IsUniqueViolation(err, activeCaseIndex) || db.IsUniqueViolation(err, "") {
				return errActiveCase(txn.ID)
			}
			return err
		}
		disputed, err = s.tokens.DisputeForCaseTx(ctx, tx, txn.ID, fc.ID, "fraud case "+fc.ID.String(), reporter)
		if pkgerrors.Is(err, pkgerrors.CodeStateConflict) {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "transaction tokens are held by another fraud case").
				WithDetails(map[string]any{"reason": "tokens_under_dispute", "transaction_id": txn.ID.String()})
		}
		if err != nil {
			return err
		}
		return s.emitCase(ctx, tx, enums.EventFraudCaseSubmitted, fc, reporter)
	})
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "submit fraud report")
	}

	estimate := EstimatedResolution(priority, report.Type)
	ctx = s.logg.WithFields(s.logg.WithCaseID(ctx, fc.ID.String()), map[string]any{
		"transaction_id":  txn.ID.String(),
		"priority":        priority,
		"case_type":       report.Type,
		"disputed_tokens": len(disputed),
	})
	s.logg.Info(ctx, "fraudcase.submitted")
	if err := s.notifier.SendFraudReportConfirmation(ctx, fc, estimate); err != nil {
		s.logg.Error(ctx, "fraudcase.notify_failed", err)
	}
	s.publisher.PublishCase(fc, "fraud case submitted")

	return &SubmitResult{Case: fc, EstimatedResolution: estimate}, nil
}

func (s *service) checkRateLimit(ctx context.Context, reporterID string) error {
	if s.limiter == nil || s.limits.ReportsPerHour <= 0 {
		return nil
	}
	allowed, count, err := s.limiter.FixedWindowAllow(ctx, "fraud_reports:"+reporterID, int64(s.limits.ReportsPerHour), time.Hour)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting")
	}
	if !allowed {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many fraud reports").
			WithDetails(map[string]any{"limit": s.limits.ReportsPerHour, "count": count})
	}
	return nil
}

func (s *service) AssignToArbitrator(ctx context.Context, caseID uuid.UUID, arbitratorID, notes string) (*models.FraudCase, error) {
	arbitratorID = strings.TrimSpace(arbitratorID)
	if caseID == uuid.Nil || arbitratorID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "case id and arbitrator id required")
	}
	actor := audit.Actor{UserID: arbitratorID, Role: enums.ActorRoleArbitrator}

	var fc *models.FraudCase
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()
		rows, err := repo.Assign(ctx, caseID, arbitratorID, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			if _, err := repo.Get(ctx, caseID); err != nil {
				return mapLoadError(err)
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "case is not awaiting assignment")
		}
		fc, err = repo.GetForUpdate(ctx, caseID)
		if err != nil {
			return mapLoadError(err)
		}
		if notes = strings.TrimSpace(notes); notes != "" {
			fc.Evidence.ArbitratorEvidence = append(fc.Evidence.ArbitratorEvidence, models.ArbitratorNote{
				ArbitratorID: arbitratorID,
				Notes:        notes,
				AddedAt:      now,
			})
			if err := repo.SaveEvidence(ctx, fc); err != nil {
				return err
			}
		}
		return s.emitCase(ctx, tx, enums.EventFraudCaseAssigned, fc, actor)
	})
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "assign fraud case")
	}

	ctx = s.logg.WithField(s.logg.WithCaseID(ctx, caseID.String()), "arbitrator_id", arbitratorID)
	s.logg.Info(ctx, "fraudcase.assigned")
	if err := s.notifier.SendArbitrationAssignment(ctx, fc, arbitratorID); err != nil {
		s.logg.Error(ctx, "fraudcase.notify_failed", err)
	}
	s.publisher.PublishCase(fc, "case assigned to arbitrator")
	return fc, nil
}

func (s *service) AddEvidence(ctx context.Context, caseID uuid.UUID, submittedBy string, evidence Evidence) (*models.FraudCase, error) {
	submittedBy = strings.TrimSpace(submittedBy)
	if caseID == uuid.Nil || submittedBy == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "case id and submitter required")
	}
	if err := evidence.validate(); err != nil {
		return nil, err
	}

	var fc *models.FraudCase
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		fc, err = repo.GetForUpdate(ctx, caseID)
		if err != nil {
			return mapLoadError(err)
		}
		if !fc.Status.IsActive() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "evidence can only be added to open or investigating cases")
		}
		switch {
		case fc.IsAssigned() && *fc.ArbitratorID == submittedBy:
			notes := strings.TrimSpace(strings.Join([]string{evidence.UserReport, evidence.AdditionalInfo}, "\n"))
			fc.Evidence.ArbitratorEvidence = append(fc.Evidence.ArbitratorEvidence, models.ArbitratorNote{
				ArbitratorID: submittedBy,
				Notes:        notes,
				AddedAt:      s.now(),
			})
			fc.Evidence.Screenshots = append(fc.Evidence.Screenshots, evidence.Screenshots...)
		case fc.ReporterID == submittedBy:
			mergeEvidence(&fc.Evidence, evidence)
		default:
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the reporter or the assigned arbitrator may add evidence")
		}
		return repo.SaveEvidence(ctx, fc)
	})
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "add evidence")
	}

	s.logg.Info(s.logg.WithField(s.logg.WithCaseID(ctx, caseID.String()), "submitted_by", submittedBy), "fraudcase.evidence_added")
	s.publisher.PublishCase(fc, "evidence added")
	return fc, nil
}

func mergeEvidence(dst *models.FraudEvidence, src Evidence) {
	dst.Screenshots = append(dst.Screenshots, src.Screenshots...)
	if strings.TrimSpace(src.AdditionalInfo) != "" {
		dst.AdditionalInfo = src.AdditionalInfo
	}
	if strings.TrimSpace(src.UserReport) != "" {
		dst.UserReport = src.UserReport
	}
}

func (s *service) ProcessArbitrationDecision(ctx context.Context, req DecisionRequest) (*DecisionResult, error) {
	req.ArbitratorID = strings.TrimSpace(req.ArbitratorID)
	req.Reasoning = strings.TrimSpace(req.Reasoning)
	if req.CaseID == uuid.Nil || req.ArbitratorID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "case id and arbitrator id required")
	}
	if !req.Decision.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid decision")
	}
	if req.Reasoning == "" || len([]rune(req.Reasoning)) > maxReasoning {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("reasoning is required and must be at most %d characters", maxReasoning))
	}

	fc, err := s.repo.Get(ctx, req.CaseID)
	if err != nil {
		return nil, mapLoadError(err)
	}
	if err := checkDecisionAllowed(fc, req.ArbitratorID); err != nil {
		return nil, err
	}

	result := &DecisionResult{}
	if req.Decision == enums.FraudResolutionConfirmed {
		arbitrator := req.ArbitratorID
		result.Reversal, err = s.reversals.ExecuteReversal(ctx, types.ReversalRequest{
			TransactionID: fc.TransactionID,
			CaseID:        fc.ID,
			Type:          enums.ReversalTypeManualArbitration,
			Reasoning:     req.Reasoning,
			ArbitratorID:  &arbitrator,
		})
		if err != nil {
			return nil, err
		}
		fc, err = s.repo.Get(ctx, req.CaseID)
		if err != nil {
			return nil, mapLoadError(err)
		}
	} else {
		fc, err = s.resolveWithoutReversal(ctx, req)
		if err != nil {
			return nil, err
		}
	}
	result.Case = fc

	ctx = s.logg.WithFields(s.logg.WithCaseID(ctx, fc.ID.String()), map[string]any{
		"arbitrator_id": req.ArbitratorID,
		"decision":      req.Decision,
	})
	s.logg.Info(ctx, "fraudcase.decided")
	if err := s.notifier.SendArbitrationDecision(ctx, fc); err != nil {
		s.logg.Error(ctx, "fraudcase.notify_failed", err)
	}
	if err := s.notifier.SendCaseStatusUpdate(ctx, fc, ""); err != nil {
		s.logg.Error(ctx, "fraudcase.notify_failed", err)
	}
	s.publisher.PublishCase(fc, "case resolved: "+string(req.Decision))
	return result, nil
}

func checkDecisionAllowed(fc *models.FraudCase, arbitratorID string) error {
	if fc.Status != enums.FraudCaseStatusInvestigating || !fc.IsAssigned() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "case is not awaiting a decision")
	}
	if *fc.ArbitratorID != arbitratorID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "case is assigned to another arbitrator")
	}
	return nil
}

func (s *service) resolveWithoutReversal(ctx context.Context, req DecisionRequest) (*models.FraudCase, error) {
	actor := audit.Actor{UserID: req.ArbitratorID, Role: enums.ActorRoleArbitrator}
	var fc *models.FraudCase
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		fc, err = repo.GetForUpdate(ctx, req.CaseID)
		if err != nil {
			return mapLoadError(err)
		}
		if err := checkDecisionAllowed(fc, req.ArbitratorID); err != nil {
			return err
		}
		now := s.now()
		rows, err := repo.Resolve(ctx, fc.ID, req.Decision, req.Reasoning, req.ArbitratorID, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "case is not awaiting a decision")
		}
		if _, err := s.tokens.ReleaseForCaseTx(ctx, tx, fc.ID, "fraud case "+string(req.Decision), actor); err != nil {
			return err
		}
		resolution := req.Decision
		fc.Status = enums.FraudCaseStatusResolved
		fc.Resolution = &resolution
		fc.ResolutionReasoning = &req.Reasoning
		fc.ResolvedBy = &req.ArbitratorID
		fc.ResolvedAt = &now
		return s.emitCase(ctx, tx, enums.EventFraudCaseResolved, fc, actor)
	})
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "resolve fraud case")
	}
	return fc, nil
}

// CheckForOverdueCases escalates investigating cases past the deadline. Safe to run concurrently:
// each case flips at most once.
func (s *service) CheckForOverdueCases(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.limits.EscalationAfter)
	candidates, err := s.repo.ListOverdue(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.FromStorage(err, "list overdue cases")
	}

	escalated := 0
	for i := range candidates {
		fc := candidates[i]
		flipped := false
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			rows, err := s.repo.WithTx(tx).MarkEscalated(ctx, fc.ID, cutoff, now)
			if err != nil || rows == 0 {
				return err
			}
			flipped = true
			fc.Escalated = true
			fc.EscalatedAt = &now
			return s.emitCase(ctx, tx, enums.EventFraudCaseEscalated, &fc, audit.System)
		})
		if err != nil {
			return escalated, pkgerrors.FromStorage(err, "escalate fraud case")
		}
		if !flipped {
			continue
		}
		escalated++

		caseCtx := s.logg.WithFields(s.logg.WithCaseID(ctx, fc.ID.String()), map[string]any{
			"priority":    fc.Priority,
			"age_hours":   int(now.Sub(fc.CreatedAt).Hours()),
			"assigned_to": fc.ArbitratorID,
		})
		s.logg.Warn(caseCtx, "fraudcase.escalated")
		if err := s.notifier.SendEscalationAlert(caseCtx, &fc); err != nil {
			s.logg.Error(caseCtx, "fraudcase.notify_failed", err)
		}
		s.publisher.PublishCase(&fc, "case escalated")
	}
	return escalated, nil
}

func (s *service) CloseCase(ctx context.Context, caseID uuid.UUID, actor audit.Actor) (*models.FraudCase, error) {
	var fc *models.FraudCase
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		fc, err = repo.GetForUpdate(ctx, caseID)
		if err != nil {
			return mapLoadError(err)
		}
		from := fc.Status
		if !from.CanTransitionTo(enums.FraudCaseStatusClosed) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "case cannot be closed").
				WithDetails(map[string]any{"status": from})
		}
		rows, err := repo.TransitionStatus(ctx, caseID, from, enums.FraudCaseStatusClosed, s.now())
		if err != nil {
			return err
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "case changed concurrently")
		}
		if from.IsActive() {
			if _, err := s.tokens.ReleaseForCaseTx(ctx, tx, caseID, "fraud case closed", actor); err != nil {
				return err
			}
		}
		fc.Status = enums.FraudCaseStatusClosed
		return nil
	})
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "close fraud case")
	}

	ctx = s.logg.WithField(s.logg.WithCaseID(ctx, caseID.String()), "closed_by", actor.UserID)
	s.logg.Info(ctx, "fraudcase.closed")
	if err := s.notifier.SendCaseStatusUpdate(ctx, fc, ""); err != nil {
		s.logg.Error(ctx, "fraudcase.notify_failed", err)
	}
	s.publisher.PublishCase(fc, "case closed")
	return fc, nil
}

func (s *service) emitCase(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, fc *models.FraudCase, actor audit.Actor) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateFraudCase,
		AggregateID:   fc.ID.String(),
		Actor:         actor.Ref(s.serviceID),
		Data: payloads.FraudCaseEvent{
			CaseID:        fc.ID,
			TransactionID: fc.TransactionID,
			ReporterID:    fc.ReporterID,
			Status:        fc.Status,
			Priority:      fc.Priority,
			ArbitratorID:  fc.ArbitratorID,
			Resolution:    fc.Resolution,
		},
	})
}

func errActiveCase(transactionID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "an active fraud case already exists for this transaction").
		WithDetails(map[string]any{"reason": "active_case_exists", "transaction_id": transactionID.String()})
}

func mapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "fraud case not found")
	}
	return pkgerrors.FromStorage(err, "load fraud case")
}
