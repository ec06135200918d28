package reversal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/internal/audit"
	"github.com/echopay/echopay-backend/internal/broadcaster"
	"github.com/echopay/echopay-backend/internal/fraudcases"
	"github.com/echopay/echopay-backend/internal/notifications"
	"github.com/echopay/echopay-backend/internal/tokens"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/metrics"
	"github.com/echopay/echopay-backend/pkg/outbox"
	"github.com/echopay/echopay-backend/pkg/outbox/payloads"
	"github.com/echopay/echopay-backend/pkg/types"
)

const (
	maxReasoning = 2000

	automatedSLA  = time.Hour
	arbitratedSLA = 72 * time.Hour

	reissueIssuer = "echopay-reversal"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerTx interface {
	GetForUpdateTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Transaction, error)
	UpdateStatusTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.TransactionStatus, actor audit.Actor, details map[string]any) (*models.Transaction, error)
}

type tokenReissuer interface {
	ListByTransactionTx(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID) ([]models.Token, error)
	IssueBatchTx(ctx context.Context, tx *gorm.DB, req tokens.IssueRequest) (*tokens.IssueResult, error)
	ListHeldByCaseTx(ctx context.Context, tx *gorm.DB, caseID uuid.UUID) ([]models.Token, error)
	InvalidateForCaseTx(ctx context.Context, tx *gorm.DB, caseID uuid.UUID, reason string, actor audit.Actor) ([]uuid.UUID, error)
}

type statusPublisher interface {
	PublishTransaction(txn *models.Transaction, eventType broadcaster.EventType, message string)
	PublishCase(fc *models.FraudCase, message string)
}

// Service undoes a fraudulent transaction: invalidates the tainted tokens, reissues clean ones to
// the payer and resolves the case, all in one storage transaction.
type Service interface {
	ExecuteReversal(ctx context.Context, req types.ReversalRequest) (*types.ReversalResponse, error)
	Stats() Stats
}

type ServiceParams struct {
	Cases     fraudcases.Repository
	Ledger    ledgerTx
	Tokens    tokenReissuer
	TxRunner  txRunner
	Outbox    outbox.Emitter
	Notifier  notifications.Notifier
	Publisher statusPublisher
	Tracker   *Tracker
	Metrics   *metrics.ReversalMetrics
	ServiceID string
	Logger    *logger.Logger
}

type service struct {
	cases     fraudcases.Repository
	ledger    ledgerTx
	tokens    tokenReissuer
	tx        txRunner
	outbox    outbox.Emitter
	notifier  notifications.Notifier
	publisher statusPublisher
	tracker   *Tracker
	metrics   *metrics.ReversalMetrics
	serviceID string
	logg      *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Cases == nil {
		return nil, fmt.Errorf("fraud case repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token service required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Publisher == nil {
		return nil, fmt.Errorf("status publisher required")
	}
	tracker := params.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		cases:     params.Cases,
		ledger:    params.Ledger,
		tokens:    params.Tokens,
		tx:        params.TxRunner,
		outbox:    params.Outbox,
		notifier:  params.Notifier,
		publisher: params.Publisher,
		tracker:   tracker,
		metrics:   params.Metrics,
		serviceID: params.ServiceID,
		logg:      logg,
	}, nil
}

func validateRequest(req *types.ReversalRequest) error {
	req.Reasoning = strings.TrimSpace(req.Reasoning)
	if req.TransactionID == uuid.Nil || req.CaseID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeReversal, "transaction id and case id required")
	}
	if !req.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeReversal, "invalid reversal type").
			WithDetails(map[string]any{"reversal_type": req.Type})
	}
	if len([]rune(req.Reasoning)) > maxReasoning {
		return pkgerrors.New(pkgerrors.CodeReversal, fmt.Sprintf("reasoning must be at most %d characters", maxReasoning))
	}
	if req.Type == enums.ReversalTypeManualArbitration && (req.ArbitratorID == nil || strings.TrimSpace(*req.ArbitratorID) == "") {
		return pkgerrors.New(pkgerrors.CodeReversal, "arbitrated reversal requires an arbitrator")
	}
	return nil
}

func (s *service) actorFor(req types.ReversalRequest) audit.Actor {
	if req.ArbitratorID != nil && *req.ArbitratorID != "" {
		return audit.Actor{UserID: *req.ArbitratorID, Role: enums.ActorRoleArbitrator}
	}
	return audit.System
}

func defaultReasoning(t enums.ReversalType) string {
	switch t {
	case enums.ReversalTypeAutomatedFraud:
		return "Automated reversal: fraud confidence above threshold"
	case enums.ReversalTypeUserRequested:
		return "Reversal requested by user"
	default:
		return "Fraud confirmed by arbitration"
	}
}

func slaFor(t enums.ReversalType) time.Duration {
	if t == enums.ReversalTypeAutomatedFraud {
		return automatedSLA
	}
	return arbitratedSLA
}

func (s *service) ExecuteReversal(ctx context.Context, req types.ReversalRequest) (*types.ReversalResponse, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	if req.Reasoning == "" {
		req.Reasoning = defaultReasoning(req.Type)
	}
	actor := s.actorFor(req)
	resolvedBy := actor.UserID
	if resolvedBy == "" {
		resolvedBy = s.serviceID
	}

	ctx = s.logg.WithFields(s.logg.WithCaseID(s.logg.WithTransactionID(ctx, req.TransactionID.String()), req.CaseID.String()), map[string]any{
		"reversal_type": req.Type,
	})

	if fc, err := s.cases.Get(ctx, req.CaseID); err == nil {
		s.tracker.Start(req.CaseID, fc.CreatedAt)
	} else {
		s.tracker.Start(req.CaseID, time.Time{})
	}

	resp := &types.ReversalResponse{
		ReversalID:    uuid.New(),
		TransactionID: req.TransactionID,
		CaseID:        req.CaseID,
		Type:          req.Type,
	}
	var (
		txn *models.Transaction
		fc  *models.FraudCase
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cases := s.cases.WithTx(tx)
		var err error
		fc, err = cases.GetForUpdate(ctx, req.CaseID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeReversal, "case not found")
			}
			return err
		}
		if fc.Status != enums.FraudCaseStatusInvestigating || fc.TransactionID != req.TransactionID {
			return pkgerrors.New(pkgerrors.CodeReversal, "case not active").
				WithDetails(map[string]any{"status": fc.Status})
		}

		txn, err = s.ledger.GetForUpdateTx(ctx, tx, req.TransactionID)
		if err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
				return pkgerrors.New(pkgerrors.CodeReversal, "transaction not found")
			}
			return err
		}
		if txn.Status != enums.TransactionStatusCompleted {
			return pkgerrors.New(pkgerrors.CodeReversal, "transaction not eligible for reversal").
				WithDetails(map[string]any{"status": txn.Status})
		}

		linked, err := s.tokens.ListByTransactionTx(ctx, tx, txn.ID)
		if err != nil {
			return err
		}
		held, err := s.tokens.ListHeldByCaseTx(ctx, tx, fc.ID)
		if err != nil {
			return err
		}
		if len(linked) > 0 && len(held) == 0 {
			return pkgerrors.New(pkgerrors.CodeReversal, "transaction tokens are not held by this case").
				WithDetails(map[string]any{"linked_tokens": len(linked)})
		}
		denominations, reissuedFrom := replacementDenominations(held, txn.Amount)

		// Stage the clean batch before anything is invalidated.
		issued, err := s.tokens.IssueBatchTx(ctx, tx, tokens.IssueRequest{
			Owner:         txn.FromWallet,
			CBDCType:      txn.Currency,
			Denominations: denominations,
			Metadata: models.TokenMetadata{
				Issuer:       reissueIssuer,
				Series:       "REV-" + resp.ReversalID.String()[:8],
				ReissuedFrom: reissuedFrom,
				ReversalID:   resp.ReversalID.String(),
			},
			ComplianceFlags: models.ComplianceFlags{KYCVerified: true, AMLCleared: true, RegulatoryApproved: true},
			Actor:           actor,
		})
		if err != nil {
			return err
		}
		resp.NewTokenBatchID = issued.BatchID
		resp.NewTokenIDs = issued.TokenIDs()

		resp.InvalidatedIDs, err = s.tokens.InvalidateForCaseTx(ctx, tx, fc.ID, "reversal "+resp.ReversalID.String(), actor)
		if err != nil {
			return err
		}

		txn, err = s.ledger.UpdateStatusTx(ctx, tx, txn.ID, enums.TransactionStatusReversed, actor, map[string]any{
			"reversal_id":   resp.ReversalID.String(),
			"case_id":       fc.ID.String(),
			"reversal_type": string(req.Type),
			"reasoning":     req.Reasoning,
		})
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		rows, err := cases.Resolve(ctx, fc.ID, enums.FraudResolutionConfirmed, req.Reasoning, resolvedBy, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeReversal, "case not active")
		}
		resolution := enums.FraudResolutionConfirmed
		fc.Status = enums.FraudCaseStatusResolved
		fc.Resolution = &resolution
		fc.ResolutionReasoning = &req.Reasoning
		fc.ResolvedBy = &resolvedBy
		fc.ResolvedAt = &now

		resp.ReversedAmount = txn.Amount
		resp.Timestamp = now
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReversalCompleted,
			AggregateType: enums.AggregateReversal,
			AggregateID:   resp.ReversalID.String(),
			Actor:         actor.Ref(s.serviceID),
			Data: payloads.ReversalCompletedEvent{
				ReversalID:      resp.ReversalID,
				TransactionID:   resp.TransactionID,
				CaseID:          resp.CaseID,
				ReversalType:    resp.Type,
				ReversedAmount:  resp.ReversedAmount,
				NewTokenBatchID: resp.NewTokenBatchID,
				NewTokenIDs:     resp.NewTokenIDs,
				InvalidatedIDs:  resp.InvalidatedIDs,
			},
		})
	})
	if err != nil {
		s.tracker.Fail(req.CaseID)
		s.metrics.Failed(string(req.Type))
		err = pkgerrors.FromStorage(err, "execute reversal")
		s.logg.Error(ctx, "reversal.failed", err)
		return nil, err
	}

	took := s.tracker.Complete(req.CaseID)
	s.metrics.Completed(string(req.Type), took, slaFor(req.Type))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"reversal_id":     resp.ReversalID.String(),
		"reversed_amount": resp.ReversedAmount.String(),
		"new_tokens":      len(resp.NewTokenIDs),
		"invalidated":     len(resp.InvalidatedIDs),
		"latency_minutes": int(took.Minutes()),
		"sla_breached":    took > slaFor(req.Type),
	}), "reversal.completed")

	s.publisher.PublishTransaction(txn, broadcaster.EventTransactionReversed, "transaction reversed")
	s.publisher.PublishCase(fc, "fraud confirmed, transaction reversed")
	if err := s.notifier.SendReversalCompletion(ctx, fc, resp); err != nil {
		s.logg.Error(ctx, "reversal.notify_failed", err)
	}
	return resp, nil
}

// replacementDenominations mirrors the tokens the case holds one for one. A transaction that moved
// no tokens is reissued as a single token for the whole amount.
func replacementDenominations(held []models.Token, amount decimal.Decimal) ([]decimal.Decimal, []string) {
	var (
		denominations []decimal.Decimal
		from          []string
	)
	for _, t := range held {
		denominations = append(denominations, t.Denomination)
		from = append(from, t.ID.String())
	}
	if len(denominations) == 0 {
		return []decimal.Decimal{amount}, nil
	}
	return denominations, from
}

func (s *service) Stats() Stats {
	return s.tracker.Stats()
}
