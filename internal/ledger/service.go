package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/internal/audit"
	"github.com/echopay/echopay-backend/internal/broadcaster"
	"github.com/echopay/echopay-backend/internal/risk"
	"github.com/echopay/echopay-backend/internal/tokens"
	"github.com/echopay/echopay-backend/internal/wallets"
	"github.com/echopay/echopay-backend/pkg/db"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/metrics"
	"github.com/echopay/echopay-backend/pkg/outbox"
	"github.com/echopay/echopay-backend/pkg/outbox/payloads"
)

const (
	defaultListLimit   = 50
	maxListLimit       = 500
	defaultRiskTimeout = 3 * time.Second
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// TokenSettler moves the tokens backing a transfer inside the ledger transaction.
type TokenSettler interface {
	SettleTransfer(ctx context.Context, tx *gorm.DB, req tokens.SettleRequest) error
}

type statusPublisher interface {
	PublishTransaction(txn *models.Transaction, eventType broadcaster.EventType, message string)
	PublishFraudScore(txn *models.Transaction, score float64)
	PublishBalance(balance models.WalletBalance, transactionID uuid.UUID)
}

// Service is the transaction ledger. UpdateStatusTx and GetForUpdateTx join the caller's transaction.
type Service interface {
	ProcessTransaction(ctx context.Context, req ProcessRequest) (*models.Transaction, error)
	SetFraudScore(ctx context.Context, id uuid.UUID, score float64, details map[string]any, actor audit.Actor) (*models.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, actor audit.Actor, details map[string]any) (*models.Transaction, error)
	UpdateStatusTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.TransactionStatus, actor audit.Actor, details map[string]any) (*models.Transaction, error)
	GetForUpdateTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Transaction, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByWallet(ctx context.Context, walletID string, limit, offset int) ([]models.Transaction, error)
	GetPending(ctx context.Context, limit int) ([]models.Transaction, error)
	GetAuditTrail(ctx context.Context, id uuid.UUID) ([]models.TransactionAudit, error)
	GetStats(ctx context.Context) (*Stats, error)
	GetWalletBalances(ctx context.Context, walletID string) ([]models.WalletBalance, error)

	GetTransactionDetails(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	IsValidForFraudReport(ctx context.Context, id uuid.UUID) (bool, error)
	IsEligibleForReversal(ctx context.Context, id uuid.UUID) (bool, error)

	// Wait blocks until in-flight risk scoring has finished.
	Wait()
}

// ServiceParams groups the ledger's collaborators.
type ServiceParams struct {
	Repo        Repository
	Wallets     wallets.Repository
	Locker      *wallets.Locker
	Tokens      TokenSettler
	TxRunner    txRunner
	Outbox      outbox.Emitter
	Signer      *audit.Signer
	Publisher   statusPublisher
	Scorer      risk.Scorer
	Metrics     *metrics.LedgerMetrics
	Logger      *logger.Logger
	ServiceID   string
	MaxAmount   decimal.Decimal
	LockWait    time.Duration
	RiskTimeout time.Duration
}

type service struct {
	repo        Repository
	wallets     wallets.Repository
	locker      *wallets.Locker
	tokens      TokenSettler
	tx          txRunner
	outbox      outbox.Emitter
	signer      *audit.Signer
	publisher   statusPublisher
	scorer      risk.Scorer
	metrics     *metrics.LedgerMetrics
	logg        *logger.Logger
	serviceID   string
	max         decimal.Decimal
	lockWait    time.Duration
	riskTimeout time.Duration
	scoring     sync.WaitGroup
}

// NewService wires the ledger engine. Scorer and Metrics are optional.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Wallets == nil {
		return nil, fmt.Errorf("wallets repository required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("wallet locker required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token settler required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Signer == nil {
		return nil, fmt.Errorf("audit signer required")
	}
	if params.Publisher == nil {
		return nil, fmt.Errorf("status publisher required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	riskTimeout := params.RiskTimeout
	if riskTimeout <= 0 {
		riskTimeout = defaultRiskTimeout
	}
	return &service{
		repo:        params.Repo,
		wallets:     params.Wallets,
		locker:      params.Locker,
		tokens:      params.Tokens,
		tx:          params.TxRunner,
		outbox:      params.Outbox,
		signer:      params.Signer,
		publisher:   params.Publisher,
		scorer:      params.Scorer,
		metrics:     params.Metrics,
		logg:        logg,
		serviceID:   params.ServiceID,
		max:         params.MaxAmount,
		lockWait:    params.LockWait,
		riskTimeout: riskTimeout,
	}, nil
}

func (s *service) ProcessTransaction(ctx context.Context, req ProcessRequest) (*models.Transaction, error) {
	req.FromWallet = strings.TrimSpace(req.FromWallet)
	req.ToWallet = strings.TrimSpace(req.ToWallet)
	if err := validateProcess(req, s.max); err != nil {
		s.metrics.Failed(string(pkgerrors.CodeOf(err)))
		return nil, err
	}

	started := time.Now()
	txn, balances, err := s.settle(ctx, req)
	if err != nil {
		s.publishFailure(ctx, req, err)
		return nil, err
	}
	s.metrics.Settled(string(txn.Currency), time.Since(started))

	s.publisher.PublishTransaction(txn, broadcaster.EventTransactionCreated, "transaction created")
	s.publisher.PublishTransaction(txn, broadcaster.EventTransactionCompleted, "transaction completed")
	for _, b := range balances {
		s.publisher.PublishBalance(b, txn.ID)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"transaction_id": txn.ID.String(),
		"from_wallet":    txn.FromWallet,
		"to_wallet":      txn.ToWallet,
		"amount":         txn.Amount.String(),
		"currency":       txn.Currency,
		"token_count":    len(req.TokenIDs),
	}), "ledger.settled")

	s.scoreAsync(*txn)
	return txn, nil
}

func (s *service) settle(ctx context.Context, req ProcessRequest) (*models.Transaction, []models.WalletBalance, error) {
	release, err := s.locker.Acquire(ctx, req.FromWallet, req.ToWallet)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	now := time.Now().UTC()
	settledAt := now
	txn := &models.Transaction{
		ID:         uuid.New(),
		FromWallet: req.FromWallet,
		ToWallet:   req.ToWallet,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Status:     enums.TransactionStatusCompleted,
		Metadata:   req.Metadata,
		CreatedAt:  now,
		SettledAt:  &settledAt,
		UpdatedAt:  now,
	}

	var balances []models.WalletBalance
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := db.ApplyLockTimeout(ctx, tx, s.lockWait); err != nil {
			return pkgerrors.FromStorage(err, "set lock timeout")
		}
		walletRepo := s.wallets.WithTx(tx)
		first, second := wallets.LockOrder(req.FromWallet, req.ToWallet)
		locked := make(map[string]*models.WalletBalance, 2)
		for _, id := range []string{first, second} {
			row, err := walletRepo.GetForUpdate(ctx, id, req.Currency)
			if err != nil {
				return pkgerrors.FromStorage(err, "lock wallet balance")
			}
			locked[id] = row
		}

		from, to := locked[req.FromWallet], locked[req.ToWallet]
		if from.Balance.LessThan(req.Amount) {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient funds").
				WithDetails(map[string]any{
					"wallet_id": req.FromWallet,
					"currency":  req.Currency,
					"requested": req.Amount.String(),
				})
		}
		from.Balance = from.Balance.Sub(req.Amount)
		to.Balance = to.Balance.Add(req.Amount)
		if err := walletRepo.Update(ctx, req.FromWallet, req.Currency, from.Balance); err != nil {
			return pkgerrors.FromStorage(err, "debit wallet")
		}
		if err := walletRepo.Update(ctx, req.ToWallet, req.Currency, to.Balance); err != nil {
			return pkgerrors.FromStorage(err, "credit wallet")
		}

		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, txn); err != nil {
			return pkgerrors.FromStorage(err, "insert transaction")
		}
		if err := s.appendAudit(ctx, repo, txn.ID, enums.AuditActionCreated, nil, map[string]any{
			"status":      enums.TransactionStatusPending,
			"from_wallet": txn.FromWallet,
			"to_wallet":   txn.ToWallet,
			"amount":      txn.Amount.String(),
			"currency":    txn.Currency,
		}, nil, req.Actor); err != nil {
			return err
		}
		if err := s.appendAudit(ctx, repo, txn.ID, enums.AuditActionStatusChange,
			map[string]any{"status": enums.TransactionStatusPending},
			map[string]any{"status": enums.TransactionStatusCompleted},
			nil, req.Actor); err != nil {
			return err
		}

		if len(req.TokenIDs) > 0 {
			if err := s.tokens.SettleTransfer(ctx, tx, tokens.SettleRequest{
				TransactionID: txn.ID,
				FromWallet:    txn.FromWallet,
				ToWallet:      txn.ToWallet,
				Currency:      txn.Currency,
				Amount:        txn.Amount,
				TokenIDs:      req.TokenIDs,
				Actor:         req.Actor,
			}); err != nil {
				return err
			}
		}

		actor := req.Actor.Ref(s.serviceID)
		for _, eventType := range []enums.OutboxEventType{enums.EventTransactionCreated, enums.EventTransactionCompleted} {
			if err := s.outbox.Emit(ctx, tx, transactionEvent(eventType, txn, actor)); err != nil {
				return err
			}
		}
		txnID := txn.ID
		for _, pair := range []struct {
			row   *models.WalletBalance
			delta decimal.Decimal
		}{{from, req.Amount.Neg()}, {to, req.Amount}} {
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventBalanceUpdated,
				AggregateType: enums.AggregateWallet,
				AggregateID:   pair.row.WalletID,
				Actor:         actor,
				Data: payloads.BalanceUpdatedEvent{
					WalletID:      pair.row.WalletID,
					Currency:      pair.row.Currency,
					Balance:       pair.row.Balance,
					Delta:         pair.delta,
					TransactionID: &txnID,
				},
			}); err != nil {
				return err
			}
		}
		balances = []models.WalletBalance{*from, *to}
		return nil
	})
	if err != nil {
		return nil, nil, pkgerrors.FromStorage(err, "settle transaction")
	}
	return txn, balances, nil
}

func (s *service) publishFailure(ctx context.Context, req ProcessRequest, err error) {
	code := pkgerrors.CodeOf(err)
	s.metrics.Failed(string(code))
	// nothing was stored, so the update carries no transaction id
	s.publisher.PublishTransaction(&models.Transaction{
		ID:         uuid.Nil,
		FromWallet: req.FromWallet,
		ToWallet:   req.ToWallet,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Status:     enums.TransactionStatusFailed,
	}, broadcaster.EventTransactionFailed, failureMessage(err))

	ctx = s.logg.WithFields(ctx, map[string]any{
		"from_wallet": req.FromWallet,
		"to_wallet":   req.ToWallet,
		"amount":      req.Amount.String(),
		"currency":    req.Currency,
		"code":        code,
	})
	if code == pkgerrors.CodeInternal {
		s.logg.Error(ctx, "ledger.settle_failed", err)
		return
	}
	s.logg.Warn(ctx, "ledger.settle_rejected")
}

func failureMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return "transaction failed"
}

// scoreAsync requests a risk score after commit. Failures are logged and never surface to the caller.
func (s *service) scoreAsync(txn models.Transaction) {
	if s.scorer == nil {
		return
	}
	s.scoring.Add(1)
	go func() {
		defer s.scoring.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.riskTimeout)
		defer cancel()
		ctx = s.logg.WithTransactionID(ctx, txn.ID.String())

		score, err := s.scorer.RiskScore(ctx, &txn)
		if err != nil {
			s.metrics.RiskScored("error")
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "ledger.risk_score_failed")
			return
		}
		if _, err := s.SetFraudScore(ctx, txn.ID, score, map[string]any{"source": "risk_service"}, audit.System); err != nil {
			s.metrics.RiskScored("error")
			s.logg.Error(ctx, "ledger.risk_score_store_failed", err)
			return
		}
		s.metrics.RiskScored("ok")
	}()
}

func (s *service) Wait() {
	s.scoring.Wait()
}

func (s *service) SetFraudScore(ctx context.Context, id uuid.UUID, score float64, details map[string]any, actor audit.Actor) (*models.Transaction, error) {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fraud score must be between 0 and 1")
	}

	var txn *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		row, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return mapLoadError(err)
		}
		var prev map[string]any
		if row.FraudScore != nil {
			prev = map[string]any{"fraud_score": *row.FraudScore}
		}
		if err := repo.SetFraudScore(ctx, id, score); err != nil {
			return err
		}
		if err := s.appendAudit(ctx, repo, id, enums.AuditActionFraudScoreUpdate, prev,
			map[string]any{"fraud_score": score}, details, actor); err != nil {
			return err
		}
		row.FraudScore = &score
		txn = row
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFraudScoreUpdated,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   id.String(),
			Actor:         actor.Ref(s.serviceID),
			Data: payloads.FraudScoreUpdatedEvent{
				TransactionID: id,
				FraudScore:    score,
				RiskLevel:     broadcaster.RiskLevel(score),
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "set fraud score")
	}

	s.publisher.PublishFraudScore(txn, score)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"transaction_id": id.String(),
		"fraud_score":    score,
	}), "ledger.fraud_score_updated")
	return txn, nil
}

func (s *service) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus, actor audit.Actor, details map[string]any) (*models.Transaction, error) {
	var txn *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		txn, err = s.UpdateStatusTx(ctx, tx, id, status, actor, details)
		return err
	})
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "update transaction status")
	}
	s.publisher.PublishTransaction(txn, statusEventType(status), "transaction "+string(status))
	return txn, nil
}

func (s *service) UpdateStatusTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.TransactionStatus, actor audit.Actor, details map[string]any) (*models.Transaction, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction status")
	}
	repo := s.repo.WithTx(tx)
	txn, err := repo.GetForUpdate(ctx, id)
	if err != nil {
		return nil, mapLoadError(err)
	}
	from := txn.Status
	if !from.CanTransitionTo(status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invalid transaction status transition").
			WithDetails(map[string]any{"from": from, "to": status})
	}

	var settledAt *time.Time
	if status == enums.TransactionStatusCompleted {
		now := time.Now().UTC()
		settledAt = &now
		txn.SettledAt = settledAt
	}
	if err := repo.UpdateStatus(ctx, id, status, settledAt); err != nil {
		return nil, err
	}
	if err := s.appendAudit(ctx, repo, id, enums.AuditActionStatusChange,
		map[string]any{"status": from},
		map[string]any{"status": status},
		details, actor); err != nil {
		return nil, err
	}
	txn.Status = status

	if eventType, ok := statusOutboxEvent(status); ok {
		if err := s.outbox.Emit(ctx, tx, transactionEvent(eventType, txn, actor.Ref(s.serviceID))); err != nil {
			return nil, err
		}
	}
	return txn, nil
}

func (s *service) GetForUpdateTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.WithTx(tx).GetForUpdate(ctx, id)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return txn, nil
}

func transactionEvent(eventType enums.OutboxEventType, txn *models.Transaction, actor *outbox.ActorRef) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID.String(),
		Actor:         actor,
		Data: payloads.TransactionEvent{
			TransactionID: txn.ID,
			FromWallet:    txn.FromWallet,
			ToWallet:      txn.ToWallet,
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			Status:        txn.Status,
			OccurredAt:    time.Now().UTC(),
		},
	}
}

func statusOutboxEvent(status enums.TransactionStatus) (enums.OutboxEventType, bool) {
	switch status {
	case enums.TransactionStatusCompleted:
		return enums.EventTransactionCompleted, true
	case enums.TransactionStatusFailed:
		return enums.EventTransactionFailed, true
	case enums.TransactionStatusReversed:
		return enums.EventTransactionReversed, true
	default:
		return "", false
	}
}

func statusEventType(status enums.TransactionStatus) broadcaster.EventType {
	switch status {
	case enums.TransactionStatusFailed:
		return broadcaster.EventTransactionFailed
	case enums.TransactionStatusReversed:
		return broadcaster.EventTransactionReversed
	default:
		return broadcaster.EventTransactionCompleted
	}
}

func mapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return pkgerrors.FromStorage(err, "load transaction")
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
