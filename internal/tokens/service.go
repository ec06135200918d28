package tokens

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
	"github.com/echopay/echopay-backend/internal/wallets"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/outbox"
	"github.com/echopay/echopay-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service manages the token lifecycle. Methods ending in Tx join the caller's transaction.
type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*models.Token, error)
	IssueBatch(ctx context.Context, req IssueRequest) (*IssueResult, error)
	Transfer(ctx context.Context, req TransferRequest) (*models.Token, error)
	Freeze(ctx context.Context, tokenID uuid.UUID, reason string, actor audit.Actor) (*models.Token, error)
	Unfreeze(ctx context.Context, tokenID uuid.UUID, reason string, actor audit.Actor) (*models.Token, error)
	Destroy(ctx context.Context, tokenID uuid.UUID, reason string, actor audit.Actor) (*models.Token, error)
	BulkUpdateStatus(ctx context.Context, req BulkStatusRequest) (*BulkStatusResult, error)
	BulkFreeze(ctx context.Context, ids []uuid.UUID, reason string, actor audit.Actor) (*BulkStatusResult, error)
	BulkUnfreeze(ctx context.Context, ids []uuid.UUID, reason string, actor audit.Actor) (*BulkStatusResult, error)

	Get(ctx context.Context, tokenID uuid.UUID) (*models.Token, error)
	ListByOwner(ctx context.Context, owner string) ([]models.Token, error)
	ListByStatus(ctx context.Context, status enums.TokenStatus) ([]models.Token, error)
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.Token, error)
	AuditTrail(ctx context.Context, tokenID uuid.UUID) ([]models.TokenAuditEntry, error)
	VerifyOwnership(ctx context.Context, tokenID uuid.UUID, owner string) (bool, error)

	SettleTransfer(ctx context.Context, tx *gorm.DB, req SettleRequest) error
	IssueBatchTx(ctx context.Context, tx *gorm.DB, req IssueRequest) (*IssueResult, error)
	ListByTransactionTx(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID) ([]models.Token, error)
	ListHeldByCaseTx(ctx context.Context, tx *gorm.DB, caseID uuid.UUID) ([]models.Token, error)
	DisputeForCaseTx(ctx context.Context, tx *gorm.DB, transactionID, caseID uuid.UUID, reason string, actor audit.Actor) ([]uuid.UUID, error)
	ReleaseForCaseTx(ctx context.Context, tx *gorm.DB, caseID uuid.UUID, reason string, actor audit.Actor) ([]uuid.UUID, error)
	InvalidateForCaseTx(ctx context.Context, tx *gorm.DB, caseID uuid.UUID, reason string, actor audit.Actor) ([]uuid.UUID, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outbox.Emitter
	signer    *audit.Signer
	serviceID string
	logg      *logger.Logger
}

// NewService wires the token lifecycle manager.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, signer *audit.Signer, serviceID string, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("tokens repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if signer == nil {
		return nil, fmt.Errorf("audit signer required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:      repo,
		tx:        tx,
		outbox:    emitter,
		signer:    signer,
		serviceID: serviceID,
		logg:      logg,
	}, nil
}

func (s *service) Issue(ctx context.Context, req IssueRequest) (*models.Token, error) {
	req.Quantity = 1
	req.Denominations = nil
	res, err := s.IssueBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	return &res.Tokens[0], nil
}

func (s *service) IssueBatch(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	var res *IssueResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		res, err = s.IssueBatchTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"batch_id": res.BatchID.String(),
		"count":    len(res.Tokens),
		"owner":    req.Owner,
	}), "tokens.issued")
	return res, nil
}

func (s *service) IssueBatchTx(ctx context.Context, tx *gorm.DB, req IssueRequest) (*IssueResult, error) {
	denominations, err := validateIssue(req)
	if err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)

	batchID := uuid.New()
	now := time.Now().UTC()
	rows := make([]*models.Token, 0, len(denominations))
	for _, d := range denominations {
		rows = append(rows, &models.Token{
			ID:                 uuid.New(),
			CBDCType:           req.CBDCType,
			Denomination:       d,
			CurrentOwner:       req.Owner,
			Status:             enums.TokenStatusActive,
			BatchID:            &batchID,
			IssuedAt:           now,
			TransactionHistory: []string{},
			Metadata:           req.Metadata,
			ComplianceFlags:    req.ComplianceFlags,
			UpdatedAt:          now,
		})
	}
	if err := repo.Create(ctx, rows); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create tokens")
	}

	res := &IssueResult{BatchID: batchID, Tokens: make([]models.Token, 0, len(rows))}
	for _, row := range rows {
		meta := map[string]any{
			"batch_id": batchID.String(),
			"issuer":   req.Metadata.Issuer,
			"series":   req.Metadata.Series,
		}
		if req.Metadata.ReversalID != "" {
			meta["reversal_id"] = req.Metadata.ReversalID
		}
		if err := s.appendAudit(ctx, repo, row.ID, req.Actor, auditChange{
			Operation: enums.AuditActionIssued,
			NewStatus: ptr(enums.TokenStatusActive),
			NewOwner:  ptr(req.Owner),
			Metadata:  meta,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append issuance audit")
		}
		res.Tokens = append(res.Tokens, *row)
	}

	if err := s.emitStatusChange(ctx, tx, res.TokenIDs(), "", enums.TokenStatusActive, "issued", &batchID, req.Actor); err != nil {
		return nil, err
	}
	return res, nil
}

func validateIssue(req IssueRequest) ([]decimal.Decimal, error) {
	if strings.TrimSpace(req.Owner) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner is required")
	}
	if !req.CBDCType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid CBDC type: %s", req.CBDCType))
	}
	if strings.TrimSpace(req.Metadata.Issuer) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "issuer is required")
	}
	if strings.TrimSpace(req.Metadata.Series) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "series is required")
	}

	denominations := req.Denominations
	if len(denominations) == 0 {
		if req.Quantity < 1 || req.Quantity > MaxBatchSize {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be between 1 and %d", MaxBatchSize))
		}
		denominations = make([]decimal.Decimal, req.Quantity)
		for i := range denominations {
			denominations[i] = req.Denomination
		}
	}
	if len(denominations) > MaxBatchSize {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be between 1 and %d", MaxBatchSize))
	}
	for _, d := range denominations {
		if err := wallets.ValidateAmount(d, decimal.Zero); err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "denomination must be at least 0.01 with two decimal places")
		}
	}
	return denominations, nil
}

func (s *service) Transfer(ctx context.Context, req TransferRequest) (*models.Token, error) {
	if req.TokenID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token id required")
	}
	newOwner := strings.TrimSpace(req.NewOwner)
	if newOwner == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "new owner is required")
	}
	reference := req.TransactionID
	if reference == uuid.Nil {
		reference = uuid.New()
	}

	var out *models.Token
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		token, err := loadForUpdate(ctx, repo, req.TokenID)
		if err != nil {
			return err
		}
		if err := s.moveOwner(ctx, repo, token, newOwner, reference, req.Actor); err != nil {
			return err
		}
		out = token
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) moveOwner(ctx context.Context, repo Repository, token *models.Token, newOwner string, reference uuid.UUID, actor audit.Actor) error {
	if !token.Status.IsTransferable() {
		return pkgerrors.New(pkgerrors.CodeTokenFrozen, fmt.Sprintf("token in status %s cannot be transferred", token.Status)).
			WithDetails(map[string]any{"token_id": token.ID.String(), "status": token.Status})
	}
	if token.CurrentOwner == newOwner {
		return pkgerrors.New(pkgerrors.CodeValidation, "new owner must be different from current owner")
	}

	oldOwner := token.CurrentOwner
	token.CurrentOwner = newOwner
	token.TransactionHistory = append(token.TransactionHistory, reference.String())
	if err := repo.Save(ctx, token); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update token owner")
	}
	return s.appendAudit(ctx, repo, token.ID, actor, auditChange{
		Operation: enums.AuditActionOwnership,
		OldOwner:  ptr(oldOwner),
		NewOwner:  ptr(newOwner),
		Metadata:  map[string]any{"transaction_id": reference.String()},
	})
}

func (s *service) Freeze(ctx context.Context, tokenID uuid.UUID, reason string, actor audit.Actor) (*models.Token, error) {
	return s.changeOne(ctx, tokenID, enums.TokenStatusFrozen, enums.AuditActionStatusChange, reason, actor)
}

func (s *service) Unfreeze(ctx context.Context, tokenID uuid.UUID, reason string, actor audit.Actor) (*models.Token, error) {
	return s.changeOne(ctx, tokenID, enums.TokenStatusActive, enums.AuditActionStatusChange, reason, actor)
}

func (s *service) Destroy(ctx context.Context, tokenID uuid.UUID, reason string, actor audit.Actor) (*models.Token, error) {
	return s.changeOne(ctx, tokenID, enums.TokenStatusInvalid, enums.AuditActionDestroyed, reason, actor)
}

func (s *service) changeOne(ctx context.Context, tokenID uuid.UUID, to enums.TokenStatus, op enums.AuditAction, reason string, actor audit.Actor) (*models.Token, error) {
	if tokenID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token id required")
	}
	var out *models.Token
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		token, err := loadForUpdate(ctx, repo, tokenID)
		if err != nil {
			return err
		}
		from := token.Status
		if err := checkSingleTransition(token, to, op); err != nil {
			return err
		}
		if err := s.setStatus(ctx, repo, token, to, op, actor, map[string]any{"reason": reason}); err != nil {
			return err
		}
		out = token
		return s.emitStatusChange(ctx, tx, []uuid.UUID{token.ID}, from, to, reason, nil, actor)
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(s.logg.WithTokenID(ctx, tokenID.String()), map[string]any{
		"status": to,
		"reason": reason,
	}), "tokens.status_changed")
	return out, nil
}

// checkSingleTransition applies the per-operation guards of freeze, unfreeze and destroy.
func checkSingleTransition(token *models.Token, to enums.TokenStatus, op enums.AuditAction) error {
	if token.Status == to {
		return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("token is already %s", to))
	}
	if op == enums.AuditActionDestroyed {
		return nil
	}
	if to == enums.TokenStatusActive && token.Status != enums.TokenStatusFrozen {
		return invalidTransition(token, to)
	}
	if !token.Status.CanTransitionTo(to) {
		return invalidTransition(token, to)
	}
	return nil
}

func invalidTransition(token *models.Token, to enums.TokenStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move token from %s to %s", token.Status, to)).
		WithDetails(map[string]any{
			"token_id": token.ID.String(),
			"from":     token.Status,
			"to":       to,
		})
}

func (s *service) setStatus(ctx context.Context, repo Repository, token *models.Token, to enums.TokenStatus, op enums.AuditAction, actor audit.Actor, meta map[string]any) error {
	from := token.Status
	token.Status = to
	if to != enums.TokenStatusDisputed {
		token.DisputeCaseID = nil
	}
	if err := repo.Save(ctx, token); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update token status")
	}
	return s.appendAudit(ctx, repo, token.ID, actor, auditChange{
		Operation: op,
		OldStatus: &from,
		NewStatus: &to,
		Metadata:  meta,
	})
}

func (s *service) BulkFreeze(ctx context.Context, ids []uuid.UUID, reason string, actor audit.Actor) (*BulkStatusResult, error) {
	return s.BulkUpdateStatus(ctx, BulkStatusRequest{TokenIDs: ids, Status: enums.TokenStatusFrozen, Reason: reason, Actor: actor})
}

func (s *service) BulkUnfreeze(ctx context.Context, ids []uuid.UUID, reason string, actor audit.Actor) (*BulkStatusResult, error) {
	return s.BulkUpdateStatus(ctx, BulkStatusRequest{TokenIDs: ids, Status: enums.TokenStatusActive, Reason: reason, Actor: actor})
}

func (s *service) BulkUpdateStatus(ctx context.Context, req BulkStatusRequest) (*BulkStatusResult, error) {
	ids, err := validateBulkIDs(req.TokenIDs)
	if err != nil {
		return nil, err
	}
	if !req.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid token status %q", req.Status))
	}

	batchID := uuid.New()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.GetManyForUpdate(ctx, ids)
		if err != nil {
			return pkgerrors.FromStorage(err, "lock tokens")
		}
		if len(rows) != len(ids) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "one or more tokens not found").
				WithDetails(map[string]any{"requested": len(ids), "found": len(rows)})
		}
		for i := range rows {
			token := &rows[i]
			if token.Status == req.Status {
				return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("token %s is already %s", token.ID, req.Status))
			}
			if token.Status == enums.TokenStatusInvalid {
				return invalidTransition(token, req.Status)
			}
			if req.Status != enums.TokenStatusInvalid && !token.Status.CanTransitionTo(req.Status) {
				return invalidTransition(token, req.Status)
			}
		}
		for i := range rows {
			meta := map[string]any{
				"bulk_operation": true,
				"token_count":    len(ids),
				"batch_id":       batchID.String(),
				"reason":         req.Reason,
			}
			if err := s.setStatus(ctx, repo, &rows[i], req.Status, enums.AuditActionBulkStatusUpdate, req.Actor, meta); err != nil {
				return err
			}
		}
		return s.emitStatusChange(ctx, tx, ids, "", req.Status, req.Reason, &batchID, req.Actor)
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"batch_id": batchID.String(),
		"count":    len(ids),
		"status":   req.Status,
	}), "tokens.bulk_status_updated")
	return &BulkStatusResult{
		BatchID:      batchID,
		UpdatedCount: len(ids),
		NewStatus:    req.Status,
		Reason:       req.Reason,
	}, nil
}

func validateBulkIDs(ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token ids list cannot be empty")
	}
	if len(ids) > MaxBulkSize {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("cannot update more than %d tokens at once", MaxBulkSize))
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "token id required")
		}
		if _, dup := seen[id]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duplicate token id %s", id))
		}
		seen[id] = struct{}{}
	}
	return ids, nil
}

func (s *service) Get(ctx context.Context, tokenID uuid.UUID) (*models.Token, error) {
	if tokenID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token id required")
	}
	token, err := s.repo.Get(ctx, tokenID)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return token, nil
}

func (s *service) ListByOwner(ctx context.Context, owner string) ([]models.Token, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner required")
	}
	rows, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list tokens by owner")
	}
	return rows, nil
}

func (s *service) ListByStatus(ctx context.Context, status enums.TokenStatus) ([]models.Token, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid token status %q", status))
	}
	rows, err := s.repo.ListByStatus(ctx, status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list tokens by status")
	}
	return rows, nil
}

func (s *service) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.Token, error) {
	if transactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	rows, err := s.repo.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list tokens by transaction")
	}
	return rows, nil
}

func (s *service) AuditTrail(ctx context.Context, tokenID uuid.UUID) ([]models.TokenAuditEntry, error) {
	if _, err := s.Get(ctx, tokenID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListAudit(ctx, tokenID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load token audit trail")
	}
	entries := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toAuditEntry(row))
	}
	if err := s.signer.VerifyIntegrity(entries); err != nil {
		s.logg.Error(s.logg.WithTokenID(ctx, tokenID.String()), "tokens.audit_integrity_failed", err)
		return nil, err
	}
	return rows, nil
}

func (s *service) VerifyOwnership(ctx context.Context, tokenID uuid.UUID, owner string) (bool, error) {
	token, err := s.Get(ctx, tokenID)
	if err != nil {
		return false, err
	}
	return token.CurrentOwner == owner, nil
}

// SettleTransfer moves the listed tokens from the payer to the payee. Their denominations
// must add up to the transaction amount.
func (s *service) SettleTransfer(ctx context.Context, tx *gorm.DB, req SettleRequest) error {
	if len(req.TokenIDs) == 0 {
		return nil
	}
	ids, err := validateBulkIDs(req.TokenIDs)
	if err != nil {
		return err
	}
	repo := s.repo.WithTx(tx)
	rows, err := repo.GetManyForUpdate(ctx, ids)
	if err != nil {
		return pkgerrors.FromStorage(err, "lock tokens")
	}
	if len(rows) != len(ids) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "one or more tokens not found")
	}

	total := decimal.Zero
	for i := range rows {
		token := &rows[i]
		if token.CurrentOwner != req.FromWallet {
			return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("token %s is not owned by the sending wallet", token.ID))
		}
		if token.CBDCType != req.Currency {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("token %s is %s, not %s", token.ID, token.CBDCType, req.Currency))
		}
		total = total.Add(token.Denomination)
	}
	if !total.Equal(req.Amount) {
		return pkgerrors.New(pkgerrors.CodeValidation, "token denominations do not match transaction amount").
			WithDetails(map[string]any{"tokens_total": total.String(), "amount": req.Amount.String()})
	}
	for i := range rows {
		if err := s.moveOwner(ctx, repo, &rows[i], req.ToWallet, req.TransactionID, req.Actor); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) ListByTransactionTx(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID) ([]models.Token, error) {
	rows, err := s.repo.WithTx(tx).ListByTransactionForUpdate(ctx, transactionID)
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "lock transaction tokens")
	}
	return rows, nil
}

// DisputeForCaseTx walks every token the transaction touched through frozen to disputed and records
// caseID as the holder. A token already disputed for another case rejects the whole dispute;
// invalid tokens are skipped.
func (s *service) DisputeForCaseTx(ctx context.Context, tx *gorm.DB, transactionID, caseID uuid.UUID, reason string, actor audit.Actor) ([]uuid.UUID, error) {
	repo := s.repo.WithTx(tx)
	rows, err := repo.ListByTransactionForUpdate(ctx, transactionID)
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "lock transaction tokens")
	}
	for i := range rows {
		token := &rows[i]
		if token.Status != enums.TokenStatusDisputed {
			continue
		}
		if token.DisputeCaseID == nil || *token.DisputeCaseID != caseID {
			details := map[string]any{"token_id": token.ID.String()}
			if token.DisputeCaseID != nil {
				details["held_by_case"] = token.DisputeCaseID.String()
			}
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "token is already under dispute").WithDetails(details)
		}
	}

	meta := map[string]any{"reason": reason, "transaction_id": transactionID.String(), "case_id": caseID.String()}
	var changed []uuid.UUID
	for i := range rows {
		token := &rows[i]
		if token.Status == enums.TokenStatusActive {
			if err := s.setStatus(ctx, repo, token, enums.TokenStatusFrozen, enums.AuditActionStatusChange, actor, meta); err != nil {
				return nil, err
			}
		}
		if token.Status != enums.TokenStatusFrozen {
			continue
		}
		token.DisputeCaseID = &caseID
		if err := s.setStatus(ctx, repo, token, enums.TokenStatusDisputed, enums.AuditActionStatusChange, actor, meta); err != nil {
			return nil, err
		}
		changed = append(changed, token.ID)
	}
	if len(changed) > 0 {
		if err := s.emitStatusChange(ctx, tx, changed, "", enums.TokenStatusDisputed, reason, nil, actor); err != nil {
			return nil, err
		}
	}
	return changed, nil
}

func (s *service) ListHeldByCaseTx(ctx context.Context, tx *gorm.DB, caseID uuid.UUID) ([]models.Token, error) {
	rows, err := s.repo.WithTx(tx).ListHeldByCaseForUpdate(ctx, caseID)
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "lock case tokens")
	}
	return rows, nil
}

// ReleaseForCaseTx returns the tokens caseID holds to active.
func (s *service) ReleaseForCaseTx(ctx context.Context, tx *gorm.DB, caseID uuid.UUID, reason string, actor audit.Actor) ([]uuid.UUID, error) {
	return s.moveHeld(ctx, tx, caseID, enums.TokenStatusActive, enums.AuditActionStatusChange, reason, actor)
}

// InvalidateForCaseTx retires the tokens caseID holds.
func (s *service) InvalidateForCaseTx(ctx context.Context, tx *gorm.DB, caseID uuid.UUID, reason string, actor audit.Actor) ([]uuid.UUID, error) {
	return s.moveHeld(ctx, tx, caseID, enums.TokenStatusInvalid, enums.AuditActionReversed, reason, actor)
}

func (s *service) moveHeld(ctx context.Context, tx *gorm.DB, caseID uuid.UUID, to enums.TokenStatus, op enums.AuditAction, reason string, actor audit.Actor) ([]uuid.UUID, error) {
	repo := s.repo.WithTx(tx)
	rows, err := repo.ListHeldByCaseForUpdate(ctx, caseID)
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "lock case tokens")
	}
	meta := map[string]any{"reason": reason, "case_id": caseID.String()}
	changed := make([]uuid.UUID, 0, len(rows))
	for i := range rows {
		if err := s.setStatus(ctx, repo, &rows[i], to, op, actor, meta); err != nil {
			return nil, err
		}
		changed = append(changed, rows[i].ID)
	}
	if len(changed) > 0 {
		if err := s.emitStatusChange(ctx, tx, changed, enums.TokenStatusDisputed, to, reason, nil, actor); err != nil {
			return nil, err
		}
	}
	return changed, nil
}

func (s *service) emitStatusChange(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, from, to enums.TokenStatus, reason string, batchID *uuid.UUID, actor audit.Actor) error {
	aggregateID := ids[0].String()
	if batchID != nil {
		aggregateID = batchID.String()
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventTokensStatusChanged,
		AggregateType: enums.AggregateToken,
		AggregateID:   aggregateID,
		Actor:         actor.Ref(s.serviceID),
		Data: payloads.TokensStatusChangedEvent{
			TokenIDs:   ids,
			FromStatus: from,
			ToStatus:   to,
			Reason:     reason,
			BatchID:    batchID,
		},
	})
}

func loadForUpdate(ctx context.Context, repo Repository, id uuid.UUID) (*models.Token, error) {
	token, err := repo.GetForUpdate(ctx, id)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return token, nil
}

func mapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "token not found")
	}
	return pkgerrors.FromStorage(err, "load token")
}
