package ledger

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
)

// GetTransaction loads a transaction with its verified audit trail.
func (s *service) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, mapLoadError(err)
	}
	trail, err := s.GetAuditTrail(ctx, id)
	if err != nil {
		return nil, err
	}
	txn.AuditTrail = trail
	return txn, nil
}

func (s *service) GetByWallet(ctx context.Context, walletID string, limit, offset int) ([]models.Transaction, error) {
	walletID = strings.TrimSpace(walletID)
	if walletID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id required")
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.repo.ListByWallet(ctx, walletID, clampLimit(limit), offset)
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "list wallet transactions")
	}
	return s.attachTrails(ctx, rows)
}

func (s *service) GetPending(ctx context.Context, limit int) ([]models.Transaction, error) {
	rows, err := s.repo.ListPending(ctx, clampLimit(limit))
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "list pending transactions")
	}
	return s.attachTrails(ctx, rows)
}

func (s *service) GetAuditTrail(ctx context.Context, id uuid.UUID) ([]models.TransactionAudit, error) {
	rows, err := s.repo.ListAudit(ctx, id)
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "load audit trail")
	}
	if err := s.verifyTrail(rows); err != nil {
		s.logg.Error(s.logg.WithTransactionID(ctx, id.String()), "ledger.audit_integrity_violation", err)
		return nil, err
	}
	return rows, nil
}

func (s *service) attachTrails(ctx context.Context, rows []models.Transaction) ([]models.Transaction, error) {
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	trails, err := s.repo.ListAuditFor(ctx, ids)
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "load audit trails")
	}
	for i := range rows {
		trail := trails[rows[i].ID]
		if err := s.verifyTrail(trail); err != nil {
			s.logg.Error(s.logg.WithTransactionID(ctx, rows[i].ID.String()), "ledger.audit_integrity_violation", err)
			return nil, err
		}
		rows[i].AuditTrail = trail
	}
	return rows, nil
}

func (s *service) GetStats(ctx context.Context) (*Stats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "load ledger stats")
	}
	return stats, nil
}

func (s *service) GetWalletBalances(ctx context.Context, walletID string) ([]models.WalletBalance, error) {
	walletID = strings.TrimSpace(walletID)
	if walletID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id required")
	}
	rows, err := s.wallets.ListByWallet(ctx, walletID)
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "list wallet balances")
	}
	return rows, nil
}

// GetTransactionDetails is the lookup used by fraud reporting.
func (s *service) GetTransactionDetails(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return s.GetTransaction(ctx, id)
}

func (s *service) IsValidForFraudReport(ctx context.Context, id uuid.UUID) (bool, error) {
	txn, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, mapLoadError(err)
	}
	return txn.Status == enums.TransactionStatusCompleted, nil
}

func (s *service) IsEligibleForReversal(ctx context.Context, id uuid.UUID) (bool, error) {
	txn, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, mapLoadError(err)
	}
	// reversed is terminal, so completed alone means no reversal has happened yet
	return txn.Status == enums.TransactionStatusCompleted, nil
}
