package wallets

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

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

// Service exposes balance reads and the admin funding path.
type Service interface {
	AddFunds(ctx context.Context, input AddFundsInput) (*models.WalletBalance, error)
	Balances(ctx context.Context, walletID string) ([]models.WalletBalance, error)
	Balance(ctx context.Context, walletID string, currency enums.Currency) (*models.WalletBalance, error)
}

// AddFundsInput credits a wallet outside of a transfer.
type AddFundsInput struct {
	WalletID string
	Currency enums.Currency
	Amount   decimal.Decimal
	Actor    *outbox.ActorRef
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outbox.Emitter
	locker *Locker
	max    decimal.Decimal
	logg   *logger.Logger
}

// NewService wires the wallet balance service.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, locker *Locker, maxAmount decimal.Decimal, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallets repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if locker == nil {
		return nil, fmt.Errorf("wallet locker required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: emitter,
		locker: locker,
		max:    maxAmount,
		logg:   logg,
	}, nil
}

func (s *service) AddFunds(ctx context.Context, input AddFundsInput) (*models.WalletBalance, error) {
	walletID := strings.TrimSpace(input.WalletID)
	if walletID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id required")
	}
	if !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}
	if err := ValidateAmount(input.Amount, s.max); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, walletID)
	if err != nil {
		return nil, err
	}
	defer release()

	var updated *models.WalletBalance
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		row, err := repo.GetForUpdate(ctx, walletID, input.Currency)
		if err != nil {
			return pkgerrors.FromStorage(err, "lock wallet balance")
		}
		row.Balance = row.Balance.Add(input.Amount)
		if err := repo.Update(ctx, walletID, input.Currency, row.Balance); err != nil {
			return err
		}
		updated = row
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBalanceUpdated,
			AggregateType: enums.AggregateWallet,
			AggregateID:   walletID,
			Actor:         input.Actor,
			Data: payloads.BalanceUpdatedEvent{
				WalletID: walletID,
				Currency: input.Currency,
				Balance:  row.Balance,
				Delta:    input.Amount,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"wallet_id": walletID,
		"currency":  input.Currency,
		"amount":    input.Amount.String(),
	})
	s.logg.Info(ctx, "wallets.funds_added")
	return updated, nil
}

func (s *service) Balances(ctx context.Context, walletID string) ([]models.WalletBalance, error) {
	if strings.TrimSpace(walletID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id required")
	}
	rows, err := s.repo.ListByWallet(ctx, walletID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet balances")
	}
	return rows, nil
}

func (s *service) Balance(ctx context.Context, walletID string, currency enums.Currency) (*models.WalletBalance, error) {
	if strings.TrimSpace(walletID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id required")
	}
	row, err := s.repo.Get(ctx, walletID, currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet balance")
	}
	return row, nil
}

// ValidateAmount requires 0 < amount <= max with at most two decimal places. A zero max disables the ceiling.
func ValidateAmount(amount, max decimal.Decimal) error {
	if !amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if max.IsPositive() && amount.GreaterThan(max) {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount exceeds maximum").
			WithDetails(map[string]any{"max": max.String()})
	}
	if !amount.Equal(amount.Truncate(2)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount supports at most two decimal places")
	}
	return nil
}
