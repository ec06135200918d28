package wallets

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/echopay/echopay-backend/internal/repo"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
)

// Repository persists wallet balances.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, walletID string, currency enums.Currency) (*models.WalletBalance, error)
	GetForUpdate(ctx context.Context, walletID string, currency enums.Currency) (*models.WalletBalance, error)
	Update(ctx context.Context, walletID string, currency enums.Currency, balance decimal.Decimal) error
	ListByWallet(ctx context.Context, walletID string) ([]models.WalletBalance, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

// Get returns the stored balance, or an unsaved zero row when the wallet has never held the currency.
func (r *repository) Get(ctx context.Context, walletID string, currency enums.Currency) (*models.WalletBalance, error) {
	var row models.WalletBalance
	err := r.DB(ctx).Where("wallet_id = ? AND currency = ?", walletID, currency).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.WalletBalance{WalletID: walletID, Currency: currency, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetForUpdate creates a zero row if needed and returns it locked for the surrounding tx.
func (r *repository) GetForUpdate(ctx context.Context, walletID string, currency enums.Currency) (*models.WalletBalance, error) {
	seed := models.WalletBalance{
		WalletID:  walletID,
		Currency:  currency,
		Balance:   decimal.Zero,
		UpdatedAt: time.Now().UTC(),
	}
	if err := r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}
	var row models.WalletBalance
	if err := repo.ForUpdate(r.DB(ctx)).
		Where("wallet_id = ? AND currency = ?", walletID, currency).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) Update(ctx context.Context, walletID string, currency enums.Currency, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "balance cannot go negative").
			WithDetails(map[string]any{"wallet_id": walletID, "currency": currency})
	}
	res := r.DB(ctx).Model(&models.WalletBalance{}).
		Where("wallet_id = ? AND currency = ?", walletID, currency).
		Updates(map[string]any{
			"balance":    balance,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "wallet balance not found")
	}
	return nil
}

func (r *repository) ListByWallet(ctx context.Context, walletID string) ([]models.WalletBalance, error) {
	var rows []models.WalletBalance
	err := r.DB(ctx).
		Where("wallet_id = ?", walletID).
		Order("currency ASC").
		Find(&rows).Error
	return rows, err
}
