package tokens

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/internal/audit"
	"github.com/echopay/echopay-backend/pkg/db"
	"github.com/echopay/echopay-backend/pkg/db/dbtest"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/outbox"
)

var admin = audit.Actor{UserID: "admin-1", Role: enums.ActorRoleAdmin}

type fixture struct {
	client *db.Client
	svc    Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.New(t)
	svc, err := NewService(
		NewRepository(client.DB()),
		client,
		outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop()),
		audit.NewSigner("test-key"),
		"echopay-test",
		logger.Nop(),
	)
	require.NoError(t, err)
	return fixture{client: client, svc: svc}
}

func issueRequest(owner string, quantity int, denomination string) IssueRequest {
	return IssueRequest{
		Owner:        owner,
		CBDCType:     enums.CurrencyUSDCBDC,
		Denomination: decimal.RequireFromString(denomination),
		Quantity:     quantity,
		Metadata:     models.TokenMetadata{Issuer: "central-bank", Series: "2026-A"},
		Actor:        admin,
	}
}

func TestIssueBatchCreatesActiveTokensWithAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.IssueBatch(ctx, issueRequest("wallet-a", 3, "10.00"))
	require.NoError(t, err)
	require.Len(t, res.Tokens, 3)
	for _, tok := range res.Tokens {
		assert.Equal(t, enums.TokenStatusActive, tok.Status)
		assert.Equal(t, "wallet-a", tok.CurrentOwner)
		require.NotNil(t, tok.BatchID)
		assert.Equal(t, res.BatchID, *tok.BatchID)
	}

	trail, err := f.svc.AuditTrail(ctx, res.Tokens[0].ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, enums.AuditActionIssued, trail[0].Operation)
	assert.Equal(t, 1, trail[0].Sequence)
}

func TestIssueValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]IssueRequest{
		"zero quantity":     issueRequest("wallet-a", 0, "1.00"),
		"too many":          issueRequest("wallet-a", MaxBatchSize+1, "1.00"),
		"bad denomination":  issueRequest("wallet-a", 1, "0.001"),
		"missing owner":     issueRequest("", 1, "1.00"),
		"negative":          issueRequest("wallet-a", 1, "-5"),
		"missing issuer":    func() IssueRequest { r := issueRequest("wallet-a", 1, "1.00"); r.Metadata.Issuer = ""; return r }(),
		"unknown cbdc type": func() IssueRequest { r := issueRequest("wallet-a", 1, "1.00"); r.CBDCType = "JPY"; return r }(),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.IssueBatch(ctx, req)
			require.Error(t, err)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
		})
	}
}

func TestTransferRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.svc.Issue(ctx, issueRequest("wallet-a", 1, "5.00"))
	require.NoError(t, err)

	_, err = f.svc.Transfer(ctx, TransferRequest{TokenID: tok.ID, NewOwner: "wallet-a", Actor: admin})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	ref := uuid.New()
	moved, err := f.svc.Transfer(ctx, TransferRequest{TokenID: tok.ID, NewOwner: "wallet-b", TransactionID: ref, Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, "wallet-b", moved.CurrentOwner)
	assert.Equal(t, []string{ref.String()}, moved.TransactionHistory)

	owned, err := f.svc.VerifyOwnership(ctx, tok.ID, "wallet-b")
	require.NoError(t, err)
	assert.True(t, owned)

	_, err = f.svc.Freeze(ctx, tok.ID, "investigation", admin)
	require.NoError(t, err)
	_, err = f.svc.Transfer(ctx, TransferRequest{TokenID: tok.ID, NewOwner: "wallet-c", Actor: admin})
	assert.Equal(t, pkgerrors.CodeTokenFrozen, pkgerrors.CodeOf(err))

	_, err = f.svc.Transfer(ctx, TransferRequest{TokenID: uuid.New(), NewOwner: "wallet-c", Actor: admin})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestFreezeUnfreezeDestroyTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.svc.Issue(ctx, issueRequest("wallet-a", 1, "5.00"))
	require.NoError(t, err)

	_, err = f.svc.Unfreeze(ctx, tok.ID, "", admin)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))

	_, err = f.svc.Freeze(ctx, tok.ID, "review", admin)
	require.NoError(t, err)
	_, err = f.svc.Freeze(ctx, tok.ID, "review", admin)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))

	got, err := f.svc.Unfreeze(ctx, tok.ID, "cleared", admin)
	require.NoError(t, err)
	assert.Equal(t, enums.TokenStatusActive, got.Status)

	got, err = f.svc.Destroy(ctx, tok.ID, "retired", admin)
	require.NoError(t, err)
	assert.Equal(t, enums.TokenStatusInvalid, got.Status)

	_, err = f.svc.Destroy(ctx, tok.ID, "retired", admin)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	_, err = f.svc.Freeze(ctx, tok.ID, "late", admin)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	trail, err := f.svc.AuditTrail(ctx, tok.ID)
	require.NoError(t, err)
	require.Len(t, trail, 4)
	assert.Equal(t, enums.AuditActionDestroyed, trail[3].Operation)
}

func TestBulkFreezeIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.IssueBatch(ctx, issueRequest("wallet-a", 3, "1.00"))
	require.NoError(t, err)
	ids := res.TokenIDs()

	_, err = f.svc.Freeze(ctx, ids[2], "already", admin)
	require.NoError(t, err)

	_, err = f.svc.BulkFreeze(ctx, ids, "sweep", admin)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))

	active, err := f.svc.ListByStatus(ctx, enums.TokenStatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	out, err := f.svc.BulkFreeze(ctx, ids[:2], "sweep", admin)
	require.NoError(t, err)
	assert.Equal(t, 2, out.UpdatedCount)

	trail, err := f.svc.AuditTrail(ctx, ids[0])
	require.NoError(t, err)
	last := trail[len(trail)-1]
	assert.Equal(t, enums.AuditActionBulkStatusUpdate, last.Operation)
	assert.Equal(t, true, last.Metadata["bulk_operation"])
	assert.Equal(t, out.BatchID.String(), last.Metadata["batch_id"])
}

func TestBulkUpdateValidatesIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := f.svc.BulkUpdateStatus(ctx, BulkStatusRequest{Status: enums.TokenStatusFrozen})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = f.svc.BulkUpdateStatus(ctx, BulkStatusRequest{TokenIDs: []uuid.UUID{id, id}, Status: enums.TokenStatusFrozen})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = f.svc.BulkUpdateStatus(ctx, BulkStatusRequest{TokenIDs: []uuid.UUID{uuid.Nil}, Status: enums.TokenStatusFrozen})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = f.svc.BulkUpdateStatus(ctx, BulkStatusRequest{TokenIDs: []uuid.UUID{id}, Status: enums.TokenStatusFrozen})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestSettleTransferAndDisputeLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.IssueBatch(ctx, issueRequest("wallet-a", 2, "25.00"))
	require.NoError(t, err)
	txnID := uuid.New()

	err = f.client.WithTx(ctx, func(tx *gorm.DB) error {
		return f.svc.SettleTransfer(ctx, tx, SettleRequest{
			TransactionID: txnID,
			FromWallet:    "wallet-a",
			ToWallet:      "wallet-b",
			Currency:      enums.CurrencyUSDCBDC,
			Amount:        decimal.RequireFromString("49.00"),
			TokenIDs:      res.TokenIDs(),
			Actor:         admin,
		})
	})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	err = f.client.WithTx(ctx, func(tx *gorm.DB) error {
		return f.svc.SettleTransfer(ctx, tx, SettleRequest{
			TransactionID: txnID,
			FromWallet:    "wallet-a",
			ToWallet:      "wallet-b",
			Currency:      enums.CurrencyUSDCBDC,
			Amount:        decimal.RequireFromString("50.00"),
			TokenIDs:      res.TokenIDs(),
			Actor:         admin,
		})
	})
	require.NoError(t, err)

	linked, err := f.svc.ListByTransaction(ctx, txnID)
	require.NoError(t, err)
	require.Len(t, linked, 2)
	assert.Equal(t, "wallet-b", linked[0].CurrentOwner)

	caseID := uuid.New()
	var disputed []uuid.UUID
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		disputed, err = f.svc.DisputeForCaseTx(ctx, tx, txnID, caseID, "fraud report", audit.System)
		return err
	}))
	assert.Len(t, disputed, 2)
	held, err := f.svc.Get(ctx, disputed[0])
	require.NoError(t, err)
	require.NotNil(t, held.DisputeCaseID)
	assert.Equal(t, caseID, *held.DisputeCaseID)

	byStatus, err := f.svc.ListByStatus(ctx, enums.TokenStatusDisputed)
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	var invalidated []uuid.UUID
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		invalidated, err = f.svc.InvalidateForCaseTx(ctx, tx, caseID, "reversed", audit.System)
		return err
	}))
	assert.ElementsMatch(t, disputed, invalidated)
	retired, err := f.svc.Get(ctx, disputed[0])
	require.NoError(t, err)
	assert.Nil(t, retired.DisputeCaseID)

	trail, err := f.svc.AuditTrail(ctx, disputed[0])
	require.NoError(t, err)
	assert.Equal(t, enums.AuditActionReversed, trail[len(trail)-1].Operation)
}

func TestReleaseReturnsDisputedTokensToActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.svc.Issue(ctx, issueRequest("wallet-a", 1, "3.00"))
	require.NoError(t, err)
	txnID := uuid.New()
	_, err = f.svc.Transfer(ctx, TransferRequest{TokenID: tok.ID, NewOwner: "wallet-b", TransactionID: txnID, Actor: admin})
	require.NoError(t, err)

	caseID := uuid.New()
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.svc.DisputeForCaseTx(ctx, tx, txnID, caseID, "report", audit.System)
		return err
	}))
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		released, err := f.svc.ReleaseForCaseTx(ctx, tx, caseID, "denied", audit.System)
		assert.Len(t, released, 1)
		return err
	}))

	got, err := f.svc.Get(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TokenStatusActive, got.Status)
	assert.Nil(t, got.DisputeCaseID)
}

func TestDisputeRejectsTokenHeldByAnotherCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.svc.Issue(ctx, issueRequest("wallet-a", 1, "40.00"))
	require.NoError(t, err)
	first, second := uuid.New(), uuid.New()
	_, err = f.svc.Transfer(ctx, TransferRequest{TokenID: tok.ID, NewOwner: "wallet-b", TransactionID: first, Actor: admin})
	require.NoError(t, err)
	_, err = f.svc.Transfer(ctx, TransferRequest{TokenID: tok.ID, NewOwner: "wallet-c", TransactionID: second, Actor: admin})
	require.NoError(t, err)

	firstCase, secondCase := uuid.New(), uuid.New()
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.svc.DisputeForCaseTx(ctx, tx, first, firstCase, "report", audit.System)
		return err
	}))

	err = f.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.svc.DisputeForCaseTx(ctx, tx, second, secondCase, "report", audit.System)
		return err
	})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	// another case cannot release or retire a token it does not hold
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		released, err := f.svc.ReleaseForCaseTx(ctx, tx, secondCase, "denied", audit.System)
		assert.Empty(t, released)
		return err
	}))
	got, err := f.svc.Get(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TokenStatusDisputed, got.Status)
	require.NotNil(t, got.DisputeCaseID)
	assert.Equal(t, firstCase, *got.DisputeCaseID)
}

func TestAuditTrailDetectsTampering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tok, err := f.svc.Issue(ctx, issueRequest("wallet-a", 1, "3.00"))
	require.NoError(t, err)
	_, err = f.svc.Freeze(ctx, tok.ID, "review", admin)
	require.NoError(t, err)

	require.NoError(t, f.client.DB().Model(&models.TokenAuditEntry{}).
		Where("token_id = ? AND sequence = 1", tok.ID).
		Update("new_owner", "attacker").Error)

	_, err = f.svc.AuditTrail(ctx, tok.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeIntegrity, pkgerrors.CodeOf(err))
}
