package reversal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/internal/audit"
	"github.com/echopay/echopay-backend/internal/broadcaster"
	"github.com/echopay/echopay-backend/internal/fraudcases"
	"github.com/echopay/echopay-backend/internal/ledger"
	"github.com/echopay/echopay-backend/internal/notifications"
	"github.com/echopay/echopay-backend/internal/tokens"
	"github.com/echopay/echopay-backend/internal/wallets"
	"github.com/echopay/echopay-backend/pkg/db"
	"github.com/echopay/echopay-backend/pkg/db/dbtest"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/metrics"
	"github.com/echopay/echopay-backend/pkg/outbox"
	"github.com/echopay/echopay-backend/pkg/types"
)

// flakyInvalidator fails the invalidation step after the replacement batch was staged.
type flakyInvalidator struct {
	tokens.Service
	fail bool
}

func (f *flakyInvalidator) InvalidateForCaseTx(ctx context.Context, tx *gorm.DB, caseID uuid.UUID, reason string, actor audit.Actor) ([]uuid.UUID, error) {
	if f.fail {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "token store unavailable")
	}
	return f.Service.InvalidateForCaseTx(ctx, tx, caseID, reason, actor)
}

type fixture struct {
	client     *db.Client
	engine     Service
	cases      fraudcases.Service
	ledger     ledger.Service
	wallets    wallets.Service
	tokens     tokens.Service
	invalidate *flakyInvalidator
	outboxRepo *outbox.Repository
	tracker    *Tracker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.New(t)
	outboxRepo := outbox.NewRepository(client.DB())
	emitter := outbox.NewService(outboxRepo, logger.Nop())
	signer := audit.NewSigner("test-key")
	locker := wallets.NewLocker(16)
	walletRepo := wallets.NewRepository(client.DB())
	max := decimal.NewFromInt(1_000_000)
	b := broadcaster.New(broadcaster.Config{BufferSize: 64, DropPolicy: "drop_newest", InactiveAfter: time.Minute}, logger.Nop(), nil)

	walletSvc, err := wallets.NewService(walletRepo, client, emitter, locker, max, logger.Nop())
	require.NoError(t, err)
	tokenSvc, err := tokens.NewService(tokens.NewRepository(client.DB()), client, emitter, signer, "echopay-test", logger.Nop())
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo:      ledger.NewRepository(client.DB()),
		Wallets:   walletRepo,
		Locker:    locker,
		Tokens:    tokenSvc,
		TxRunner:  client,
		Outbox:    emitter,
		Signer:    signer,
		Publisher: b,
		Logger:    logger.Nop(),
		ServiceID: "echopay-test",
		MaxAmount: max,
	})
	require.NoError(t, err)
	notifier, err := notifications.NewService(notifications.NewRepository(client.DB()), client, emitter, logger.Nop())
	require.NoError(t, err)

	caseRepo := fraudcases.NewRepository(client.DB())
	invalidate := &flakyInvalidator{Service: tokenSvc}
	tracker := NewTracker()
	engine, err := NewService(ServiceParams{
		Cases:     caseRepo,
		Ledger:    ledgerSvc,
		Tokens:    invalidate,
		TxRunner:  client,
		Outbox:    emitter,
		Notifier:  notifier,
		Publisher: b,
		Tracker:   tracker,
		Metrics:   metrics.NewReversalMetrics(prometheus.NewRegistry()),
		ServiceID: "echopay-test",
		Logger:    logger.Nop(),
	})
	require.NoError(t, err)

	caseSvc, err := fraudcases.NewService(fraudcases.ServiceParams{
		Repo:         caseRepo,
		TxRunner:     client,
		Outbox:       emitter,
		Transactions: ledgerSvc,
		Tokens:       tokenSvc,
		Reversals:    engine,
		Notifier:     notifier,
		Publisher:    b,
		Thresholds:   fraudcases.DefaultThresholds(),
		ServiceID:    "echopay-test",
		Logger:       logger.Nop(),
	})
	require.NoError(t, err)

	return fixture{
		client:     client,
		engine:     engine,
		cases:      caseSvc,
		ledger:     ledgerSvc,
		wallets:    walletSvc,
		tokens:     tokenSvc,
		invalidate: invalidate,
		outboxRepo: outboxRepo,
		tracker:    tracker,
	}
}

// reportedTransfer settles alice→bob backed by two tokens and opens a case on it.
func (f fixture) reportedTransfer(t *testing.T) (*models.Transaction, *models.FraudCase, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	_, err := f.wallets.AddFunds(ctx, wallets.AddFundsInput{WalletID: "alice", Currency: enums.CurrencyUSDCBDC, Amount: decimal.RequireFromString("500.00")})
	require.NoError(t, err)
	issued, err := f.tokens.IssueBatch(ctx, tokens.IssueRequest{
		Owner:         "alice",
		CBDCType:      enums.CurrencyUSDCBDC,
		Denominations: []decimal.Decimal{decimal.RequireFromString("100.00"), decimal.RequireFromString("20.50")},
		Metadata:      models.TokenMetadata{Issuer: "central-bank", Series: "2026A"},
	})
	require.NoError(t, err)

	txn, err := f.ledger.ProcessTransaction(ctx, ledger.ProcessRequest{
		FromWallet: "alice",
		ToWallet:   "bob",
		Amount:     decimal.RequireFromString("120.50"),
		Currency:   enums.CurrencyUSDCBDC,
		TokenIDs:   issued.TokenIDs(),
		Actor:      audit.Actor{UserID: "alice", Role: enums.ActorRoleUser},
	})
	require.NoError(t, err)
	f.ledger.Wait()

	res, err := f.cases.SubmitFraudReport(ctx, fraudcases.Report{
		TransactionID: txn.ID,
		ReporterID:    "alice",
		Type:          enums.FraudCaseTypeAccountTakeover,
		Description:   "my session was hijacked and this transfer went out",
	})
	require.NoError(t, err)
	return txn, res.Case, issued.TokenIDs()
}

func TestArbitratedReversalReissuesAndResolves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn, fc, tainted := f.reportedTransfer(t)

	_, err := f.cases.AssignToArbitrator(ctx, fc.ID, "arb-1", "")
	require.NoError(t, err)
	decision, err := f.cases.ProcessArbitrationDecision(ctx, fraudcases.DecisionRequest{
		CaseID:       fc.ID,
		ArbitratorID: "arb-1",
		Decision:     enums.FraudResolutionConfirmed,
		Reasoning:    "login from a new device minutes before the transfer",
	})
	require.NoError(t, err)
	rev := decision.Reversal
	require.NotNil(t, rev)
	assert.True(t, rev.ReversedAmount.Equal(decimal.RequireFromString("120.50")))
	assert.ElementsMatch(t, tainted, rev.InvalidatedIDs)
	require.Len(t, rev.NewTokenIDs, 2)

	assert.Equal(t, enums.FraudCaseStatusResolved, decision.Case.Status)
	require.NotNil(t, decision.Case.Resolution)
	assert.Equal(t, enums.FraudResolutionConfirmed, *decision.Case.Resolution)
	require.NotNil(t, decision.Case.ResolvedBy)
	assert.Equal(t, "arb-1", *decision.Case.ResolvedBy)

	reversed, err := f.ledger.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusReversed, reversed.Status)
	last := reversed.AuditTrail[len(reversed.AuditTrail)-1]
	assert.Equal(t, enums.AuditActionStatusChange, last.Action)
	assert.Equal(t, "arb-1", *last.UserID)

	for _, id := range tainted {
		tok, err := f.tokens.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, enums.TokenStatusInvalid, tok.Status)
	}
	total := decimal.Zero
	for _, id := range rev.NewTokenIDs {
		tok, err := f.tokens.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "alice", tok.CurrentOwner)
		assert.Equal(t, enums.TokenStatusActive, tok.Status)
		assert.Equal(t, rev.ReversalID.String(), tok.Metadata.ReversalID)
		total = total.Add(tok.Denomination)
	}
	assert.True(t, total.Equal(txn.Amount))

	events, err := f.outboxRepo.ListByAggregate(ctx, enums.AggregateReversal, rev.ReversalID.String())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventReversalCompleted, events[0].EventType)

	stats := f.engine.Stats()
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.WithinOneHour)
	assert.InDelta(t, 100, stats.SuccessRate, 0.001)

	// the case is no longer active, so a replay reissues nothing
	_, err = f.engine.ExecuteReversal(ctx, types.ReversalRequest{
		TransactionID: txn.ID,
		CaseID:        fc.ID,
		Type:          enums.ReversalTypeAutomatedFraud,
	})
	assert.Equal(t, pkgerrors.CodeReversal, pkgerrors.CodeOf(err))
	owned, err := f.tokens.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, owned, 2)
	assert.Equal(t, 1, f.engine.Stats().Completed)
}

func TestReversalRollsBackWhenInvalidationFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn, fc, tainted := f.reportedTransfer(t)
	f.invalidate.fail = true

	_, err := f.engine.ExecuteReversal(ctx, types.ReversalRequest{
		TransactionID: txn.ID,
		CaseID:        fc.ID,
		Type:          enums.ReversalTypeAutomatedFraud,
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err), "token errors propagate unchanged")

	owned, err := f.tokens.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, owned, "staged batch rolled back")
	for _, id := range tainted {
		tok, err := f.tokens.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, enums.TokenStatusDisputed, tok.Status)
	}
	stored, err := f.ledger.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCompleted, stored.Status)
	still, err := f.cases.GetCase(ctx, fc.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.FraudCaseStatusInvestigating, still.Status)
	assert.Equal(t, 1, f.engine.Stats().Failed)

	f.invalidate.fail = false
	rev, err := f.engine.ExecuteReversal(ctx, types.ReversalRequest{
		TransactionID: txn.ID,
		CaseID:        fc.ID,
		Type:          enums.ReversalTypeAutomatedFraud,
	})
	require.NoError(t, err)
	assert.Len(t, rev.NewTokenIDs, 2)
}

func TestOverlappingReportCannotFreeTaintedTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.wallets.AddFunds(ctx, wallets.AddFundsInput{WalletID: "alice", Currency: enums.CurrencyUSDCBDC, Amount: decimal.RequireFromString("200.00")})
	require.NoError(t, err)
	issued, err := f.tokens.IssueBatch(ctx, tokens.IssueRequest{
		Owner:         "alice",
		CBDCType:      enums.CurrencyUSDCBDC,
		Denominations: []decimal.Decimal{decimal.RequireFromString("60.00"), decimal.RequireFromString("40.00")},
		Metadata:      models.TokenMetadata{Issuer: "central-bank", Series: "2026A"},
	})
	require.NoError(t, err)
	tainted := issued.TokenIDs()

	first, err := f.ledger.ProcessTransaction(ctx, ledger.ProcessRequest{
		FromWallet: "alice",
		ToWallet:   "bob",
		Amount:     decimal.RequireFromString("100.00"),
		Currency:   enums.CurrencyUSDCBDC,
		TokenIDs:   tainted,
		Actor:      audit.Actor{UserID: "alice", Role: enums.ActorRoleUser},
	})
	require.NoError(t, err)
	// bob spends the same tokens before anyone reports
	onward, err := f.ledger.ProcessTransaction(ctx, ledger.ProcessRequest{
		FromWallet: "bob",
		ToWallet:   "carol",
		Amount:     decimal.RequireFromString("100.00"),
		Currency:   enums.CurrencyUSDCBDC,
		TokenIDs:   tainted,
		Actor:      audit.Actor{UserID: "bob", Role: enums.ActorRoleUser},
	})
	require.NoError(t, err)
	f.ledger.Wait()

	res, err := f.cases.SubmitFraudReport(ctx, fraudcases.Report{
		TransactionID: first.ID,
		ReporterID:    "alice",
		Type:          enums.FraudCaseTypeAccountTakeover,
		Description:   "my session was hijacked and this transfer went out",
	})
	require.NoError(t, err)
	fc := res.Case

	_, err = f.cases.SubmitFraudReport(ctx, fraudcases.Report{
		TransactionID: onward.ID,
		ReporterID:    "bob",
		Type:          enums.FraudCaseTypePhishing,
		Description:   "carol never delivered what I paid for",
	})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	for _, id := range tainted {
		tok, err := f.tokens.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, enums.TokenStatusDisputed, tok.Status)
	}

	rev, err := f.engine.ExecuteReversal(ctx, types.ReversalRequest{
		TransactionID: first.ID,
		CaseID:        fc.ID,
		Type:          enums.ReversalTypeAutomatedFraud,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, tainted, rev.InvalidatedIDs)
	require.Len(t, rev.NewTokenIDs, len(tainted))
	for _, id := range tainted {
		tok, err := f.tokens.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, enums.TokenStatusInvalid, tok.Status)
	}
}

func TestReversalRefusesTokensReleasedFromCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn, fc, tainted := f.reportedTransfer(t)

	_, err := f.tokens.BulkUpdateStatus(ctx, tokens.BulkStatusRequest{
		TokenIDs: tainted,
		Status:   enums.TokenStatusActive,
		Reason:   "manual release",
		Actor:    audit.Actor{UserID: "admin-1", Role: enums.ActorRoleAdmin},
	})
	require.NoError(t, err)

	_, err = f.engine.ExecuteReversal(ctx, types.ReversalRequest{
		TransactionID: txn.ID,
		CaseID:        fc.ID,
		Type:          enums.ReversalTypeAutomatedFraud,
	})
	assert.Equal(t, pkgerrors.CodeReversal, pkgerrors.CodeOf(err))
	owned, err := f.tokens.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, owned, "nothing minted")
}

func TestExecuteReversalValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn, fc, _ := f.reportedTransfer(t)

	cases := []struct {
		name string
		req  types.ReversalRequest
	}{
		{"missing ids", types.ReversalRequest{Type: enums.ReversalTypeAutomatedFraud}},
		{"bad type", types.ReversalRequest{TransactionID: txn.ID, CaseID: fc.ID, Type: "whim"}},
		{"arbitration without arbitrator", types.ReversalRequest{TransactionID: txn.ID, CaseID: fc.ID, Type: enums.ReversalTypeManualArbitration}},
		{"case for another transaction", types.ReversalRequest{TransactionID: uuid.New(), CaseID: fc.ID, Type: enums.ReversalTypeAutomatedFraud}},
		{"unknown case", types.ReversalRequest{TransactionID: txn.ID, CaseID: uuid.New(), Type: enums.ReversalTypeAutomatedFraud}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.ExecuteReversal(ctx, tc.req)
			assert.Equal(t, pkgerrors.CodeReversal, pkgerrors.CodeOf(err))
		})
	}
}

func TestTrackerStats(t *testing.T) {
	tr := NewTracker()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	tr.now = func() time.Time { return clock }

	fast, slow, broken := uuid.New(), uuid.New(), uuid.New()
	tr.Start(fast, base.Add(-30*time.Minute))
	tr.Start(slow, base.Add(-3*time.Hour))
	tr.Start(broken, base)
	assert.Equal(t, 30*time.Minute, tr.Complete(fast))
	tr.Complete(slow)
	tr.Fail(broken)

	// a failed replay does not erase a completion
	tr.Start(fast, base)
	tr.Fail(fast)

	stats := tr.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.WithinOneHour)
	assert.InDelta(t, 105, stats.AverageMinutes, 0.001)
	assert.InDelta(t, 50, stats.OneHourCompliance, 0.001)
	assert.InDelta(t, 66.667, stats.SuccessRate, 0.001)
}

type stubCandidates []models.FraudCase

func (s stubCandidates) ListAutomatedCandidates(context.Context, time.Time) ([]models.FraudCase, error) {
	return s, nil
}

type stubConfidence map[uuid.UUID]float64

func (s stubConfidence) FraudConfidence(_ context.Context, caseID, _ uuid.UUID) (float64, error) {
	v, ok := s[caseID]
	if !ok {
		return 0, errors.New("risk service timeout")
	}
	return v, nil
}

type recordingExecutor struct {
	requests []types.ReversalRequest
}

func (r *recordingExecutor) ExecuteReversal(_ context.Context, req types.ReversalRequest) (*types.ReversalResponse, error) {
	r.requests = append(r.requests, req)
	return &types.ReversalResponse{ReversalID: uuid.New(), CaseID: req.CaseID}, nil
}

func TestProcessAutomatedReversalsAppliesThreshold(t *testing.T) {
	confident := models.FraudCase{ID: uuid.New(), TransactionID: uuid.New()}
	unsure := models.FraudCase{ID: uuid.New(), TransactionID: uuid.New()}
	unreachable := models.FraudCase{ID: uuid.New(), TransactionID: uuid.New()}
	exec := &recordingExecutor{}

	a, err := NewAutomator(exec,
		stubCandidates{confident, unsure, unreachable},
		stubConfidence{confident.ID: 0.93, unsure.ID: 0.79},
		0, logger.Nop())
	require.NoError(t, err)

	summary, err := a.ProcessAutomatedReversals(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), unreachable.ID.String())
	assert.Equal(t, 3, summary.Examined)
	assert.Equal(t, 1, summary.Reversed)
	assert.Equal(t, 1, summary.BelowBar)
	assert.Equal(t, 1, summary.Failed)

	require.Len(t, exec.requests, 1)
	assert.Equal(t, confident.ID, exec.requests[0].CaseID)
	assert.Equal(t, enums.ReversalTypeAutomatedFraud, exec.requests[0].Type)
	assert.Nil(t, exec.requests[0].ArbitratorID)
}
