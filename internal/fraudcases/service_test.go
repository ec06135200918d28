package fraudcases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/echopay/echopay-backend/internal/audit"
	"github.com/echopay/echopay-backend/internal/tokens"
	"github.com/echopay/echopay-backend/pkg/db"
	"github.com/echopay/echopay-backend/pkg/db/dbtest"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/outbox"
	"github.com/echopay/echopay-backend/pkg/types"
)

type stubLookup struct {
	txns map[uuid.UUID]*models.Transaction
}

func (s *stubLookup) GetTransactionDetails(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, ok := s.txns[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return txn, nil
}

func (s *stubLookup) IsValidForFraudReport(ctx context.Context, id uuid.UUID) (bool, error) {
	txn, err := s.GetTransactionDetails(ctx, id)
	if err != nil {
		return false, err
	}
	return txn.Status == enums.TransactionStatusCompleted, nil
}

type stubReversals struct {
	calls []types.ReversalRequest
	repo  Repository
	err   error
}

func (s *stubReversals) ExecuteReversal(ctx context.Context, req types.ReversalRequest) (*types.ReversalResponse, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	if _, err := s.repo.Resolve(ctx, req.CaseID, enums.FraudResolutionConfirmed, req.Reasoning, *req.ArbitratorID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return &types.ReversalResponse{ReversalID: uuid.New(), TransactionID: req.TransactionID, CaseID: req.CaseID}, nil
}

type recordingNotifier struct {
	sent []string
}

func (r *recordingNotifier) SendFraudReportConfirmation(context.Context, *models.FraudCase, string) error {
	r.sent = append(r.sent, "confirmation")
	return nil
}

func (r *recordingNotifier) SendArbitrationAssignment(context.Context, *models.FraudCase, string) error {
	r.sent = append(r.sent, "assignment")
	return nil
}

func (r *recordingNotifier) SendArbitrationDecision(context.Context, *models.FraudCase) error {
	r.sent = append(r.sent, "decision")
	return nil
}

func (r *recordingNotifier) SendEscalationAlert(context.Context, *models.FraudCase) error {
	r.sent = append(r.sent, "escalation")
	return nil
}

func (r *recordingNotifier) SendReversalCompletion(context.Context, *models.FraudCase, *types.ReversalResponse) error {
	r.sent = append(r.sent, "reversal")
	return nil
}

func (r *recordingNotifier) SendCaseStatusUpdate(context.Context, *models.FraudCase, string) error {
	r.sent = append(r.sent, "status")
	return errors.New("inbox unavailable")
}

type recordingPublisher struct {
	messages []string
}

func (r *recordingPublisher) PublishCase(_ *models.FraudCase, message string) {
	r.messages = append(r.messages, message)
}

type stubLimiter struct {
	allow bool
	err   error
}

func (s stubLimiter) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	return s.allow, 11, s.err
}

type fixture struct {
	client     *db.Client
	svc        *service
	repo       Repository
	tokens     tokens.Service
	lookup     *stubLookup
	reversals  *stubReversals
	notifier   *recordingNotifier
	publisher  *recordingPublisher
	outboxRepo *outbox.Repository
}

func newFixture(t *testing.T, limiter stubLimiter) fixture {
	t.Helper()
	client := dbtest.New(t)
	outboxRepo := outbox.NewRepository(client.DB())
	emitter := outbox.NewService(outboxRepo, logger.Nop())
	tokenSvc, err := tokens.NewService(tokens.NewRepository(client.DB()), client, emitter, audit.NewSigner("k"), "echopay-test", logger.Nop())
	require.NoError(t, err)

	repo := NewRepository(client.DB())
	f := fixture{
		client:     client,
		repo:       repo,
		tokens:     tokenSvc,
		lookup:     &stubLookup{txns: map[uuid.UUID]*models.Transaction{}},
		reversals:  &stubReversals{repo: repo},
		notifier:   &recordingNotifier{},
		publisher:  &recordingPublisher{},
		outboxRepo: outboxRepo,
	}
	svc, err := NewService(ServiceParams{
		Repo:         repo,
		TxRunner:     client,
		Outbox:       emitter,
		Transactions: f.lookup,
		Tokens:       tokenSvc,
		Reversals:    f.reversals,
		Notifier:     f.notifier,
		Publisher:    f.publisher,
		RateLimiter:  limiter,
		Thresholds:   DefaultThresholds(),
		ServiceID:    "echopay-test",
		Logger:       logger.Nop(),
	})
	require.NoError(t, err)
	f.svc = svc.(*service)
	return f
}

// completedTransfer records a completed transaction whose value moved in two tokens.
func (f fixture) completedTransfer(t *testing.T, amount string) *models.Transaction {
	t.Helper()
	ctx := context.Background()
	half := decimal.RequireFromString(amount).Div(decimal.NewFromInt(2))
	issued, err := f.tokens.IssueBatch(ctx, tokens.IssueRequest{
		Owner:         "payer",
		CBDCType:      enums.CurrencyUSDCBDC,
		Denominations: []decimal.Decimal{half, half},
		Metadata:      models.TokenMetadata{Issuer: "central-bank", Series: "2026A"},
	})
	require.NoError(t, err)

	txn := &models.Transaction{
		ID:         uuid.New(),
		FromWallet: "payer",
		ToWallet:   "payee",
		Amount:     decimal.RequireFromString(amount),
		Currency:   enums.CurrencyUSDCBDC,
		Status:     enums.TransactionStatusCompleted,
	}
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		return f.tokens.SettleTransfer(ctx, tx, tokens.SettleRequest{
			TransactionID: txn.ID,
			FromWallet:    "payer",
			ToWallet:      "payee",
			Currency:      enums.CurrencyUSDCBDC,
			Amount:        txn.Amount,
			TokenIDs:      issued.TokenIDs(),
		})
	}))
	f.lookup.txns[txn.ID] = txn
	return txn
}

func report(txnID uuid.UUID, caseType enums.FraudCaseType) Report {
	return Report{
		TransactionID: txnID,
		ReporterID:    "payer",
		Type:          caseType,
		Description:   "  I never authorized this payment  ",
		Evidence:      Evidence{UserReport: "phone was stolen", Screenshots: []string{"s3://shots/1.png"}},
	}
}

func TestSubmitFraudReportOpensCaseAndDisputesTokens(t *testing.T) {
	f := newFixture(t, stubLimiter{allow: true})
	ctx := context.Background()
	txn := f.completedTransfer(t, "1500.00")

	res, err := f.svc.SubmitFraudReport(ctx, report(txn.ID, enums.FraudCaseTypeUnauthorizedTransaction))
	require.NoError(t, err)
	assert.Equal(t, enums.FraudCaseStatusInvestigating, res.Case.Status)
	assert.Equal(t, enums.FraudCasePriorityHigh, res.Case.Priority)
	assert.Equal(t, "72 hours", res.EstimatedResolution)
	assert.Equal(t, "I never authorized this payment", res.Case.Description)
	assert.False(t, res.Case.Evidence.ReportTimestamp.IsZero())

	linked, err := f.tokens.ListByTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, linked, 2)
	for _, tok := range linked {
		assert.Equal(t, enums.TokenStatusDisputed, tok.Status)
	}

	events, err := f.outboxRepo.ListByAggregate(ctx, enums.AggregateFraudCase, res.Case.ID.String())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventFraudCaseSubmitted, events[0].EventType)
	assert.Equal(t, []string{"confirmation"}, f.notifier.sent)
	assert.Equal(t, []string{"fraud case submitted"}, f.publisher.messages)

	_, err = f.svc.SubmitFraudReport(ctx, report(txn.ID, enums.FraudCaseTypePhishing))
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestSubmitFraudReportRejections(t *testing.T) {
	f := newFixture(t, stubLimiter{allow: true})
	ctx := context.Background()
	txn := f.completedTransfer(t, "20.00")

	pending := &models.Transaction{ID: uuid.New(), Amount: decimal.NewFromInt(5), Status: enums.TransactionStatusPending}
	f.lookup.txns[pending.ID] = pending

	tooShort := report(txn.ID, enums.FraudCaseTypePhishing)
	tooShort.Description = "  short  "
	badType := report(txn.ID, enums.FraudCaseType("mystery"))
	tooMuchInfo := report(txn.ID, enums.FraudCaseTypePhishing)
	tooMuchInfo.Evidence.AdditionalInfo = string(make([]rune, 1001))

	cases := []struct {
		name   string
		report Report
		code   pkgerrors.Code
	}{
		{"short description", tooShort, pkgerrors.CodeValidation},
		{"unknown type", badType, pkgerrors.CodeValidation},
		{"oversized additional info", tooMuchInfo, pkgerrors.CodeValidation},
		{"missing transaction", report(uuid.New(), enums.FraudCaseTypePhishing), pkgerrors.CodeNotFound},
		{"pending transaction", report(pending.ID, enums.FraudCaseTypePhishing), pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SubmitFraudReport(ctx, tc.report)
			assert.Equal(t, tc.code, pkgerrors.CodeOf(err))
		})
	}
}

func TestSubmitFraudReportRateLimited(t *testing.T) {
	f := newFixture(t, stubLimiter{allow: false})
	txn := f.completedTransfer(t, "20.00")
	_, err := f.svc.SubmitFraudReport(context.Background(), report(txn.ID, enums.FraudCaseTypePhishing))
	assert.Equal(t, pkgerrors.CodeRateLimit, pkgerrors.CodeOf(err))

	f = newFixture(t, stubLimiter{err: errors.New("redis down")})
	txn = f.completedTransfer(t, "20.00")
	_, err = f.svc.SubmitFraudReport(context.Background(), report(txn.ID, enums.FraudCaseTypePhishing))
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
}

func TestPriorityAndEstimates(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, enums.FraudCasePriorityCritical, th.Priority(decimal.NewFromInt(10001), enums.FraudCaseTypePhishing))
	assert.Equal(t, enums.FraudCasePriorityHigh, th.Priority(decimal.NewFromInt(1001), enums.FraudCaseTypePhishing))
	assert.Equal(t, enums.FraudCasePriorityHigh, th.Priority(decimal.NewFromInt(5), enums.FraudCaseTypeAccountTakeover))
	assert.Equal(t, enums.FraudCasePriorityMedium, th.Priority(decimal.NewFromInt(1000), enums.FraudCaseTypePhishing))

	assert.Equal(t, "24 hours", EstimatedResolution(enums.FraudCasePriorityCritical, enums.FraudCaseTypePhishing))
	assert.Equal(t, "48 hours", EstimatedResolution(enums.FraudCasePriorityHigh, enums.FraudCaseTypeTechnicalFraud))
	assert.Equal(t, "72 hours", EstimatedResolution(enums.FraudCasePriorityHigh, enums.FraudCaseTypePhishing))

	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "71h 30m", TimeRemaining(created, created.Add(30*time.Minute), 72*time.Hour))
	assert.Equal(t, Overdue, TimeRemaining(created, created.Add(73*time.Hour), 72*time.Hour))
}

func (f fixture) openCase(t *testing.T) *models.FraudCase {
	t.Helper()
	txn := f.completedTransfer(t, "40.00")
	res, err := f.svc.SubmitFraudReport(context.Background(), report(txn.ID, enums.FraudCaseTypePhishing))
	require.NoError(t, err)
	return res.Case
}

func TestAssignToArbitratorOnlyOnce(t *testing.T) {
	f := newFixture(t, stubLimiter{allow: true})
	ctx := context.Background()
	fc := f.openCase(t)

	assigned, err := f.svc.AssignToArbitrator(ctx, fc.ID, "arb-1", "looks like SIM swap")
	require.NoError(t, err)
	require.True(t, assigned.IsAssigned())
	assert.Equal(t, "arb-1", *assigned.ArbitratorID)
	require.Len(t, assigned.Evidence.ArbitratorEvidence, 1)
	assert.NotNil(t, assigned.AssignedAt)

	_, err = f.svc.AssignToArbitrator(ctx, fc.ID, "arb-2", "")
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	_, err = f.svc.AssignToArbitrator(ctx, uuid.New(), "arb-2", "")
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	unassigned, err := f.svc.ListUnassigned(ctx)
	require.NoError(t, err)
	assert.Empty(t, unassigned)
}

func TestAddEvidenceMergesAndGuardsAccess(t *testing.T) {
	f := newFixture(t, stubLimiter{allow: true})
	ctx := context.Background()
	fc := f.openCase(t)
	_, err := f.svc.AssignToArbitrator(ctx, fc.ID, "arb-1", "")
	require.NoError(t, err)

	updated, err := f.svc.AddEvidence(ctx, fc.ID, "payer", Evidence{Screenshots: []string{"s3://shots/2.png"}, AdditionalInfo: "bank confirmed"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://shots/1.png", "s3://shots/2.png"}, updated.Evidence.Screenshots)
	assert.Equal(t, "bank confirmed", updated.Evidence.AdditionalInfo)
	assert.Equal(t, "phone was stolen", updated.Evidence.UserReport)

	updated, err = f.svc.AddEvidence(ctx, fc.ID, "arb-1", Evidence{AdditionalInfo: "device fingerprint differs"})
	require.NoError(t, err)
	require.Len(t, updated.Evidence.ArbitratorEvidence, 1)
	assert.Equal(t, "device fingerprint differs", updated.Evidence.ArbitratorEvidence[0].Notes)

	_, err = f.svc.AddEvidence(ctx, fc.ID, "stranger", Evidence{AdditionalInfo: "hi"})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	stored, err := f.svc.GetCase(ctx, fc.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Evidence.Screenshots, 2)
}

func TestDenialReleasesTokensAndBlocksEvidence(t *testing.T) {
	f := newFixture(t, stubLimiter{allow: true})
	ctx := context.Background()
	fc := f.openCase(t)
	_, err := f.svc.AssignToArbitrator(ctx, fc.ID, "arb-1", "")
	require.NoError(t, err)

	_, err = f.svc.ProcessArbitrationDecision(ctx, DecisionRequest{CaseID: fc.ID, ArbitratorID: "arb-2", Decision: enums.FraudResolutionDenied, Reasoning: "no"})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	_, err = f.svc.ProcessArbitrationDecision(ctx, DecisionRequest{CaseID: fc.ID, ArbitratorID: "arb-1", Decision: "maybe", Reasoning: "no"})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	res, err := f.svc.ProcessArbitrationDecision(ctx, DecisionRequest{
		CaseID:       fc.ID,
		ArbitratorID: "arb-1",
		Decision:     enums.FraudResolutionDenied,
		Reasoning:    "payer confirmed the purchase on a recorded call",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Reversal)
	assert.Equal(t, enums.FraudCaseStatusResolved, res.Case.Status)
	require.NotNil(t, res.Case.Resolution)
	assert.Equal(t, enums.FraudResolutionDenied, *res.Case.Resolution)
	assert.Empty(t, f.reversals.calls)

	linked, err := f.tokens.ListByTransaction(ctx, fc.TransactionID)
	require.NoError(t, err)
	for _, tok := range linked {
		assert.Equal(t, enums.TokenStatusActive, tok.Status)
	}
	assert.Contains(t, f.notifier.sent, "decision")
	assert.Contains(t, f.notifier.sent, "status")

	_, err = f.svc.AddEvidence(ctx, fc.ID, "payer", Evidence{AdditionalInfo: "late"})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	_, err = f.svc.ProcessArbitrationDecision(ctx, DecisionRequest{CaseID: fc.ID, ArbitratorID: "arb-1", Decision: enums.FraudResolutionDenied, Reasoning: "again"})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	// a resolved case no longer blocks a new report
	_, err = f.svc.SubmitFraudReport(ctx, report(fc.TransactionID, enums.FraudCaseTypePhishing))
	require.NoError(t, err)
}

func TestReportOnTokensHeldByAnotherCaseIsRejected(t *testing.T) {
	f := newFixture(t, stubLimiter{allow: true})
	ctx := context.Background()
	first := f.completedTransfer(t, "40.00")
	linked, err := f.tokens.ListByTransaction(ctx, first.ID)
	require.NoError(t, err)

	// payee spends the same tokens onward
	onward := &models.Transaction{
		ID:         uuid.New(),
		FromWallet: "payee",
		ToWallet:   "merchant",
		Amount:     first.Amount,
		Currency:   enums.CurrencyUSDCBDC,
		Status:     enums.TransactionStatusCompleted,
	}
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		return f.tokens.SettleTransfer(ctx, tx, tokens.SettleRequest{
			TransactionID: onward.ID,
			FromWallet:    "payee",
			ToWallet:      "merchant",
			Currency:      enums.CurrencyUSDCBDC,
			Amount:        onward.Amount,
			TokenIDs:      []uuid.UUID{linked[0].ID, linked[1].ID},
		})
	}))
	f.lookup.txns[onward.ID] = onward

	held, err := f.svc.SubmitFraudReport(ctx, report(first.ID, enums.FraudCaseTypePhishing))
	require.NoError(t, err)

	second := report(onward.ID, enums.FraudCaseTypePhishing)
	second.ReporterID = "payee"
	_, err = f.svc.SubmitFraudReport(ctx, second)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	mine, err := f.svc.ListByReporter(ctx, "payee")
	require.NoError(t, err)
	assert.Empty(t, mine, "rejected report leaves no case behind")
	for _, tok := range linked {
		got, err := f.tokens.Get(ctx, tok.ID)
		require.NoError(t, err)
		assert.Equal(t, enums.TokenStatusDisputed, got.Status)
		require.NotNil(t, got.DisputeCaseID)
		assert.Equal(t, held.Case.ID, *got.DisputeCaseID)
	}
}

func TestClosingActiveCaseReleasesItsTokens(t *testing.T) {
	f := newFixture(t, stubLimiter{allow: true})
	ctx := context.Background()
	fc := f.openCase(t)

	_, err := f.svc.CloseCase(ctx, fc.ID, audit.Actor{UserID: "arb-1", Role: enums.ActorRoleArbitrator})
	require.NoError(t, err)

	linked, err := f.tokens.ListByTransaction(ctx, fc.TransactionID)
	require.NoError(t, err)
	require.NotEmpty(t, linked)
	for _, tok := range linked {
		assert.Equal(t, enums.TokenStatusActive, tok.Status)
		assert.Nil(t, tok.DisputeCaseID)
	}
}

func TestConfirmationDelegatesToReversal(t *testing.T) {
	f := newFixture(t, stubLimiter{allow: true})
	ctx := context.Background()
	fc := f.openCase(t)

	_, err := f.svc.ProcessArbitrationDecision(ctx, DecisionRequest{CaseID: fc.ID, ArbitratorID: "arb-1", Decision: enums.FraudResolutionConfirmed, Reasoning: "clear"})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err), "unassigned case")

	_, err = f.svc.AssignToArbitrator(ctx, fc.ID, "arb-1", "")
	require.NoError(t, err)

	res, err := f.svc.ProcessArbitrationDecision(ctx, DecisionRequest{CaseID: fc.ID, ArbitratorID: "arb-1", Decision: enums.FraudResolutionConfirmed, Reasoning: "clear"})
	require.NoError(t, err)
	require.NotNil(t, res.Reversal)
	require.Len(t, f.reversals.calls, 1)
	call := f.reversals.calls[0]
	assert.Equal(t, enums.ReversalTypeManualArbitration, call.Type)
	assert.Equal(t, fc.TransactionID, call.TransactionID)
	require.NotNil(t, call.ArbitratorID)
	assert.Equal(t, "arb-1", *call.ArbitratorID)
	assert.Equal(t, enums.FraudCaseStatusResolved, res.Case.Status)

	f.reversals.err = pkgerrors.New(pkgerrors.CodeReversal, "token service unavailable")
	other := f.openCase(t)
	_, err = f.svc.AssignToArbitrator(ctx, other.ID, "arb-1", "")
	require.NoError(t, err)
	_, err = f.svc.ProcessArbitrationDecision(ctx, DecisionRequest{CaseID: other.ID, ArbitratorID: "arb-1", Decision: enums.FraudResolutionConfirmed, Reasoning: "clear"})
	assert.Equal(t, pkgerrors.CodeReversal, pkgerrors.CodeOf(err))
	stored, err := f.svc.GetCase(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.FraudCaseStatusInvestigating, stored.Status)
}

func TestCheckForOverdueCasesIsIdempotent(t *testing.T) {
	f := newFixture(t, stubLimiter{allow: true})
	ctx := context.Background()
	stale := f.openCase(t)
	fresh := f.openCase(t)
	require.NoError(t, f.client.DB().Exec("UPDATE fraud_cases SET created_at = ? WHERE id = ?", time.Now().UTC().Add(-73*time.Hour), stale.ID).Error)

	n, err := f.svc.CheckForOverdueCases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.CheckForOverdueCases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := f.svc.GetCase(ctx, stale.ID)
	require.NoError(t, err)
	assert.True(t, got.Escalated)
	assert.NotNil(t, got.EscalatedAt)

	got, err = f.svc.GetCase(ctx, fresh.ID)
	require.NoError(t, err)
	assert.False(t, got.Escalated)

	events, err := f.outboxRepo.ListByAggregate(ctx, enums.AggregateFraudCase, stale.ID.String())
	require.NoError(t, err)
	var kinds []enums.OutboxEventType
	for _, e := range events {
		kinds = append(kinds, e.EventType)
	}
	assert.Contains(t, kinds, enums.EventFraudCaseEscalated)
	assert.Contains(t, f.notifier.sent, "escalation")
}

func TestStatisticsAndArbitratorQueue(t *testing.T) {
	f := newFixture(t, stubLimiter{allow: true})
	ctx := context.Background()
	a := f.openCase(t)
	f.openCase(t)
	_, err := f.svc.AssignToArbitrator(ctx, a.ID, "arb-1", "")
	require.NoError(t, err)
	require.NoError(t, f.client.DB().Exec("UPDATE fraud_cases SET created_at = ? WHERE id = ?", time.Now().UTC().Add(-80*time.Hour), a.ID).Error)

	stats, err := f.svc.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalActive)
	assert.EqualValues(t, 1, stats.Assigned)
	assert.EqualValues(t, 1, stats.Unassigned)
	assert.EqualValues(t, 1, stats.Overdue)
	assert.EqualValues(t, 2, stats.ByPriority[enums.FraudCasePriorityMedium])
	assert.EqualValues(t, 1, stats.ArbitratorWorkload["arb-1"])

	queue, err := f.svc.ListArbitratorCases(ctx, "arb-1")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, Overdue, queue[0].TimeRemaining)

	mine, err := f.svc.ListByReporter(ctx, "payer")
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestListAutomatedCandidatesAndClose(t *testing.T) {
	f := newFixture(t, stubLimiter{allow: true})
	ctx := context.Background()
	txn := f.completedTransfer(t, "5000.00")
	res, err := f.svc.SubmitFraudReport(ctx, report(txn.ID, enums.FraudCaseTypePhishing))
	require.NoError(t, err)
	low := f.openCase(t)

	none, err := f.svc.ListAutomatedCandidates(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, none, "cases younger than an hour wait")

	later, err := f.svc.ListAutomatedCandidates(ctx, time.Now().UTC().Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, res.Case.ID, later[0].ID)

	closed, err := f.svc.CloseCase(ctx, low.ID, audit.System)
	require.NoError(t, err)
	assert.Equal(t, enums.FraudCaseStatusClosed, closed.Status)
	_, err = f.svc.CloseCase(ctx, low.ID, audit.System)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
}
