package reversal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/echopay/echopay-backend/internal/risk"
	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	"github.com/echopay/echopay-backend/pkg/logger"
	"github.com/echopay/echopay-backend/pkg/types"
)

const DefaultConfidenceThreshold = 0.8

type candidateLister interface {
	ListAutomatedCandidates(ctx context.Context, now time.Time) ([]models.FraudCase, error)
}

type executor interface {
	ExecuteReversal(ctx context.Context, req types.ReversalRequest) (*types.ReversalResponse, error)
}

// Summary reports one automated sweep.
type Summary struct {
	Examined    int         `json:"examined"`
	Reversed    int         `json:"reversed"`
	BelowBar    int         `json:"belowThreshold"`
	Failed      int         `json:"failed"`
	ReversalIDs []uuid.UUID `json:"reversalIds,omitempty"`
}

// Automator reverses high-priority cases the detector is confident about without waiting for an arbitrator.
type Automator struct {
	engine     executor
	candidates candidateLister
	confidence risk.ConfidenceSource
	threshold  float64
	logg       *logger.Logger
	now        func() time.Time
}

func NewAutomator(engine executor, candidates candidateLister, confidence risk.ConfidenceSource, threshold float64, logg *logger.Logger) (*Automator, error) {
	if engine == nil {
		return nil, fmt.Errorf("reversal engine required")
	}
	if candidates == nil {
		return nil, fmt.Errorf("candidate lister required")
	}
	if confidence == nil {
		return nil, fmt.Errorf("confidence source required")
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConfidenceThreshold
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Automator{
		engine:     engine,
		candidates: candidates,
		confidence: confidence,
		threshold:  threshold,
		logg:       logg,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// ProcessAutomatedReversals evaluates every candidate. A failing case is logged and collected; the
// sweep moves on to the next one.
func (a *Automator) ProcessAutomatedReversals(ctx context.Context) (Summary, error) {
	var summary Summary
	cases, err := a.candidates.ListAutomatedCandidates(ctx, a.now())
	if err != nil {
		return summary, err
	}

	var errs error
	for _, fc := range cases {
		if err := ctx.Err(); err != nil {
			return summary, multierr.Append(errs, err)
		}
		summary.Examined++
		caseCtx := a.logg.WithCaseID(ctx, fc.ID.String())

		confidence, err := a.confidence.FraudConfidence(ctx, fc.ID, fc.TransactionID)
		if err != nil {
			summary.Failed++
			a.logg.Error(caseCtx, "reversal.confidence_failed", err)
			errs = multierr.Append(errs, fmt.Errorf("case %s: %w", fc.ID, err))
			continue
		}
		caseCtx = a.logg.WithField(caseCtx, "confidence", confidence)
		if confidence < a.threshold {
			summary.BelowBar++
			a.logg.Debug(caseCtx, "reversal.below_threshold")
			continue
		}

		resp, err := a.engine.ExecuteReversal(ctx, types.ReversalRequest{
			TransactionID: fc.TransactionID,
			CaseID:        fc.ID,
			Type:          enums.ReversalTypeAutomatedFraud,
			Reasoning:     fmt.Sprintf("Automated reversal: fraud confidence %.2f", confidence),
		})
		if err != nil {
			summary.Failed++
			errs = multierr.Append(errs, fmt.Errorf("case %s: %w", fc.ID, err))
			continue
		}
		summary.Reversed++
		summary.ReversalIDs = append(summary.ReversalIDs, resp.ReversalID)
	}

	a.logg.Info(a.logg.WithFields(ctx, map[string]any{
		"examined": summary.Examined,
		"reversed": summary.Reversed,
		"skipped":  summary.BelowBar,
		"failed":   summary.Failed,
	}), "reversal.automated_sweep")
	return summary, errs
}
