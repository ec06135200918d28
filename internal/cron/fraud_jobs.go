package cron

import (
	"context"
	"fmt"

	"github.com/echopay/echopay-backend/internal/reversal"
	"github.com/echopay/echopay-backend/pkg/logger"
)

type overdueChecker interface {
	CheckForOverdueCases(ctx context.Context) (int, error)
}

type automatedReverser interface {
	ProcessAutomatedReversals(ctx context.Context) (reversal.Summary, error)
}

// NewFraudCaseEscalationJob flags investigating cases that passed their resolution deadline.
func NewFraudCaseEscalationJob(cases overdueChecker, logg *logger.Logger) (Job, error) {
	if cases == nil {
		return nil, fmt.Errorf("fraud case service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &fraudCaseEscalationJob{cases: cases, logg: logg}, nil
}

type fraudCaseEscalationJob struct {
	cases overdueChecker
	logg  *logger.Logger
}

func (j *fraudCaseEscalationJob) Name() string { return "fraud_case_escalation" }

func (j *fraudCaseEscalationJob) Run(ctx context.Context) error {
	escalated, err := j.cases.CheckForOverdueCases(ctx)
	if err != nil {
		return fmt.Errorf("escalate overdue cases: %w", err)
	}
	if escalated > 0 {
		j.logg.Warn(j.logg.WithField(ctx, "escalated", escalated), "cron.fraud_cases_escalated")
	}
	return nil
}

// NewAutomatedReversalJob runs the confidence-gated reversal sweep.
func NewAutomatedReversalJob(reverser automatedReverser, logg *logger.Logger) (Job, error) {
	if reverser == nil {
		return nil, fmt.Errorf("automated reverser required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &automatedReversalJob{reverser: reverser, logg: logg}, nil
}

type automatedReversalJob struct {
	reverser automatedReverser
	logg     *logger.Logger
}

func (j *automatedReversalJob) Name() string { return "automated_reversals" }

func (j *automatedReversalJob) Run(ctx context.Context) error {
	summary, err := j.reverser.ProcessAutomatedReversals(ctx)
	if err != nil {
		return fmt.Errorf("automated reversals (%d of %d failed): %w", summary.Failed, summary.Examined, err)
	}
	return nil
}
