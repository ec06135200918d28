package fraudcases

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/echopay/echopay-backend/pkg/db/models"
	"github.com/echopay/echopay-backend/pkg/enums"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
)

func (s *service) GetCase(ctx context.Context, caseID uuid.UUID) (*models.FraudCase, error) {
	if caseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "case id required")
	}
	fc, err := s.repo.Get(ctx, caseID)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return fc, nil
}

func (s *service) ListByReporter(ctx context.Context, reporterID string) ([]models.FraudCase, error) {
	if strings.TrimSpace(reporterID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reporter id required")
	}
	rows, err := s.repo.ListByReporter(ctx, reporterID)
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "list reporter cases")
	}
	return rows, nil
}

// ListArbitratorCases returns the arbitrator's open queue, oldest first.
func (s *service) ListArbitratorCases(ctx context.Context, arbitratorID string) ([]CaseView, error) {
	if strings.TrimSpace(arbitratorID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "arbitrator id required")
	}
	rows, err := s.repo.ListByArbitrator(ctx, arbitratorID)
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "list arbitrator cases")
	}
	now := s.now()
	views := make([]CaseView, 0, len(rows))
	for _, fc := range rows {
		views = append(views, CaseView{
			FraudCase:     fc,
			TimeRemaining: TimeRemaining(fc.CreatedAt, now, s.limits.EscalationAfter),
		})
	}
	return views, nil
}

func (s *service) ListUnassigned(ctx context.Context) ([]models.FraudCase, error) {
	rows, err := s.repo.ListUnassigned(ctx)
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "list unassigned cases")
	}
	return rows, nil
}

func (s *service) Statistics(ctx context.Context) (*Statistics, error) {
	rows, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "list active cases")
	}
	stats := &Statistics{
		ByPriority:         make(map[enums.FraudCasePriority]int64),
		ArbitratorWorkload: make(map[string]int64),
	}
	deadline := s.now().Add(-s.limits.EscalationAfter)
	for _, fc := range rows {
		stats.TotalActive++
		stats.ByPriority[fc.Priority]++
		if fc.IsAssigned() {
			stats.Assigned++
			stats.ArbitratorWorkload[*fc.ArbitratorID]++
		} else {
			stats.Unassigned++
		}
		if fc.CreatedAt.Before(deadline) {
			stats.Overdue++
		}
	}
	return stats, nil
}

// ListAutomatedCandidates returns unresolved high-value cases old enough for an automated
// reversal decision.
func (s *service) ListAutomatedCandidates(ctx context.Context, now time.Time) ([]models.FraudCase, error) {
	rows, err := s.repo.ListAutomatedCandidates(ctx,
		now.Add(-s.limits.AutomatedMinAge),
		[]enums.FraudCasePriority{enums.FraudCasePriorityHigh, enums.FraudCasePriorityCritical},
		s.limits.AutomatedLimit,
	)
	if err != nil {
		return nil, pkgerrors.FromStorage(err, "list automated candidates")
	}
	return rows, nil
}
