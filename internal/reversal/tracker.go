package reversal

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stats summarizes reversal latency since process start.
type Stats struct {
	Total             int     `json:"total"`
	Completed         int     `json:"completed"`
	Failed            int     `json:"failed"`
	InFlight          int     `json:"inFlight"`
	AverageMinutes    float64 `json:"averageMinutes"`
	WithinOneHour     int     `json:"withinOneHour"`
	SuccessRate       float64 `json:"successRate"`
	OneHourCompliance float64 `json:"oneHourCompliance"`
}

type attempt struct {
	started  time.Time
	finished time.Time
	done     bool
	failed   bool
}

// Tracker keeps per-case reversal timings in memory.
type Tracker struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*attempt
	now      func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		attempts: make(map[uuid.UUID]*attempt),
		now:      time.Now,
	}
}

// Start records the beginning of a reversal. started is when the clock began, usually case creation.
// A case that already completed keeps its original timing.
func (t *Tracker) Start(caseID uuid.UUID, started time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.attempts[caseID]; ok && a.done && !a.failed {
		return
	}
	if started.IsZero() {
		started = t.now()
	}
	t.attempts[caseID] = &attempt{started: started}
}

// Complete closes the attempt and returns its duration.
func (t *Tracker) Complete(caseID uuid.UUID) time.Duration {
	return t.finish(caseID, false)
}

func (t *Tracker) Fail(caseID uuid.UUID) {
	t.finish(caseID, true)
}

func (t *Tracker) finish(caseID uuid.UUID, failed bool) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.attempts[caseID]
	if !ok || (a.done && !a.failed) {
		return 0
	}
	a.finished = t.now()
	a.done = true
	a.failed = failed
	return a.finished.Sub(a.started)
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		stats Stats
		total time.Duration
	)
	for _, a := range t.attempts {
		stats.Total++
		switch {
		case !a.done:
			stats.InFlight++
		case a.failed:
			stats.Failed++
		default:
			stats.Completed++
			took := a.finished.Sub(a.started)
			total += took
			if took <= time.Hour {
				stats.WithinOneHour++
			}
		}
	}
	if stats.Completed > 0 {
		stats.AverageMinutes = total.Minutes() / float64(stats.Completed)
		stats.OneHourCompliance = float64(stats.WithinOneHour) / float64(stats.Completed) * 100
	}
	if finished := stats.Completed + stats.Failed; finished > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(finished) * 100
	}
	return stats
}
