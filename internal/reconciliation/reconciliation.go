// Package reconciliation runs the out-of-band consistency sweeps:
// cached balances against ledger event sums, stale checkout sessions,
// and completed invocations that were never billed. It only reports and
// expires; it never mutates the ledger.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/thecyberlearn/quantum-tasks/internal/invocation"
	"github.com/thecyberlearn/quantum-tasks/internal/logging"
	"github.com/thecyberlearn/quantum-tasks/internal/wallet"
)

// BalanceAuditor checks every account's cached balance against its
// event sum.
type BalanceAuditor interface {
	AuditBalances(ctx context.Context) ([]*wallet.Drift, error)
}

// SessionExpirer sweeps checkout sessions whose payment window lapsed.
type SessionExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// InvocationSweeper fails invocations stuck in processing.
type InvocationSweeper interface {
	SweepStuck(ctx context.Context, maxAge time.Duration) (int, error)
}

// CompletedLister lists invocations by status, newest first.
type CompletedLister interface {
	ListByStatus(ctx context.Context, status string, limit int) ([]*invocation.Invocation, error)
}

// ReferenceFinder looks up a ledger event by its external reference.
// A nil event with a nil error means no event exists.
type ReferenceFinder interface {
	FindByReference(ctx context.Context, kind, externalRef string) (*wallet.Event, error)
}

// Report is the outcome of one full reconciliation pass.
type Report struct {
	StartedAt        time.Time       `json:"startedAt"`
	DurationMs       int64           `json:"durationMs"`
	Drifts           []*wallet.Drift `json:"drifts"`
	ExpiredSessions  int             `json:"expiredSessions"`
	StuckInvocations int             `json:"stuckInvocations"`
	UnbilledIDs      []string        `json:"unbilledInvocations"`
	Errors           []string        `json:"errors,omitempty"`
}

// Clean reports whether the pass found nothing wrong.
func (r *Report) Clean() bool {
	return len(r.Drifts) == 0 && r.StuckInvocations == 0 &&
		len(r.UnbilledIDs) == 0 && len(r.Errors) == 0
}

// Runner executes all reconciliation checks.
type Runner struct {
	auditor     BalanceAuditor
	expirer     SessionExpirer
	sweeper     InvocationSweeper
	completed   CompletedLister
	refs        ReferenceFinder
	stuckMaxAge time.Duration
	recentLimit int
}

// NewRunner wires the reconciliation checks. Any dependency may be nil;
// its check is skipped.
func NewRunner(auditor BalanceAuditor, expirer SessionExpirer,
	sweeper InvocationSweeper, completed CompletedLister, refs ReferenceFinder) *Runner {
	return &Runner{
		auditor:     auditor,
		expirer:     expirer,
		sweeper:     sweeper,
		completed:   completed,
		refs:        refs,
		stuckMaxAge: 10 * time.Minute,
		recentLimit: 500,
	}
}

// RunAll executes every check and returns a combined report. Individual
// check failures are collected rather than aborting the pass.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{StartedAt: start, Drifts: []*wallet.Drift{}, UnbilledIDs: []string{}}

	if r.auditor != nil {
		drifts, err := r.auditor.AuditBalances(ctx)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("audit balances: %v", err))
			reconcileErrors.Inc()
		} else {
			report.Drifts = drifts
		}
	}

	if r.expirer != nil {
		n, err := r.expirer.ExpireStale(ctx)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("expire sessions: %v", err))
			reconcileErrors.Inc()
		} else {
			report.ExpiredSessions = n
		}
	}

	if r.sweeper != nil {
		n, err := r.sweeper.SweepStuck(ctx, r.stuckMaxAge)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("sweep invocations: %v", err))
			reconcileErrors.Inc()
		} else {
			report.StuckInvocations = n
		}
	}

	if r.completed != nil && r.refs != nil {
		unbilled, err := r.findUnbilled(ctx)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("check billing: %v", err))
			reconcileErrors.Inc()
		} else {
			report.UnbilledIDs = unbilled
		}
	}

	report.DurationMs = time.Since(start).Milliseconds()
	reconcileDrifts.Set(float64(len(report.Drifts)))
	reconcileStuckInvocations.Set(float64(report.StuckInvocations))
	reconcileUnbilled.Set(float64(len(report.UnbilledIDs)))
	reconcileDuration.Observe(time.Since(start).Seconds())

	if !report.Clean() {
		logging.L(ctx).Warn("reconciliation found inconsistencies",
			"drifts", len(report.Drifts),
			"expiredSessions", report.ExpiredSessions,
			"stuckInvocations", report.StuckInvocations,
			"unbilled", len(report.UnbilledIDs),
			"errors", len(report.Errors))
	}
	return report, nil
}

// findUnbilled flags completed invocations with no matching debit
// event. Each one is a failed debit-last settlement that needs a human.
func (r *Runner) findUnbilled(ctx context.Context) ([]string, error) {
	completed, err := r.completed.ListByStatus(ctx, invocation.StatusCompleted, r.recentLimit)
	if err != nil {
		return nil, err
	}

	var unbilled []string
	for _, inv := range completed {
		ev, err := r.refs.FindByReference(ctx, wallet.KindAgentUsage, inv.ID)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			logging.L(ctx).Error("completed invocation has no debit event",
				"invocation", inv.ID, "user", inv.UserID, "cost", inv.Cost)
			unbilled = append(unbilled, inv.ID)
		}
	}
	return unbilled, nil
}
