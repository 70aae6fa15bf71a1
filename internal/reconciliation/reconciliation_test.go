package reconciliation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/thecyberlearn/quantum-tasks/internal/invocation"
	"github.com/thecyberlearn/quantum-tasks/internal/wallet"
)

type mockAuditor struct {
	drifts []*wallet.Drift
	err    error
}

func (m *mockAuditor) AuditBalances(_ context.Context) ([]*wallet.Drift, error) {
	return m.drifts, m.err
}

type mockExpirer struct{ n int }

func (m *mockExpirer) ExpireStale(_ context.Context) (int, error) { return m.n, nil }

type mockSweeper struct{ n int }

func (m *mockSweeper) SweepStuck(_ context.Context, _ time.Duration) (int, error) {
	return m.n, nil
}

type mockCompleted struct{ invs []*invocation.Invocation }

func (m *mockCompleted) ListByStatus(_ context.Context, _ string, _ int) ([]*invocation.Invocation, error) {
	return m.invs, nil
}

type mockRefs struct{ billed map[string]bool }

func (m *mockRefs) FindByReference(_ context.Context, _, ref string) (*wallet.Event, error) {
	if m.billed[ref] {
		return &wallet.Event{ID: "ev_" + ref, ExternalRef: ref}, nil
	}
	return nil, nil
}

func TestRunAllClean(t *testing.T) {
	runner := NewRunner(&mockAuditor{}, &mockExpirer{}, &mockSweeper{},
		&mockCompleted{invs: []*invocation.Invocation{
			{ID: "inv_a", Status: invocation.StatusCompleted},
		}},
		&mockRefs{billed: map[string]bool{"inv_a": true}})

	report, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if !report.Clean() {
		t.Errorf("expected a clean report, got %+v", report)
	}
}

func TestRunAllDetectsDrift(t *testing.T) {
	runner := NewRunner(&mockAuditor{drifts: []*wallet.Drift{
		{UserID: "user-1", Balance: "99.00", EventSum: "52.00", Diff: "47.00"},
	}}, nil, nil, nil, nil)

	report, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if report.Clean() {
		t.Fatal("drift not reported")
	}
	if len(report.Drifts) != 1 || report.Drifts[0].UserID != "user-1" {
		t.Errorf("drifts = %+v", report.Drifts)
	}
}

func TestRunAllDetectsUnbilledCompletion(t *testing.T) {
	runner := NewRunner(nil, nil, nil,
		&mockCompleted{invs: []*invocation.Invocation{
			{ID: "inv_billed", Status: invocation.StatusCompleted},
			{ID: "inv_free", Status: invocation.StatusCompleted},
		}},
		&mockRefs{billed: map[string]bool{"inv_billed": true}})

	report, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(report.UnbilledIDs) != 1 || report.UnbilledIDs[0] != "inv_free" {
		t.Errorf("unbilled = %v, want [inv_free]", report.UnbilledIDs)
	}
}

func TestRunAllCollectsCheckErrors(t *testing.T) {
	runner := NewRunner(&mockAuditor{err: fmt.Errorf("db down")},
		&mockExpirer{n: 2}, nil, nil, nil)

	report, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %v, want 1 entry", report.Errors)
	}
	// Other checks still ran.
	if report.ExpiredSessions != 2 {
		t.Errorf("expiredSessions = %d, want 2", report.ExpiredSessions)
	}
}

func TestRunAllCountsSweeps(t *testing.T) {
	runner := NewRunner(nil, &mockExpirer{n: 3}, &mockSweeper{n: 1}, nil, nil)

	report, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if report.ExpiredSessions != 3 {
		t.Errorf("expiredSessions = %d, want 3", report.ExpiredSessions)
	}
	if report.StuckInvocations != 1 {
		t.Errorf("stuckInvocations = %d, want 1", report.StuckInvocations)
	}
}
