package invocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/thecyberlearn/quantum-tasks/internal/agents"
	"github.com/thecyberlearn/quantum-tasks/internal/circuitbreaker"
	"github.com/thecyberlearn/quantum-tasks/internal/wallet"
)

// fakeRunner scripts processing outcomes and can run a hook mid-flight.
type fakeRunner struct {
	output json.RawMessage
	err    error
	before func()
	calls  int
}

func (r *fakeRunner) Process(ctx context.Context, agent *agents.Agent, payload json.RawMessage) (*Result, error) {
	r.calls++
	if r.before != nil {
		r.before()
	}
	if r.err != nil {
		return nil, r.err
	}
	out := r.output
	if out == nil {
		out = json.RawMessage(`{"ok":true}`)
	}
	return &Result{Output: out, LatencyMs: 5}, nil
}

func testAgent() *agents.Agent {
	return &agents.Agent{
		ID: "data-analyzer", Name: "Data Analyzer", Kind: agents.KindWebhook,
		Endpoint: "https://n8n.example.com/webhook/data-analyzer",
		Cost:     "5.00", Active: true,
	}
}

func newTestService(t *testing.T, runner Runner) (*Service, *wallet.Wallet, Store) {
	t.Helper()
	w := wallet.New(wallet.NewMemoryStore())
	catalog := agents.NewMemoryStore()
	if err := catalog.Create(context.Background(), testAgent()); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	store := NewMemoryStore()
	breaker := circuitbreaker.New(3, time.Minute)
	svc := NewService(store, catalog, w, breaker,
		map[string]Runner{agents.KindWebhook: runner}, 10*time.Second)
	return svc, w, store
}

func fund(t *testing.T, w *wallet.Wallet, userID, amount string) {
	t.Helper()
	if _, err := w.Credit(context.Background(), userID, amount, wallet.KindTopUp,
		"cs_seed_"+userID+amount, "seed"); err != nil {
		t.Fatalf("fund wallet: %v", err)
	}
}

func TestInvokeSuccessDebitsAfterCompletion(t *testing.T) {
	runner := &fakeRunner{output: json.RawMessage(`{"report":"done"}`)}
	svc, w, _ := newTestService(t, runner)
	ctx := context.Background()
	fund(t, w, "user-1", "20.00")

	res, err := svc.Invoke(ctx, "user-1", "data-analyzer", json.RawMessage(`{"rows":3}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Invocation.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", res.Invocation.Status, StatusCompleted)
	}
	if res.Balance != "15.00" {
		t.Errorf("balance = %q, want 15.00", res.Balance)
	}
	if string(res.Output) != `{"report":"done"}` {
		t.Errorf("output = %s", res.Output)
	}

	// The debit references the invocation id.
	ev, err := w.FindByReference(ctx, wallet.KindAgentUsage, res.Invocation.ID)
	if err != nil {
		t.Fatalf("FindByReference: %v", err)
	}
	if ev == nil {
		t.Fatal("no debit event recorded for the invocation")
	}
}

func TestInvokeFailureNeverCharges(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("webhook returned HTTP 500")}
	svc, w, store := newTestService(t, runner)
	ctx := context.Background()
	fund(t, w, "user-1", "20.00")

	_, err := svc.Invoke(ctx, "user-1", "data-analyzer", nil)
	if !errors.Is(err, ErrAgentProcessingFailed) {
		t.Fatalf("Invoke: got %v, want ErrAgentProcessingFailed", err)
	}

	acct, _ := w.Balance(ctx, "user-1")
	if acct.Balance != "20.00" {
		t.Errorf("balance = %q, want untouched 20.00", acct.Balance)
	}

	failed, _ := store.ListByStatus(ctx, StatusFailed, 10)
	if len(failed) != 1 {
		t.Fatalf("failed invocations = %d, want 1", len(failed))
	}
	if failed[0].Error == "" {
		t.Error("failed invocation carries no error message")
	}
	history, _ := w.History(ctx, "user-1", 10, time.Time{})
	if len(history) != 1 { // only the seed credit
		t.Errorf("ledger has %d events, want 1", len(history))
	}
}

func TestInvokeInsufficientBalance(t *testing.T) {
	runner := &fakeRunner{}
	svc, w, store := newTestService(t, runner)
	ctx := context.Background()
	fund(t, w, "user-1", "10.00")

	// Drain to below the agent's price.
	if _, err := w.Debit(ctx, "user-1", "8.00", "req_drain", "drain"); err != nil {
		t.Fatalf("drain: %v", err)
	}

	_, err := svc.Invoke(ctx, "user-1", "data-analyzer", nil)
	if !errors.Is(err, wallet.ErrInsufficientBalance) {
		t.Fatalf("Invoke: got %v, want ErrInsufficientBalance", err)
	}
	if runner.calls != 0 {
		t.Errorf("runner ran %d times despite the failed pre-check", runner.calls)
	}

	// Nothing was created, nothing was billed.
	pending, _ := store.ListByStatus(ctx, StatusPending, 10)
	processing, _ := store.ListByStatus(ctx, StatusProcessing, 10)
	if len(pending)+len(processing) != 0 {
		t.Error("invocation records left behind by the pre-check")
	}
	acct, _ := w.Balance(ctx, "user-1")
	if acct.Balance != "2.00" {
		t.Errorf("balance = %q, want 2.00", acct.Balance)
	}
}

func TestInvokeInactiveAgent(t *testing.T) {
	svc, w, _ := newTestService(t, &fakeRunner{})
	ctx := context.Background()
	fund(t, w, "user-1", "20.00")

	if err := svc.catalog.SetActive(ctx, "data-analyzer", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := svc.Invoke(ctx, "user-1", "data-analyzer", nil); !errors.Is(err, agents.ErrAgentInactive) {
		t.Fatalf("Invoke: got %v, want ErrAgentInactive", err)
	}
}

func TestInvokeUnknownAgent(t *testing.T) {
	svc, w, _ := newTestService(t, &fakeRunner{})
	fund(t, w, "user-1", "20.00")

	if _, err := svc.Invoke(context.Background(), "user-1", "missing", nil); !errors.Is(err, agents.ErrAgentNotFound) {
		t.Fatalf("Invoke: got %v, want ErrAgentNotFound", err)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("webhook request failed: connection refused")}
	svc, w, _ := newTestService(t, runner)
	ctx := context.Background()
	fund(t, w, "user-1", "500.00")

	for i := 0; i < 3; i++ {
		if _, err := svc.Invoke(ctx, "user-1", "data-analyzer", nil); !errors.Is(err, ErrAgentProcessingFailed) {
			t.Fatalf("Invoke %d: got %v, want ErrAgentProcessingFailed", i, err)
		}
	}

	calls := runner.calls
	_, err := svc.Invoke(ctx, "user-1", "data-analyzer", nil)
	if !errors.Is(err, ErrAgentUnavailable) {
		t.Fatalf("Invoke with open breaker: got %v, want ErrAgentUnavailable", err)
	}
	if runner.calls != calls {
		t.Error("runner was called while the breaker was open")
	}

	acct, _ := w.Balance(ctx, "user-1")
	if acct.Balance != "500.00" {
		t.Errorf("balance = %q, want untouched 500.00", acct.Balance)
	}
}

func TestDebitFailureReconcilesToFailed(t *testing.T) {
	// The runner drains the wallet mid-flight, so the post-completion
	// debit finds an empty account.
	var w *wallet.Wallet
	runner := &fakeRunner{}
	runner.before = func() {
		if _, err := w.Debit(context.Background(), "user-1", "20.00", "req_raid", "drain"); err != nil {
			t.Errorf("drain: %v", err)
		}
	}
	svc, ww, store := newTestService(t, runner)
	w = ww
	ctx := context.Background()
	fund(t, w, "user-1", "20.00")

	_, err := svc.Invoke(ctx, "user-1", "data-analyzer", nil)
	if !errors.Is(err, ErrAgentProcessingFailed) {
		t.Fatalf("Invoke: got %v, want ErrAgentProcessingFailed", err)
	}

	failed, _ := store.ListByStatus(ctx, StatusFailed, 10)
	if len(failed) != 1 {
		t.Fatalf("failed invocations = %d, want 1", len(failed))
	}
	if failed[0].Error != "billing failed, no charge applied" {
		t.Errorf("error = %q", failed[0].Error)
	}
	acct, _ := w.Balance(ctx, "user-1")
	if acct.Balance != "0.00" {
		t.Errorf("balance = %q, want 0.00", acct.Balance)
	}
}

func TestSweepStuck(t *testing.T) {
	svc, _, store := newTestService(t, &fakeRunner{})
	ctx := context.Background()

	inv := &Invocation{
		ID: "inv_stuck", UserID: "user-1", AgentID: "data-analyzer",
		Status: StatusPending, Cost: "5.00",
	}
	if err := store.Create(ctx, inv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.SetStatus(ctx, inv.ID, StatusProcessing, nil, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	n, err := svc.SweepStuck(ctx, 0)
	if err != nil {
		t.Fatalf("SweepStuck: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	got, _ := store.Get(ctx, inv.ID)
	if got.Status != StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}
