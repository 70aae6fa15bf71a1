package invocation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thecyberlearn/quantum-tasks/internal/agents"
	"github.com/thecyberlearn/quantum-tasks/internal/circuitbreaker"
	"github.com/thecyberlearn/quantum-tasks/internal/idgen"
	"github.com/thecyberlearn/quantum-tasks/internal/logging"
	"github.com/thecyberlearn/quantum-tasks/internal/metrics"
	"github.com/thecyberlearn/quantum-tasks/internal/traces"
	"github.com/thecyberlearn/quantum-tasks/internal/wallet"
)

// Service orchestrates agent runs and their billing.
type Service struct {
	store   Store
	catalog agents.Store
	wallet  *wallet.Wallet
	breaker *circuitbreaker.Breaker
	runners map[string]Runner
	timeout time.Duration
}

// NewService wires the invocation controller. The runners table maps
// agent kinds to processing backends and is fixed for the service's
// lifetime.
func NewService(store Store, catalog agents.Store, w *wallet.Wallet,
	breaker *circuitbreaker.Breaker, runners map[string]Runner, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{
		store:   store,
		catalog: catalog,
		wallet:  w,
		breaker: breaker,
		runners: runners,
		timeout: timeout,
	}
}

// InvokeResult is the successful outcome of a run: the output and the
// balance after billing.
type InvokeResult struct {
	Invocation *Invocation     `json:"invocation"`
	Output     json.RawMessage `json:"output"`
	Balance    string          `json:"balance"`
}

// Invoke runs an agent for a user. Billing follows the outcome: the
// balance is pre-checked before any work starts, and the debit is the
// last action after a successful run. A failed run is recorded but
// never charged.
func (s *Service) Invoke(ctx context.Context, userID, agentID string, payload json.RawMessage) (*InvokeResult, error) {
	ctx, span := traces.StartSpan(ctx, "invocation.Invoke",
		traces.UserID(userID), traces.AgentID(agentID))
	defer span.End()

	agent, err := s.catalog.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, agents.ErrAgentInactive
	}
	runner, ok := s.runners[agent.Kind]
	if !ok {
		return nil, fmt.Errorf("invocation: no runner for kind %q", agent.Kind)
	}

	ok, err = s.wallet.HasSufficientBalance(ctx, userID, agent.Cost)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, wallet.ErrInsufficientBalance
	}

	inv := &Invocation{
		ID:      idgen.WithPrefix("inv_"),
		UserID:  userID,
		AgentID: agent.ID,
		Status:  StatusPending,
		Cost:    agent.Cost,
		Input:   payload,
	}
	if err := s.store.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invocation: %w", err)
	}
	span.SetAttributes(traces.InvocationID(inv.ID))

	if !s.breaker.Allow(agent.ID) {
		s.fail(ctx, inv, "agent circuit open")
		return nil, ErrAgentUnavailable
	}

	if err := s.store.SetStatus(ctx, inv.ID, StatusProcessing, nil, ""); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := runner.Process(runCtx, agent, payload)
	metrics.InvocationDuration.WithLabelValues(agent.ID).Observe(time.Since(start).Seconds())

	if err != nil {
		s.breaker.RecordFailure(agent.ID)
		s.fail(ctx, inv, err.Error())
		logging.L(ctx).Warn("agent processing failed",
			"invocation", inv.ID, "agent", agent.ID, "user", userID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrAgentProcessingFailed, err)
	}
	s.breaker.RecordSuccess(agent.ID)

	if err := s.store.SetStatus(ctx, inv.ID, StatusCompleted, result.Output, ""); err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}
	metrics.InvocationsTotal.WithLabelValues(agent.ID, StatusCompleted).Inc()

	// The debit is last. The invocation id is the ledger reference, so a
	// retried settlement can never double-charge.
	ev, err := s.wallet.Debit(ctx, userID, agent.Cost, inv.ID,
		fmt.Sprintf("agent usage: %s", agent.Name))
	if err != nil {
		// Completed work we could not bill. Walk the run back to failed
		// so the user is made whole, and flag it for reconciliation.
		metrics.UnbilledCompletionsTotal.Inc()
		logging.L(ctx).Error("debit failed after completed invocation",
			"invocation", inv.ID, "agent", agent.ID, "user", userID,
			"cost", agent.Cost, "error", err)
		s.fail(ctx, inv, "billing failed, no charge applied")
		return nil, fmt.Errorf("%w: billing failed", ErrAgentProcessingFailed)
	}

	acct, err := s.wallet.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	logging.L(ctx).Info("agent invocation completed",
		"invocation", inv.ID, "agent", agent.ID, "user", userID,
		"cost", agent.Cost, "event", ev.ID, "latency_ms", result.LatencyMs)

	done, err := s.store.Get(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return &InvokeResult{Invocation: done, Output: result.Output, Balance: acct.Balance}, nil
}

func (s *Service) fail(ctx context.Context, inv *Invocation, reason string) {
	metrics.InvocationsTotal.WithLabelValues(inv.AgentID, StatusFailed).Inc()
	if err := s.store.SetStatus(ctx, inv.ID, StatusFailed, nil, reason); err != nil {
		logging.L(ctx).Error("failed to record invocation failure",
			"invocation", inv.ID, "error", err)
	}
}

// Get returns one invocation, scoped to its owner.
func (s *Service) Get(ctx context.Context, userID, id string) (*Invocation, error) {
	inv, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.UserID != userID {
		return nil, ErrInvocationNotFound
	}
	return inv, nil
}

// History returns a user's recent invocations.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*Invocation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// SweepStuck fails processing invocations older than maxAge. Runs from
// the reconciliation pass; swept runs were never debited.
func (s *Service) SweepStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := s.store.FailStuck(ctx, time.Now().Add(-maxAge), "processing timed out")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.L(ctx).Warn("swept stuck invocations", "count", n)
	}
	return n, nil
}
