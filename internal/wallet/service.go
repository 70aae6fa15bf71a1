package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/thecyberlearn/quantum-tasks/internal/logging"
	"github.com/thecyberlearn/quantum-tasks/internal/metrics"
	"github.com/thecyberlearn/quantum-tasks/internal/money"
	"github.com/thecyberlearn/quantum-tasks/internal/traces"
)

// Wallet exposes balance reads and the two safe mutation operations.
// Credit and debit for the same user are serialized through a per-user
// lock on top of the store's own atomicity, so a top-up verification and
// an agent debit racing on one account cannot interleave.
type Wallet struct {
	store Store
	locks sync.Map // userID -> *sync.Mutex
}

// New creates a wallet service over the given store.
func New(store Store) *Wallet {
	return &Wallet{store: store}
}

func (w *Wallet) userLock(userID string) *sync.Mutex {
	v, _ := w.locks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Balance returns the user's account. Unknown users get a zero account.
func (w *Wallet) Balance(ctx context.Context, userID string) (*Account, error) {
	return w.store.GetAccount(ctx, userID)
}

// HasSufficientBalance reports whether the current balance covers amount.
// Amounts <= 0 are trivially satisfiable.
func (w *Wallet) HasSufficientBalance(ctx context.Context, userID, amount string) (bool, error) {
	amt, ok := money.Parse(amount)
	if !ok {
		return false, ErrInvalidAmount
	}
	if amt.Sign() <= 0 {
		return true, nil
	}

	acct, err := w.store.GetAccount(ctx, userID)
	if err != nil {
		return false, err
	}
	bal, _ := money.Parse(acct.Balance)
	return bal.Cmp(amt) >= 0, nil
}

// Credit appends a top_up or refund event and increases the balance.
// If externalRef already has an event of that kind, the call is an
// idempotent no-op returning the prior event.
func (w *Wallet) Credit(ctx context.Context, userID, amount, kind, externalRef, description string) (*Event, error) {
	ctx, span := traces.StartSpan(ctx, "wallet.Credit",
		traces.UserID(userID), traces.Amount(amount))
	defer span.End()
	defer observeOp("credit")()

	if kind != KindTopUp && kind != KindRefund {
		return nil, ErrInvalidAmount
	}
	if !money.IsPositive(amount) {
		return nil, ErrInvalidAmount
	}

	lock := w.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	ev, err := w.store.Credit(ctx, userID, amount, kind, externalRef, description)
	if errors.Is(err, ErrDuplicateReference) {
		// Replay of an already-processed payment or refund. Not an error:
		// the caller gets the original event and nothing changes.
		logging.L(ctx).Info("duplicate credit reference absorbed",
			"user", userID, "kind", kind, "ref", externalRef)
		metrics.DuplicateReferencesTotal.WithLabelValues(kind).Inc()
		return ev, nil
	}
	if err != nil {
		return nil, err
	}

	metrics.LedgerEventsTotal.WithLabelValues(kind).Inc()
	return ev, nil
}

// Debit appends an agent_usage event and decreases the balance.
// amount is the positive cost; the recorded event amount is negative.
// Fails with ErrInsufficientBalance and no mutation when the balance
// cannot cover it. A replayed externalRef is an idempotent no-op.
func (w *Wallet) Debit(ctx context.Context, userID, amount, externalRef, description string) (*Event, error) {
	ctx, span := traces.StartSpan(ctx, "wallet.Debit",
		traces.UserID(userID), traces.Amount(amount))
	defer span.End()
	defer observeOp("debit")()

	if !money.IsPositive(amount) {
		return nil, ErrInvalidAmount
	}

	lock := w.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	ev, err := w.store.Debit(ctx, userID, amount, externalRef, description)
	if errors.Is(err, ErrDuplicateReference) {
		logging.L(ctx).Info("duplicate debit reference absorbed",
			"user", userID, "ref", externalRef)
		metrics.DuplicateReferencesTotal.WithLabelValues(KindAgentUsage).Inc()
		return ev, nil
	}
	if err != nil {
		return nil, err
	}

	metrics.LedgerEventsTotal.WithLabelValues(KindAgentUsage).Inc()
	return ev, nil
}

// Refund credits funds back, referencing the original invocation.
func (w *Wallet) Refund(ctx context.Context, userID, amount, externalRef, description string) (*Event, error) {
	return w.Credit(ctx, userID, amount, KindRefund, externalRef, description)
}

// History returns ledger events for a user, newest first.
// before bounds the page for cursor pagination; pass the zero time for
// the first page.
func (w *Wallet) History(ctx context.Context, userID string, limit int, before time.Time) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return w.store.History(ctx, userID, limit, before)
}

// FindByReference returns the event for an external reference, if any.
func (w *Wallet) FindByReference(ctx context.Context, kind, externalRef string) (*Event, error) {
	return w.store.FindByReference(ctx, kind, externalRef)
}

// AuditBalances replays every account's events against its cached balance.
// Any drift indicates a reconciliation bug with financial impact, so it is
// logged loudly and counted; callers decide whether to halt.
func (w *Wallet) AuditBalances(ctx context.Context) ([]*Drift, error) {
	drifts, err := w.store.AuditBalances(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range drifts {
		logging.L(ctx).Error("ledger invariant violation: balance != event sum",
			"user", d.UserID, "balance", d.Balance, "eventSum", d.EventSum, "diff", d.Diff)
		metrics.LedgerDriftTotal.Inc()
	}
	return drifts, nil
}
