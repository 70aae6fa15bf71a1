package wallet

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestWallet() *Wallet {
	return New(NewMemoryStore())
}

func TestCreditIncreasesBalance(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	ev, err := w.Credit(ctx, "user1", "50.00", KindTopUp, "cs_abc", "top-up")
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if ev.Amount != "50.00" {
		t.Errorf("event amount = %q, want 50.00", ev.Amount)
	}

	acct, err := w.Balance(ctx, "user1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if acct.Balance != "50.00" {
		t.Errorf("balance = %q, want 50.00", acct.Balance)
	}
}

func TestCreditIdempotentOnSameReference(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	first, err := w.Credit(ctx, "user1", "50.00", KindTopUp, "cs_abc", "top-up")
	if err != nil {
		t.Fatalf("first Credit failed: %v", err)
	}

	// Replay: same session id must be a no-op returning the prior event.
	second, err := w.Credit(ctx, "user1", "50.00", KindTopUp, "cs_abc", "top-up")
	if err != nil {
		t.Fatalf("replayed Credit returned error: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("replay returned a new event: %s vs %s", second.ID, first.ID)
	}

	acct, _ := w.Balance(ctx, "user1")
	if acct.Balance != "50.00" {
		t.Errorf("balance after replay = %q, want 50.00", acct.Balance)
	}

	events, _ := w.History(ctx, "user1", 50, time.Time{})
	if len(events) != 1 {
		t.Errorf("expected exactly 1 ledger event, got %d", len(events))
	}
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	for _, amount := range []string{"0", "-5.00", "garbage"} {
		if _, err := w.Credit(ctx, "user1", amount, KindTopUp, "", ""); err != ErrInvalidAmount {
			t.Errorf("Credit(%q) err = %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestDebitDecreasesBalance(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	w.Credit(ctx, "user1", "10.00", KindTopUp, "cs_1", "top-up")

	ev, err := w.Debit(ctx, "user1", "8.00", "inv_1", "weather agent")
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if ev.Amount != "-8.00" {
		t.Errorf("debit event amount = %q, want -8.00", ev.Amount)
	}

	acct, _ := w.Balance(ctx, "user1")
	if acct.Balance != "2.00" {
		t.Errorf("balance = %q, want 2.00", acct.Balance)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	w.Credit(ctx, "user1", "5.00", KindTopUp, "cs_1", "top-up")

	if _, err := w.Debit(ctx, "user1", "8.00", "inv_1", "agent"); err != ErrInsufficientBalance {
		t.Fatalf("Debit err = %v, want ErrInsufficientBalance", err)
	}

	// No mutation occurred.
	acct, _ := w.Balance(ctx, "user1")
	if acct.Balance != "5.00" {
		t.Errorf("balance = %q, want 5.00", acct.Balance)
	}
	events, _ := w.History(ctx, "user1", 50, time.Time{})
	if len(events) != 1 {
		t.Errorf("expected only the top-up event, got %d events", len(events))
	}
}

func TestDebitUnknownAccount(t *testing.T) {
	w := newTestWallet()

	if _, err := w.Debit(context.Background(), "nobody", "1.00", "inv_1", ""); err != ErrInsufficientBalance {
		t.Fatalf("Debit on unknown account err = %v, want ErrInsufficientBalance", err)
	}
}

func TestDebitIdempotentOnSameReference(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	w.Credit(ctx, "user1", "20.00", KindTopUp, "cs_1", "top-up")

	first, err := w.Debit(ctx, "user1", "8.00", "inv_1", "agent")
	if err != nil {
		t.Fatalf("first Debit failed: %v", err)
	}
	second, err := w.Debit(ctx, "user1", "8.00", "inv_1", "agent")
	if err != nil {
		t.Fatalf("replayed Debit returned error: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("replay returned a new event")
	}

	acct, _ := w.Balance(ctx, "user1")
	if acct.Balance != "12.00" {
		t.Errorf("balance = %q, want 12.00", acct.Balance)
	}
}

func TestHasSufficientBalance(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	w.Credit(ctx, "user1", "10.00", KindTopUp, "cs_1", "top-up")

	ok, err := w.HasSufficientBalance(ctx, "user1", "8.00")
	if err != nil || !ok {
		t.Errorf("HasSufficientBalance(8.00) = %v, %v; want true", ok, err)
	}
	ok, _ = w.HasSufficientBalance(ctx, "user1", "10.01")
	if ok {
		t.Error("HasSufficientBalance(10.01) = true, want false")
	}
	// Non-positive amounts are trivially satisfiable.
	ok, _ = w.HasSufficientBalance(ctx, "user1", "0")
	if !ok {
		t.Error("HasSufficientBalance(0) = false, want true")
	}
	ok, _ = w.HasSufficientBalance(ctx, "stranger", "0")
	if !ok {
		t.Error("HasSufficientBalance(0) for unknown user = false, want true")
	}
}

func TestRefundCreditsBack(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	w.Credit(ctx, "user1", "10.00", KindTopUp, "cs_1", "top-up")
	w.Debit(ctx, "user1", "8.00", "inv_1", "agent")

	if _, err := w.Refund(ctx, "user1", "8.00", "inv_1", "goodwill refund"); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}

	acct, _ := w.Balance(ctx, "user1")
	if acct.Balance != "10.00" {
		t.Errorf("balance = %q, want 10.00", acct.Balance)
	}

	// Refund replay for the same invocation is a no-op.
	w.Refund(ctx, "user1", "8.00", "inv_1", "goodwill refund")
	acct, _ = w.Balance(ctx, "user1")
	if acct.Balance != "10.00" {
		t.Errorf("balance after refund replay = %q, want 10.00", acct.Balance)
	}
}

// Two requests race: a 50-unit top-up verification and an 8-unit agent
// debit, starting from balance 10. Whatever the interleaving, the final
// balance must be exactly 52 with both events present.
func TestConcurrentCreditAndDebit(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	w.Credit(ctx, "user1", "10.00", KindTopUp, "cs_seed", "seed")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := w.Credit(ctx, "user1", "50.00", KindTopUp, "cs_topup", "top-up"); err != nil {
			t.Errorf("concurrent Credit failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := w.Debit(ctx, "user1", "8.00", "inv_race", "agent"); err != nil {
			t.Errorf("concurrent Debit failed: %v", err)
		}
	}()
	wg.Wait()

	acct, _ := w.Balance(ctx, "user1")
	if acct.Balance != "52.00" {
		t.Errorf("final balance = %q, want 52.00", acct.Balance)
	}
	events, _ := w.History(ctx, "user1", 50, time.Time{})
	if len(events) != 3 {
		t.Errorf("expected 3 ledger events, got %d", len(events))
	}
}

// Many goroutines replaying the same top-up session must produce exactly
// one credit.
func TestConcurrentDuplicateCredits(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.Credit(ctx, "user1", "50.00", KindTopUp, "cs_same", "top-up"); err != nil {
				t.Errorf("Credit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	acct, _ := w.Balance(ctx, "user1")
	if acct.Balance != "50.00" {
		t.Errorf("balance = %q, want 50.00", acct.Balance)
	}
	events, _ := w.History(ctx, "user1", 50, time.Time{})
	if len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
}

func TestBalanceEqualsEventSum(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	w.Credit(ctx, "user1", "100.00", KindTopUp, "cs_1", "top-up")
	w.Debit(ctx, "user1", "8.00", "inv_1", "agent")
	w.Debit(ctx, "user1", "8.00", "inv_2", "agent")
	w.Refund(ctx, "user1", "8.00", "inv_2", "refund")

	drifts, err := w.AuditBalances(ctx)
	if err != nil {
		t.Fatalf("AuditBalances failed: %v", err)
	}
	if len(drifts) != 0 {
		t.Errorf("expected no drift, got %+v", drifts)
	}

	acct, _ := w.Balance(ctx, "user1")
	if acct.Balance != "92.00" {
		t.Errorf("balance = %q, want 92.00", acct.Balance)
	}
}

func TestHistoryOrderAndLimit(t *testing.T) {
	w := newTestWallet()
	ctx := context.Background()

	w.Credit(ctx, "user1", "10.00", KindTopUp, "cs_1", "first")
	w.Credit(ctx, "user1", "20.00", KindTopUp, "cs_2", "second")
	w.Credit(ctx, "user1", "30.00", KindTopUp, "cs_3", "third")

	events, err := w.History(ctx, "user1", 2, time.Time{})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Description != "third" {
		t.Errorf("expected newest first, got %q", events[0].Description)
	}
}
