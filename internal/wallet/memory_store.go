package wallet

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thecyberlearn/quantum-tasks/internal/money"
)

// MemoryStore is an in-memory wallet store for demo/development mode.
type MemoryStore struct {
	accounts map[string]*Account
	events   []*Event
	byRef    map[string]*Event // kind + ":" + externalRef -> event
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byRef:    make(map[string]*Event),
	}
}

func refKey(kind, externalRef string) string {
	return kind + ":" + externalRef
}

func (m *MemoryStore) GetAccount(ctx context.Context, userID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if acct, ok := m.accounts[userID]; ok {
		cp := *acct
		return &cp, nil
	}
	return &Account{
		UserID:    userID,
		Balance:   "0.00",
		UpdatedAt: time.Now(),
	}, nil
}

func (m *MemoryStore) Credit(ctx context.Context, userID, amount, kind, externalRef, description string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if externalRef != "" {
		if prior, ok := m.byRef[refKey(kind, externalRef)]; ok {
			cp := *prior
			return &cp, ErrDuplicateReference
		}
	}

	acct, ok := m.accounts[userID]
	if !ok {
		acct = &Account{UserID: userID, Balance: "0.00"}
		m.accounts[userID] = acct
	}

	bal, _ := money.Parse(acct.Balance)
	add, _ := money.Parse(amount)
	bal.Add(bal, add)
	acct.Balance = money.Format(bal)
	acct.UpdatedAt = time.Now()

	ev := &Event{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		Amount:      money.Format(add),
		ExternalRef: externalRef,
		Description: description,
		CreatedAt:   time.Now(),
	}
	m.events = append(m.events, ev)
	if externalRef != "" {
		m.byRef[refKey(kind, externalRef)] = ev
	}

	cp := *ev
	return &cp, nil
}

func (m *MemoryStore) Debit(ctx context.Context, userID, amount, externalRef, description string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if externalRef != "" {
		if prior, ok := m.byRef[refKey(KindAgentUsage, externalRef)]; ok {
			cp := *prior
			return &cp, ErrDuplicateReference
		}
	}

	acct, ok := m.accounts[userID]
	if !ok {
		return nil, ErrInsufficientBalance
	}

	bal, _ := money.Parse(acct.Balance)
	sub, _ := money.Parse(amount)
	if bal.Cmp(sub) < 0 {
		return nil, ErrInsufficientBalance
	}

	bal.Sub(bal, sub)
	acct.Balance = money.Format(bal)
	acct.UpdatedAt = time.Now()

	ev := &Event{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        KindAgentUsage,
		Amount:      money.Format(new(big.Int).Neg(sub)),
		ExternalRef: externalRef,
		Description: description,
		CreatedAt:   time.Now(),
	}
	m.events = append(m.events, ev)
	if externalRef != "" {
		m.byRef[refKey(KindAgentUsage, externalRef)] = ev
	}

	cp := *ev
	return &cp, nil
}

func (m *MemoryStore) History(ctx context.Context, userID string, limit int, before time.Time) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Event
	for i := len(m.events) - 1; i >= 0 && len(result) < limit; i-- {
		ev := m.events[i]
		if ev.UserID != userID {
			continue
		}
		if !before.IsZero() && !ev.CreatedAt.Before(before) {
			continue
		}
		cp := *ev
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) FindByReference(ctx context.Context, kind, externalRef string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ev, ok := m.byRef[refKey(kind, externalRef)]; ok {
		cp := *ev
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) AuditBalances(ctx context.Context) ([]*Drift, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sums := make(map[string]*big.Int)
	for _, ev := range m.events {
		amt, _ := money.Parse(ev.Amount)
		if sum, ok := sums[ev.UserID]; ok {
			sum.Add(sum, amt)
		} else {
			sums[ev.UserID] = amt
		}
	}

	var drifts []*Drift
	for userID, acct := range m.accounts {
		bal, _ := money.Parse(acct.Balance)
		sum, ok := sums[userID]
		if !ok {
			sum = big.NewInt(0)
		}
		if bal.Cmp(sum) != 0 {
			drifts = append(drifts, &Drift{
				UserID:   userID,
				Balance:  money.Format(bal),
				EventSum: money.Format(sum),
				Diff:     money.Format(new(big.Int).Sub(bal, sum)),
			})
		}
	}
	return drifts, nil
}
