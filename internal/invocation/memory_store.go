package invocation

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a thread-safe in-memory invocation store for demo mode
// and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	invocations map[string]*Invocation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{invocations: make(map[string]*Invocation)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, inv *Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *inv
	cp.CreatedAt = time.Now()
	m.invocations[inv.ID] = &cp
	inv.CreatedAt = cp.CreatedAt
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invocations[id]
	if !ok {
		return nil, ErrInvocationNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Invocation
	for _, inv := range m.invocations {
		if inv.UserID == userID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status string, limit int) ([]*Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Invocation
	for _, inv := range m.invocations {
		if inv.Status == status {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id, status string, output json.RawMessage, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invocations[id]
	if !ok {
		return ErrInvocationNotFound
	}
	inv.Status = status
	if output != nil {
		inv.Output = output
	}
	inv.Error = errMsg
	if status == StatusCompleted || status == StatusFailed {
		now := time.Now()
		inv.CompletedAt = &now
	}
	return nil
}

func (m *MemoryStore) FailStuck(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, inv := range m.invocations {
		if inv.Status == StatusProcessing && inv.CreatedAt.Before(cutoff) {
			inv.Status = StatusFailed
			inv.Error = reason
			now := time.Now()
			inv.CompletedAt = &now
			n++
		}
	}
	return n, nil
}

func sortNewestFirst(list []*Invocation) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
