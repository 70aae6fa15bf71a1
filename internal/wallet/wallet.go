// Package wallet tracks user balances on the platform.
//
// The ledger is the source of truth: every balance change is an immutable
// event, and the cached balance on the account row always equals the sum
// of committed events. Events carrying an external reference (a payment
// session id or an invocation id) are unique per (kind, reference), which
// makes replays of the same credit or debit harmless no-ops.
package wallet

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateReference  = errors.New("external reference already processed")
	ErrLedgerDrift         = errors.New("balance does not match ledger event sum")
)

// Event kinds. Credits are positive amounts, agent usage is negative.
const (
	KindTopUp      = "top_up"
	KindAgentUsage = "agent_usage"
	KindRefund     = "refund"
)

// Event is one immutable ledger record.
type Event struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Kind        string    `json:"kind"`
	Amount      string    `json:"amount"` // signed decimal, e.g. "50.00" or "-8.00"
	ExternalRef string    `json:"externalRef,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Account is a user's wallet with its cached balance.
type Account struct {
	UserID    string    `json:"userId"`
	Balance   string    `json:"balance"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Drift describes an account whose cached balance disagrees with the
// sum of its ledger events.
type Drift struct {
	UserID    string `json:"userId"`
	Balance   string `json:"balance"`
	EventSum  string `json:"eventSum"`
	Diff      string `json:"diff"`
}

// Store persists accounts and ledger events.
//
// Credit and Debit must be atomic: the uniqueness check on
// (kind, external reference), the event append, and the balance update
// happen as one unit relative to concurrent calls. When the reference
// was already used, both return the existing event with
// ErrDuplicateReference and change nothing.
type Store interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
	Credit(ctx context.Context, userID, amount, kind, externalRef, description string) (*Event, error)
	Debit(ctx context.Context, userID, amount, externalRef, description string) (*Event, error)
	History(ctx context.Context, userID string, limit int, before time.Time) ([]*Event, error)
	FindByReference(ctx context.Context, kind, externalRef string) (*Event, error)
	AuditBalances(ctx context.Context) ([]*Drift, error)
}
