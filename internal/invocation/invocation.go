// Package invocation runs catalog agents on behalf of users and couples
// the outcome to billing: a wallet debit happens only after processing
// succeeds, and a failed run never charges.
package invocation

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Invocation statuses. pending and processing are transient; completed
// and failed are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var (
	ErrInvocationNotFound    = errors.New("invocation: not found")
	ErrAgentProcessingFailed = errors.New("invocation: agent processing failed")
	ErrAgentUnavailable      = errors.New("invocation: agent temporarily unavailable")
)

// Invocation is one run of an agent for a user. Cost is captured at
// creation so a later catalog price change never reprices an old run.
type Invocation struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	AgentID     string          `json:"agentId"`
	Status      string          `json:"status"`
	Cost        string          `json:"cost"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Store persists invocations.
type Store interface {
	Create(ctx context.Context, inv *Invocation) error
	Get(ctx context.Context, id string) (*Invocation, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Invocation, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*Invocation, error)

	// SetStatus moves an invocation to status, recording output or an
	// error message and stamping CompletedAt on terminal states.
	SetStatus(ctx context.Context, id, status string, output json.RawMessage, errMsg string) error

	// FailStuck marks processing invocations older than cutoff as
	// failed, returning how many were swept. Covers crashes between
	// dispatch and settlement; no debit ever happened for these.
	FailStuck(ctx context.Context, cutoff time.Time, reason string) (int, error)
}
