// Package checkout implements the create-then-verify top-up flow.
//
// A checkout session is created against the payment provider for one of
// the fixed menu amounts, the user pays on the provider's hosted page,
// and crediting happens only when the returning user's session is
// verified live against the provider. No webhook delivery is involved:
// a payment is reconciled when (and only when) someone asks us to verify
// the session, and the wallet's reference guard makes repeated
// verification harmless.
package checkout

import (
	"context"
	"errors"
	"time"
)

// Session statuses.
const (
	StatusCreated        = "created"
	StatusVerifiedPaid   = "verified_paid"
	StatusVerifiedUnpaid = "verified_unpaid"
	StatusExpired        = "expired"
)

var (
	ErrInvalidTopUpAmount  = errors.New("top-up amount not in the allowed menu")
	ErrSessionNotFound     = errors.New("checkout session not found")
	ErrNotSessionOwner     = errors.New("checkout session belongs to another user")
	ErrSessionExpired      = errors.New("checkout session expired")
	ErrPaymentNotCompleted = errors.New("payment not completed")
)

// TopUpAmounts is the fixed menu of allowed top-up values in whole
// currency units. Arbitrary amounts are rejected to bound the fraud
// surface and keep pricing communication simple.
var TopUpAmounts = []int64{10, 50, 100, 500}

// IsAllowedAmount reports whether units is on the top-up menu.
func IsAllowedAmount(units int64) bool {
	for _, a := range TopUpAmounts {
		if a == units {
			return true
		}
	}
	return false
}

// Session is our record of one top-up attempt. The ID is the payment
// provider's opaque session id, which doubles as the ledger's external
// reference for the eventual credit.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Amount     string     `json:"amount"`
	Currency   string     `json:"currency"`
	Status     string     `json:"status"`
	PaymentURL string     `json:"paymentUrl,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
}

// Store persists checkout sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Session, error)

	// Transition moves a session to status if its current status is one
	// of allowedFrom, returning whether the update applied.
	Transition(ctx context.Context, id, to string, allowedFrom ...string) (bool, error)

	// ExpireBefore marks every still-created session with an expiry
	// before cutoff as expired, returning how many were swept.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int, error)
}
