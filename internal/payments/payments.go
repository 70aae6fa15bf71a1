// Package payments wraps the external payment provider's session
// creation and verification calls.
//
// The rest of the application trusts only RetrieveSession's live answer
// about payment state, never a client-supplied claim of success. Provider
// outages are reported as ErrVerificationUnavailable, which callers must
// keep distinct from a definitive "not paid" answer.
package payments

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrVerificationUnavailable means the provider could not be reached
	// or answered with a server-side failure. The payment may well have
	// succeeded; the caller should retry, never treat this as unpaid.
	ErrVerificationUnavailable = errors.New("payment verification temporarily unavailable")

	// ErrSessionNotFound means the provider definitively does not know
	// the session id.
	ErrSessionNotFound = errors.New("payment session not found")
)

// CreateParams describes a checkout session to create.
type CreateParams struct {
	UserID     string
	Amount     string // decimal, e.g. "50.00"
	Currency   string // ISO code, e.g. "aed"
	SuccessURL string
	CancelURL  string
	ExpiresAt  time.Time
}

// Session is the provider's view of a checkout session.
type Session struct {
	ID                string
	URL               string // hosted payment page, set on create
	ClientReferenceID string // our user id, echoed back by the provider
	Amount            string // decimal
	Currency          string
	Paid              bool // payment captured
	Complete          bool // session finished (user went through checkout)
	Expired           bool // session lapsed without payment
}

// Gateway is the boundary to the payment provider.
type Gateway interface {
	// CreateSession registers a new checkout session and returns it with
	// the hosted payment page URL filled in.
	CreateSession(ctx context.Context, p CreateParams) (*Session, error)

	// RetrieveSession fetches the live state of a session. A definitive
	// "unpaid" answer comes back as a Session with Paid == false, not as
	// an error; errors mean the answer is unknown.
	RetrieveSession(ctx context.Context, id string) (*Session, error)
}
