package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/thecyberlearn/quantum-tasks/internal/money"
)

// StripeGateway implements Gateway on Stripe Checkout.
type StripeGateway struct {
	sc *client.API
}

// NewStripeGateway creates a gateway with its own API client and a bounded
// HTTP timeout, so a hung provider call cannot pin a request goroutine.
func NewStripeGateway(secretKey string) *StripeGateway {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	})
	sc := &client.API{}
	sc.Init(secretKey, &stripe.Backends{API: backend})
	return &StripeGateway{sc: sc}
}

// CreateSession registers a Stripe Checkout session for a wallet top-up.
func (g *StripeGateway) CreateSession(ctx context.Context, p CreateParams) (*Session, error) {
	minor, ok := money.MinorUnits(p.Amount)
	if !ok || minor <= 0 {
		return nil, fmt.Errorf("invalid top-up amount %q", p.Amount)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(p.UserID),
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.Currency),
					UnitAmount: stripe.Int64(minor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Wallet top-up"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if !p.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(p.ExpiresAt.Unix())
	}
	params.Context = ctx

	sess, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, classifyStripeErr(err)
	}
	return fromStripeSession(sess), nil
}

// RetrieveSession fetches the live state of a Checkout session.
func (g *StripeGateway) RetrieveSession(ctx context.Context, id string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := g.sc.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, classifyStripeErr(err)
	}
	return fromStripeSession(sess), nil
}

func fromStripeSession(s *stripe.CheckoutSession) *Session {
	return &Session{
		ID:                s.ID,
		URL:               s.URL,
		ClientReferenceID: s.ClientReferenceID,
		Amount:            minorToDecimal(s.AmountTotal),
		Currency:          string(s.Currency),
		Paid:              s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Complete:          s.Status == stripe.CheckoutSessionStatusComplete,
		Expired:           s.Status == stripe.CheckoutSessionStatusExpired,
	}
}

func minorToDecimal(minor int64) string {
	v, _ := money.Parse(fmt.Sprintf("%d.%02d", minor/100, minor%100))
	return money.Format(v)
}

// classifyStripeErr separates "the provider answered" from "the provider
// could not answer". Only the latter is retryable.
func classifyStripeErr(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return ErrSessionNotFound
		}
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
		}
		return err
	}
	// Transport failure, timeout, or cancelled context: no answer at all.
	return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
}
