package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thecyberlearn/quantum-tasks/internal/logging"
	"github.com/thecyberlearn/quantum-tasks/internal/metrics"
	"github.com/thecyberlearn/quantum-tasks/internal/money"
	"github.com/thecyberlearn/quantum-tasks/internal/payments"
	"github.com/thecyberlearn/quantum-tasks/internal/retry"
	"github.com/thecyberlearn/quantum-tasks/internal/traces"
	"github.com/thecyberlearn/quantum-tasks/internal/wallet"
)

// Service drives checkout sessions from creation through verification.
type Service struct {
	store    Store
	gateway  payments.Gateway
	wallet   *wallet.Wallet
	baseURL  string
	currency string
	lifetime time.Duration
	locks    sync.Map // session id -> *sync.Mutex
}

// NewService creates a checkout service.
func NewService(store Store, gateway payments.Gateway, w *wallet.Wallet, baseURL, currency string, lifetime time.Duration) *Service {
	return &Service{
		store:    store,
		gateway:  gateway,
		wallet:   w,
		baseURL:  baseURL,
		currency: currency,
		lifetime: lifetime,
	}
}

func (s *Service) sessionLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// VerifyResult is what a successful or replayed verification returns.
type VerifyResult struct {
	Session *Session       `json:"session"`
	Event   *wallet.Event  `json:"event,omitempty"`
	Account *wallet.Account `json:"account"`
}

// Start creates a provider session for an allow-listed top-up amount and
// records it in the created state.
func (s *Service) Start(ctx context.Context, userID string, units int64) (*Session, error) {
	ctx, span := traces.StartSpan(ctx, "checkout.Start", traces.UserID(userID))
	defer span.End()

	if !IsAllowedAmount(units) {
		return nil, ErrInvalidTopUpAmount
	}

	amount := money.Format(money.FromUnits(units))
	expiresAt := time.Now().Add(s.lifetime)

	provider, err := s.gateway.CreateSession(ctx, payments.CreateParams{
		UserID:     userID,
		Amount:     amount,
		Currency:   s.currency,
		SuccessURL: fmt.Sprintf("%s/wallet/topup/return?session_id={CHECKOUT_SESSION_ID}", s.baseURL),
		CancelURL:  fmt.Sprintf("%s/wallet/topup/cancelled", s.baseURL),
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create provider session: %w", err)
	}

	sess := &Session{
		ID:         provider.ID,
		UserID:     userID,
		Amount:     amount,
		Currency:   s.currency,
		Status:     StatusCreated,
		PaymentURL: provider.URL,
		CreatedAt:  time.Now(),
		ExpiresAt:  expiresAt,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	metrics.CheckoutSessionsTotal.WithLabelValues(StatusCreated).Inc()
	logging.L(ctx).Info("checkout session created",
		"user", userID, "session", sess.ID, "amount", amount)
	return sess, nil
}

// Verify asks the provider for the live state of a session and, on a
// confirmed payment, credits the wallet exactly once.
//
// A transient provider failure keeps the session in its current state
// and surfaces payments.ErrVerificationUnavailable; it is never read as
// "unpaid". Re-verifying an already-credited session is a no-op that
// returns the original credit.
func (s *Service) Verify(ctx context.Context, userID, sessionID string) (*VerifyResult, error) {
	ctx, span := traces.StartSpan(ctx, "checkout.Verify",
		traces.UserID(userID), traces.SessionID(sessionID))
	defer span.End()

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if sess.UserID != userID {
		return nil, ErrNotSessionOwner
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent verify may have finished.
	sess, err = s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case StatusVerifiedPaid:
		return s.creditedResult(ctx, sess)
	case StatusExpired:
		return nil, ErrSessionExpired
	}

	provider, err := s.retrieveWithRetry(ctx, sessionID)
	if err != nil {
		if errors.Is(err, payments.ErrVerificationUnavailable) {
			// State deliberately untouched: the session stays retryable.
			metrics.PaymentVerificationsTotal.WithLabelValues("transient_error").Inc()
			logging.L(ctx).Warn("payment verification unavailable",
				"session", sessionID, "error", err)
			return nil, err
		}
		return nil, err
	}

	if provider.Paid && provider.Complete {
		return s.settle(ctx, sess)
	}

	if provider.Expired {
		metrics.PaymentVerificationsTotal.WithLabelValues("unpaid").Inc()
		metrics.CheckoutSessionsTotal.WithLabelValues(StatusExpired).Inc()
		if _, err := s.store.Transition(ctx, sess.ID, StatusExpired, StatusCreated, StatusVerifiedUnpaid); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}

	// The provider answered definitively: not paid (cancelled, failed,
	// or still pending). The user may pay and re-verify later.
	metrics.PaymentVerificationsTotal.WithLabelValues("unpaid").Inc()
	metrics.CheckoutSessionsTotal.WithLabelValues(StatusVerifiedUnpaid).Inc()
	if _, err := s.store.Transition(ctx, sess.ID, StatusVerifiedUnpaid, StatusCreated); err != nil {
		return nil, err
	}
	return nil, ErrPaymentNotCompleted
}

// settle credits the wallet and marks the session verified_paid. The
// credit comes first: if we crash in between, the session looks
// unverified but the ledger's reference guard absorbs the re-credit on
// the next verify.
func (s *Service) settle(ctx context.Context, sess *Session) (*VerifyResult, error) {
	ev, err := s.wallet.Credit(ctx, sess.UserID, sess.Amount, wallet.KindTopUp, sess.ID, "wallet top-up")
	if err != nil {
		return nil, fmt.Errorf("credit wallet: %w", err)
	}

	applied, err := s.store.Transition(ctx, sess.ID, StatusVerifiedPaid,
		StatusCreated, StatusVerifiedUnpaid)
	if err != nil {
		return nil, err
	}
	if applied {
		metrics.PaymentVerificationsTotal.WithLabelValues("paid").Inc()
		metrics.CheckoutSessionsTotal.WithLabelValues(StatusVerifiedPaid).Inc()
		logging.L(ctx).Info("checkout session settled",
			"user", sess.UserID, "session", sess.ID, "amount", sess.Amount)
	}

	sess.Status = StatusVerifiedPaid
	acct, err := s.wallet.Balance(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Session: sess, Event: ev, Account: acct}, nil
}

// creditedResult serves a replayed verify of an already-settled session.
func (s *Service) creditedResult(ctx context.Context, sess *Session) (*VerifyResult, error) {
	ev, err := s.wallet.FindByReference(ctx, wallet.KindTopUp, sess.ID)
	if err != nil {
		return nil, err
	}
	acct, err := s.wallet.Balance(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Session: sess, Event: ev, Account: acct}, nil
}

func (s *Service) retrieveWithRetry(ctx context.Context, sessionID string) (*payments.Session, error) {
	var provider *payments.Session
	err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		ps, err := s.gateway.RetrieveSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, payments.ErrVerificationUnavailable) {
				return err // retryable
			}
			return retry.Permanent(err)
		}
		provider = ps
		return nil
	})
	if err != nil {
		return nil, err
	}
	return provider, nil
}

// ListSessions returns a user's recent checkout sessions.
func (s *Service) ListSessions(ctx context.Context, userID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// ExpireStale sweeps created sessions whose window has lapsed. Part of
// the optional out-of-band reconciliation pass; no ledger mutation ever
// happens here.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	n, err := s.store.ExpireBefore(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.L(ctx).Info("expired stale checkout sessions", "count", n)
		metrics.CheckoutSessionsTotal.WithLabelValues(StatusExpired).Add(float64(n))
	}
	return n, nil
}
