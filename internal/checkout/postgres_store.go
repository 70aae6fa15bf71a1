package checkout

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO checkout_sessions (id, user_id, amount, currency, status, payment_url, created_at, expires_at)
		VALUES ($1, $2, $3::NUMERIC(12,2), $4, $5, $6, $7, $8)
	`, s.ID, s.UserID, s.Amount, s.Currency, s.Status, s.PaymentURL, s.CreatedAt, s.ExpiresAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	s := &Session{}
	var verifiedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount, currency, status, payment_url, created_at, expires_at, verified_at
		FROM checkout_sessions WHERE id = $1
	`, id).Scan(&s.ID, &s.UserID, &s.Amount, &s.Currency, &s.Status, &s.PaymentURL, &s.CreatedAt, &s.ExpiresAt, &verifiedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		s.VerifiedAt = &verifiedAt.Time
	}
	return s, nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Session, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, amount, currency, status, payment_url, created_at, expires_at, verified_at
		FROM checkout_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s := &Session{}
		var verifiedAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.UserID, &s.Amount, &s.Currency, &s.Status, &s.PaymentURL, &s.CreatedAt, &s.ExpiresAt, &verifiedAt); err != nil {
			return nil, err
		}
		if verifiedAt.Valid {
			s.VerifiedAt = &verifiedAt.Time
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Transition applies a conditional status update. The WHERE clause makes
// the "at most once" transition atomic against concurrent verifiers.
func (p *PostgresStore) Transition(ctx context.Context, id, to string, allowedFrom ...string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE checkout_sessions
		SET status = $2, verified_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, to, pq.Array(allowedFrom))
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish "no such session" from "state already advanced".
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM checkout_sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrSessionNotFound
		}
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE checkout_sessions
		SET status = $1
		WHERE status = $2 AND expires_at < $3
	`, StatusExpired, StatusCreated, cutoff)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}
