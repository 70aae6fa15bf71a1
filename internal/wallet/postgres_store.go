package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
//
// Atomicity comes from serializable transactions plus two storage-level
// guards: a partial unique index on (kind, external_ref) that absorbs
// concurrent replays of one reference, and a CHECK (balance >= 0)
// constraint that backstops the conditional debit update.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetAccount retrieves a user's wallet. Unknown users get a zero account.
func (p *PostgresStore) GetAccount(ctx context.Context, userID string) (*Account, error) {
	acct := &Account{UserID: userID}

	err := p.db.QueryRowContext(ctx, `
		SELECT balance, updated_at FROM wallets WHERE user_id = $1
	`, userID).Scan(&acct.Balance, &acct.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Account{
			UserID:    userID,
			Balance:   "0.00",
			UpdatedAt: time.Now(),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Credit appends a credit event and increases the balance in one transaction.
func (p *PostgresStore) Credit(ctx context.Context, userID, amount, kind, externalRef, description string) (*Event, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ev := &Event{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		ExternalRef: externalRef,
		Description: description,
	}

	// Insert the event first so the unique index rejects a replayed
	// reference before the balance is touched.
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_events (id, user_id, kind, amount, external_ref, description, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(12,2), NULLIF($5, ''), $6, NOW())
		RETURNING amount, created_at
	`, ev.ID, userID, kind, amount, externalRef, description).Scan(&ev.Amount, &ev.CreatedAt)
	if isUniqueViolation(err) {
		tx.Rollback()
		prior, ferr := p.FindByReference(ctx, kind, externalRef)
		if ferr != nil || prior == nil {
			return nil, fmt.Errorf("duplicate reference lookup: %w", ferr)
		}
		return prior, ErrDuplicateReference
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}

	// Upsert balance using native NUMERIC arithmetic.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, $2::NUMERIC(12,2), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			balance    = wallets.balance + $2::NUMERIC(12,2),
			updated_at = NOW()
	`, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Debit appends a negative agent_usage event and decreases the balance.
// The conditional update plus the CHECK constraint prevent overdraft.
func (p *PostgresStore) Debit(ctx context.Context, userID, amount, externalRef, description string) (*Event, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ev := &Event{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        KindAgentUsage,
		ExternalRef: externalRef,
		Description: description,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_events (id, user_id, kind, amount, external_ref, description, created_at)
		VALUES ($1, $2, $3, -$4::NUMERIC(12,2), NULLIF($5, ''), $6, NOW())
		RETURNING amount, created_at
	`, ev.ID, userID, KindAgentUsage, amount, externalRef, description).Scan(&ev.Amount, &ev.CreatedAt)
	if isUniqueViolation(err) {
		tx.Rollback()
		prior, ferr := p.FindByReference(ctx, KindAgentUsage, externalRef)
		if ferr != nil || prior == nil {
			return nil, fmt.Errorf("duplicate reference lookup: %w", ferr)
		}
		return prior, ErrDuplicateReference
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}

	// Conditional decrement: only applies when the balance covers it.
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets SET
			balance    = balance - $2::NUMERIC(12,2),
			updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2::NUMERIC(12,2)
	`, userID, amount)
	if err != nil {
		if isCheckViolation(err) {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Missing wallet row or balance below the debit amount.
		return nil, ErrInsufficientBalance
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ev, nil
}

// History retrieves ledger events for a user, newest first. A non-zero
// before bounds the page for cursor pagination.
func (p *PostgresStore) History(ctx context.Context, userID string, limit int, before time.Time) ([]*Event, error) {
	query := `
		SELECT id, user_id, kind, amount, external_ref, description, created_at
		FROM ledger_events
		WHERE user_id = $1
	`
	args := []any{userID}
	if !before.IsZero() {
		query += ` AND created_at < $2 ORDER BY created_at DESC LIMIT $3`
		args = append(args, before, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// FindByReference returns the event holding an external reference, or nil.
func (p *PostgresStore) FindByReference(ctx context.Context, kind, externalRef string) (*Event, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, kind, amount, external_ref, description, created_at
		FROM ledger_events
		WHERE kind = $1 AND external_ref = $2
	`, kind, externalRef)

	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// AuditBalances returns every account whose cached balance disagrees with
// the sum of its ledger events.
func (p *PostgresStore) AuditBalances(ctx context.Context) ([]*Drift, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT w.user_id, w.balance, COALESCE(SUM(e.amount), 0) AS event_sum,
		       w.balance - COALESCE(SUM(e.amount), 0) AS diff
		FROM wallets w
		LEFT JOIN ledger_events e ON e.user_id = w.user_id
		GROUP BY w.user_id, w.balance
		HAVING w.balance <> COALESCE(SUM(e.amount), 0)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []*Drift
	for rows.Next() {
		d := &Drift{}
		if err := rows.Scan(&d.UserID, &d.Balance, &d.EventSum, &d.Diff); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	ev := &Event{}
	var externalRef, description sql.NullString
	if err := row.Scan(&ev.ID, &ev.UserID, &ev.Kind, &ev.Amount, &externalRef, &description, &ev.CreatedAt); err != nil {
		return nil, err
	}
	ev.ExternalRef = externalRef.String
	ev.Description = description.String
	return ev, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23514"
}
