package invocation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed invocation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Create(ctx context.Context, inv *Invocation) error {
	input := inv.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO agent_invocations (id, user_id, agent_id, status, cost, input)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(12,2), $6)
		RETURNING created_at
	`, inv.ID, inv.UserID, inv.AgentID, inv.Status, inv.Cost, []byte(input)).Scan(&inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("create invocation: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Invocation, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, agent_id, status, cost::TEXT, input, output,
		       COALESCE(error, ''), created_at, completed_at
		FROM agent_invocations WHERE id = $1
	`, id)
	return scanInvocation(row)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Invocation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, agent_id, status, cost::TEXT, input, output,
		       COALESCE(error, ''), created_at, completed_at
		FROM agent_invocations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	return collectInvocations(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status string, limit int) ([]*Invocation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, agent_id, status, cost::TEXT, input, output,
		       COALESCE(error, ''), created_at, completed_at
		FROM agent_invocations
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list invocations by status: %w", err)
	}
	return collectInvocations(rows)
}

func (p *PostgresStore) SetStatus(ctx context.Context, id, status string, output json.RawMessage, errMsg string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE agent_invocations
		SET status = $2,
		    output = COALESCE($3, output),
		    error = NULLIF($4, ''),
		    completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN NOW() ELSE completed_at END
		WHERE id = $1
	`, id, status, nullableJSON(output), errMsg)
	if err != nil {
		return fmt.Errorf("set invocation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvocationNotFound
	}
	return nil
}

func (p *PostgresStore) FailStuck(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE agent_invocations
		SET status = 'failed', error = $2, completed_at = NOW()
		WHERE status = 'processing' AND created_at < $1
	`, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("fail stuck invocations: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func scanInvocation(row *sql.Row) (*Invocation, error) {
	var inv Invocation
	var input, output []byte
	var completedAt sql.NullTime
	err := row.Scan(&inv.ID, &inv.UserID, &inv.AgentID, &inv.Status, &inv.Cost,
		&input, &output, &inv.Error, &inv.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan invocation: %w", err)
	}
	inv.Input = input
	inv.Output = output
	if completedAt.Valid {
		inv.CompletedAt = &completedAt.Time
	}
	return &inv, nil
}

func collectInvocations(rows *sql.Rows) ([]*Invocation, error) {
	defer rows.Close()

	var out []*Invocation
	for rows.Next() {
		var inv Invocation
		var input, output []byte
		var completedAt sql.NullTime
		if err := rows.Scan(&inv.ID, &inv.UserID, &inv.AgentID, &inv.Status, &inv.Cost,
			&input, &output, &inv.Error, &inv.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		inv.Input = input
		inv.Output = output
		if completedAt.Valid {
			inv.CompletedAt = &completedAt.Time
		}
		out = append(out, &inv)
	}
	return out, rows.Err()
}
