package agents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL. The catalog is seeded by
// migration; runtime writes are admin operations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed catalog.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Create(ctx context.Context, agent *Agent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, description, kind, endpoint, api_key_env, cost, active)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
	`, agent.ID, agent.Name, agent.Description, agent.Kind, agent.Endpoint,
		agent.APIKeyEnv, agent.Cost, agent.Active)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAgentExists
		}
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Agent, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, description, kind, endpoint, COALESCE(api_key_env, ''),
		       cost::TEXT, active, created_at, updated_at
		FROM agents WHERE id = $1
	`, id)
	return scanAgent(row)
}

func (p *PostgresStore) List(ctx context.Context, activeOnly bool) ([]*Agent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description, kind, endpoint, COALESCE(api_key_env, ''),
		       cost::TEXT, active, created_at, updated_at
		FROM agents
		WHERE ($1 = FALSE OR active)
		ORDER BY id
	`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, agent *Agent) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE agents
		SET name = $2, description = $3, kind = $4, endpoint = $5,
		    api_key_env = NULLIF($6, ''), cost = $7, active = $8,
		    updated_at = NOW()
		WHERE id = $1
	`, agent.ID, agent.Name, agent.Description, agent.Kind, agent.Endpoint,
		agent.APIKeyEnv, agent.Cost, agent.Active)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return requireRow(res)
}

func (p *PostgresStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE agents SET active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("set agent active: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Kind, &a.Endpoint,
		&a.APIKeyEnv, &a.Cost, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return &a, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAgentNotFound
	}
	return nil
}
