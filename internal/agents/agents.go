// Package agents holds the catalog of AI agents users can invoke.
//
// Each agent is a priced entry pointing at a processing backend: either
// an automation webhook or a third-party REST API. The catalog is what
// the invocation layer prices against; it never touches the ledger
// itself.
package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thecyberlearn/quantum-tasks/internal/money"
	"github.com/thecyberlearn/quantum-tasks/internal/security"
	"github.com/thecyberlearn/quantum-tasks/internal/validation"
)

var (
	ErrAgentNotFound = errors.New("agents: agent not found")
	ErrAgentExists   = errors.New("agents: agent already exists")
	ErrAgentInactive = errors.New("agents: agent is not active")
)

// Agent kinds select the processing backend.
const (
	KindWebhook = "webhook"
	KindAPI     = "api"
)

// Agent is one catalog entry. ID is a URL-safe slug.
type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Kind        string    `json:"kind"`
	Endpoint    string    `json:"-"`
	APIKeyEnv   string    `json:"-"`
	Cost        string    `json:"cost"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks a catalog entry before it is stored.
func (a *Agent) Validate() error {
	if errs := validation.Validate(
		validation.Required("id", a.ID),
		validation.Required("name", a.Name),
		validation.MaxLength("name", a.Name, 200),
		validation.MaxLength("description", a.Description, 2000),
	); len(errs) > 0 {
		return fmt.Errorf("agents: %w", errs)
	}
	if a.Kind != KindWebhook && a.Kind != KindAPI {
		return fmt.Errorf("agents: unknown kind %q", a.Kind)
	}
	if !money.IsPositive(a.Cost) {
		return fmt.Errorf("agents: cost must be a positive amount, got %q", a.Cost)
	}
	if err := security.ValidateEndpointURL(a.Endpoint); err != nil {
		return fmt.Errorf("agents: endpoint: %w", err)
	}
	return nil
}

// Store defines catalog persistence.
type Store interface {
	Create(ctx context.Context, agent *Agent) error
	Get(ctx context.Context, id string) (*Agent, error)
	List(ctx context.Context, activeOnly bool) ([]*Agent, error)
	Update(ctx context.Context, agent *Agent) error
	SetActive(ctx context.Context, id string, active bool) error
}
