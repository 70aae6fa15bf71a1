package agents

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a thread-safe in-memory catalog, used in demo mode and
// in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*Agent)}
}

var _ Store = (*MemoryStore)(nil)

// NewSeededMemoryStore creates a memory catalog preloaded with the
// default agents, mirroring what the seed migration installs.
func NewSeededMemoryStore(webhookBase string) *MemoryStore {
	m := NewMemoryStore()
	for _, a := range SeedAgents(webhookBase) {
		_ = m.Create(context.Background(), a)
	}
	return m
}

// SeedAgents returns the default catalog. Webhook agents point at the
// automation host; API agents carry the env var naming their key.
func SeedAgents(webhookBase string) []*Agent {
	return []*Agent{
		{
			ID:          "data-analyzer",
			Name:        "Data Analyzer",
			Description: "Upload a dataset and get a structured analysis report.",
			Kind:        KindWebhook,
			Endpoint:    webhookBase + "/webhook/data-analyzer",
			Cost:        "5.00",
			Active:      true,
		},
		{
			ID:          "social-ads-generator",
			Name:        "Social Ads Generator",
			Description: "Generates ad copy variants for a product brief.",
			Kind:        KindWebhook,
			Endpoint:    webhookBase + "/webhook/social-ads-generator",
			Cost:        "8.00",
			Active:      true,
		},
		{
			ID:          "job-posting-generator",
			Name:        "Job Posting Generator",
			Description: "Drafts a complete job posting from a role outline.",
			Kind:        KindWebhook,
			Endpoint:    webhookBase + "/webhook/job-posting-generator",
			Cost:        "6.00",
			Active:      true,
		},
		{
			ID:          "weather-reporter",
			Name:        "Weather Reporter",
			Description: "Current weather conditions for any city.",
			Kind:        KindAPI,
			Endpoint:    "https://api.openweathermap.org/data/2.5/weather",
			APIKeyEnv:   "OPENWEATHER_API_KEY",
			Cost:        "2.00",
			Active:      true,
		},
	}
}

func (m *MemoryStore) Create(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[agent.ID]; exists {
		return ErrAgentExists
	}

	cp := *agent
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.agents[agent.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *agent
	return &cp, nil
}

func (m *MemoryStore) List(ctx context.Context, activeOnly bool) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		if activeOnly && !agent.Active {
			continue
		}
		cp := *agent
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.agents[agent.ID]
	if !ok {
		return ErrAgentNotFound
	}
	cp := *agent
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now()
	m.agents[agent.ID] = &cp
	return nil
}

func (m *MemoryStore) SetActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, ok := m.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	agent.Active = active
	agent.UpdatedAt = time.Now()
	return nil
}
