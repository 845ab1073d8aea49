package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/polymolt/relay/internal/models"
	"github.com/polymolt/relay/internal/store"
)

// Registry tracks agent profiles. The in-memory map is authoritative for
// relay operations; when an AgentStore is configured, writes go through
// to it best-effort so profiles survive a restart. Agents are never
// deleted, they only go stale.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
	store  store.AgentStore // may be nil
	logger zerolog.Logger
}

// NewRegistry creates a Registry. st may be nil for a purely in-memory
// registry.
func NewRegistry(st store.AgentStore, logger zerolog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*models.Agent),
		store:  st,
		logger: logger,
	}
}

// Warm loads stored agent profiles into memory. No-op without a store.
func (r *Registry) Warm(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range agents {
		agent := agents[i]
		r.agents[agent.ID] = &agent
	}
	return nil
}

// Upsert creates or overwrites an agent profile and refreshes its
// last-seen timestamp. Re-registering the same identity is idempotent;
// a previously declared position is preserved.
func (r *Registry) Upsert(ctx context.Context, id, wallet, name string) models.Agent {
	r.mu.Lock()
	agent, ok := r.agents[id]
	if !ok {
		agent = &models.Agent{ID: id}
		r.agents[id] = agent
	}
	agent.Wallet = wallet
	agent.Name = name
	agent.LastSeen = time.Now().UTC()
	snapshot := *agent
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpsertAgent(ctx, &snapshot); err != nil {
			r.logger.Warn().Err(err).Str("agent_id", id).Msg("agent upsert not persisted")
		}
	}

	return snapshot
}

// Get returns a copy of the agent's profile.
func (r *Registry) Get(id string) (models.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return models.Agent{}, false
	}
	return *agent, true
}

// SetPosition records the agent's declared position. Unknown agents and
// invalid positions are ignored.
func (r *Registry) SetPosition(ctx context.Context, id string, pos models.Position) {
	if !pos.Valid() {
		return
	}

	r.mu.Lock()
	agent, ok := r.agents[id]
	if ok {
		agent.Position = pos
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	if r.store != nil {
		if err := r.store.SetAgentPosition(ctx, id, pos); err != nil {
			r.logger.Warn().Err(err).Str("agent_id", id).Msg("agent position not persisted")
		}
	}
}

// Count returns the number of known agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
