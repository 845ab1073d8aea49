package store

import (
	"context"

	"github.com/polymolt/relay/internal/models"
)

// MessageLog is the append-only per-market message log. Append assigns
// the message id, arrival sequence, and timestamp when unset. Arrival
// order is the canonical order; timestamps are display-only.
type MessageLog interface {
	Append(ctx context.Context, msg *models.Message) error

	// Tail returns the most recent limit messages for a market in
	// chronological (oldest-first) order. Used for join-time history.
	Tail(ctx context.Context, marketID string, limit int) ([]models.Message, error)

	// Recent returns up to limit messages for a market in
	// most-recent-first order. Used by the REST query path.
	Recent(ctx context.Context, marketID string, limit int) ([]models.Message, error)
}

// AgentStore defines the interface for durable storage of agent profiles.
// Both PostgresStore and SQLiteStore implement this interface. The relay
// stays correct without one; persistence is write-through and best-effort.
type AgentStore interface {
	Close()
	Ping(ctx context.Context) error

	UpsertAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	SetAgentPosition(ctx context.Context, id string, pos models.Position) error
	CountAgents(ctx context.Context) (int64, error)
}
