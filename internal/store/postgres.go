package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polymolt/relay/internal/models"
)

// PostgresStore is the AgentStore for multi-instance deployments.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and initializes the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}

	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			wallet TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			position TEXT NOT NULL DEFAULT '',
			last_seen TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_agents_last_seen ON agents(last_seen);
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertAgent inserts or overwrites an agent profile.
func (s *PostgresStore) UpsertAgent(ctx context.Context, agent *models.Agent) error {
	lastSeen := agent.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, wallet, name, position, last_seen)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			wallet = EXCLUDED.wallet,
			name = EXCLUDED.name,
			position = CASE WHEN EXCLUDED.position != '' THEN EXCLUDED.position ELSE agents.position END,
			last_seen = EXCLUDED.last_seen
	`, agent.ID, agent.Wallet, agent.Name, string(agent.Position), lastSeen)
	return err
}

// GetAgent retrieves an agent by ID. Returns nil when absent.
func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	agent := &models.Agent{}
	var position string
	err := s.pool.QueryRow(ctx, `
		SELECT id, wallet, name, position, last_seen
		FROM agents WHERE id = $1
	`, id).Scan(&agent.ID, &agent.Wallet, &agent.Name, &position, &agent.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	agent.Position = models.Position(position)
	return agent, nil
}

// ListAgents returns every stored agent profile.
func (s *PostgresStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, wallet, name, position, last_seen
		FROM agents ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		var agent models.Agent
		var position string
		if err := rows.Scan(&agent.ID, &agent.Wallet, &agent.Name, &position, &agent.LastSeen); err != nil {
			return nil, err
		}
		agent.Position = models.Position(position)
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// SetAgentPosition records an agent's declared position.
func (s *PostgresStore) SetAgentPosition(ctx context.Context, id string, pos models.Position) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE agents SET position = $1, last_seen = now() WHERE id = $2
	`, string(pos), id)
	return err
}

// CountAgents returns the total number of registered agents.
func (s *PostgresStore) CountAgents(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count)
	return count, err
}
