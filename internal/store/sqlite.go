package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/polymolt/relay/internal/models"
)

// SQLiteStore is the default AgentStore for zero-infra deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath.
// If dbPath is empty, defaults to "./data/relay.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/relay.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		wallet TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		position TEXT NOT NULL DEFAULT '',
		last_seen DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_agents_last_seen ON agents(last_seen);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertAgent inserts or overwrites an agent profile. Re-registering the
// same identity overwrites wallet and name; a stored position survives
// unless the incoming profile carries one.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *models.Agent) error {
	lastSeen := agent.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, wallet, name, position, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			wallet = excluded.wallet,
			name = excluded.name,
			position = CASE WHEN excluded.position != '' THEN excluded.position ELSE agents.position END,
			last_seen = excluded.last_seen
	`, agent.ID, agent.Wallet, agent.Name, string(agent.Position), lastSeen)
	return err
}

// GetAgent retrieves an agent by ID. Returns nil when absent.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	agent := &models.Agent{}
	var position string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, wallet, name, position, last_seen
		FROM agents WHERE id = ?
	`, id).Scan(&agent.ID, &agent.Wallet, &agent.Name, &position, &agent.LastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	agent.Position = models.Position(position)
	return agent, nil
}

// ListAgents returns every stored agent profile. Used to warm the
// in-memory registry at startup.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
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
func (s *SQLiteStore) SetAgentPosition(ctx context.Context, id string, pos models.Position) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agents SET position = ?, last_seen = ? WHERE id = ?
	`, string(pos), time.Now().UTC(), id)
	return err
}

// CountAgents returns the total number of registered agents.
func (s *SQLiteStore) CountAgents(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count)
	return count, err
}
