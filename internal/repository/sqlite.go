package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/xiaot623/tenderwatch/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	// Shared-cache connections fail with SQLITE_LOCKED on overlapping reads and
	// writes instead of waiting on the busy timeout, so they get one connection too.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, "cache=shared") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			endpoint TEXT,
			credentials_ref TEXT,
			status TEXT NOT NULL DEFAULT 'stopped',
			run_id TEXT,
			started_at DATETIME,
			stopped_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS agent_history (
			agent_id INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			message TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (agent_id, seq)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertAgent inserts an agent or updates its static configuration.
// Runtime status columns are never touched by an update.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *domain.Agent) error {
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	if agent.Status == "" {
		agent.Status = domain.RuntimeStatusStopped
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (agent_id, name, type, endpoint, credentials_ref, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			endpoint = excluded.endpoint,
			credentials_ref = excluded.credentials_ref,
			updated_at = excluded.updated_at`,
		agent.AgentID, agent.Name, string(agent.Type), nullString(agent.Endpoint), nullString(agent.CredentialsRef),
		string(agent.Status), agent.CreatedAt, agent.UpdatedAt)
	return err
}

const agentColumns = `agent_id, name, type, endpoint, credentials_ref, status, run_id, started_at, stopped_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var agent domain.Agent
	var agentType, status string
	var endpoint, credentialsRef, runID sql.NullString
	var startedAt, stoppedAt sql.NullTime
	if err := row.Scan(&agent.AgentID, &agent.Name, &agentType, &endpoint, &credentialsRef, &status, &runID,
		&startedAt, &stoppedAt, &agent.CreatedAt, &agent.UpdatedAt); err != nil {
		return nil, err
	}
	agent.Type = domain.AgentType(agentType)
	agent.Status = domain.RuntimeStatus(status)
	agent.Endpoint = endpoint.String
	agent.CredentialsRef = credentialsRef.String
	agent.RunID = runID.String
	if startedAt.Valid {
		agent.StartedAt = &startedAt.Time
	}
	if stoppedAt.Valid {
		agent.StoppedAt = &stoppedAt.Time
	}
	return &agent, nil
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID int64) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ListAgents lists all agents.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY agent_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

// UpdateAgentRunStatus sets an agent's runtime status.
// A running status records the run id and start time, a stopped status the stop time.
func (s *SQLiteStore) UpdateAgentRunStatus(ctx context.Context, agentID int64, status domain.RuntimeStatus, runID string, at time.Time) error {
	var res sql.Result
	var err error
	if status == domain.RuntimeStatusRunning {
		res, err = s.db.ExecContext(ctx,
			`UPDATE agents SET status = ?, run_id = ?, started_at = ?, stopped_at = NULL, updated_at = ? WHERE agent_id = ?`,
			string(status), nullString(runID), at, at, agentID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE agents SET status = ?, stopped_at = ?, updated_at = ? WHERE agent_id = ?`,
			string(status), at, at, agentID)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

// CountRunningAgents returns the number of agents with a running status.
func (s *SQLiteStore) CountRunningAgents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE status = ?`, string(domain.RuntimeStatusRunning)).Scan(&n)
	return n, err
}

// ResetRunStatuses marks every running agent as stopped.
func (s *SQLiteStore) ResetRunStatuses(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, stopped_at = ?, updated_at = ? WHERE status = ?`,
		string(domain.RuntimeStatusStopped), now, now, string(domain.RuntimeStatusRunning))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AppendHistory stores a history entry. The caller assigns the sequence id.
func (s *SQLiteStore) AppendHistory(ctx context.Context, entry *domain.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_history (agent_id, seq, message, created_at) VALUES (?, ?, ?, ?)`,
		entry.AgentID, entry.Seq, entry.Message, entry.CreatedAt.UnixMilli())
	return err
}

// ListHistory returns the newest entries of an agent, newest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, agentID int64, limit int) ([]domain.HistoryEntry, error) {
	query := `SELECT agent_id, seq, message, created_at FROM agent_history WHERE agent_id = ? ORDER BY seq DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.HistoryEntry{}
	for rows.Next() {
		var entry domain.HistoryEntry
		var createdAt int64
		if err := rows.Scan(&entry.AgentID, &entry.Seq, &entry.Message, &createdAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LatestHistorySeq returns the highest sequence id stored for an agent, or 0.
func (s *SQLiteStore) LatestHistorySeq(ctx context.Context, agentID int64) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM agent_history WHERE agent_id = ?`, agentID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// PruneHistory deletes entries with seq <= upToSeq.
func (s *SQLiteStore) PruneHistory(ctx context.Context, agentID int64, upToSeq int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_history WHERE agent_id = ? AND seq <= ?`, agentID, upToSeq)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
