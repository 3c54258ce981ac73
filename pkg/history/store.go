package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Record is a durable audit entry for one dispatched tool call
type Record struct {
	ID         string                 `json:"id"`
	SessionID  string                 `json:"session_id"`
	ToolName   string                 `json:"tool_name"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Result     string                 `json:"result,omitempty"`
	Success    bool                   `json:"success"`
	Reversible bool                   `json:"reversible"`
}

// Config holds command store configuration
type Config struct {
	// Path is the SQLite database file; ":memory:" is accepted for tests
	Path string
	// Limit caps retained records per session (default 50)
	Limit  int
	Logger zerolog.Logger
}

// Store is the append-only command history sink. Every tool dispatch is
// recorded here, success or failure, capped per session at Limit entries
// with the oldest dropped first.
type Store struct {
	db     *sql.DB
	limit  int
	logger zerolog.Logger
}

// New opens (or creates) a command history store
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("history database path is required")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// WAL keeps readers unblocked during appends
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		limit:  cfg.Limit,
		logger: cfg.Logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Int("limit", cfg.Limit).Msg("Command history store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tool_executions (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			params TEXT,
			executed_at INTEGER NOT NULL,
			result TEXT,
			success INTEGER NOT NULL,
			reversible INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_exec_session ON tool_executions(session_id, executed_at);
		CREATE INDEX IF NOT EXISTS idx_exec_tool ON tool_executions(session_id, tool_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append records a tool execution and prunes the session window to the limit
func (s *Store) Append(ctx context.Context, rec Record) (Record, error) {
	if rec.SessionID == "" {
		return rec, errors.New("session id is required")
	}
	if rec.ToolName == "" {
		return rec, errors.New("tool name is required")
	}
	if rec.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return rec, fmt.Errorf("failed to generate record id: %w", err)
		}
		rec.ID = id
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	var params []byte
	if rec.Params != nil {
		var err error
		params, err = json.Marshal(rec.Params)
		if err != nil {
			return rec, fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rec, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tool_executions (id, session_id, tool_name, params, executed_at, result, success, reversible)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.ToolName, string(params), rec.Timestamp.UnixMilli(),
		rec.Result, boolToInt(rec.Success), boolToInt(rec.Reversible),
	)
	if err != nil {
		return rec, fmt.Errorf("failed to insert record: %w", err)
	}

	// Drop oldest entries beyond the per-session cap
	_, err = tx.ExecContext(ctx, `
		DELETE FROM tool_executions
		WHERE session_id = ? AND id NOT IN (
			SELECT id FROM tool_executions
			WHERE session_id = ?
			ORDER BY executed_at DESC, id DESC
			LIMIT ?
		)`, rec.SessionID, rec.SessionID, s.limit)
	if err != nil {
		return rec, fmt.Errorf("failed to prune history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return rec, fmt.Errorf("failed to commit record: %w", err)
	}

	s.logger.Debug().
		Str("tool", rec.ToolName).
		Bool("success", rec.Success).
		Msg("Tool execution recorded")

	return rec, nil
}

// Recent returns up to n most recent records for a session, newest first
func (s *Store) Recent(ctx context.Context, sessionID string, n int) ([]Record, error) {
	if n <= 0 {
		n = s.limit
	}
	return s.query(ctx, `
		SELECT id, session_id, tool_name, params, executed_at, result, success, reversible
		FROM tool_executions
		WHERE session_id = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?`, sessionID, n)
}

// ByTool returns records for one tool in a session, newest first
func (s *Store) ByTool(ctx context.Context, sessionID, tool string) ([]Record, error) {
	return s.query(ctx, `
		SELECT id, session_id, tool_name, params, executed_at, result, success, reversible
		FROM tool_executions
		WHERE session_id = ? AND tool_name = ?
		ORDER BY executed_at DESC, id DESC`, sessionID, tool)
}

// BySuccess returns records filtered by outcome, newest first
func (s *Store) BySuccess(ctx context.Context, sessionID string, success bool) ([]Record, error) {
	return s.query(ctx, `
		SELECT id, session_id, tool_name, params, executed_at, result, success, reversible
		FROM tool_executions
		WHERE session_id = ? AND success = ?
		ORDER BY executed_at DESC, id DESC`, sessionID, boolToInt(success))
}

// Count returns the number of retained records for a session
func (s *Store) Count(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tool_executions WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Compact deletes records older than the given age across all sessions
func (s *Store) Compact(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tool_executions WHERE executed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to compact history: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec        Record
			params     sql.NullString
			executedAt int64
			success    int
			reversible int
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.ToolName, &params,
			&executedAt, &rec.Result, &success, &reversible); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if params.Valid && params.String != "" {
			if err := json.Unmarshal([]byte(params.String), &rec.Params); err != nil {
				s.logger.Warn().Err(err).Str("id", rec.ID).Msg("Malformed params in history record")
			}
		}
		rec.Timestamp = time.UnixMilli(executedAt)
		rec.Success = success == 1
		rec.Reversible = reversible == 1
		records = append(records, rec)
	}

	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
