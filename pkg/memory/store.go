// Package memory stores session memories created during conversations and
// retrieves them by keyword relevance for context assembly.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/inkwell/vellum/internal/observability"
)

// Note is one stored memory.
type Note struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Config holds memory store configuration
type Config struct {
	// Path is the SQLite database file
	Path   string
	Logger zerolog.Logger
}

// Store persists memory notes with FTS5 keyword retrieval.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New creates a memory store
func New(cfg Config) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	// Open database with FTS5 support
	db, err := sql.Open("sqlite3", cfg.Path+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger.With().Str("component", "memory").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Msg("Memory store initialized")
	return s, nil
}

// initSchema creates database tables
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notes_project ON notes(project_id, created_at);

		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			note_id UNINDEXED,
			content
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return nil
}

// Create stores a new note and returns it with its generated ID.
func (s *Store) Create(ctx context.Context, projectID, content string) (Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Note{}, errors.New("memory content cannot be empty")
	}

	id, err := gonanoid.New()
	if err != nil {
		return Note{}, fmt.Errorf("failed to generate note id: %w", err)
	}

	note := Note{
		ID:        id,
		ProjectID: projectID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Note{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notes (id, project_id, content, created_at) VALUES (?, ?, ?, ?)`,
		note.ID, note.ProjectID, note.Content, note.CreatedAt,
	); err != nil {
		return Note{}, fmt.Errorf("failed to insert note: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notes_fts (note_id, content) VALUES (?, ?)`,
		note.ID, note.Content,
	); err != nil {
		return Note{}, fmt.Errorf("failed to index note: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Note{}, fmt.Errorf("failed to commit note: %w", err)
	}

	s.logger.Debug().Str("note_id", note.ID).Str("project_id", projectID).Msg("Memory note created")

	return note, nil
}

// Search returns up to limit notes for the project ranked by keyword
// relevance. An empty or unmatchable query falls back to the most recent
// notes.
func (s *Store) Search(ctx context.Context, projectID, query string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 5
	}

	match := buildMatchExpression(query)
	if match == "" {
		return s.Recent(ctx, projectID, limit)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.project_id, n.content, n.created_at
		FROM notes_fts f
		JOIN notes n ON n.id = f.note_id
		WHERE notes_fts MATCH ? AND n.project_id = ?
		ORDER BY bm25(notes_fts)
		LIMIT ?
	`, match, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	notes, err := scanNotes(rows)
	if err != nil {
		return nil, err
	}

	if len(notes) == 0 {
		return s.Recent(ctx, projectID, limit)
	}

	return notes, nil
}

// Recent returns the newest notes for a project, newest first.
func (s *Store) Recent(ctx context.Context, projectID string, n int) ([]Note, error) {
	if n <= 0 {
		n = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, content, created_at
		FROM notes
		WHERE project_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, projectID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

// Count returns the number of notes stored for a project.
func (s *Store) Count(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notes WHERE project_id = ?`, projectID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanNotes(rows *sql.Rows) ([]Note, error) {
	var notes []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// buildMatchExpression turns free text into a safe FTS5 MATCH expression.
// Raw user text can contain FTS operators, so each term is quoted and the
// terms are OR-ed together.
func buildMatchExpression(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('A' <= r && r <= 'Z') && !('0' <= r && r <= '9')
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		terms = append(terms, fmt.Sprintf("%q", f))
	}

	return strings.Join(terms, " OR ")
}
