// Package storage persists projects, transcript segments, and insight
// rows so catch-up works across process restarts. The session core treats
// it as a pluggable read/write interface; this is the sqlite-backed
// implementation.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"interviewhelper/internal/message"
)

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "interview-helper.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create projects table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcript_segments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create transcript_segments table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS ai_analyses (
			project_id TEXT NOT NULL,
			analysis_id TEXT NOT NULL,
			text TEXT NOT NULL,
			span TEXT NOT NULL DEFAULT '',
			is_dismissed INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(project_id, analysis_id),
			FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create ai_analyses table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_segments_project ON transcript_segments(project_id, id)"); err != nil {
		return fmt.Errorf("create segments index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateProject(id, name, ownerID string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("project name is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO projects(id, name, owner_id, created_at) VALUES(?, ?, ?, ?)`,
		id,
		name,
		ownerID,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create project %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(id string) (Project, error) {
	row := s.db.QueryRow(
		`SELECT id, name, owner_id, created_at FROM projects WHERE id = ?`, id,
	)

	var p Project
	var createdAt string
	if err := row.Scan(&p.ID, &p.Name, &p.OwnerID, &createdAt); err != nil {
		return Project{}, fmt.Errorf("query project %s: %w", id, err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Project{}, fmt.Errorf("parse project %s created_at: %w", id, err)
	}
	p.CreatedAt = parsed
	return p, nil
}

func (s *SQLiteStore) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(
		`SELECT id, name, owner_id, created_at FROM projects ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	projects := make([]Project, 0, 16)
	for rows.Next() {
		var p Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.OwnerID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		p.CreatedAt = parsed
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project rows: %w", err)
	}

	return projects, nil
}

func (s *SQLiteStore) AppendTranscript(projectID, text string, ts time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO transcript_segments(project_id, text, timestamp) VALUES(?, ?, ?)`,
		projectID,
		strings.TrimSpace(text),
		ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append transcript for project %s: %w", projectID, err)
	}
	return nil
}

// UpsertInsight inserts or replaces an insight row by analysis_id. The
// dismissed flag is user state: once set it survives replacement.
func (s *SQLiteStore) UpsertInsight(projectID string, row message.AnalysisRow) error {
	dismissed := 0
	if row.IsDismissed {
		dismissed = 1
	}

	_, err := s.db.Exec(
		`INSERT INTO ai_analyses(project_id, analysis_id, text, span, is_dismissed, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, analysis_id) DO UPDATE SET
			text = excluded.text,
			span = excluded.span,
			is_dismissed = MAX(ai_analyses.is_dismissed, excluded.is_dismissed),
			updated_at = excluded.updated_at`,
		projectID,
		row.AnalysisID,
		row.Text,
		row.Span,
		dismissed,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert insight %s for project %s: %w", row.AnalysisID, projectID, err)
	}
	return nil
}

// DismissInsight flags a row; a missing row is not an error, it may have
// been superseded.
func (s *SQLiteStore) DismissInsight(projectID, analysisID string) error {
	_, err := s.db.Exec(
		`UPDATE ai_analyses SET is_dismissed = 1, updated_at = ? WHERE project_id = ? AND analysis_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		projectID,
		analysisID,
	)
	if err != nil {
		return fmt.Errorf("dismiss insight %s for project %s: %w", analysisID, projectID, err)
	}
	return nil
}

// ProjectSnapshot reads the full transcript and insight set for catch-up.
// Both reads happen in one transaction so the view is consistent.
func (s *SQLiteStore) ProjectSnapshot(projectID string) (string, []message.AnalysisRow, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", nil, fmt.Errorf("begin snapshot for project %s: %w", projectID, err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(
		`SELECT text FROM transcript_segments WHERE project_id = ? ORDER BY id ASC`,
		projectID,
	)
	if err != nil {
		return "", nil, fmt.Errorf("query transcript for project %s: %w", projectID, err)
	}

	var parts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			_ = rows.Close()
			return "", nil, fmt.Errorf("scan transcript segment: %w", err)
		}
		parts = append(parts, text)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return "", nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	_ = rows.Close()

	insightRows, err := tx.Query(
		`SELECT analysis_id, text, span, is_dismissed FROM ai_analyses WHERE project_id = ? ORDER BY rowid ASC`,
		projectID,
	)
	if err != nil {
		return "", nil, fmt.Errorf("query insights for project %s: %w", projectID, err)
	}

	var insights []message.AnalysisRow
	for insightRows.Next() {
		var row message.AnalysisRow
		var dismissed int
		if err := insightRows.Scan(&row.AnalysisID, &row.Text, &row.Span, &dismissed); err != nil {
			_ = insightRows.Close()
			return "", nil, fmt.Errorf("scan insight row: %w", err)
		}
		row.IsDismissed = dismissed != 0
		insights = append(insights, row)
	}
	if err := insightRows.Err(); err != nil {
		_ = insightRows.Close()
		return "", nil, fmt.Errorf("iterate insight rows: %w", err)
	}
	_ = insightRows.Close()

	if err := tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("commit snapshot for project %s: %w", projectID, err)
	}

	return strings.Join(parts, " "), insights, nil
}
