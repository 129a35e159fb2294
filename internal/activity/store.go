// Package activity records timestamped development activity per project:
// commits, decisions, code-change descriptions. The drift detector consumes
// these purely as timestamped text through the Source interface.
package activity

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"sacredlayer/internal/logging"
)

// Kind categorizes activity records.
type Kind string

const (
	KindCommit   Kind = "commit"
	KindDecision Kind = "decision"
	KindChange   Kind = "change"
	KindNote     Kind = "note"
)

// Record is one unit of observed development activity.
type Record struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Content   string    `json:"content"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Source supplies recent activity for drift analysis.
type Source interface {
	Recent(projectID string, since time.Time) ([]Record, error)
}

// Store is the SQLite-backed activity log.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewStore creates or opens the activity database.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, dbPath: path}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Activity("Activity store opened at %s", path)
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		content TEXT NOT NULL,
		kind TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activities_project ON activities(project_id);
	CREATE INDEX IF NOT EXISTS idx_activities_timestamp ON activities(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores a new activity entry. ID and timestamp are filled in when
// absent.
func (s *Store) Record(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = "act-" + uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Kind == "" {
		rec.Kind = KindNote
	}

	_, err := s.db.Exec(`
		INSERT INTO activities (id, project_id, content, kind, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.ProjectID, rec.Content, rec.Kind, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}

	logging.ActivityDebug("Recorded %s activity %s for project %s", rec.Kind, rec.ID, rec.ProjectID)
	return nil
}

// Recent returns activity for a project since the given time, newest first.
func (s *Store) Recent(projectID string, since time.Time) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, project_id, content, kind, timestamp
		FROM activities
		WHERE project_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`, projectID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.Content, &rec.Kind, &rec.Timestamp); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
