package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sacredlayer/internal/content"
	"sacredlayer/internal/logging"
)

// Store is the SQLite-backed plan registry. Every mutation runs inside a
// single statement or transaction, so a crash never leaves a plan whose
// status says approved while the approval stamps are missing.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewStore creates or opens the plan registry database.
func NewStore(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryRegistry, "NewStore")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, dbPath: path}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "init schema", Err: err}
	}

	logging.Registry("Plan registry opened at %s", path)
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		plan_id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		approved_at DATETIME,
		approved_by TEXT,
		code_component TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 1,
		metadata_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_plans_project ON plans(project_id);
	CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save inserts a new plan record. Fails if the plan id already exists.
func (s *Store) Save(plan *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !plan.Status.Valid() {
		return fmt.Errorf("refusing to save plan %s with unknown status %q", plan.PlanID, plan.Status)
	}

	metaJSON, _ := json.Marshal(plan.Metadata)

	_, err := s.db.Exec(`
		INSERT INTO plans (plan_id, project_id, title, content, content_hash,
			status, created_at, approved_at, approved_by, code_component,
			chunk_count, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, plan.PlanID, plan.ProjectID, plan.Title, plan.Content, plan.ContentHash,
		plan.Status, plan.CreatedAt, plan.ApprovedAt, plan.ApprovedBy,
		plan.CodeComponent, plan.ChunkCount, string(metaJSON))

	if err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}

	logging.Registry("Saved plan %s (project=%s, status=%s, chunks=%d)",
		plan.PlanID, plan.ProjectID, plan.Status, plan.ChunkCount)
	return nil
}

// UpdateContent replaces title/content of a mutable plan. Only DRAFT and
// PENDING_APPROVAL plans may change content; the content hash is recomputed.
func (s *Store) UpdateContent(planID, title, newContent string, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.getLocked(planID)
	if err != nil {
		return err
	}
	if plan.Status.Immutable() || plan.Status == StatusArchived {
		return &InvalidTransitionError{PlanID: planID, From: plan.Status, To: plan.Status}
	}

	newHash := content.Hash(newContent)
	_, err = s.db.Exec(`
		UPDATE plans SET title = ?, content = ?, content_hash = ?, chunk_count = ?
		WHERE plan_id = ?
	`, title, newContent, newHash, chunkCount, planID)
	if err != nil {
		return &PersistenceError{Op: "update content", Err: err}
	}
	return nil
}

// Get retrieves a plan by id. The content hash is recomputed on every read;
// a mismatch is a ContentIntegrityError, never silently accepted.
func (s *Store) Get(planID string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(planID)
}

func (s *Store) getLocked(planID string) (*Plan, error) {
	row := s.db.QueryRow(`
		SELECT plan_id, project_id, title, content, content_hash, status,
			created_at, approved_at, approved_by, code_component, chunk_count, metadata_json
		FROM plans WHERE plan_id = ?
	`, planID)

	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, &PersistenceError{Op: "get", Err: err}
	}

	if actual := content.Hash(plan.Content); actual != plan.ContentHash {
		logging.Get(logging.CategoryRegistry).Error("Integrity violation on plan %s", planID)
		return nil, &ContentIntegrityError{
			PlanID:       planID,
			ExpectedHash: plan.ContentHash,
			ActualHash:   actual,
		}
	}

	return plan, nil
}

// LoadAll returns every plan keyed by id. Plans failing the integrity check
// are returned in the error; intact plans are still loaded.
func (s *Store) LoadAll() (map[string]*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT plan_id, project_id, title, content, content_hash, status,
			created_at, approved_at, approved_by, code_component, chunk_count, metadata_json
		FROM plans
	`)
	if err != nil {
		return nil, &PersistenceError{Op: "load all", Err: err}
	}
	defer rows.Close()

	plans := make(map[string]*Plan)
	var integrityErr error
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			continue
		}
		if actual := content.Hash(plan.Content); actual != plan.ContentHash {
			integrityErr = &ContentIntegrityError{
				PlanID:       plan.PlanID,
				ExpectedHash: plan.ContentHash,
				ActualHash:   actual,
			}
			continue
		}
		plans[plan.PlanID] = plan
	}
	return plans, integrityErr
}

// List returns plan summaries, optionally filtered by project and/or status.
// Empty filter values match everything.
func (s *Store) List(projectID string, status PlanStatus) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT plan_id, project_id, title, status, created_at, approved_at, approved_by, chunk_count
		FROM plans`
	var conds []string
	var args []interface{}
	if projectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, projectID)
	}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		var approvedAt sql.NullTime
		var approvedBy sql.NullString
		if err := rows.Scan(&sum.PlanID, &sum.ProjectID, &sum.Title, &sum.Status,
			&sum.CreatedAt, &approvedAt, &approvedBy, &sum.ChunkCount); err != nil {
			continue
		}
		if approvedAt.Valid {
			t := approvedAt.Time
			sum.ApprovedAt = &t
		}
		sum.ApprovedBy = approvedBy.String
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

// Approve flips a plan to APPROVED with a single conditional UPDATE. The
// compare-and-swap on status guarantees exactly one of two concurrent
// approval attempts wins; the loser gets an InvalidTransitionError. Status
// flip and approval stamps are one atomic write.
func (s *Store) Approve(planID, approver string, approvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE plans SET status = ?, approved_at = ?, approved_by = ?
		WHERE plan_id = ? AND status IN (?, ?)
	`, StatusApproved, approvedAt, approver, planID, StatusDraft, StatusPendingApproval)
	if err != nil {
		return &PersistenceError{Op: "approve", Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &PersistenceError{Op: "approve", Err: err}
	}
	if affected == 0 {
		plan, getErr := s.getLocked(planID)
		if getErr != nil {
			return getErr
		}
		return &InvalidTransitionError{PlanID: planID, From: plan.Status, To: StatusApproved}
	}

	logging.Registry("Plan %s approved by %s", planID, approver)
	return nil
}

// Transition moves a plan to a new status, validating the state machine in
// one place. Uses the same conditional-update pattern as Approve so
// concurrent transitions cannot race.
func (s *Store) Transition(planID string, to PlanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.getLocked(planID)
	if err != nil {
		return err
	}
	if !plan.Status.CanTransitionTo(to) {
		return &InvalidTransitionError{PlanID: planID, From: plan.Status, To: to}
	}

	result, err := s.db.Exec(`
		UPDATE plans SET status = ? WHERE plan_id = ? AND status = ?
	`, to, planID, plan.Status)
	if err != nil {
		return &PersistenceError{Op: "transition", Err: err}
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		// Someone changed the status between read and write.
		current, getErr := s.getLocked(planID)
		if getErr != nil {
			return getErr
		}
		return &InvalidTransitionError{PlanID: planID, From: current.Status, To: to}
	}

	logging.Registry("Plan %s transitioned %s -> %s", planID, plan.Status, to)
	return nil
}

// UpdateMetadata merges entries into a plan's metadata map. Metadata stays
// mutable even for immutable plans (it records supersede links).
func (s *Store) UpdateMetadata(planID string, updates map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.getLocked(planID)
	if err != nil {
		return err
	}

	if plan.Metadata == nil {
		plan.Metadata = make(map[string]string, len(updates))
	}
	for k, v := range updates {
		plan.Metadata[k] = v
	}
	metaJSON, _ := json.Marshal(plan.Metadata)

	if _, err := s.db.Exec(`UPDATE plans SET metadata_json = ? WHERE plan_id = ?`,
		string(metaJSON), planID); err != nil {
		return &PersistenceError{Op: "update metadata", Err: err}
	}
	return nil
}

// Statistics aggregates counts by status and project.
func (s *Store) Statistics() (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Statistics{
		ByStatus:  make(map[PlanStatus]int),
		ByProject: make(map[string]int),
	}

	rows, err := s.db.Query(`SELECT status, project_id FROM plans`)
	if err != nil {
		return nil, &PersistenceError{Op: "statistics", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var status PlanStatus
		var projectID string
		if err := rows.Scan(&status, &projectID); err != nil {
			continue
		}
		stats.Total++
		stats.ByStatus[status]++
		stats.ByProject[projectID]++
	}
	return stats, nil
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row scanner) (*Plan, error) {
	var plan Plan
	var approvedAt sql.NullTime
	var approvedBy, metaJSON sql.NullString

	err := row.Scan(&plan.PlanID, &plan.ProjectID, &plan.Title, &plan.Content,
		&plan.ContentHash, &plan.Status, &plan.CreatedAt, &approvedAt,
		&approvedBy, &plan.CodeComponent, &plan.ChunkCount, &metaJSON)
	if err != nil {
		return nil, err
	}

	if approvedAt.Valid {
		t := approvedAt.Time
		plan.ApprovedAt = &t
	}
	plan.ApprovedBy = approvedBy.String
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		json.Unmarshal([]byte(metaJSON.String), &plan.Metadata)
	}
	return &plan, nil
}
