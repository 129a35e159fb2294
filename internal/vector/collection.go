// Package vector provides per-project vector collections over SQLite.
// Embeddings are stored JSON-encoded and ranked by cosine similarity; when
// the sqlite-vec extension is compiled in (sqlite_vec build tag) it is
// registered with the driver and available for ANN search.
package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"sacredlayer/internal/embedding"
	"sacredlayer/internal/logging"
)

// StoreError wraps vector collection failures. Transient for reads; for
// writes during approval the caller surfaces it as approved-but-not-indexed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store failure during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Match is a ranked query hit.
type Match struct {
	ID         string                 `json:"id"`
	Text       string                 `json:"text"`
	Similarity float64                `json:"similarity"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// QueryResult carries ranked matches plus a flag marking results obtained
// through the unfiltered fallback path, which may include entries the filter
// would have excluded.
type QueryResult struct {
	Matches        []Match `json:"matches"`
	FilterFallback bool    `json:"filter_fallback"`
}

// Collection is one project's isolated vector collection.
type Collection struct {
	db      *sql.DB
	project string
	mu      sync.RWMutex
}

// Store manages per-project collections under a base directory. Each project
// gets its own database file, so collections are isolated at the file level.
type Store struct {
	dir         string
	mu          sync.Mutex
	collections map[string]*Collection
}

// NewStore creates a vector store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StoreError{Op: "init", Err: err}
	}
	return &Store{
		dir:         dir,
		collections: make(map[string]*Collection),
	}, nil
}

var projectFileSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Collection returns (opening if needed) the collection for a project.
func (s *Store) Collection(projectID string) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[projectID]; ok {
		return c, nil
	}

	safe := projectFileSanitizer.ReplaceAllString(projectID, "_")
	path := filepath.Join(s.dir, safe+".db")

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, &StoreError{Op: "open collection", Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Collection{db: db, project: projectID}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, &StoreError{Op: "init schema", Err: err}
	}

	s.collections[projectID] = c
	logging.Vector("Opened vector collection for project %s at %s", projectID, path)
	return c, nil
}

// Close closes every open collection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, c := range s.collections {
		if err := c.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.collections = make(map[string]*Collection)
	return firstErr
}

func (c *Collection) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vectors (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		embedding TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Upsert stores or replaces an entry.
func (c *Collection) Upsert(ctx context.Context, id string, vec []float32, text string, metadata map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	embeddingJSON, err := json.Marshal(vec)
	if err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	metaJSON, _ := json.Marshal(metadata)

	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO vectors (id, text, embedding, metadata)
		VALUES (?, ?, ?, ?)
	`, id, text, string(embeddingJSON), string(metaJSON))
	if err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}

	logging.VectorDebug("Upserted vector %s into project %s", id, c.project)
	return nil
}

// UpdateMetadata merges entries into an existing record's metadata.
func (c *Collection) UpdateMetadata(ctx context.Context, id string, updates map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var metaJSON sql.NullString
	err := c.db.QueryRowContext(ctx, `SELECT metadata FROM vectors WHERE id = ?`, id).Scan(&metaJSON)
	if err != nil {
		return &StoreError{Op: "update metadata", Err: err}
	}

	metadata := make(map[string]interface{})
	if metaJSON.Valid && metaJSON.String != "" {
		json.Unmarshal([]byte(metaJSON.String), &metadata)
	}
	for k, v := range updates {
		metadata[k] = v
	}
	merged, _ := json.Marshal(metadata)

	if _, err := c.db.ExecContext(ctx, `UPDATE vectors SET metadata = ? WHERE id = ?`,
		string(merged), id); err != nil {
		return &StoreError{Op: "update metadata", Err: err}
	}
	return nil
}

// Count returns the number of stored vectors matching an optional metadata
// filter.
func (c *Collection) Count(ctx context.Context, filter map[string]interface{}) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `SELECT metadata FROM vectors`)
	if err != nil {
		return 0, &StoreError{Op: "count", Err: err}
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var metaJSON sql.NullString
		if err := rows.Scan(&metaJSON); err != nil {
			continue
		}
		if matchesFilter(metaJSON, filter) {
			count++
		}
	}
	return count, nil
}

// Delete removes a stored entry. Deleting an absent id is not an error.
func (c *Collection) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}

// Fetch returns every stored entry matching a metadata filter, without any
// similarity ranking. Used to pull all chunks of one document back out.
func (c *Collection) Fetch(ctx context.Context, filter map[string]interface{}) ([]Match, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `SELECT id, text, metadata FROM vectors`)
	if err != nil {
		return nil, &StoreError{Op: "fetch", Err: err}
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var id, text string
		var metaJSON sql.NullString
		if err := rows.Scan(&id, &text, &metaJSON); err != nil {
			continue
		}
		if !matchesFilter(metaJSON, filter) {
			continue
		}
		m := Match{ID: id, Text: text}
		if metaJSON.Valid && metaJSON.String != "" {
			json.Unmarshal([]byte(metaJSON.String), &m.Metadata)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Query embeds nothing itself: callers supply the query vector. Results are
// ranked by cosine similarity. The metadata filter is first pushed into SQL
// via json_extract; if the engine rejects that (older builds without JSON1,
// unsupported value types), the query degrades to an unfiltered scan and the
// result is flagged FilterFallback so callers can tag it.
func (c *Collection) Query(ctx context.Context, queryVec []float32, topK int, filter map[string]interface{}) (*QueryResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if topK <= 0 {
		topK = 10
	}

	rows, mode, err := c.queryRows(ctx, filter)
	if err != nil {
		return nil, &StoreError{Op: "query", Err: err}
	}
	defer rows.Close()

	type candidate struct {
		match Match
		sim   float64
	}
	var candidates []candidate

	for rows.Next() {
		var id, text, embeddingJSON string
		var metaJSON sql.NullString
		if err := rows.Scan(&id, &text, &embeddingJSON, &metaJSON); err != nil {
			continue
		}

		if mode == filterInGo && !matchesFilter(metaJSON, filter) {
			continue
		}

		var vec []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &vec); err != nil {
			continue
		}

		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}

		m := Match{ID: id, Text: text, Similarity: sim}
		if metaJSON.Valid && metaJSON.String != "" {
			json.Unmarshal([]byte(metaJSON.String), &m.Metadata)
		}
		candidates = append(candidates, candidate{match: m, sim: sim})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].sim > candidates[j].sim
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	matches := make([]Match, len(candidates))
	for i, cand := range candidates {
		matches[i] = cand.match
	}

	return &QueryResult{Matches: matches, FilterFallback: mode == filterDropped}, nil
}

// filterMode records how (or whether) the metadata filter was applied.
type filterMode int

const (
	filterInSQL   filterMode = iota // pushed into SQL json_extract
	filterInGo                      // evaluated per-row in Go
	filterDropped                   // could not be applied; results unfiltered
)

// queryRows attempts the filtered SQL path first, then a Go-side evaluation
// of the same filter, and finally an unfiltered scan when the filter cannot
// be expressed at all. Callers tag filterDropped results.
func (c *Collection) queryRows(ctx context.Context, filter map[string]interface{}) (*sql.Rows, filterMode, error) {
	if len(filter) == 0 {
		rows, err := c.db.QueryContext(ctx, `SELECT id, text, embedding, metadata FROM vectors`)
		return rows, filterInSQL, err
	}

	query := `SELECT id, text, embedding, metadata FROM vectors WHERE 1=1`
	var args []interface{}
	expressible := true
	for key, value := range filter {
		switch value.(type) {
		case string, bool, int, int64, float64:
			query += ` AND json_extract(metadata, '$.' || ?) = ?`
			args = append(args, key, value)
		default:
			expressible = false
		}
	}

	if expressible {
		rows, err := c.db.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, filterInSQL, nil
		}
		logging.Get(logging.CategoryVector).Warn(
			"Filtered query failed (%v), evaluating filter in Go for project %s", err, c.project)
		rows, err = c.db.QueryContext(ctx, `SELECT id, text, embedding, metadata FROM vectors`)
		return rows, filterInGo, err
	}

	logging.Get(logging.CategoryVector).Warn(
		"Filter not expressible, scanning unfiltered for project %s", c.project)
	rows, err := c.db.QueryContext(ctx, `SELECT id, text, embedding, metadata FROM vectors`)
	return rows, filterDropped, err
}

// matchesFilter applies a metadata equality filter in Go.
func matchesFilter(metaJSON sql.NullString, filter map[string]interface{}) bool {
	if len(filter) == 0 {
		return true
	}
	if !metaJSON.Valid || metaJSON.String == "" {
		return false
	}
	var metadata map[string]interface{}
	if err := json.Unmarshal([]byte(metaJSON.String), &metadata); err != nil {
		return false
	}
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}
