package intake

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/veridoc/briefd/dbopen"
)

// Document states, in pipeline order. A document moves
// received -> extracted -> summarized, or to failed from any step.
const (
	StateReceived   = "received"
	StateExtracted  = "extracted"
	StateSummarized = "summarized"
	StateFailed     = "failed"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS matters (
    id          TEXT PRIMARY KEY,
    name        TEXT,
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
    sha256      TEXT NOT NULL,
    matter_id   TEXT NOT NULL REFERENCES matters(id) ON DELETE CASCADE,
    state       TEXT NOT NULL DEFAULT 'received',
    filename    TEXT,
    mime        TEXT,
    format      TEXT,
    title       TEXT,
    size_bytes  INTEGER,
    spool_path  TEXT,
    error       TEXT,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    PRIMARY KEY (sha256, matter_id)
);

CREATE TABLE IF NOT EXISTS summaries (
    document_sha256 TEXT NOT NULL,
    matter_id       TEXT NOT NULL,
    summary_json    TEXT NOT NULL,
    chunk_count     INTEGER,
    model_calls     INTEGER,
    model           TEXT,
    duration_ms     INTEGER,
    created_at      TEXT NOT NULL,
    PRIMARY KEY (document_sha256, matter_id),
    FOREIGN KEY (document_sha256, matter_id) REFERENCES documents(sha256, matter_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS routes_pending (
    document_sha256 TEXT NOT NULL,
    matter_id       TEXT NOT NULL,
    target          TEXT NOT NULL,
    event           TEXT NOT NULL,
    attempts        INTEGER DEFAULT 0,
    last_error      TEXT,
    next_retry_at   TEXT,
    FOREIGN KEY (document_sha256, matter_id) REFERENCES documents(sha256, matter_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_documents_state ON documents(state);
CREATE INDEX IF NOT EXISTS idx_documents_matter ON documents(matter_id);
CREATE INDEX IF NOT EXISTS idx_routes_retry ON routes_pending(next_retry_at);
`

// Store wraps an SQLite database for the briefd document state machine.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the SQLite database at path and applies the schema.
func OpenStore(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(storeSchema))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already-open database (tests use dbopen.OpenMemory).
// The schema is applied idempotently.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(storeSchema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying *sql.DB for sharing with other layers.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

// --- Matters ---

// Matter groups the documents of one engagement or case file.
type Matter struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

// CreateMatter inserts a new matter.
func (s *Store) CreateMatter(m *Matter) error {
	_, err := s.db.Exec(
		`INSERT INTO matters (id, name, created_at) VALUES (?, ?, ?)`,
		m.ID, m.Name, m.CreatedAt,
	)
	return err
}

// GetMatter returns a matter by ID. Returns nil, nil if not found.
func (s *Store) GetMatter(id string) (*Matter, error) {
	m := &Matter{}
	err := s.db.QueryRow(
		`SELECT id, name, created_at FROM matters WHERE id = ?`, id,
	).Scan(&m.ID, &m.Name, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// EnsureMatter creates the matter if it doesn't exist.
func (s *Store) EnsureMatter(id string) error {
	m, err := s.GetMatter(id)
	if err != nil {
		return err
	}
	if m != nil {
		return nil
	}
	return s.CreateMatter(&Matter{ID: id, CreatedAt: nowRFC3339()})
}

// DeleteMatter deletes a matter by ID.
// CASCADE on documents handles summaries and pending routes.
func (s *Store) DeleteMatter(id string) error {
	_, err := s.db.Exec(`DELETE FROM matters WHERE id = ?`, id)
	return err
}

// --- Documents ---

// Document represents a document row.
type Document struct {
	SHA256    string `json:"sha256"`
	MatterID  string `json:"matter_id"`
	State     string `json:"state"`
	Filename  string `json:"filename,omitempty"`
	MIME      string `json:"mime,omitempty"`
	Format    string `json:"format,omitempty"`
	Title     string `json:"title,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	SpoolPath string `json:"-"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

const documentCols = `sha256, matter_id, state, filename, mime, format, title, size_bytes, spool_path, error, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	d := &Document{}
	err := row.Scan(&d.SHA256, &d.MatterID, &d.State, &d.Filename, &d.MIME, &d.Format,
		&d.Title, &d.SizeBytes, &d.SpoolPath, &d.Error, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// InsertDocument inserts a new document row.
func (s *Store) InsertDocument(d *Document) error {
	_, err := s.db.Exec(
		`INSERT INTO documents (`+documentCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.SHA256, d.MatterID, d.State, d.Filename, d.MIME, d.Format,
		d.Title, d.SizeBytes, d.SpoolPath, d.Error, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

// GetDocument returns a document by SHA256 and matter. Returns nil, nil if not found.
func (s *Store) GetDocument(sha256, matterID string) (*Document, error) {
	d, err := scanDocument(s.db.QueryRow(
		`SELECT `+documentCols+` FROM documents WHERE sha256 = ? AND matter_id = ?`, sha256, matterID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// GetDocumentBySHA returns the most recent document with the given hash
// regardless of matter. Returns nil, nil if not found.
func (s *Store) GetDocumentBySHA(sha256 string) (*Document, error) {
	d, err := scanDocument(s.db.QueryRow(
		`SELECT `+documentCols+` FROM documents WHERE sha256 = ? ORDER BY created_at DESC LIMIT 1`, sha256,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// UpdateDocumentState updates the state (and updated_at) of a document.
func (s *Store) UpdateDocumentState(sha256, matterID, state string) error {
	_, err := s.db.Exec(
		`UPDATE documents SET state = ?, updated_at = ? WHERE sha256 = ? AND matter_id = ?`,
		state, nowRFC3339(), sha256, matterID,
	)
	return err
}

// MarkDocumentFailed sets the failed state and records the error message.
func (s *Store) MarkDocumentFailed(sha256, matterID, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE documents SET state = ?, error = ?, updated_at = ? WHERE sha256 = ? AND matter_id = ?`,
		StateFailed, errMsg, nowRFC3339(), sha256, matterID,
	)
	return err
}

// UpdateDocumentExtraction records the outcome of text extraction.
func (s *Store) UpdateDocumentExtraction(sha256, matterID, mime, format, title string) error {
	_, err := s.db.Exec(
		`UPDATE documents SET mime = ?, format = ?, title = ?, state = ?, updated_at = ?
		 WHERE sha256 = ? AND matter_id = ?`,
		mime, format, title, StateExtracted, nowRFC3339(), sha256, matterID,
	)
	return err
}

// ListDocuments returns all documents for a matter.
func (s *Store) ListDocuments(matterID string) ([]*Document, error) {
	return s.queryDocuments(
		`SELECT `+documentCols+` FROM documents WHERE matter_id = ? ORDER BY created_at`, matterID)
}

// ListDocumentsByState returns documents in the given state (for crash recovery).
func (s *Store) ListDocumentsByState(state string) ([]*Document, error) {
	return s.queryDocuments(
		`SELECT `+documentCols+` FROM documents WHERE state = ? ORDER BY created_at`, state)
}

func (s *Store) queryDocuments(query string, args ...any) ([]*Document, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DocumentsCount returns the number of documents in a given state, or all if state is empty.
func (s *Store) DocumentsCount(state string) (int, error) {
	var count int
	var err error
	if state == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&count)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE state = ?`, state).Scan(&count)
	}
	return count, err
}

// DeleteDocument removes a document row.
// CASCADE handles its summary and pending routes.
func (s *Store) DeleteDocument(sha256, matterID string) error {
	_, err := s.db.Exec(`DELETE FROM documents WHERE sha256 = ? AND matter_id = ?`, sha256, matterID)
	return err
}

// --- Summaries ---

// SummaryRecord is a stored summarization result. SummaryJSON is the
// serialized structured summary as returned to API clients.
type SummaryRecord struct {
	DocumentSHA256 string `json:"document_sha256"`
	MatterID       string `json:"matter_id"`
	SummaryJSON    string `json:"summary_json"`
	ChunkCount     int    `json:"chunk_count"`
	ModelCalls     int    `json:"model_calls"`
	Model          string `json:"model,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
	CreatedAt      string `json:"created_at"`
}

// InsertSummary stores a summarization result for a document.
func (s *Store) InsertSummary(r *SummaryRecord) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO summaries (document_sha256, matter_id, summary_json, chunk_count, model_calls, model, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.DocumentSHA256, r.MatterID, r.SummaryJSON, r.ChunkCount, r.ModelCalls, r.Model, r.DurationMs, r.CreatedAt,
	)
	return err
}

// GetSummary returns the stored summary for a document. Returns nil, nil if not found.
func (s *Store) GetSummary(sha256, matterID string) (*SummaryRecord, error) {
	r := &SummaryRecord{}
	err := s.db.QueryRow(
		`SELECT document_sha256, matter_id, summary_json, chunk_count, model_calls, model, duration_ms, created_at
		 FROM summaries WHERE document_sha256 = ? AND matter_id = ?`, sha256, matterID,
	).Scan(&r.DocumentSHA256, &r.MatterID, &r.SummaryJSON, &r.ChunkCount, &r.ModelCalls, &r.Model, &r.DurationMs, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// --- Routes ---

// RoutePending represents a pending webhook delivery.
type RoutePending struct {
	DocumentSHA256 string `json:"document_sha256"`
	MatterID       string `json:"matter_id"`
	Target         string `json:"target"`
	Event          string `json:"event"`
	Attempts       int    `json:"attempts"`
	LastError      string `json:"last_error,omitempty"`
	NextRetryAt    string `json:"next_retry_at,omitempty"`
}

// InsertRoute inserts a pending route.
func (s *Store) InsertRoute(r *RoutePending) error {
	_, err := s.db.Exec(
		`INSERT INTO routes_pending (document_sha256, matter_id, target, event, attempts, last_error, next_retry_at)
		 VALUES (?, ?, ?, ?, 0, '', '')`,
		r.DocumentSHA256, r.MatterID, r.Target, r.Event,
	)
	return err
}

const routeCols = `document_sha256, matter_id, target, event, attempts, last_error, next_retry_at`

// ListRoutes returns pending routes for a document.
func (s *Store) ListRoutes(sha256, matterID string) ([]*RoutePending, error) {
	return s.queryRoutes(
		`SELECT `+routeCols+` FROM routes_pending WHERE document_sha256 = ? AND matter_id = ?`, sha256, matterID)
}

// ListRetryableRoutes returns routes due for retry.
func (s *Store) ListRetryableRoutes(now string) ([]*RoutePending, error) {
	return s.queryRoutes(
		`SELECT `+routeCols+` FROM routes_pending
		 WHERE attempts < 5 AND (next_retry_at = '' OR next_retry_at <= ?)
		 ORDER BY next_retry_at`, now)
}

func (s *Store) queryRoutes(query string, args ...any) ([]*RoutePending, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []*RoutePending
	for rows.Next() {
		r := &RoutePending{}
		if err := rows.Scan(&r.DocumentSHA256, &r.MatterID, &r.Target, &r.Event,
			&r.Attempts, &r.LastError, &r.NextRetryAt); err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// UpdateRouteAttempt updates retry state for a route.
func (s *Store) UpdateRouteAttempt(sha256, matterID, target string, attempts int, lastError, nextRetryAt string) error {
	_, err := s.db.Exec(
		`UPDATE routes_pending SET attempts = ?, last_error = ?, next_retry_at = ?
		 WHERE document_sha256 = ? AND matter_id = ? AND target = ?`,
		attempts, lastError, nextRetryAt, sha256, matterID, target,
	)
	return err
}

// DeleteRoute removes a completed route.
func (s *Store) DeleteRoute(sha256, matterID, target string) error {
	_, err := s.db.Exec(
		`DELETE FROM routes_pending WHERE document_sha256 = ? AND matter_id = ? AND target = ?`,
		sha256, matterID, target,
	)
	return err
}
