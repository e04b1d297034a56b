package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"

	"github.com/gwlsn/fetchray/internal/relay"
)

const schemaVersion = 1

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	media_kind TEXT NOT NULL,
	quality TEXT NOT NULL,
	sink TEXT NOT NULL,
	state TEXT NOT NULL,
	category TEXT,
	reason TEXT,
	detail TEXT,
	bytes INTEGER NOT NULL DEFAULT 0,
	exit_code INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER,
	created_at TEXT NOT NULL,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_downloads_state ON downloads(state);
CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at);
`

const selectColumns = `
	id, url, media_kind, quality, sink, state, category, reason, detail,
	bytes, exit_code, duration_ms, created_at, completed_at
`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex // Protects concurrent access
	path string
}

// NewSQLiteStore creates a new SQLite-backed store.
// The database file is created if it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	} else if version > schemaVersion {
		db.Close()
		return nil, fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// SaveRecord persists a record using INSERT OR REPLACE.
func (s *SQLiteStore) SaveRecord(rec *relay.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO downloads (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.URL, rec.MediaKind, rec.Quality, rec.Sink, rec.State,
		nullString(rec.Category), nullString(rec.Reason), nullString(rec.Detail),
		rec.Bytes, rec.ExitCode, nullInt64(rec.DurationMs),
		formatTime(rec.CreatedAt), formatTimePtr(rec.CompletedAt),
	)
	return err
}

// GetRecord retrieves a record by ID.
func (s *SQLiteStore) GetRecord(id string) (*relay.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM downloads WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// Recent returns the newest records first.
func (s *SQLiteStore) Recent(limit int) ([]*relay.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT `+selectColumns+`
		FROM downloads
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*relay.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkInterrupted fails records left in started or streaming state.
func (s *SQLiteStore) MarkInterrupted() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE downloads
		SET state = ?, category = ?, reason = 'interrupted', completed_at = ?
		WHERE state IN (?, ?)
	`, string(relay.StateFailed), string(relay.KindExecutionError), formatTime(time.Now()),
		string(relay.StateStarted), string(relay.StateStreaming))
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

// Prune deletes records older than cutoff.
func (s *SQLiteStore) Prune(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM downloads WHERE created_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	count, err := result.RowsAffected()
	return int(count), err
}

// Stats returns aggregate counts and delivered bytes.
func (s *SQLiteStore) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{ByCategory: make(map[string]int)}

	row := s.db.QueryRow(`
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN state IN ('started', 'streaming') THEN 1 ELSE 0 END), 0) as running,
			COALESCE(SUM(CASE WHEN state = 'succeeded' THEN 1 ELSE 0 END), 0) as succeeded,
			COALESCE(SUM(CASE WHEN state = 'failed' THEN 1 ELSE 0 END), 0) as failed,
			COALESCE(SUM(CASE WHEN state = 'succeeded' THEN bytes ELSE 0 END), 0) as bytes
		FROM downloads
	`)
	if err := row.Scan(&stats.Total, &stats.Running, &stats.Succeeded, &stats.Failed, &stats.Bytes); err != nil {
		return stats, err
	}
	stats.BytesHuman = humanize.Bytes(uint64(stats.Bytes))

	rows, err := s.db.Query(`
		SELECT category, COUNT(*) FROM downloads
		WHERE state = 'failed' AND category IS NOT NULL
		GROUP BY category
	`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return stats, err
		}
		stats.ByCategory[category] = count
	}
	return stats, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Helper functions for scanning rows

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*relay.Record, error) {
	var rec relay.Record
	var category, reason, detail sql.NullString
	var duration sql.NullInt64
	var createdAt, completedAt sql.NullString

	err := row.Scan(
		&rec.ID, &rec.URL, &rec.MediaKind, &rec.Quality, &rec.Sink, &rec.State,
		&category, &reason, &detail,
		&rec.Bytes, &rec.ExitCode, &duration,
		&createdAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Category = category.String
	rec.Reason = reason.String
	rec.Detail = detail.String
	rec.DurationMs = duration.Int64
	rec.CreatedAt = parseTime(createdAt.String)
	rec.CompletedAt = parseTime(completedAt.String)

	return &rec, nil
}

// Helper functions for SQL values

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(i int64) interface{} {
	if i == 0 {
		return nil
	}
	return i
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}
