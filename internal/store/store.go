package store

import (
	"time"

	"github.com/gwlsn/fetchray/internal/relay"
)

// Store defines the persistence interface for download records.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveRecord persists a record. If it already exists (by ID), it is updated.
	SaveRecord(rec *relay.Record) error

	// GetRecord retrieves a record by ID. Returns nil if not found.
	GetRecord(id string) (*relay.Record, error)

	// Recent returns up to limit records, newest first.
	Recent(limit int) ([]*relay.Record, error)

	// MarkInterrupted fails every record still in a non-terminal state.
	// Used on startup to account for jobs cut short by a crash.
	// Returns the number of records changed.
	MarkInterrupted() (int, error)

	// Prune deletes records created before cutoff and returns how many.
	Prune(cutoff time.Time) (int, error)

	// Stats returns aggregate download statistics.
	Stats() (Stats, error)

	// Close closes the store and releases resources.
	Close() error
}

// Stats holds aggregate download statistics.
type Stats struct {
	Total      int            `json:"total"`
	Running    int            `json:"running"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Bytes      int64          `json:"bytes"`       // Payload bytes of succeeded downloads
	BytesHuman string         `json:"bytes_human"` // Bytes formatted for display
	ByCategory map[string]int `json:"by_category"` // Failure counts per category
}
