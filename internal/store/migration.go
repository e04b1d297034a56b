package store

import (
	"fmt"
	"time"

	"github.com/gwlsn/fetchray/internal/logger"
)

// InitStore opens the history database, fails records interrupted by a
// previous crash and drops records older than retention (0 keeps all).
func InitStore(dbPath string, retention time.Duration) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	count, err := store.MarkInterrupted()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("mark interrupted downloads: %w", err)
	}
	if count > 0 {
		logger.Info("Marked interrupted downloads as failed", "count", count)
	}

	if retention > 0 {
		pruned, err := store.Prune(time.Now().Add(-retention))
		if err != nil {
			logger.Warn("Failed to prune download history", "error", err)
		} else if pruned > 0 {
			logger.Info("Pruned download history", "count", pruned)
		}
	}

	return store, nil
}
