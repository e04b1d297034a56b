package relay

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gwlsn/fetchray/internal/logger"
)

const transientDirPrefix = "fetchray-"

// SweepTransient removes per-job temp directories under tempRoot that are
// older than minAge. A crashed process leaves these behind; live jobs are
// younger than minAge as long as minAge exceeds the job timeout.
func SweepTransient(tempRoot string, minAge time.Duration) (int, error) {
	entries, err := os.ReadDir(tempRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-minAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), transientDirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(tempRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("Failed to remove stale temp directory", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
