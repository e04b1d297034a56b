package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gwlsn/fetchray/internal/logger"
)

// ErrNotAvailable is returned when the yt-dlp binary cannot be run
var ErrNotAvailable = errors.New("yt-dlp is not available")

// Tool wraps a yt-dlp binary
type Tool struct {
	path      string
	killGrace time.Duration
}

// NewTool creates a Tool for the binary at path.
// killGrace is how long an interrupted process may take to exit before it is killed.
func NewTool(path string, killGrace time.Duration) *Tool {
	if killGrace <= 0 {
		killGrace = 5 * time.Second
	}
	return &Tool{path: path, killGrace: killGrace}
}

// Path returns the configured binary path
func (t *Tool) Path() string {
	return t.path
}

// Command builds a command bound to ctx. The process runs in its own
// process group so cancellation reaches the ffmpeg children yt-dlp spawns:
// cancelling ctx interrupts the whole group, and whatever is still alive
// after the grace period is killed.
func (t *Tool) Command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, t.path, args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		p := cmd.Process
		time.AfterFunc(t.killGrace, func() { killGroup(p) })
		return interruptGroup(p)
	}
	cmd.WaitDelay = t.killGrace
	return cmd
}

// ExitCode returns the process exit status carried by err.
// It returns 0 for a nil error and -1 when err is not an exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Info describes the detected binary
type Info struct {
	Path      string `json:"path"`
	Version   string `json:"version"`
	Available bool   `json:"available"`
}

var (
	detected   Info
	detectedMu sync.RWMutex
)

// Version runs "yt-dlp --version"
func (t *Tool) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var stdout bytes.Buffer
	cmd := t.Command(ctx, "--version")
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Detect checks the binary once at boot and caches the result
func Detect(t *Tool) Info {
	info := Info{Path: t.path}
	version, err := t.Version(context.Background())
	if err != nil {
		logger.Warn("yt-dlp not usable", "path", t.path, "error", err)
	} else {
		info.Version = version
		info.Available = true
	}

	detectedMu.Lock()
	detected = info
	detectedMu.Unlock()
	return info
}

// Detected returns the cached detection result
func Detected() Info {
	detectedMu.RLock()
	defer detectedMu.RUnlock()
	return detected
}
