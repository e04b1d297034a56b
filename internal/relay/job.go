package relay

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gwlsn/fetchray/internal/logger"
	"github.com/gwlsn/fetchray/internal/ytdlp"
)

// State is the lifecycle position of an extraction job
type State string

const (
	StateStarted   State = "started"
	StateStreaming State = "streaming"
	StateFailed    State = "failed"
	StateSucceeded State = "succeeded"
)

// IsTerminal returns true for FAILED and SUCCEEDED
func (s State) IsTerminal() bool {
	return s == StateFailed || s == StateSucceeded
}

// Job is the runtime instance of a JobSpec. All state changes go through
// its methods; once terminal it accepts no further transitions or output.
type Job struct {
	ID        string
	Spec      JobSpec
	CreatedAt time.Time

	mu            sync.Mutex
	state         State
	streamed      bool
	bytesEmitted  int64
	exitCode      int
	failure       *Error
	completedAt   time.Time
	transientPath string

	diag      []byte
	diagLimit int
	diagTrunc bool
	partial   []byte // incomplete trailing line, for logging only
}

// NewJob creates a job in the STARTED state.
// diagLimit bounds the retained diagnostic text in bytes.
func NewJob(spec JobSpec, diagLimit int) *Job {
	if diagLimit <= 0 {
		diagLimit = 64 * 1024
	}
	return &Job{
		ID:        uuid.NewString(),
		Spec:      spec,
		CreatedAt: time.Now(),
		state:     StateStarted,
		diagLimit: diagLimit,
	}
}

// State returns the current state
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// BytesEmitted returns the payload bytes produced so far
func (j *Job) BytesEmitted() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.bytesEmitted
}

// ExitCode returns the tool's exit status (-1 when it never exited normally)
func (j *Job) ExitCode() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exitCode
}

// Failure returns the classified failure of a FAILED job
func (j *Job) Failure() *Error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failure
}

// Truncated reports a failure after payload bytes were already sent
func (j *Job) Truncated() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state == StateFailed && j.streamed
}

// Diagnostics returns the retained diagnostic text
func (j *Job) Diagnostics() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return string(j.diag)
}

// TransientPath returns the buffered artifact path, if any
func (j *Job) TransientPath() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transientPath
}

func (j *Job) setTransientPath(path string) {
	j.mu.Lock()
	j.transientPath = path
	j.mu.Unlock()
}

// Write appends diagnostic output. It never fails so the tool is never
// blocked on its stderr; data arriving after termination is dropped.
func (j *Job) Write(p []byte) (int, error) {
	j.mu.Lock()
	if j.state.IsTerminal() {
		j.mu.Unlock()
		return len(p), nil
	}
	j.diag = append(j.diag, p...)
	if len(j.diag) > j.diagLimit {
		j.diag = j.diag[len(j.diag)-j.diagLimit:]
		j.diagTrunc = true
	}
	lines := j.splitLinesLocked(p)
	j.mu.Unlock()

	for _, line := range lines {
		logDiagnostic(j.ID, line)
	}
	return len(p), nil
}

// splitLinesLocked returns the complete lines in p, carrying partial ones
func (j *Job) splitLinesLocked(p []byte) []string {
	buf := append(j.partial, p...)
	var lines []string
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(buf[:i]), "\r")
		if line != "" {
			lines = append(lines, line)
		}
		buf = buf[i+1:]
	}
	if len(buf) > 4096 {
		buf = buf[len(buf)-4096:]
	}
	j.partial = append([]byte(nil), buf...)
	return lines
}

func logDiagnostic(jobID, line string) {
	switch ytdlp.ClassifyLine(line) {
	case ytdlp.SeverityError:
		logger.Warn("yt-dlp error", "job_id", jobID, "line", line)
	case ytdlp.SeverityWarning:
		logger.Debug("yt-dlp warning", "job_id", jobID, "line", line)
	default:
		logger.Debug("yt-dlp", "job_id", jobID, "line", line)
	}
}

// beginStreaming records payload arrival. first is true exactly once, on the
// STARTED -> STREAMING transition.
func (j *Job) beginStreaming() (first bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.state {
	case StateStarted:
		if j.Spec.Sink != SinkStreamed {
			return false, fmt.Errorf("%w: %s job cannot stream", ErrInvalidTransition, j.Spec.Sink)
		}
		j.state = StateStreaming
		j.streamed = true
		return true, nil
	case StateStreaming:
		return false, nil
	default:
		return false, ErrJobTerminal
	}
}

// addBytes counts payload bytes produced by the tool
func (j *Job) addBytes(n int64) {
	j.mu.Lock()
	if !j.state.IsTerminal() {
		j.bytesEmitted += n
	}
	j.mu.Unlock()
}

func (j *Job) setExitCode(code int) {
	j.mu.Lock()
	j.exitCode = code
	j.mu.Unlock()
}

// succeed moves the job to SUCCEEDED with produced payload bytes
func (j *Job) succeed(produced int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.IsTerminal() {
		return ErrJobTerminal
	}
	if produced <= 0 {
		return fmt.Errorf("%w: success requires payload bytes", ErrInvalidTransition)
	}
	j.state = StateSucceeded
	j.bytesEmitted = produced
	j.completedAt = time.Now()
	return nil
}

// fail moves the job to FAILED. A missing detail is filled from the
// diagnostic buffer.
func (j *Job) fail(e *Error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.IsTerminal() {
		return ErrJobTerminal
	}
	if e.Detail == "" {
		e.Detail = string(j.diag)
	}
	j.state = StateFailed
	j.failure = e
	j.completedAt = time.Now()
	return nil
}

// Record returns a snapshot of the job for history and events
func (j *Job) Record() *Record {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := &Record{
		ID:          j.ID,
		URL:         j.Spec.SourceURL,
		MediaKind:   string(j.Spec.MediaKind),
		Quality:     j.Spec.Quality.String(),
		Sink:        string(j.Spec.Sink),
		State:       string(j.state),
		Bytes:       j.bytesEmitted,
		ExitCode:    j.exitCode,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.completedAt,
	}
	if j.failure != nil {
		rec.Category = string(j.failure.Kind)
		rec.Reason = j.failure.Reason
		rec.Detail = ytdlp.LastLines(j.failure.Detail, 5)
	}
	if !j.completedAt.IsZero() {
		rec.DurationMs = j.completedAt.Sub(j.CreatedAt).Milliseconds()
	}
	return rec
}
