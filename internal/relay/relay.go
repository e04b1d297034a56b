package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gwlsn/fetchray/internal/config"
	"github.com/gwlsn/fetchray/internal/logger"
	"github.com/gwlsn/fetchray/internal/ytdlp"
)

// Options tunes the relay
type Options struct {
	TempDir           string
	DefaultSink       SinkKind
	JobTimeout        time.Duration
	Preflight         bool
	MaxConcurrentJobs int
	DetailLimit       int
	DiagnosticLimit   int
	AuthFailureStatus int
	FilenamePrefix    string
}

// OptionsFromConfig maps the service config to relay options
func OptionsFromConfig(cfg *config.Config) Options {
	sink, ok := ParseSinkKind(cfg.Delivery)
	if !ok {
		sink = SinkBuffered
	}
	return Options{
		TempDir:           cfg.GetTempDir(),
		DefaultSink:       sink,
		JobTimeout:        cfg.JobTimeout,
		Preflight:         cfg.Preflight,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		DetailLimit:       cfg.DetailLimit,
		DiagnosticLimit:   cfg.DiagnosticLimit,
		AuthFailureStatus: cfg.AuthFailureStatus,
		FilenamePrefix:    cfg.FilenamePrefix,
	}
}

// Relay runs extraction jobs and delivers their output over HTTP.
// Jobs are independent; the only shared state is the concurrency limit and
// the outcome observers.
type Relay struct {
	tool *ytdlp.Tool
	opts Options
	sem  *semaphore.Weighted
	now  func() time.Time

	mu        sync.RWMutex
	recorder  Recorder
	notifiers []Notifier
}

// New creates a relay running tool with opts
func New(tool *ytdlp.Tool, opts Options) *Relay {
	if opts.MaxConcurrentJobs < 1 {
		opts.MaxConcurrentJobs = config.ClampConcurrentJobs(opts.MaxConcurrentJobs)
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 15 * time.Minute
	}
	if opts.DefaultSink == "" {
		opts.DefaultSink = SinkBuffered
	}
	if opts.FilenamePrefix == "" {
		opts.FilenamePrefix = "fetchray"
	}
	if opts.DetailLimit <= 0 {
		opts.DetailLimit = 4000
	}
	return &Relay{
		tool: tool,
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.MaxConcurrentJobs)),
		now:  time.Now,
	}
}

// DefaultSink returns the configured delivery strategy
func (r *Relay) DefaultSink() SinkKind {
	return r.opts.DefaultSink
}

// SetRecorder sets where jobs are recorded on start and finish (nil disables)
func (r *Relay) SetRecorder(rec Recorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorder = rec
}

// AddNotifier registers an event observer
func (r *Relay) AddNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers = append(r.notifiers, n)
}

// WriteError sends the JSON error contract for e
func (r *Relay) WriteError(w http.ResponseWriter, e *Error) error {
	return newResponse(w).writeError(e.Status(r.opts.AuthFailureStatus), e.Body(r.opts.DetailLimit))
}

// Serve runs spec to completion and writes exactly one response to w.
// It returns the finished job, or nil when the job was refused before
// starting. A job that failed after streaming began reports Truncated; the
// caller can only abort the connection.
func (r *Relay) Serve(w http.ResponseWriter, req *http.Request, spec JobSpec) *Job {
	resp := newResponse(w)

	if !r.sem.TryAcquire(1) {
		logger.Warn("Rejecting download, concurrency limit reached", "limit", r.opts.MaxConcurrentJobs)
		_ = resp.writeError(http.StatusServiceUnavailable, busyError().Body(r.opts.DetailLimit))
		return nil
	}
	defer r.sem.Release(1)

	job := NewJob(spec, r.opts.DiagnosticLimit)
	started := job.Record()
	r.record(started)
	r.notify(Event{Type: EventStarted, Record: started})
	defer r.finish(job)

	ctx, cancel := context.WithTimeout(req.Context(), r.opts.JobTimeout)
	defer cancel()

	r.run(ctx, cancel, job, resp)
	return job
}

func (r *Relay) run(ctx context.Context, cancel context.CancelFunc, job *Job, resp *response) {
	if r.opts.Preflight {
		if e := r.preflight(ctx, job); e != nil {
			_ = job.fail(e)
			r.respondFailure(resp, job)
			return
		}
	}

	sink, err := newSink(job, resp, r.opts.TempDir, Filename(r.opts.FilenamePrefix, job.Spec, r.now()))
	if err != nil {
		_ = job.fail(executionError("temp_storage", err))
		r.respondFailure(resp, job)
		return
	}
	defer sink.Release()

	r.extract(ctx, cancel, job, sink)

	if job.State() != StateSucceeded {
		r.respondFailure(resp, job)
		return
	}
	if err := sink.Deliver(); err != nil {
		logger.Warn("Delivery interrupted", "job_id", job.ID, "error", err)
	}
}

// respondFailure converts a FAILED job into the JSON error contract, unless
// payload bytes were already committed.
func (r *Relay) respondFailure(resp *response, job *Job) {
	f := job.Failure()
	if f == nil {
		return
	}
	if resp.Committed() {
		logger.Error("Failure after streaming began, response will be truncated",
			"job_id", job.ID, "category", f.Kind, "bytes", job.BytesEmitted())
		return
	}
	if err := resp.writeError(f.Status(r.opts.AuthFailureStatus), f.Body(r.opts.DetailLimit)); err != nil {
		logger.Error("Could not write error response", "job_id", job.ID, "error", err)
	}
}

// finish logs, records and publishes a terminal job
func (r *Relay) finish(job *Job) {
	if !job.State().IsTerminal() {
		// Only reachable through a panic between spawn and settle
		_ = job.fail(executionError("aborted", nil))
	}
	logOutcome(job)

	rec := job.Record()
	r.record(rec)

	ev := Event{Type: EventSucceeded, Record: rec}
	if job.State() == StateFailed {
		ev.Type = EventFailed
	}
	r.notify(ev)
}

func (r *Relay) record(rec *Record) {
	r.mu.RLock()
	recorder := r.recorder
	r.mu.RUnlock()
	if recorder == nil {
		return
	}
	if err := recorder.SaveRecord(rec); err != nil {
		logger.Warn("Failed to record download", "job_id", rec.ID, "error", err)
	}
}

func (r *Relay) notify(ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.notifiers {
		n.Notify(ev)
	}
}
