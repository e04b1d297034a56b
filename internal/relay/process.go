package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gwlsn/fetchray/internal/logger"
	"github.com/gwlsn/fetchray/internal/ytdlp"
)

// extract spawns yt-dlp for job, drains both output channels into the job
// and sink, and leaves the job in a terminal state.
func (r *Relay) extract(ctx context.Context, cancel context.CancelFunc, job *Job, sink Sink) {
	args := ytdlp.BuildArgs(job.Spec.toolOptions(sink.Target()))
	logger.Info("yt-dlp starting",
		"job_id", job.ID,
		"url", job.Spec.SourceURL,
		"mode", job.Spec.MediaKind,
		"quality", job.Spec.Quality.String(),
		"sink", sink.Kind(),
		"target", sink.Target())
	if logger.Enabled(slog.LevelDebug) {
		logger.Debug("yt-dlp command", "job_id", job.ID, "args", strings.Join(args, " "))
	}

	cmd := r.tool.Command(ctx, args...)
	cmd.Stdout = sink.Payload(cancel)
	cmd.Stderr = job

	if err := cmd.Start(); err != nil {
		job.setExitCode(-1)
		_ = job.fail(executionError("spawn", fmt.Errorf("start yt-dlp: %w", err)))
		return
	}

	waitErr := cmd.Wait()
	r.settle(ctx, job, sink, waitErr)
}

// settle applies the termination rules:
//   - killed by timeout or cancellation -> FAILED, ExecutionError
//   - non-zero exit -> FAILED, classified from diagnostics
//   - zero exit with no payload -> FAILED (EmptyArtifact for buffered sinks)
//   - zero exit with payload -> SUCCEEDED
func (r *Relay) settle(ctx context.Context, job *Job, sink Sink, waitErr error) {
	// Output pipes held open by a grandchild after a clean exit
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		waitErr = nil
	}

	code := ytdlp.ExitCode(waitErr)
	job.setExitCode(code)

	if waitErr != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			_ = job.fail(executionError("timeout", fmt.Errorf("yt-dlp exceeded %s: %w", r.opts.JobTimeout, waitErr)))
		case ctx.Err() != nil:
			_ = job.fail(executionError("cancelled", waitErr))
		case code < 0:
			_ = job.fail(executionError("wait", waitErr))
		default:
			_ = job.fail(Classify(job.Diagnostics()))
		}
		return
	}

	produced, err := sink.Produced()
	if err != nil || produced == 0 {
		if sink.Kind() == SinkBuffered {
			_ = job.fail(emptyArtifactError(job.Diagnostics()))
			return
		}
		e := Classify(job.Diagnostics())
		e.Kind, e.Reason, e.Message = KindExtractionFailed, "no_output", genericMessage
		_ = job.fail(e)
		return
	}

	if err := job.succeed(produced); err != nil {
		logger.Error("Job already terminal at exit", "job_id", job.ID, "error", err)
	}
}

// preflight runs yt-dlp --simulate so extraction problems surface as a
// clean JSON error before any payload is produced.
func (r *Relay) preflight(ctx context.Context, job *Job) *Error {
	start := time.Now()
	args := ytdlp.BuildArgs(job.Spec.toolOptions("").WithSimulate())
	cmd := r.tool.Command(ctx, args...)
	cmd.Stderr = job

	if err := cmd.Start(); err != nil {
		return executionError("spawn", fmt.Errorf("start yt-dlp preflight: %w", err))
	}
	err := cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) {
		err = nil
	}
	if err == nil {
		logger.Debug("Preflight passed", "job_id", job.ID, "elapsed", time.Since(start))
		return nil
	}

	job.setExitCode(ytdlp.ExitCode(err))
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return executionError("timeout", err)
	case ctx.Err() != nil:
		return executionError("cancelled", err)
	case ytdlp.ExitCode(err) < 0:
		return executionError("wait", err)
	}
	return Classify(job.Diagnostics())
}

func logOutcome(job *Job) {
	rec := job.Record()
	if f := job.Failure(); f != nil {
		logger.Error("yt-dlp failed",
			"job_id", job.ID,
			"category", f.Kind,
			"reason", f.Reason,
			"exit_code", rec.ExitCode,
			"bytes", rec.Bytes,
			"stderr", ytdlp.LastLines(job.Diagnostics(), 5))
		return
	}
	logger.Info("Download finished",
		"job_id", job.ID,
		"size", humanize.Bytes(uint64(rec.Bytes)),
		"elapsed", time.Duration(rec.DurationMs)*time.Millisecond)
}
