package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gwlsn/fetchray/internal/logger"
	"github.com/gwlsn/fetchray/internal/ytdlp"
)

// Sink is a delivery strategy. The relay asks it where yt-dlp should write,
// feeds it the tool's stdout, and after termination asks how much payload
// was produced and to deliver a successful job.
type Sink interface {
	Kind() SinkKind

	// Target is the yt-dlp -o value
	Target() string

	// Payload receives the tool's stdout. It must never return an error so
	// the tool is never blocked; cancel stops the job on delivery failure.
	Payload(cancel context.CancelFunc) io.Writer

	// Produced reports payload bytes after the tool exited
	Produced() (int64, error)

	// Deliver sends a SUCCEEDED job's payload to the caller
	Deliver() error

	// Release frees transient storage. Safe to call more than once.
	Release()
}

// newSink selects the strategy named by the job's spec
func newSink(job *Job, resp *response, tempRoot, filename string) (Sink, error) {
	switch job.Spec.Sink {
	case SinkStreamed:
		return &streamedSink{job: job, resp: resp, filename: filename}, nil
	case SinkBuffered:
		return newBufferedSink(job, resp, tempRoot, filename)
	}
	return nil, fmt.Errorf("unknown sink kind %q", job.Spec.Sink)
}

// attachmentHeaders sets the download headers common to both strategies
func attachmentHeaders(h http.Header, spec JobSpec, filename string) {
	h.Set("Content-Type", spec.ContentType())
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
}

// Filename derives the attachment name for a job
func Filename(prefix string, spec JobSpec, now time.Time) string {
	infix := "_"
	if spec.MediaKind == MediaVideo {
		infix = "_video_"
	}
	return prefix + infix + strconv.FormatInt(now.UnixMilli(), 10) + spec.Extension
}

// streamedSink pipes stdout straight to the caller. Headers are committed
// lazily when the first payload byte arrives.
type streamedSink struct {
	job      *Job
	resp     *response
	filename string

	mu        sync.Mutex
	cancel    context.CancelFunc
	clientErr error
}

func (s *streamedSink) Kind() SinkKind { return SinkStreamed }

func (s *streamedSink) Target() string { return ytdlp.StdoutTarget }

func (s *streamedSink) Payload(cancel context.CancelFunc) io.Writer {
	s.cancel = cancel
	return s
}

// Write forwards one stdout chunk to the caller
func (s *streamedSink) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clientErr != nil {
		return n, nil
	}

	first, err := s.job.beginStreaming()
	if err != nil {
		return n, nil
	}
	if first {
		err := s.resp.commit(http.StatusOK, func(h http.Header) {
			attachmentHeaders(h, s.job.Spec, s.filename)
		})
		if err != nil {
			logger.Error("Streamed headers already committed", "job_id", s.job.ID, "error", err)
			s.abort(err)
			return n, nil
		}
		logger.Debug("Streaming started", "job_id", s.job.ID)
	}

	s.job.addBytes(int64(n))
	if _, err := s.resp.Write(p); err != nil {
		logger.Warn("Client write failed, stopping yt-dlp", "job_id", s.job.ID, "error", err)
		s.abort(err)
		return n, nil
	}
	s.resp.flush()
	return n, nil
}

// abort stops forwarding and terminates the job. Called with mu held.
func (s *streamedSink) abort(err error) {
	s.clientErr = err
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *streamedSink) Produced() (int64, error) {
	return s.job.BytesEmitted(), nil
}

func (s *streamedSink) Deliver() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientErr
}

func (s *streamedSink) Release() {}

// bufferedSink has yt-dlp write into a private directory, then streams the
// finished artifact with an exact Content-Length.
type bufferedSink struct {
	job      *Job
	resp     *response
	filename string
	dir      string
	path     string
	once     sync.Once
}

func newBufferedSink(job *Job, resp *response, tempRoot, filename string) (*bufferedSink, error) {
	if err := os.MkdirAll(tempRoot, 0755); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}
	dir, err := os.MkdirTemp(tempRoot, transientDirPrefix+job.ID+"-")
	if err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	path := filepath.Join(dir, "media"+job.Spec.Extension)
	job.setTransientPath(path)

	return &bufferedSink{
		job:      job,
		resp:     resp,
		filename: filename,
		dir:      dir,
		path:     path,
	}, nil
}

func (b *bufferedSink) Kind() SinkKind { return SinkBuffered }

func (b *bufferedSink) Target() string { return b.path }

// Payload logs yt-dlp's stdout chatter; the media goes to the file
func (b *bufferedSink) Payload(context.CancelFunc) io.Writer {
	return &lineLogger{jobID: b.job.ID}
}

func (b *bufferedSink) Produced() (int64, error) {
	info, err := os.Stat(b.path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("artifact is not a regular file: %s", b.path)
	}
	return info.Size(), nil
}

func (b *bufferedSink) Deliver() error {
	f, err := os.Open(b.path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}

	err = b.resp.commit(http.StatusOK, func(h http.Header) {
		attachmentHeaders(h, b.job.Spec, b.filename)
		h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	})
	if err != nil {
		return err
	}

	n, err := io.Copy(b.resp, f)
	if err != nil {
		return fmt.Errorf("send artifact after %s: %w", humanize.Bytes(uint64(n)), err)
	}
	return nil
}

// Release removes the job directory and everything yt-dlp left in it
func (b *bufferedSink) Release() {
	b.once.Do(func() {
		if err := os.RemoveAll(b.dir); err != nil {
			logger.Warn("Failed to remove transient files", "job_id", b.job.ID, "dir", b.dir, "error", err)
			return
		}
		logger.Debug("Transient files removed", "job_id", b.job.ID, "dir", b.dir)
	})
}

// lineLogger writes stdout lines at debug level
type lineLogger struct {
	jobID string
	buf   []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p...)
	for {
		i := indexNewline(l.buf)
		if i < 0 {
			break
		}
		if line := string(l.buf[:i]); line != "" {
			logger.Debug("yt-dlp output", "job_id", l.jobID, "line", line)
		}
		l.buf = l.buf[i+1:]
	}
	if len(l.buf) > 4096 {
		l.buf = l.buf[len(l.buf)-4096:]
	}
	return len(p), nil
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' || c == '\r' {
			return i
		}
	}
	return -1
}
