package relay

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/gwlsn/fetchray/internal/ytdlp"
)

// fakeTool writes a yt-dlp stand-in. The preamble parses -o into $out and
// the URL into $url, then runs body.
func fakeTool(t *testing.T, body string) *ytdlp.Tool {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake yt-dlp needs /bin/sh")
	}
	script := `#!/bin/sh
out=""
url=""
simulate=""
while [ $# -gt 0 ]; do
	case "$1" in
		-o) out="$2"; shift 2 ;;
		--simulate) simulate=1; shift ;;
		--) url="$2"; shift 2 ;;
		*) shift ;;
	esac
done
` + body + "\n"
	path := filepath.Join(t.TempDir(), "yt-dlp")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}
	return ytdlp.NewTool(path, 200*time.Millisecond)
}

func testOptions(t *testing.T) Options {
	return Options{
		TempDir:           t.TempDir(),
		DefaultSink:       SinkBuffered,
		JobTimeout:        10 * time.Second,
		MaxConcurrentJobs: 4,
		DetailLimit:       4000,
		DiagnosticLimit:   64 * 1024,
		AuthFailureStatus: 500,
		FilenamePrefix:    "fetchray",
	}
}

func audioSpec() JobSpec {
	return JobSpec{
		SourceURL: "https://valid.example/video",
		MediaKind: MediaAudio,
		Sink:      SinkBuffered,
		Extension: ".mp3",
	}
}

func videoSpec(sink SinkKind) JobSpec {
	return JobSpec{
		SourceURL: "https://valid.example/video",
		MediaKind: MediaVideo,
		Sink:      sink,
		Extension: ".mp4",
	}
}

func newPost() *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/download", nil)
}

// assertEmptyDir fails if dir has any entries left
func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no transient files in %s, found %d (first: %s)", dir, len(entries), entries[0].Name())
	}
}

// recordingNotifier collects events
type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) types() []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []EventType
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

// recordingRecorder collects saved records
type recordingRecorder struct {
	mu      sync.Mutex
	records []*Record
}

func (r *recordingRecorder) SaveRecord(rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

// signalWriter is a ResponseWriter that reports its first body write
type signalWriter struct {
	*httptest.ResponseRecorder
	once  sync.Once
	wrote chan struct{}
	mu    sync.Mutex
}

func newSignalWriter() *signalWriter {
	return &signalWriter{ResponseRecorder: httptest.NewRecorder(), wrote: make(chan struct{})}
}

func (s *signalWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	n, err := s.ResponseRecorder.Write(p)
	s.mu.Unlock()
	s.once.Do(func() { close(s.wrote) })
	return n, err
}

func (s *signalWriter) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResponseRecorder.Flush()
}

func newMissingTool(t *testing.T) *ytdlp.Tool {
	return ytdlp.NewTool(filepath.Join(t.TempDir(), "does-not-exist"), 200*time.Millisecond)
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}
