package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
)

// response guards an http.ResponseWriter so that exactly one response is
// sent per request. Any attempt to commit twice returns ErrResponseCommitted.
type response struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu        sync.Mutex
	committed bool
}

func newResponse(w http.ResponseWriter) *response {
	return &response{w: w, rc: http.NewResponseController(w)}
}

// Committed reports whether headers have been sent
func (r *response) Committed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

// commit writes headers and status once
func (r *response) commit(status int, setHeaders func(h http.Header)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.committed {
		return ErrResponseCommitted
	}
	r.committed = true
	if setHeaders != nil {
		setHeaders(r.w.Header())
	}
	r.w.WriteHeader(status)
	return nil
}

// Write forwards body bytes; headers must already be committed
func (r *response) Write(p []byte) (int, error) {
	if !r.Committed() {
		return 0, errors.New("write before commit")
	}
	return r.w.Write(p)
}

func (r *response) flush() {
	// Not every writer supports flushing; the payload still arrives
	_ = r.rc.Flush()
}

// writeError sends the JSON error contract
func (r *response) writeError(status int, body ErrorBody) error {
	err := r.commit(status, func(h http.Header) {
		h.Set("Content-Type", "application/json; charset=utf-8")
		h.Set("Cache-Control", "no-store")
	})
	if err != nil {
		return err
	}
	return json.NewEncoder(r.w).Encode(body)
}
