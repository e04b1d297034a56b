package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gwlsn/fetchray/internal/config"
	"github.com/gwlsn/fetchray/internal/events"
	"github.com/gwlsn/fetchray/internal/logger"
	"github.com/gwlsn/fetchray/internal/relay"
	"github.com/gwlsn/fetchray/internal/store"
	"github.com/gwlsn/fetchray/internal/ytdlp"
)

// maxRequestBody caps the JSON body of a download request
const maxRequestBody = 64 * 1024

// Handler provides HTTP API handlers
type Handler struct {
	relay   *relay.Relay
	store   store.Store // nil when history is disabled
	broker  *events.Broker
	cfg     *config.Config
	version string
}

// NewHandler creates a new API handler. st may be nil.
func NewHandler(r *relay.Relay, st store.Store, broker *events.Broker, cfg *config.Config, version string) *Handler {
	return &Handler{
		relay:   r,
		store:   st,
		broker:  broker,
		cfg:     cfg,
		version: version,
	}
}

// response helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": message})
}

// Health handles GET /
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"name":    "fetchray",
		"version": h.version,
	})
}

// Download handles POST /api/download.
// The response is either the media file or a JSON error, never both.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var raw relay.RawRequest
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.relay.WriteError(w, relay.InvalidRequest("Request body must be a JSON object."))
		return
	}

	spec, err := relay.Normalize(raw, h.relay.DefaultSink())
	if err != nil {
		var re *relay.Error
		if !errors.As(err, &re) {
			re = relay.InvalidRequest(err.Error())
		}
		h.relay.WriteError(w, re)
		return
	}

	job := h.relay.Serve(w, r, spec)
	if job != nil && job.Truncated() {
		// Headers and part of the payload are out; a clean end of body would
		// look like a complete file to the client.
		panic(http.ErrAbortHandler)
	}
}

// ListDownloads handles GET /api/downloads?limit=N
func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "download history is disabled")
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}

	records, err := h.store.Recent(limit)
	if err != nil {
		logger.Error("Failed to list downloads", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read download history")
		return
	}
	if records == nil {
		records = []*relay.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetDownload handles GET /api/downloads/{id}
func (h *Handler) GetDownload(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "download history is disabled")
		return
	}

	id := r.PathValue("id")
	rec, err := h.store.GetRecord(id)
	if err != nil {
		logger.Error("Failed to read download", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read download history")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "download not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Stats handles GET /api/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := store.Stats{ByCategory: map[string]int{}}
	if h.store != nil {
		s, err := h.store.Stats()
		if err != nil {
			logger.Error("Failed to compute stats", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to read download history")
			return
		}
		stats = s
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": h.store != nil,
		"active":  len(h.broker.Active()),
		"stats":   stats,
	})
}

// Tool handles GET /api/tool
func (h *Handler) Tool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ytdlp.Detected())
}
