package api

import (
	"net/http"
	"slices"

	"golang.org/x/time/rate"

	"github.com/gwlsn/fetchray/internal/logger"
)

// registerAPIRoutes registers all API endpoints on the given mux
func registerAPIRoutes(mux *http.ServeMux, h *Handler, limiter *rate.Limiter) {
	mux.HandleFunc("GET /", h.Health)

	// Relay
	mux.Handle("POST /api/download", rateLimit(limiter, http.HandlerFunc(h.Download)))

	// History and events
	mux.HandleFunc("GET /api/downloads", h.ListDownloads)
	mux.HandleFunc("GET /api/downloads/stream", h.JobStream)
	mux.HandleFunc("GET /api/downloads/{id}", h.GetDownload)

	// Misc
	mux.HandleFunc("GET /api/stats", h.Stats)
	mux.HandleFunc("GET /api/tool", h.Tool)
}

// NewRouter creates the HTTP handler with all API endpoints behind CORS
func NewRouter(h *Handler) http.Handler {
	var limiter *rate.Limiter
	if h.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.cfg.RateLimit), h.cfg.RateBurst)
	}

	mux := http.NewServeMux()
	registerAPIRoutes(mux, h, limiter)

	return cors(h.cfg.AllowedOrigins, mux)
}

// cors reflects permitted origins and answers preflight requests.
// An empty allow list permits any origin.
func cors(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (len(allowed) == 0 || slices.Contains(allowed, origin)) {
			hdr := w.Header()
			hdr.Set("Access-Control-Allow-Origin", origin)
			hdr.Add("Vary", "Origin")
			hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			hdr.Set("Access-Control-Allow-Headers", "Content-Type")
			hdr.Set("Access-Control-Expose-Headers", "Content-Disposition, Content-Length")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit rejects requests beyond the limiter's budget with 429.
// A nil limiter disables limiting.
func rateLimit(limiter *rate.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn("Rate limit exceeded", "remote", r.RemoteAddr)
			writeError(w, http.StatusTooManyRequests, "Too many requests. Please slow down and try again.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
