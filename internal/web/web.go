// Package web serves the HTTP API over the merged feed set.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"icalq/feed"
	"icalq/ics"
	"icalq/internal/config"
	appLog "icalq/internal/log"
	"icalq/internal/metrics"
)

// Server provides the query API over the configured feed sources.
//
// Endpoints:
//   - GET /health
//   - GET /metrics
//   - GET /api/occurrences
type Server struct {
	cfg     *config.Config
	opts    ics.Options
	fetcher *feed.Fetcher
	router  chi.Router

	// Single-entry cache for /api/occurrences responses so bursts of
	// identical requests don't repeat fetch/parse/expand work. The main
	// refresh cadence is still the cron loop in cmd/icalq.
	occMu    sync.RWMutex
	occCache *occurrencesCache
}

// NewServer constructs a new Server. opts should come from cfg.Options so
// the API and the watch loop parse feeds identically.
func NewServer(cfg *config.Config, opts ics.Options, fetcher *feed.Fetcher) *Server {
	s := &Server{
		cfg:     cfg,
		opts:    opts,
		fetcher: fetcher,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/api/occurrences", s.handleOccurrences)

	return r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password counts as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays reachable without credentials for liveness probes.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="icalq", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// occurrencesResponse is the JSON response shape for /api/occurrences.
type occurrencesResponse struct {
	Occurrences []ics.Occurrence `json:"occurrences"`
	Warnings    []ics.Warning    `json:"warnings,omitempty"`
	WindowStart time.Time        `json:"window_start"`
	WindowEnd   time.Time        `json:"window_end"`
	Mode        ics.QueryMode    `json:"mode"`
	Timezone    string           `json:"timezone,omitempty"`
	FetchErrors int              `json:"fetch_errors,omitempty"`
}

// occurrencesCache holds one cached /api/occurrences response keyed by the
// raw request parameters, so default-window requests share an entry even as
// the wall clock advances.
type occurrencesCache struct {
	key       string
	resp      occurrencesResponse
	updatedAt time.Time
}

// handleOccurrences answers a time-window query over every configured source.
//
// GET /api/occurrences?start=...&end=...&mode=overlap&dedup=true
//   - start, end: RFC 3339 window bounds; defaults come from the configured
//     backfill/horizon around now
//   - mode:       "overlap" (default) or "contains"
//   - dedup:      collapse duplicate (uid, start) pairs, keeping the last
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	qp := r.URL.Query()

	now := time.Now()
	start, end := s.cfg.Window(now)
	if raw := qp.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
			return
		}
		start = t
	}
	if raw := qp.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
			return
		}
		end = t
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "window end must be after start")
		return
	}

	mode := s.cfg.QueryMode()
	switch raw := qp.Get("mode"); raw {
	case "":
	case "overlap":
		mode = ics.ModeOverlap
	case "contains":
		mode = ics.ModeContains
	default:
		writeError(w, http.StatusBadRequest, "invalid mode: "+raw)
		return
	}

	dedup := s.cfg.Dedup
	if raw := qp.Get("dedup"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid dedup: "+err.Error())
			return
		}
		dedup = b
	}

	// Cache on the raw parameters, not the resolved times: requests with
	// default windows then share an entry for the TTL.
	const cacheTTL = 30 * time.Second
	cacheKey := qp.Get("start") + "|" + qp.Get("end") + "|" + string(mode) + "|" + strconv.FormatBool(dedup)

	s.occMu.RLock()
	oc := s.occCache
	s.occMu.RUnlock()
	if oc != nil && oc.key == cacheKey && time.Since(oc.updatedAt) < cacheTTL {
		writeJSON(w, http.StatusOK, oc.resp)
		return
	}

	appLog.Info("api occurrences request",
		"window_start", start.Format(time.RFC3339),
		"window_end", end.Format(time.RFC3339),
		"mode", string(mode),
		"dedup", dedup,
		"sources", len(s.cfg.Sources),
	)

	q := ics.Query{Start: start, End: end, Mode: mode, Dedup: dedup}
	res := feed.Merged(ctx, s.fetcher, s.cfg.Sources, s.opts, q)
	if len(res.Errors) > 0 {
		appLog.Error("api occurrences: one or more sources failed", errorsAggregate(res.Errors), "error_count", len(res.Errors))
	}

	occs := res.Occurrences
	if occs == nil {
		occs = []ics.Occurrence{}
	}

	resp := occurrencesResponse{
		Occurrences: occs,
		Warnings:    res.Warnings,
		WindowStart: start,
		WindowEnd:   end,
		Mode:        mode,
		Timezone:    s.cfg.Timezone,
		FetchErrors: len(res.Errors),
	}

	s.occMu.Lock()
	s.occCache = &occurrencesCache{
		key:       cacheKey,
		resp:      resp,
		updatedAt: time.Now(),
	}
	s.occMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

func errorsAggregate(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var b strings.Builder
	for i, e := range errs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.Error())
	}
	return errors.New(b.String())
}
