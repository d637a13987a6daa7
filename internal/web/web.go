package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"caldavics/internal/calendar"
	"caldavics/internal/config"
	"caldavics/internal/ics"
	appLog "caldavics/internal/log"
)

// CalendarSource produces the calendar payload served by the feed routes.
type CalendarSource interface {
	GetCalendar(ctx context.Context, startDate string, cacheEnabled bool) (string, error)
}

// Server exposes the iCalendar feed over HTTP.
type Server struct {
	cfg      *config.Config
	calendar CalendarSource
	metrics  http.Handler
	mux      *http.ServeMux
}

// NewServer constructs a new Server. metrics may be nil, in which case
// /metrics is not registered.
func NewServer(cfg *config.Config, src CalendarSource, metrics http.Handler) *Server {
	s := &Server{
		cfg:      cfg,
		calendar: src,
		metrics:  metrics,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return requestIDMiddleware(h)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.HTTPAuth == nil {
		return false
	}
	return s.cfg.HTTPAuth.Username != "" && s.cfg.HTTPAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.HTTPAuth.Username
	password := s.cfg.HTTPAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="caldavics", charset="UTF-8"`)
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

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/{$}", readOnly(s.handleCalendar))
	s.mux.HandleFunc("/calendar.ics", readOnly(s.handleCalendar))
	s.mux.HandleFunc("/single.ics", readOnly(s.handleSingle))
	s.mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics)
	}
}

// readOnly rejects every method except GET and HEAD.
func readOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendar serves the assembled calendar feed.
//
// GET /calendar.ics?date=20240101&cache=1
//   - date:  earliest event start, YYYYMMDD (default 20000101); checked
//     only when the calendar is fetched
//   - cache: any non-empty value allows a fresh cached payload to be served
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	date := q.Get("date")
	if date == "" {
		date = calendar.DefaultStartDate
	}
	useCache := q.Get("cache") != ""

	payload, err := s.calendar.GetCalendar(r.Context(), date, useCache)
	if err != nil {
		appLog.Error("calendar request failed", err,
			"request_id", requestIDFrom(r.Context()),
			"date", date,
			"cache", useCache,
		)
		if errors.Is(err, calendar.ErrInvalidDate) {
			writeError(w, http.StatusBadRequest, "date must be YYYYMMDD")
			return
		}
		if errors.Is(err, calendar.ErrUpstream) {
			writeError(w, http.StatusBadGateway, "failed to fetch calendar from CalDAV server")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to build calendar")
		return
	}

	w.Header().Set("Content-Type", "text/calendar")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(payload))
}

// handleSingle serves a fixed two-event calendar so clients can test their
// subscription without touching the CalDAV server.
func (s *Server) handleSingle(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(ics.SampleCalendar()))
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
