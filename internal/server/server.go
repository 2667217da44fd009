// Package server exposes the analyzer and the report store over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sitetrust/sitetrust/internal/analyzer"
	"github.com/sitetrust/sitetrust/internal/logger"
	"github.com/sitetrust/sitetrust/internal/policy"
	"github.com/sitetrust/sitetrust/internal/report"
	"github.com/sitetrust/sitetrust/internal/target"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// Analyzer scores one URL.
type Analyzer interface {
	Analyze(ctx context.Context, rawURL string) (*policy.Report, error)
}

// Server is the HTTP API server.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server
	analyzer Analyzer
	reports  report.Store
	logger   *logger.Logger
	now      func() time.Time
	done     chan struct{}
}

// Config represents API server configuration
type Config struct {
	Addr     string
	Analyzer Analyzer
	// Reports may be nil; the report endpoints then answer 503.
	Reports report.Store
	Logger  *logger.Logger
}

// NewServer creates a new API server
func NewServer(config Config) *Server {
	log := config.Logger
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		addr:     config.Addr,
		analyzer: config.Analyzer,
		reports:  config.Reports,
		logger:   log,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	s.http = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/analyze", s.analyze)

		r.Get("/reports", s.listReports)
		r.Post("/reports", s.addReport)
		r.Get("/reports/{host}", s.getReport)
		r.Delete("/reports/{host}", s.removeReport)
	})

	return r
}

// Start starts the API server
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	s.listener = listener
	s.logger.Info("server_start", fmt.Sprintf("API server started on %s", s.Addr()), nil)

	go func() {
		defer close(s.done)
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve_error", "API server stopped unexpectedly", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	err := s.http.Shutdown(ctx)
	<-s.done

	s.logger.Info("server_stop", "API server stopped", nil)
	return err
}

// Addr returns the address the server is listening on
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(analyzer.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "url is required"})
		return
	}

	rep, err := s.analyzer.Analyze(r.Context(), raw)
	if err != nil {
		var ite *target.InvalidTargetError
		if errors.As(err, &ite) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		s.logger.Error("analyze_error", "Analysis failed", map[string]interface{}{
			"url":   raw,
			"error": err.Error(),
		})
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "analysis failed"})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) storeOrUnavailable(w http.ResponseWriter) bool {
	if s.reports == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "report store disabled"})
		return false
	}
	return true
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	if !s.storeOrUnavailable(w) {
		return
	}
	entries, err := s.reports.List(r.Context())
	if err != nil {
		s.storeError(w, "list", err)
		return
	}
	if entries == nil {
		entries = []report.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) addReport(w http.ResponseWriter, r *http.Request) {
	if !s.storeOrUnavailable(w) {
		return
	}
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	entry, err := report.NewEntry(req.URL, s.now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if err := s.reports.Save(r.Context(), entry); err != nil {
		s.storeError(w, "save", err)
		return
	}
	s.logger.Info("report_saved", "Site reported", map[string]interface{}{
		"hostname": entry.Hostname,
	})
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	if !s.storeOrUnavailable(w) {
		return
	}
	host, ok := hostParam(w, r)
	if !ok {
		return
	}
	entry, err := s.reports.Get(r.Context(), host)
	if err != nil {
		s.storeError(w, "get", err)
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "report not found"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) removeReport(w http.ResponseWriter, r *http.Request) {
	if !s.storeOrUnavailable(w) {
		return
	}
	host, ok := hostParam(w, r)
	if !ok {
		return
	}
	if err := s.reports.Remove(r.Context(), host); err != nil {
		if errors.Is(err, report.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "report not found"})
			return
		}
		s.storeError(w, "remove", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func hostParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	host, err := target.ParseHost(chi.URLParam(r, "host"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return "", false
	}
	return host, true
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("report_store_error", "Report store "+op+" failed", map[string]interface{}{
		"error": err.Error(),
	})
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "report store unavailable"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
