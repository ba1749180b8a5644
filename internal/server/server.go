// Package server exposes the dashboard over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"conduitdash/internal/api"
	"conduitdash/internal/metrics"
	"conduitdash/internal/model"
)

// Backend is the dashboard service as seen by the HTTP layer.
type Backend interface {
	GetCurrentStats(ctx context.Context) ([]model.DisplayStats, error)
	GetHistory(ctx context.Context, hours int) ([]model.HistoryPoint, error)
	Summary(ctx context.Context, window time.Duration) (metrics.Summary, error)
	Offsets(ctx context.Context) (model.OffsetRecord, error)
	ResetOffsets(ctx context.Context) error
	ClearAll(ctx context.Context) error
	Name() string
	Host() string
}

type Options struct {
	Listen         string
	StaticDir      string
	StreamInterval time.Duration
}

// Server provides the dashboard HTTP API.
type Server struct {
	backend Backend
	opts    Options
	router  *mux.Router

	// done is closed on shutdown to end websocket streams, which Shutdown
	// does not wait for.
	done     chan struct{}
	stopOnce sync.Once
}

func NewServer(b Backend, opts Options) *Server {
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 5 * time.Second
	}
	s := &Server{backend: b, opts: opts, done: make(chan struct{})}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)

	sub := r.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	sub.HandleFunc("/stats/ws", s.handleStream).Methods(http.MethodGet)
	sub.HandleFunc("/stats/clear", s.handleClear).Methods(http.MethodPost)
	sub.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	sub.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	sub.HandleFunc("/offsets", s.handleOffsets).Methods(http.MethodGet)
	sub.HandleFunc("/offsets/reset", s.handleResetOffsets).Methods(http.MethodPost)
	sub.HandleFunc("/geo", handleGeo).Methods(http.MethodGet)
	sub.HandleFunc("/bandwidth", handleBandwidth).Methods(http.MethodGet)
	sub.HandleFunc("/status", handleStatus).Methods(http.MethodGet)
	sub.HandleFunc("/servers", s.handleServers).Methods(http.MethodGet)
	sub.HandleFunc("/control/{action}", handleControlAll).Methods(http.MethodPost)
	sub.HandleFunc("/control/{server}/{action}", handleControlOne).Methods(http.MethodPost)

	if s.opts.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.opts.StaticDir)))
	}

	r.Use(Recovery)
	r.Use(Logging)
	return r
}

// ListenAndServe runs the HTTP server until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is canceled, then shuts down
// gracefully. Request contexts are not derived from ctx, so in-flight
// requests drain instead of failing.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.RegisterOnShutdown(s.stopStreams)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("dashboard listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) stopStreams() {
	s.stopOnce.Do(func() { close(s.done) })
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.backend.GetCurrentStats(r.Context())
	if err != nil {
		log.Printf("stats failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	// Unparseable values fall back to the default window.
	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))
	points, err := s.backend.GetHistory(r.Context(), hours)
	if err != nil {
		log.Printf("history failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}
	sum, err := s.backend.Summary(r.Context(), window)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleOffsets(w http.ResponseWriter, r *http.Request) {
	off, err := s.backend.Offsets(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, off)
}

func (s *Server) handleResetOffsets(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.ResetOffsets(r.Context()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.ActionResponse{Success: true, Message: "Offsets reset"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.ClearAll(r.Context()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.ActionResponse{Success: true, Message: "Stats and offsets cleared"})
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []api.ServerInfo{{Name: s.backend.Name(), Host: s.backend.Host()}})
}

// The UI polls these; a single local node has nothing to report.

func handleGeo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []any{})
}

func handleBandwidth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{})
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.SetupStatus{ServerCount: 1})
}

func handleControlAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.ControlAllResponse{
		Action:  mux.Vars(r)["action"],
		Results: []api.ControlResult{},
	})
}

func handleControlOne(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	writeJSON(w, http.StatusOK, api.ControlResult{
		Server:  vars["server"],
		Action:  vars["action"],
		Success: false,
		Error:   "Control not implemented for local node",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
