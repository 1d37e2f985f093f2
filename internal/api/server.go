// Package api serves a read-only JSON view of the training run archive.
package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/lox/harmoclimate/internal/store"
)

type Server struct {
	store    *store.Store
	addr     string
	log      logrus.FieldLogger
	registry *prometheus.Registry
}

func NewServer(store *store.Store, addr string, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		store:    store,
		addr:     addr,
		log:      log.WithField("component", "api"),
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "harmoclimate_archived_runs",
			Help: "Training runs in the archive",
		}, func() float64 { return s.countRuns(false) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "harmoclimate_archived_failed_runs",
			Help: "Finished training runs in the archive that failed",
		}, func() float64 { return s.countRuns(true) }),
	)
	return s
}

func (s *Server) countRuns(failedOnly bool) float64 {
	total, failed, err := s.store.CountRuns()
	if err != nil {
		s.log.WithError(err).Warn("count archived runs")
		return math.NaN()
	}
	if failedOnly {
		return float64(failed)
	}
	return float64(total)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}/fits", s.handleFits)
	mux.HandleFunc("GET /api/runs/{id}/years/{target}", s.handleYears)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.WithField("addr", s.addr).Info("http server starting")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type HealthStatus struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version, err := s.store.MigrationVersion()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, HealthStatus{Status: "error", Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, HealthStatus{Status: "ok", SchemaVersion: version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("encode response")
	}
}
