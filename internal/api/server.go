// Package api exposes the service over HTTP: health, metrics, manual run
// triggers, and lookups of persisted state.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"gridsync/internal/config"
	"gridsync/internal/domain"
	"gridsync/internal/monitoring"
)

// Runner starts extraction runs. Satisfied by pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, days int) domain.RunResult
}

// RunRegistry exposes run coordination state. Satisfied by storage.RedisStore.
type RunRegistry interface {
	RunActive(ctx context.Context) (bool, error)
	LastRun(ctx context.Context) (*domain.RunResult, error)
}

// RecordFinder looks up persisted rows. Satisfied by storage.PostgresStore.
type RecordFinder interface {
	FetchFirst(ctx context.Context, externalID string) (*domain.StatusRow, error)
}

// Pinger reports backend liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps bundles everything the server serves.
type Deps struct {
	Runner   Runner
	Registry RunRegistry
	Records  RecordFinder
	Postgres Pinger
	Redis    Pinger
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     *config.Config
	router     http.Handler
	httpServer *http.Server
	runner     Runner
	registry   RunRegistry
	records    RecordFinder
	postgres   Pinger
	redis      Pinger
	gatherer   prometheus.Gatherer
	metrics    *monitoring.Metrics
	logger     *zap.Logger
	runs       sync.WaitGroup
}

func NewServer(cfg *config.Config, deps Deps, gatherer prometheus.Gatherer, m *monitoring.Metrics, l *zap.Logger) *Server {
	s := &Server{
		config:   cfg,
		runner:   deps.Runner,
		registry: deps.Registry,
		records:  deps.Records,
		postgres: deps.Postgres,
		redis:    deps.Redis,
		gatherer: gatherer,
		metrics:  m,
		logger:   l,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.config.ServerPort),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// WaitForRuns blocks until every run accepted by the trigger endpoint has
// returned. Call it after Shutdown: once the listener has drained, no new
// triggers can arrive.
func (s *Server) WaitForRuns() {
	s.runs.Wait()
}
