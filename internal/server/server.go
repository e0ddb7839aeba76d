// Package server provides the HTTP API for Tansaku. Every dataset
// operation is exposed under /api/v1/datasets/{name}; weight and boost
// strength travel as integer codes, filters and boosts as hash-identified
// handles returned by the construction endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/tansaku/internal/boost"
	"github.com/hyperjump/tansaku/internal/config"
	"github.com/hyperjump/tansaku/internal/filter"
	"github.com/hyperjump/tansaku/internal/registry"
	"github.com/hyperjump/tansaku/internal/storage"
	"github.com/hyperjump/tansaku/internal/task"
)

// Server is the HTTP server for the Tansaku API.
type Server struct {
	registry *registry.Registry
	storage  *storage.SQLiteStorage
	config   *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server

	mu      sync.Mutex
	filters map[string]map[string]*filter.Filter
	boosts  map[string]map[string]*boost.Boost
	tasks   map[string]*task.Handle
}

// NewServer creates a server with the given dependencies. storage may be
// nil; metadata persistence is then skipped.
func NewServer(
	reg *registry.Registry,
	store *storage.SQLiteStorage,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		registry: reg,
		storage:  store,
		config:   cfg,
		logger:   logger,
		filters:  make(map[string]map[string]*filter.Filter),
		boosts:   make(map[string]map[string]*boost.Boost),
		tasks:    make(map[string]*task.Handle),
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/datasets", func(r chi.Router) {
		r.Get("/", s.handleListDatasets)
		r.Post("/", s.handleCreateDataset)

		r.Route("/{name}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteDataset)
			r.Get("/status", s.handleStatus)

			r.Post("/schema/discover", s.handleDiscoverSchema)
			r.Get("/schema", s.handleGetSchema)
			r.Put("/schema/fields/{field}", s.handleConfigureField)

			r.Post("/documents", s.handleLoadDocuments)
			r.Get("/documents/{key}", s.handleGetDocument)
			r.Delete("/documents/{key}", s.handleDeleteDocument)
			r.Post("/documents/delete-where", s.handleDeleteWhere)

			r.Post("/index/build", s.handleBuildIndex)
			r.Get("/index/tasks/{id}", s.handleTaskStatus)
			r.Post("/hibernate", s.handleHibernate)
			r.Post("/wakeup", s.handleWakeUp)
			r.Post("/unload", s.handleUnload)

			r.Post("/search", s.handleSearch)

			r.Post("/filters/value", s.handleCreateValueFilter)
			r.Post("/filters/range", s.handleCreateRangeFilter)
			r.Post("/filters/keys", s.handleCreateKeyFilter)
			r.Post("/filters/combine", s.handleCombineFilters)
			r.Post("/filters/negate", s.handleNegateFilter)
			r.Post("/boosts", s.handleCreateBoost)
		})
	})

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) storeFilter(dataset string, f *filter.Filter) string {
	handle := fmt.Sprintf("%016x", f.Hash())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filters[dataset] == nil {
		s.filters[dataset] = make(map[string]*filter.Filter)
	}
	s.filters[dataset][handle] = f
	return handle
}

func (s *Server) lookupFilter(dataset, handle string) (*filter.Filter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.filters[dataset][handle]
	return f, ok
}

func (s *Server) storeBoost(dataset, id string, b *boost.Boost) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boosts[dataset] == nil {
		s.boosts[dataset] = make(map[string]*boost.Boost)
	}
	s.boosts[dataset][id] = b
}

func (s *Server) lookupBoost(dataset, id string) (*boost.Boost, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boosts[dataset][id]
	return b, ok
}

// dropDatasetState discards the handles tied to a removed or unloaded
// dataset; they reference key sets that no longer exist.
func (s *Server) dropDatasetState(dataset string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.filters, dataset)
	delete(s.boosts, dataset)
}

func (s *Server) storeTask(h *task.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[h.ID()] = h
}

func (s *Server) lookupTask(id string) (*task.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.tasks[id]
	return h, ok
}
