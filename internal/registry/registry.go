// Package registry tracks named datasets. Each entry owns its own engine
// with its own schema, documents and index; there is no shared state
// between datasets beyond the task runner.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/tansaku/internal/core"
	"github.com/hyperjump/tansaku/internal/engine"
	"github.com/hyperjump/tansaku/internal/task"
	"github.com/hyperjump/tansaku/pkg/utils"
)

// Registry is the set of live datasets.
type Registry struct {
	logger *zap.Logger
	opts   engine.Options
	runner *task.Runner

	mu       sync.RWMutex
	datasets map[string]*engine.Engine
}

// New creates an empty registry. All datasets share one task runner.
func New(opts engine.Options, logger *zap.Logger) (*Registry, error) {
	logger = utils.LoggerOrNop(logger)
	runner := opts.Runner
	if runner == nil {
		var err error
		runner, err = task.NewRunner(0, logger)
		if err != nil {
			return nil, fmt.Errorf("create task runner: %w", err)
		}
		opts.Runner = runner
	}
	return &Registry{
		logger:   logger,
		opts:     opts,
		runner:   runner,
		datasets: make(map[string]*engine.Engine),
	}, nil
}

// Create adds a new empty dataset.
func (r *Registry) Create(name string) (*engine.Engine, error) {
	if name == "" {
		return nil, fmt.Errorf("dataset name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.datasets[name]; exists {
		return nil, fmt.Errorf("dataset %q already exists", name)
	}
	e, err := engine.New(name, r.opts, r.logger)
	if err != nil {
		return nil, fmt.Errorf("create dataset %q: %w", name, err)
	}
	r.datasets[name] = e
	r.logger.Info("dataset created", zap.String("dataset", name))
	return e, nil
}

// Get returns a dataset by name.
func (r *Registry) Get(name string) (*engine.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.datasets[name]
	if !ok {
		return nil, fmt.Errorf("%w: dataset %q", core.ErrNotFound, name)
	}
	return e, nil
}

// Delete unloads and removes a dataset.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.datasets[name]
	if !ok {
		return fmt.Errorf("%w: dataset %q", core.ErrNotFound, name)
	}
	e.Unload()
	e.Close()
	delete(r.datasets, name)
	r.logger.Info("dataset deleted", zap.String("dataset", name))
	return nil
}

// Names returns the dataset names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.datasets))
	for name := range r.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the dataset count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.datasets)
}

// Close unloads every dataset and releases the shared runner.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.datasets {
		e.Unload()
		delete(r.datasets, name)
	}
	r.runner.Close()
}
