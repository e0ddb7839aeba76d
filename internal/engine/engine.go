// Package engine ties the search components together into a dataset
// lifecycle: discover a schema, load documents, build the index, search.
// One Engine owns one dataset.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"go.uber.org/zap"

	"github.com/hyperjump/tansaku/internal/boost"
	"github.com/hyperjump/tansaku/internal/core"
	"github.com/hyperjump/tansaku/internal/coverage"
	"github.com/hyperjump/tansaku/internal/document"
	"github.com/hyperjump/tansaku/internal/facet"
	"github.com/hyperjump/tansaku/internal/filter"
	"github.com/hyperjump/tansaku/internal/pattern"
	"github.com/hyperjump/tansaku/internal/schema"
	"github.com/hyperjump/tansaku/internal/task"
	"github.com/hyperjump/tansaku/pkg/utils"
)

// Options tunes one engine.
type Options struct {
	// Capacity caps the document count; zero means unlimited.
	Capacity int
	// PreloadWorkers bounds the filter-preload pool.
	PreloadWorkers int
	// Coverage is the default detector setup; per-query setups override it.
	Coverage coverage.Setup
	// Runner executes background builds. Nil creates a private runner.
	Runner *task.Runner
}

// index is the queryable snapshot published after a build. Readers grab
// the whole pointer; a rebuild constructs a fresh one and swaps it in, so
// a search never observes a half-built state.
type index struct {
	matcher  *pattern.Matcher
	coverage *coverage.Engine
	facets   *facet.Aggregator
	gen      uint64
}

// Engine is one dataset: its schema, documents, and index.
type Engine struct {
	name   string
	logger *zap.Logger
	opts   Options
	runner *task.Runner

	schema  *schema.Schema
	store   *document.Store
	filters *filter.Engine

	idx atomic.Pointer[index]

	mu      sync.Mutex
	state   State
	lastErr error

	searchCount atomic.Uint64
}

// New creates an empty dataset engine in the Created state.
func New(name string, opts Options, logger *zap.Logger) (*Engine, error) {
	logger = utils.LoggerOrNop(logger).With(zap.String("dataset", name))
	runner := opts.Runner
	if runner == nil {
		var err error
		runner, err = task.NewRunner(0, logger)
		if err != nil {
			return nil, fmt.Errorf("create task runner: %w", err)
		}
	}

	s := schema.New()
	store := document.NewStore(opts.Capacity)
	return &Engine{
		name:    name,
		logger:  logger,
		opts:    opts,
		runner:  runner,
		schema:  s,
		store:   store,
		filters: filter.NewEngine(s, store, opts.PreloadWorkers, logger),
		state:   StateCreated,
	}, nil
}

// Name returns the dataset name.
func (e *Engine) Name() string { return e.name }

// Schema returns the dataset's schema.
func (e *Engine) Schema() *schema.Schema { return e.schema }

// Status is the dataset's externally visible condition.
type Status struct {
	State           State  `json:"state"`
	DocumentCount   int    `json:"documentCount"`
	SearchCount     uint64 `json:"searchCount"`
	ReindexRequired bool   `json:"reindexRequired"`
	LastError       string `json:"lastError,omitempty"`
}

// Status reports the current state and counters.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		State:         e.state,
		DocumentCount: e.store.Len(),
		SearchCount:   e.searchCount.Load(),
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	if idx := e.idx.Load(); idx != nil {
		st.ReindexRequired = idx.gen != e.store.Generation()
	} else {
		st.ReindexRequired = e.state.oneOf(StateLoaded, StateHibernated)
	}
	return st
}

func (e *Engine) requireState(op string, allowed ...State) error {
	if !e.state.oneOf(allowed...) {
		return fmt.Errorf("%s: dataset %q is %s: %w", op, e.name, e.state, core.ErrInvalidState)
	}
	return nil
}

// DiscoverSchema infers the schema from a sample of documents in source
// (JSON array or NDJSON). The documents are inspected, not loaded. May be
// re-run until documents are loaded.
func (e *Engine) DiscoverSchema(ctx context.Context, source io.Reader) (*schema.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState("discover schema", StateCreated, StateAnalyzing); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discover schema: %w", core.ErrCancelled)
	}

	samples, err := document.ParseSamples(source)
	if err != nil {
		return nil, fmt.Errorf("discover schema: %w", err)
	}
	discovered, err := schema.Discover(samples)
	if err != nil {
		return nil, fmt.Errorf("discover schema: %w", err)
	}

	e.schema = discovered
	e.filters = filter.NewEngine(e.schema, e.store, e.opts.PreloadWorkers, e.logger)
	e.state = StateAnalyzing
	e.logger.Info("schema discovered",
		zap.Int("samples", len(samples)),
		zap.Int("fields", len(discovered.Fields())),
	)
	return discovered, nil
}

// ApplySchema installs a previously serialized schema in place of running
// discovery. Rejected once documents are loaded.
func (e *Engine) ApplySchema(sc *schema.Schema) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState("apply schema", StateCreated, StateAnalyzing); err != nil {
		return err
	}
	e.schema = sc
	e.filters = filter.NewEngine(sc, e.store, e.opts.PreloadWorkers, e.logger)
	e.state = StateAnalyzing
	e.logger.Info("schema applied", zap.Int("fields", len(sc.Fields())))
	return nil
}

// ConfigureField sets a role flag and weight on a field. Rejected once
// indexing has begun; a schema change after that requires a full reload.
func (e *Engine) ConfigureField(name string, role schema.Role, value bool, weight core.Weight) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState("configure field", StateCreated, StateAnalyzing, StateLoaded); err != nil {
		return err
	}
	if err := e.schema.SetRole(name, role, value); err != nil {
		return fmt.Errorf("configure field %q: %w", name, err)
	}
	if err := e.schema.SetWeight(name, weight); err != nil {
		return fmt.Errorf("configure field %q: %w", name, err)
	}
	return nil
}

// LoadDocuments parses source (JSON array or NDJSON) and appends the
// documents to the store. Returns the number loaded. Loading after a build
// leaves the index serving the prior snapshot and flags reindexRequired.
func (e *Engine) LoadDocuments(ctx context.Context, source io.Reader) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState("load documents", StateCreated, StateAnalyzing, StateLoaded, StateReady); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("load documents: %w", core.ErrCancelled)
	}

	n, err := e.store.Load(source)
	if err != nil {
		return 0, fmt.Errorf("load documents: %w", err)
	}
	if e.state.oneOf(StateCreated, StateAnalyzing) {
		e.state = StateLoaded
	}
	e.logger.Info("documents loaded",
		zap.Int("count", n),
		zap.Int("total", e.store.Len()),
	)
	return n, nil
}

// BuildIndex starts an index build as a background task and returns its
// handle. A second build while one is in flight is rejected with
// ErrInvalidState. On success the new snapshot is published atomically and
// the dataset becomes Ready.
func (e *Engine) BuildIndex(ctx context.Context) (*task.Handle, error) {
	e.mu.Lock()
	if err := e.requireState("build index", StateLoaded, StateReady); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if !e.schema.HasSearchable() {
		e.mu.Unlock()
		return nil, fmt.Errorf("build index: no searchable field: %w", core.ErrSchemaViolation)
	}
	prior := e.state
	e.state = StateIndexing
	e.schema.Freeze()
	e.mu.Unlock()

	h, err := e.runner.Go(ctx, func(ctx context.Context, report func(int)) error {
		return e.build(ctx, prior, report)
	})
	if err != nil {
		e.mu.Lock()
		e.state = prior
		e.mu.Unlock()
		return nil, fmt.Errorf("build index: %w", err)
	}
	return h, nil
}

// BuildIndexSync is the blocking form of BuildIndex.
func (e *Engine) BuildIndexSync(ctx context.Context) error {
	h, err := e.BuildIndex(ctx)
	if err != nil {
		return err
	}
	return h.Await()
}

func (e *Engine) build(ctx context.Context, prior State, report func(int)) error {
	gen := e.store.Generation()
	idx := &index{
		matcher:  pattern.NewMatcher(e.schema, e.logger),
		coverage: coverage.NewEngine(e.schema, e.store, e.logger),
		facets:   facet.New(e.schema, e.store),
		gen:      gen,
	}
	report(20)

	// Warm the filter cache for fields marked for preloading.
	preload, err := e.preloadFilters()
	if err != nil {
		e.buildFailed(prior, err)
		return fmt.Errorf("preload filters: %w", err)
	}
	if len(preload) > 0 {
		if err := e.filters.Preload(ctx, preload); err != nil {
			e.buildFailed(prior, err)
			return fmt.Errorf("preload filters: %w", err)
		}
	}
	report(90)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		e.buildFailedLocked(prior, err)
		return err
	}
	if e.state != StateIndexing {
		// Unloaded mid-build: discard the snapshot.
		return fmt.Errorf("build abandoned: dataset is %s: %w", e.state, core.ErrInvalidState)
	}
	e.idx.Store(idx)
	e.state = StateReady
	e.lastErr = nil
	e.logger.Info("index built",
		zap.Uint64("generation", gen),
		zap.Int("documents", e.store.Len()),
	)
	return nil
}

// preloadFilters builds the equality filters named by the schema's
// PreloadFilters lists.
func (e *Engine) preloadFilters() ([]*filter.Filter, error) {
	var out []*filter.Filter
	for _, f := range e.schema.Fields() {
		for _, val := range f.PreloadFilters {
			pf, err := filter.NewValue(e.schema, f.Name, document.StringValue(val))
			if err != nil {
				return nil, fmt.Errorf("field %q value %q: %w", f.Name, val, err)
			}
			out = append(out, pf)
		}
	}
	return out, nil
}

// buildFailed records a failed build. Cancellation and timeout revert to
// the pre-build state; anything else is a corrupt build and absorbs the
// dataset into Error until an unload.
func (e *Engine) buildFailed(prior State, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buildFailedLocked(prior, err)
}

func (e *Engine) buildFailedLocked(prior State, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.state = prior
		e.schema.Unfreeze()
	default:
		e.state = StateError
		e.lastErr = err
	}
	e.logger.Warn("index build failed", zap.Error(err))
}

// Hibernate drops the index snapshot and filter caches while keeping
// documents and schema. Idempotent.
func (e *Engine) Hibernate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateHibernated {
		return nil
	}
	if err := e.requireState("hibernate", StateReady); err != nil {
		return err
	}
	e.idx.Store(nil)
	e.filters.InvalidateAll()
	e.state = StateHibernated
	e.logger.Info("dataset hibernated")
	return nil
}

// WakeUp rebuilds the index of a hibernated dataset. A no-op when already
// Ready.
func (e *Engine) WakeUp(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateReady {
		e.mu.Unlock()
		return nil
	}
	if err := e.requireState("wake up", StateHibernated); err != nil {
		e.mu.Unlock()
		return err
	}
	e.state = StateLoaded
	e.mu.Unlock()
	return e.BuildIndexSync(ctx)
}

// Unload drops documents, index and caches and returns the dataset to
// Created. The schema's field definitions survive; the freeze does not.
// Idempotent, and the only way out of Error.
func (e *Engine) Unload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateIndexing {
		// A running build task notices the state change and discards
		// its snapshot instead of publishing.
		e.logger.Warn("unload during index build")
	}
	e.idx.Store(nil)
	e.store.Clear()
	e.filters.InvalidateAll()
	e.schema.Unfreeze()
	e.lastErr = nil
	e.state = StateCreated
	e.logger.Info("dataset unloaded")
}

// GetDocument returns the raw source text of a document.
func (e *Engine) GetDocument(key core.DocKey) (string, error) {
	raw, err := e.store.Get(key)
	if err != nil {
		return "", fmt.Errorf("get document %d: %w", key, err)
	}
	return raw, nil
}

// DeleteDocument removes one document. Derived filter caches invalidate
// via the store generation; the index serves the remaining documents and
// reports reindexRequired.
func (e *Engine) DeleteDocument(key core.DocKey) error {
	if err := e.store.Delete(key); err != nil {
		return fmt.Errorf("delete document %d: %w", key, err)
	}
	return nil
}

// DeleteWhere removes every document matched by f and returns the count.
func (e *Engine) DeleteWhere(f *filter.Filter) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState("delete where", StateLoaded, StateReady, StateHibernated); err != nil {
		return 0, err
	}
	keys, err := e.filters.Evaluate(f)
	if err != nil {
		return 0, fmt.Errorf("delete where: %w", err)
	}
	docKeys := make([]core.DocKey, 0, keys.GetCardinality())
	it := keys.Iterator()
	for it.HasNext() {
		docKeys = append(docKeys, it.Next())
	}
	n := e.store.DeleteWhere(docKeys)
	e.logger.Info("documents deleted", zap.Int("count", n))
	return n, nil
}

// CreateValueFilter builds an equality filter over a filterable field.
// Requires loaded documents.
func (e *Engine) CreateValueFilter(field string, value any) (*filter.Filter, error) {
	if err := e.requireLoaded("create value filter"); err != nil {
		return nil, err
	}
	v, err := filter.ValueOf(value)
	if err != nil {
		return nil, fmt.Errorf("create value filter: %w", err)
	}
	return filter.NewValue(e.schema, field, v)
}

// CreateRangeFilter builds an inclusive numeric range filter.
func (e *Engine) CreateRangeFilter(field string, lo, hi float64) (*filter.Filter, error) {
	if err := e.requireLoaded("create range filter"); err != nil {
		return nil, err
	}
	return filter.NewRange(e.schema, field, lo, hi)
}

// CreateKeyFilter builds a filter over an explicit key set.
func (e *Engine) CreateKeyFilter(keys ...core.DocKey) (*filter.Filter, error) {
	if err := e.requireLoaded("create key filter"); err != nil {
		return nil, err
	}
	return filter.KeysOf(keys...), nil
}

// CombineFilters joins two filters with AND or OR.
func (e *Engine) CombineFilters(a, b *filter.Filter, op filter.Op) (*filter.Filter, error) {
	return filter.Combine(a, b, op)
}

// NegateFilter wraps a filter in NOT.
func (e *Engine) NegateFilter(f *filter.Filter) (*filter.Filter, error) {
	return filter.Negate(f)
}

// EvaluateFilter resolves a filter to its document-key set.
func (e *Engine) EvaluateFilter(f *filter.Filter) (*roaring64.Bitmap, error) {
	if err := e.requireLoaded("evaluate filter"); err != nil {
		return nil, err
	}
	return e.filters.Evaluate(f)
}

// CreateBoost evaluates f and snapshots the resulting key set with the
// given strength. Fails before documents are loaded; serialized against
// deletes through the store lock inside Evaluate.
func (e *Engine) CreateBoost(f *filter.Filter, strength core.Strength) (*boost.Boost, error) {
	if err := e.requireLoaded("create boost"); err != nil {
		return nil, err
	}
	keys, err := e.filters.Evaluate(f)
	if err != nil {
		return nil, fmt.Errorf("create boost: %w", err)
	}
	return boost.New(keys, strength)
}

func (e *Engine) requireLoaded(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requireState(op, StateLoaded, StateReady, StateHibernated)
}

// Close releases the engine's private runner, if it owns one.
func (e *Engine) Close() {
	if e.opts.Runner == nil && e.runner != nil {
		e.runner.Close()
	}
}
