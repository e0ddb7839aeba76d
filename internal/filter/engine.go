package filter

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/tansaku/internal/document"
	"github.com/hyperjump/tansaku/internal/schema"
	"github.com/hyperjump/tansaku/pkg/utils"
)

// Engine evaluates filters against the document store, memoizing results by
// the filter's structural hash. Cached sets are invalidated lazily: every
// entry remembers the store generation it was computed against and is
// recomputed on first use after a mutation, never served stale.
type Engine struct {
	schema *schema.Schema
	store  *document.Store
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[uint64]*cacheEntry

	workers int
}

type cacheEntry struct {
	gen  uint64
	keys *roaring64.Bitmap
}

// NewEngine creates a filter engine. workers bounds preload parallelism;
// zero or negative selects half the CPU count, minimum one.
func NewEngine(s *schema.Schema, store *document.Store, workers int, logger *zap.Logger) *Engine {
	if workers <= 0 {
		workers = runtime.NumCPU() / 2
		if workers < 1 {
			workers = 1
		}
	}
	return &Engine{
		schema:  s,
		store:   store,
		logger:  utils.LoggerOrNop(logger),
		cache:   make(map[uint64]*cacheEntry),
		workers: workers,
	}
}

// Evaluate resolves a filter to its document-key set. The returned bitmap is
// a copy the caller may mutate.
func (e *Engine) Evaluate(f *Filter) (*roaring64.Bitmap, error) {
	if f == nil {
		return roaring64.New(), nil
	}
	gen := e.store.Generation()
	keys, err := e.evaluate(f, gen)
	if err != nil {
		return nil, err
	}
	return keys.Clone(), nil
}

// Count returns the size of the filter's evaluated set.
func (e *Engine) Count(f *Filter) (uint64, error) {
	if f == nil {
		return 0, nil
	}
	gen := e.store.Generation()
	keys, err := e.evaluate(f, gen)
	if err != nil {
		return 0, err
	}
	return keys.GetCardinality(), nil
}

// evaluate returns the shared cached bitmap for f at generation gen,
// computing and caching it (and all subtree nodes) when absent or stale.
// The returned bitmap must not be mutated.
func (e *Engine) evaluate(f *Filter, gen uint64) (*roaring64.Bitmap, error) {
	e.mu.RLock()
	if entry, ok := e.cache[f.hash]; ok && entry.gen == gen {
		e.mu.RUnlock()
		return entry.keys, nil
	}
	e.mu.RUnlock()

	keys, err := e.compute(f, gen)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[f.hash] = &cacheEntry{gen: gen, keys: keys}
	e.mu.Unlock()
	return keys, nil
}

func (e *Engine) compute(f *Filter, gen uint64) (*roaring64.Bitmap, error) {
	switch f.kind {
	case nodeValue, nodeRange:
		out := roaring64.New()
		it := e.store.All()
		for doc, ok := it.Next(); ok; doc, ok = it.Next() {
			if f.matches(doc) {
				out.Add(doc.Key)
			}
		}
		return out, nil

	case nodeKeys:
		// Restrict the explicit set to keys that still exist.
		out := roaring64.New()
		out.AddMany(e.store.Keys())
		out.And(f.keys)
		return out, nil

	case nodeAnd, nodeOr:
		left, err := e.evaluate(f.left, gen)
		if err != nil {
			return nil, err
		}
		right, err := e.evaluate(f.right, gen)
		if err != nil {
			return nil, err
		}
		out := left.Clone()
		if f.kind == nodeAnd {
			out.And(right)
		} else {
			out.Or(right)
		}
		return out, nil

	case nodeNot:
		child, err := e.evaluate(f.left, gen)
		if err != nil {
			return nil, err
		}
		out := roaring64.New()
		out.AddMany(e.store.Keys())
		out.AndNot(child)
		return out, nil
	}
	return nil, fmt.Errorf("unknown filter node kind %d", f.kind)
}

// Preload evaluates and caches the given filters ahead of query time,
// fanning out across the engine's bounded worker count. Purely a
// performance optimization: results are identical to serial evaluation.
func (e *Engine) Preload(ctx context.Context, filters []*Filter) error {
	if len(filters) == 0 {
		return nil
	}
	pool, err := ants.NewPool(e.workers)
	if err != nil {
		return fmt.Errorf("failed to create preload pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

	for _, f := range filters {
		if ctx.Err() != nil {
			break
		}
		f := f
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if _, err := e.Evaluate(f); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		})
		if submitErr != nil {
			wg.Done()
			errOnce.Do(func() { firstErr = submitErr })
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	e.logger.Debug("filter preload complete", zap.Int("filters", len(filters)))
	return ctx.Err()
}

// PreloadValues evaluates an equality filter for every distinct value of
// every filterable field and caches the results.
func (e *Engine) PreloadValues(ctx context.Context) error {
	fields := e.schema.FieldsWithRole(schema.RoleFilterable)
	if len(fields) == 0 {
		return nil
	}

	distinct := make(map[string]map[string]document.Value, len(fields))
	for _, f := range fields {
		distinct[f.Name] = make(map[string]document.Value)
	}
	it := e.store.All()
	for doc, ok := it.Next(); ok; doc, ok = it.Next() {
		for _, f := range fields {
			for _, v := range doc.Fields[f.Name] {
				distinct[f.Name][v.String()] = v
			}
		}
	}

	var filters []*Filter
	for name, values := range distinct {
		for _, v := range values {
			f, err := NewValue(e.schema, name, v)
			if err != nil {
				return err
			}
			filters = append(filters, f)
		}
	}
	return e.Preload(ctx, filters)
}

// InvalidateAll drops every cached evaluation. Used on unload; normal
// mutations rely on lazy generation checks instead.
func (e *Engine) InvalidateAll() {
	e.mu.Lock()
	e.cache = make(map[uint64]*cacheEntry)
	e.mu.Unlock()
}

// AllKeys returns the full document-key set as a bitmap.
func (e *Engine) AllKeys() *roaring64.Bitmap {
	out := roaring64.New()
	out.AddMany(e.store.Keys())
	return out
}
