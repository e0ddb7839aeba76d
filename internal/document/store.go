package document

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/hyperjump/tansaku/internal/core"
)

// Store owns all documents of one dataset. Every mutation bumps the
// generation counter; caches keyed on field values (filter and boost
// evaluations) compare generations and recompute lazily when stale.
type Store struct {
	mu       sync.RWMutex
	docs     map[core.DocKey]*Document
	keys     []core.DocKey
	nextKey  core.DocKey
	gen      uint64
	capacity int
}

// NewStore creates an empty store. capacity is the maximum document count;
// zero or negative means unlimited.
func NewStore(capacity int) *Store {
	return &Store{
		docs:     make(map[core.DocKey]*Document),
		nextKey:  1,
		capacity: capacity,
	}
}

// Load reads documents from r, either a single JSON array of objects or
// newline-delimited JSON objects, appends them with newly assigned keys and
// returns the number loaded. Fails with ErrCapacityExceeded without loading
// anything if the result would exceed the capacity ceiling.
func (s *Store) Load(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read document source: %w", err)
	}
	raws, parsed, err := parseSource(data)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity > 0 && len(s.docs)+len(parsed) > s.capacity {
		return 0, fmt.Errorf("%w: %d documents over ceiling %d",
			core.ErrCapacityExceeded, len(s.docs)+len(parsed), s.capacity)
	}
	for i, obj := range parsed {
		key := s.nextKey
		s.nextKey++
		doc := &Document{Key: key, Raw: raws[i], Fields: Flatten(obj)}
		s.docs[key] = doc
		s.keys = append(s.keys, key)
	}
	s.gen++
	return len(parsed), nil
}

// ParseSamples decodes a JSON array or NDJSON stream into plain objects
// without loading them; schema discovery inspects these.
func ParseSamples(r io.Reader) ([]map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample source: %w", err)
	}
	_, parsed, err := parseSource(data)
	return parsed, err
}

// parseSource decodes a JSON array or NDJSON into raw snippets plus parsed
// objects, index-aligned.
func parseSource(data []byte) ([]string, []map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil, nil
	}

	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, nil, fmt.Errorf("failed to parse document array: %w", err)
		}
		raws := make([]string, 0, len(arr))
		objs := make([]map[string]any, 0, len(arr))
		for i, raw := range arr {
			var obj map[string]any
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, nil, fmt.Errorf("document %d is not an object: %w", i, err)
			}
			raws = append(raws, string(raw))
			objs = append(objs, obj)
		}
		return raws, objs, nil
	}

	var raws []string
	var objs []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return nil, nil, fmt.Errorf("line %d is not a JSON object: %w", line, err)
		}
		raws = append(raws, text)
		objs = append(objs, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to scan document source: %w", err)
	}
	return raws, objs, nil
}

// Flatten converts a parsed JSON object into dot-path field values. Arrays
// keep element order; nested objects contribute their leaves under joined
// paths.
func Flatten(obj map[string]any) map[string][]Value {
	out := make(map[string][]Value)
	flattenInto("", obj, out)
	return out
}

func flattenInto(prefix string, v any, out map[string][]Value) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			flattenInto(path, child, out)
		}
	case []any:
		for _, elem := range val {
			flattenInto(prefix, elem, out)
		}
	case string:
		out[prefix] = append(out[prefix], StringValue(val))
	case float64:
		out[prefix] = append(out[prefix], NumberValue(val))
	case bool:
		out[prefix] = append(out[prefix], BoolValue(val))
	case nil:
		// Null values contribute nothing; the field stays absent.
	}
}

// Get returns the raw source text of a document.
func (s *Store) Get(key core.DocKey) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return "", fmt.Errorf("%w: document %d", core.ErrNotFound, key)
	}
	return doc.Raw, nil
}

// Doc returns the parsed document. The returned document is shared and must
// be treated as read-only.
func (s *Store) Doc(key core.DocKey) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, fmt.Errorf("%w: document %d", core.ErrNotFound, key)
	}
	return doc, nil
}

// Delete removes one document.
func (s *Store) Delete(key core.DocKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[key]; !ok {
		return fmt.Errorf("%w: document %d", core.ErrNotFound, key)
	}
	delete(s.docs, key)
	s.removeKey(key)
	s.gen++
	return nil
}

// DeleteWhere removes every listed document that exists and returns how many
// were removed. Unknown keys are skipped.
func (s *Store) DeleteWhere(keys []core.DocKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, key := range keys {
		if _, ok := s.docs[key]; ok {
			delete(s.docs, key)
			s.removeKey(key)
			removed++
		}
	}
	if removed > 0 {
		s.gen++
	}
	return removed
}

func (s *Store) removeKey(key core.DocKey) {
	i := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= key })
	if i < len(s.keys) && s.keys[i] == key {
		s.keys = append(s.keys[:i], s.keys[i+1:]...)
	}
}

// Clear discards all documents.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[core.DocKey]*Document)
	s.keys = nil
	s.gen++
}

// Len returns the document count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Generation returns the mutation counter. Any change to the document set
// yields a new generation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Keys returns all document keys in ascending order.
func (s *Store) Keys() []core.DocKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.DocKey, len(s.keys))
	copy(out, s.keys)
	return out
}

// All returns a restartable iterator over a snapshot of the current
// documents. Mutations after the call do not affect the iteration.
func (s *Store) All() *Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]*Document, 0, len(s.keys))
	for _, key := range s.keys {
		docs = append(docs, s.docs[key])
	}
	return &Iterator{docs: docs}
}

// Iterator walks a document snapshot in key order.
type Iterator struct {
	docs []*Document
	pos  int
}

// Next returns the next document, or nil and false at the end.
func (it *Iterator) Next() (*Document, bool) {
	if it.pos >= len(it.docs) {
		return nil, false
	}
	doc := it.docs[it.pos]
	it.pos++
	return doc, true
}

// Reset restarts the iteration from the beginning.
func (it *Iterator) Reset() { it.pos = 0 }

// Len returns the snapshot size.
func (it *Iterator) Len() int { return len(it.docs) }
