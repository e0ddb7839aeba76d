// Package schema describes the fields of a dataset: their value kinds,
// search roles and weights. A schema is discovered once from sample
// documents and consulted thereafter instead of re-inspecting values.
package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/tansaku/internal/core"
)

// Kind is the declared value kind of a field.
type Kind int

// Field value kinds.
const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindObject
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// ParseKind converts a kind name back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "string":
		return KindString, nil
	case "number":
		return KindNumber, nil
	case "bool":
		return KindBool, nil
	case "object":
		return KindObject, nil
	}
	return 0, fmt.Errorf("%w: unknown kind %q", core.ErrSchemaViolation, s)
}

// Role is a boolean capability flag of a field.
type Role int

// Field roles.
const (
	RoleSearchable Role = iota
	RoleFilterable
	RoleFacetable
	RoleSortable
	RoleWordIndexing
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleSearchable:
		return "searchable"
	case RoleFilterable:
		return "filterable"
	case RoleFacetable:
		return "facetable"
	case RoleSortable:
		return "sortable"
	case RoleWordIndexing:
		return "word_indexing"
	default:
		return "unknown"
	}
}

// Field describes a single dot-path addressable field.
type Field struct {
	Name     string
	Kind     Kind
	IsArray  bool
	Optional bool

	Searchable   bool
	Filterable   bool
	Facetable    bool
	Sortable     bool
	WordIndexing bool

	Weight core.Weight

	// PreloadFilters lists values whose equality filters should be
	// evaluated and cached ahead of query time.
	PreloadFilters []string
}

// Schema is the set of fields of one dataset. Role and weight flags are
// mutable until the first index build freezes them; a frozen schema rejects
// mutation with ErrInvalidState and requires a full reload to change.
type Schema struct {
	mu     sync.RWMutex
	fields map[string]*Field
	frozen bool
}

// New creates an empty schema.
func New() *Schema {
	return &Schema{fields: make(map[string]*Field)}
}

// AddField registers a field. Replaces any previous field of the same name.
func (s *Schema) AddField(f Field) error {
	if f.Name == "" {
		return fmt.Errorf("%w: field name is required", core.ErrSchemaViolation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return fmt.Errorf("%w: schema is frozen, reload required to add fields", core.ErrInvalidState)
	}
	cp := f
	s.fields[f.Name] = &cp
	return nil
}

// GetField returns a copy of the named field.
func (s *Schema) GetField(name string) (Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fields[name]
	if !ok {
		return Field{}, fmt.Errorf("%w: unknown field %q", core.ErrSchemaViolation, name)
	}
	return *f, nil
}

// SetRole sets one role flag on the named field. Fails with ErrInvalidState
// once indexing has begun and with ErrSchemaViolation for a role the field's
// kind cannot support (e.g. sortable on an object field).
func (s *Schema) SetRole(name string, role Role, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return fmt.Errorf("%w: schema is frozen, reindex required to change roles", core.ErrInvalidState)
	}
	f, ok := s.fields[name]
	if !ok {
		return fmt.Errorf("%w: unknown field %q", core.ErrSchemaViolation, name)
	}
	if value {
		if err := roleSupported(f, role); err != nil {
			return err
		}
	}
	switch role {
	case RoleSearchable:
		f.Searchable = value
	case RoleFilterable:
		f.Filterable = value
	case RoleFacetable:
		f.Facetable = value
	case RoleSortable:
		f.Sortable = value
	case RoleWordIndexing:
		f.WordIndexing = value
	default:
		return fmt.Errorf("%w: unknown role %d", core.ErrSchemaViolation, role)
	}
	return nil
}

func roleSupported(f *Field, role Role) error {
	switch role {
	case RoleSearchable, RoleWordIndexing:
		if f.Kind == KindObject {
			return fmt.Errorf("%w: field %q of kind %s cannot be %s", core.ErrSchemaViolation, f.Name, f.Kind, role)
		}
	case RoleSortable:
		if f.Kind == KindObject || f.IsArray {
			return fmt.Errorf("%w: field %q cannot be sortable", core.ErrSchemaViolation, f.Name)
		}
	}
	return nil
}

// SetWeight sets the weight tier of the named field.
func (s *Schema) SetWeight(name string, w core.Weight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return fmt.Errorf("%w: schema is frozen, reindex required to change weights", core.ErrInvalidState)
	}
	f, ok := s.fields[name]
	if !ok {
		return fmt.Errorf("%w: unknown field %q", core.ErrSchemaViolation, name)
	}
	f.Weight = w
	return nil
}

// Fields returns copies of all fields, ordered by name for determinism.
func (s *Schema) Fields() []Field {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Field, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FieldsWithRole returns copies of all fields carrying the given role.
func (s *Schema) FieldsWithRole(role Role) []Field {
	all := s.Fields()
	out := all[:0]
	for _, f := range all {
		keep := false
		switch role {
		case RoleSearchable:
			keep = f.Searchable
		case RoleFilterable:
			keep = f.Filterable
		case RoleFacetable:
			keep = f.Facetable
		case RoleSortable:
			keep = f.Sortable
		case RoleWordIndexing:
			keep = f.WordIndexing
		}
		if keep {
			out = append(out, f)
		}
	}
	return out
}

// HasSearchable reports whether at least one field is searchable. Indexing
// requires this.
func (s *Schema) HasSearchable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.fields {
		if f.Searchable {
			return true
		}
	}
	return false
}

// Freeze marks the schema immutable. Called when an index build starts.
func (s *Schema) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Unfreeze lifts the freeze. Called on full unload/reload.
func (s *Schema) Unfreeze() {
	s.mu.Lock()
	s.frozen = false
	s.mu.Unlock()
}

// Frozen reports whether the schema is frozen.
func (s *Schema) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}
