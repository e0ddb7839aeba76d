package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/tansaku/internal/core"
)

// fieldYAML is the portable form of a Field.
type fieldYAML struct {
	Name           string   `yaml:"name"`
	Kind           string   `yaml:"kind"`
	IsArray        bool     `yaml:"is_array,omitempty"`
	Optional       bool     `yaml:"optional,omitempty"`
	Searchable     bool     `yaml:"searchable,omitempty"`
	Filterable     bool     `yaml:"filterable,omitempty"`
	Facetable      bool     `yaml:"facetable,omitempty"`
	Sortable       bool     `yaml:"sortable,omitempty"`
	WordIndexing   bool     `yaml:"word_indexing,omitempty"`
	Weight         string   `yaml:"weight,omitempty"`
	PreloadFilters []string `yaml:"preload_filters,omitempty"`
}

type schemaYAML struct {
	Fields []fieldYAML `yaml:"fields"`
}

// ToYAML serializes the schema to its portable form, so a discovered schema
// can be reused without re-discovery.
func (s *Schema) ToYAML() ([]byte, error) {
	var doc schemaYAML
	for _, f := range s.Fields() {
		doc.Fields = append(doc.Fields, fieldYAML{
			Name:           f.Name,
			Kind:           f.Kind.String(),
			IsArray:        f.IsArray,
			Optional:       f.Optional,
			Searchable:     f.Searchable,
			Filterable:     f.Filterable,
			Facetable:      f.Facetable,
			Sortable:       f.Sortable,
			WordIndexing:   f.WordIndexing,
			Weight:         f.Weight.String(),
			PreloadFilters: f.PreloadFilters,
		})
	}
	return yaml.Marshal(&doc)
}

// FromYAML deserializes a schema previously produced by ToYAML.
func FromYAML(data []byte) (*Schema, error) {
	var doc schemaYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	s := New()
	for _, fy := range doc.Fields {
		kind, err := ParseKind(fy.Kind)
		if err != nil {
			return nil, err
		}
		w, err := parseWeight(fy.Weight)
		if err != nil {
			return nil, err
		}
		f := Field{
			Name:           fy.Name,
			Kind:           kind,
			IsArray:        fy.IsArray,
			Optional:       fy.Optional,
			Searchable:     fy.Searchable,
			Filterable:     fy.Filterable,
			Facetable:      fy.Facetable,
			Sortable:       fy.Sortable,
			WordIndexing:   fy.WordIndexing,
			Weight:         w,
			PreloadFilters: fy.PreloadFilters,
		}
		if err := s.AddField(f); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func parseWeight(s string) (core.Weight, error) {
	switch s {
	case "", "med":
		return core.WeightMed, nil
	case "low":
		return core.WeightLow, nil
	case "high":
		return core.WeightHigh, nil
	}
	return 0, fmt.Errorf("%w: unknown weight %q", core.ErrSchemaViolation, s)
}
