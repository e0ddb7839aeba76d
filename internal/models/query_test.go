package models

import (
	"errors"
	"testing"

	"github.com/hyperjump/tansaku/internal/core"
)

func TestQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *Query
		wantErr bool
	}{
		{"empty text alone", &Query{}, true},
		{"empty text with facets", &Query{EnableFacets: true}, false},
		{"empty text with sort", &Query{SortBy: "price"}, false},
		{"plain text query", &Query{Text: "headphones"}, false},
		{"sets default max results", &Query{Text: "x", MaxResults: 0}, false},
		{"caps max results", &Query{Text: "x", MaxResults: 5000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.query.MaxResults <= 0 {
				t.Error("expected default max results to be set")
			}
			if tt.query.MaxResults > MaxMaxResults {
				t.Errorf("expected max results capped at %d, got %d", MaxMaxResults, tt.query.MaxResults)
			}
			if tt.query.TimeoutMS != DefaultTimeoutMS {
				t.Errorf("expected default timeout, got %d", tt.query.TimeoutMS)
			}
			if tt.query.CoverageDepth != DefaultCoverageDepth {
				t.Errorf("expected default coverage depth, got %d", tt.query.CoverageDepth)
			}
		})
	}
}

func TestQuery_ValidateRejectionCarriesKind(t *testing.T) {
	err := (&Query{}).Validate()
	if !errors.Is(err, core.ErrSchemaViolation) {
		t.Fatalf("empty query rejection = %v, want ErrSchemaViolation", err)
	}
}

func TestQuery_Toggles(t *testing.T) {
	q := &Query{Text: "x"}
	if !q.CoverageEnabled() || !q.BoostEnabled() {
		t.Error("coverage and boost default on")
	}
	off := false
	q.EnableCoverage = &off
	q.EnableBoost = &off
	if q.CoverageEnabled() || q.BoostEnabled() {
		t.Error("explicit false must win")
	}
}
