package registry

import (
	"errors"
	"reflect"
	"testing"

	"github.com/hyperjump/tansaku/internal/core"
	"github.com/hyperjump/tansaku/internal/engine"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(engine.Options{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry(t)

	e, err := r.Create("products")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e.Name() != "products" {
		t.Errorf("engine name = %q, want products", e.Name())
	}

	got, err := r.Get("products")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != e {
		t.Error("Get returned a different engine")
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Create("products"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Create("products"); err == nil {
		t.Fatal("duplicate create succeeded")
	}
}

func TestCreateEmptyNameRejected(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Create(""); err == nil {
		t.Fatal("empty name accepted")
	}
}

func TestGetUnknownDataset(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Get("missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Create("products"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Delete("products"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get("products"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := r.Delete("products"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestNamesSorted(t *testing.T) {
	r := newTestRegistry(t)
	for _, name := range []string{"zebra", "apple", "mango"} {
		if _, err := r.Create(name); err != nil {
			t.Fatalf("Create %q: %v", name, err)
		}
	}
	want := []string{"apple", "mango", "zebra"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}
