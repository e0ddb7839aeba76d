package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tansaku/internal/config"
	"github.com/hyperjump/tansaku/internal/engine"
	"github.com/hyperjump/tansaku/internal/models"
	"github.com/hyperjump/tansaku/internal/registry"
)

const productJSON = `[
	{"id": 1, "title": "wireless headphones", "price": 199.99, "category": "audio"},
	{"id": 2, "title": "wired headphones", "price": 49.99, "category": "audio"},
	{"id": 3, "title": "bluetooth speaker", "price": 89.99, "category": "audio"}
]`

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	reg, err := registry.New(engine.Options{}, nil)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	t.Cleanup(reg.Close)
	srv := NewServer(reg, nil, &config.ServerConfig{Host: "localhost", Port: 8080}, zap.NewNop())
	return srv, srv.Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	}
	return w, decoded
}

func mustStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, want, w.Body.String())
	}
}

// setupReadyDataset drives a dataset through create, discover, load and
// build via the HTTP API.
func setupReadyDataset(t *testing.T, h http.Handler, name string) {
	t.Helper()
	w, _ := doJSON(t, h, http.MethodPost, "/api/v1/datasets", map[string]string{"name": name})
	mustStatus(t, w, http.StatusCreated)

	base := "/api/v1/datasets/" + name
	w, _ = doJSON(t, h, http.MethodPost, base+"/schema/discover", productJSON)
	mustStatus(t, w, http.StatusOK)

	w, _ = doJSON(t, h, http.MethodPut, base+"/schema/fields/title",
		map[string]any{"role": "searchable", "enabled": true, "weight": 2})
	mustStatus(t, w, http.StatusOK)

	w, _ = doJSON(t, h, http.MethodPost, base+"/documents", productJSON)
	mustStatus(t, w, http.StatusOK)

	w, resp := doJSON(t, h, http.MethodPost, base+"/index/build", nil)
	mustStatus(t, w, http.StatusAccepted)
	taskID, _ := resp["taskId"].(string)
	if taskID == "" {
		t.Fatal("build did not return a task id")
	}
	waitForTask(t, h, base, taskID)
}

func waitForTask(t *testing.T, h http.Handler, base, taskID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w, resp := doJSON(t, h, http.MethodGet, base+"/index/tasks/"+taskID, nil)
		mustStatus(t, w, http.StatusOK)
		switch resp["status"] {
		case "succeeded":
			return
		case "failed", "cancelled", "timed_out":
			t.Fatalf("build task ended %v: %v", resp["status"], resp["error"])
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("build task did not finish")
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t)
	w, resp := doJSON(t, h, http.MethodGet, "/health", nil)
	mustStatus(t, w, http.StatusOK)
	if resp["status"] != "ok" {
		t.Errorf("health = %v", resp)
	}
}

func TestDatasetLifecycleOverHTTP(t *testing.T) {
	_, h := newTestServer(t)
	setupReadyDataset(t, h, "products")

	w, resp := doJSON(t, h, http.MethodGet, "/api/v1/datasets/products/status", nil)
	mustStatus(t, w, http.StatusOK)
	if resp["state"] != "ready" {
		t.Errorf("state = %v, want ready", resp["state"])
	}
	if resp["documentCount"] != float64(3) {
		t.Errorf("documentCount = %v, want 3", resp["documentCount"])
	}

	w, resp = doJSON(t, h, http.MethodGet, "/api/v1/datasets", nil)
	mustStatus(t, w, http.StatusOK)
	names, _ := resp["datasets"].([]any)
	if len(names) != 1 || names[0] != "products" {
		t.Errorf("datasets = %v", names)
	}
}

func TestSearchOverHTTP(t *testing.T) {
	_, h := newTestServer(t)
	setupReadyDataset(t, h, "products")

	w, _ := doJSON(t, h, http.MethodPost, "/api/v1/datasets/products/search",
		map[string]any{"text": "wireless headphones"})
	mustStatus(t, w, http.StatusOK)

	var result models.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Hits) == 0 {
		t.Fatal("no hits")
	}
	if result.Hits[0].Key != 1 || int(result.Hits[0].Score) != 255 {
		t.Errorf("top hit = key %d score %d, want key 1 score 255",
			result.Hits[0].Key, result.Hits[0].Score)
	}
}

func TestFilterHandlesOverHTTP(t *testing.T) {
	_, h := newTestServer(t)
	setupReadyDataset(t, h, "products")
	base := "/api/v1/datasets/products"

	w, resp := doJSON(t, h, http.MethodPost, base+"/filters/range",
		map[string]any{"field": "price", "lo": 10, "hi": 100})
	mustStatus(t, w, http.StatusCreated)
	rangeHandle, _ := resp["filter"].(string)
	if rangeHandle == "" {
		t.Fatal("no filter handle returned")
	}

	w, resp = doJSON(t, h, http.MethodPost, base+"/filters/value",
		map[string]any{"field": "category", "value": "audio"})
	mustStatus(t, w, http.StatusCreated)
	valueHandle, _ := resp["filter"].(string)

	w, resp = doJSON(t, h, http.MethodPost, base+"/filters/combine",
		map[string]any{"a": rangeHandle, "b": valueHandle, "op": 0})
	mustStatus(t, w, http.StatusCreated)
	combined, _ := resp["filter"].(string)

	w, _ = doJSON(t, h, http.MethodPost, base+"/search",
		map[string]any{"text": "headphones", "filter": combined})
	mustStatus(t, w, http.StatusOK)

	var result models.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	for _, hit := range result.Hits {
		if hit.Key == 1 {
			t.Errorf("key 1 (price 199.99) leaked past the combined filter")
		}
	}
}

func TestSearchEmptyQueryWithoutFacetsIs422(t *testing.T) {
	_, h := newTestServer(t)
	setupReadyDataset(t, h, "products")

	w, resp := doJSON(t, h, http.MethodPost, "/api/v1/datasets/products/search",
		&models.Query{})
	mustStatus(t, w, http.StatusUnprocessableEntity)
	if resp["error"] == "" {
		t.Error("expected an error message in the body")
	}
}

func TestSearchUnknownFilterHandle(t *testing.T) {
	_, h := newTestServer(t)
	setupReadyDataset(t, h, "products")

	w, _ := doJSON(t, h, http.MethodPost, "/api/v1/datasets/products/search",
		map[string]any{"text": "headphones", "filter": "deadbeef"})
	mustStatus(t, w, http.StatusNotFound)
}

func TestBoostOverHTTP(t *testing.T) {
	_, h := newTestServer(t)
	setupReadyDataset(t, h, "products")
	base := "/api/v1/datasets/products"

	w, resp := doJSON(t, h, http.MethodPost, base+"/filters/keys",
		map[string]any{"keys": []uint64{2}})
	mustStatus(t, w, http.StatusCreated)
	keyHandle, _ := resp["filter"].(string)

	w, resp = doJSON(t, h, http.MethodPost, base+"/boosts",
		map[string]any{"filter": keyHandle, "strength": 2})
	mustStatus(t, w, http.StatusCreated)
	boostID, _ := resp["boost"].(string)
	if boostID == "" {
		t.Fatal("no boost id returned")
	}

	w, _ = doJSON(t, h, http.MethodPost, base+"/search",
		map[string]any{"text": "headphones", "boosts": []string{boostID}})
	mustStatus(t, w, http.StatusOK)
}

func TestDocumentEndpoints(t *testing.T) {
	_, h := newTestServer(t)
	setupReadyDataset(t, h, "products")
	base := "/api/v1/datasets/products"

	w, _ := doJSON(t, h, http.MethodGet, base+"/documents/1", nil)
	mustStatus(t, w, http.StatusOK)
	if !bytes.Contains(w.Body.Bytes(), []byte("wireless headphones")) {
		t.Errorf("raw document body = %s", w.Body.String())
	}

	w, _ = doJSON(t, h, http.MethodDelete, base+"/documents/1", nil)
	mustStatus(t, w, http.StatusOK)

	w, _ = doJSON(t, h, http.MethodGet, base+"/documents/1", nil)
	mustStatus(t, w, http.StatusNotFound)
}

func TestHibernateConflictOnSearch(t *testing.T) {
	_, h := newTestServer(t)
	setupReadyDataset(t, h, "products")
	base := "/api/v1/datasets/products"

	w, _ := doJSON(t, h, http.MethodPost, base+"/hibernate", nil)
	mustStatus(t, w, http.StatusOK)

	w, _ = doJSON(t, h, http.MethodPost, base+"/search", map[string]any{"text": "headphones"})
	mustStatus(t, w, http.StatusConflict)

	w, _ = doJSON(t, h, http.MethodPost, base+"/wakeup", nil)
	mustStatus(t, w, http.StatusOK)

	w, _ = doJSON(t, h, http.MethodPost, base+"/search", map[string]any{"text": "headphones"})
	mustStatus(t, w, http.StatusOK)
}

func TestUnknownDatasetIs404(t *testing.T) {
	_, h := newTestServer(t)
	w, _ := doJSON(t, h, http.MethodPost, "/api/v1/datasets/ghost/search",
		map[string]any{"text": "anything"})
	mustStatus(t, w, http.StatusNotFound)
}

func TestCreateDuplicateDatasetConflicts(t *testing.T) {
	_, h := newTestServer(t)
	w, _ := doJSON(t, h, http.MethodPost, "/api/v1/datasets", map[string]string{"name": "products"})
	mustStatus(t, w, http.StatusCreated)
	w, _ = doJSON(t, h, http.MethodPost, "/api/v1/datasets", map[string]string{"name": "products"})
	mustStatus(t, w, http.StatusConflict)
}

func TestConfigureFieldValidation(t *testing.T) {
	_, h := newTestServer(t)
	w, _ := doJSON(t, h, http.MethodPost, "/api/v1/datasets", map[string]string{"name": "products"})
	mustStatus(t, w, http.StatusCreated)
	base := "/api/v1/datasets/products"
	w, _ = doJSON(t, h, http.MethodPost, base+"/schema/discover", productJSON)
	mustStatus(t, w, http.StatusOK)

	w, _ = doJSON(t, h, http.MethodPut, base+"/schema/fields/title",
		map[string]any{"role": "mystery", "enabled": true, "weight": 1})
	mustStatus(t, w, http.StatusBadRequest)

	w, _ = doJSON(t, h, http.MethodPut, base+"/schema/fields/title",
		map[string]any{"role": "searchable", "enabled": true, "weight": 9})
	mustStatus(t, w, http.StatusBadRequest)

	w, _ = doJSON(t, h, http.MethodPut, base+"/schema/fields/no_such_field",
		map[string]any{"role": "searchable", "enabled": true, "weight": 1})
	mustStatus(t, w, http.StatusUnprocessableEntity)
}
