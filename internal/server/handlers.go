package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/tansaku/internal/core"
	"github.com/hyperjump/tansaku/internal/engine"
	"github.com/hyperjump/tansaku/internal/filter"
	"github.com/hyperjump/tansaku/internal/models"
	"github.com/hyperjump/tansaku/internal/schema"
	"github.com/hyperjump/tansaku/internal/storage"
)

func (s *Server) dataset(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	name := chi.URLParam(r, "name")
	e, err := s.registry.Get(name)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return e, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"datasets": s.registry.Names()})
}

func (s *Server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := s.registry.Create(req.Name); err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if s.storage != nil {
		if err := s.storage.UpsertDataset(r.Context(), &storage.DatasetMeta{Name: req.Name}); err != nil {
			s.logger.Warn("failed to persist dataset metadata", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"name": req.Name, "status": "created"})
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.registry.Delete(name); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.dropDatasetState(name)
	if s.storage != nil {
		if err := s.storage.DeleteDataset(r.Context(), name); err != nil {
			s.logger.Warn("failed to delete dataset metadata", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"name": name, "status": "deleted"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	st := e.Status()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"state":           st.State.String(),
		"documentCount":   st.DocumentCount,
		"searchCount":     st.SearchCount,
		"reindexRequired": st.ReindexRequired,
		"lastError":       st.LastError,
	})
}

type fieldJSON struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	IsArray      bool   `json:"isArray"`
	Optional     bool   `json:"optional"`
	Searchable   bool   `json:"searchable"`
	Filterable   bool   `json:"filterable"`
	Facetable    bool   `json:"facetable"`
	Sortable     bool   `json:"sortable"`
	WordIndexing bool   `json:"wordIndexing"`
	Weight       int    `json:"weight"`
}

func fieldsJSON(sc *schema.Schema) []fieldJSON {
	fields := sc.Fields()
	out := make([]fieldJSON, len(fields))
	for i, f := range fields {
		out[i] = fieldJSON{
			Name:         f.Name,
			Kind:         f.Kind.String(),
			IsArray:      f.IsArray,
			Optional:     f.Optional,
			Searchable:   f.Searchable,
			Filterable:   f.Filterable,
			Facetable:    f.Facetable,
			Sortable:     f.Sortable,
			WordIndexing: f.WordIndexing,
			Weight:       int(f.Weight),
		}
	}
	return out
}

func (s *Server) handleDiscoverSchema(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	sc, err := e.DiscoverSchema(r.Context(), r.Body)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"fields": fieldsJSON(sc)})
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"fields": fieldsJSON(e.Schema())})
}

func (s *Server) handleConfigureField(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	fieldName := chi.URLParam(r, "field")
	var req struct {
		Role    string `json:"role"`
		Enabled bool   `json:"enabled"`
		Weight  int    `json:"weight"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role, err := parseRole(req.Role)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Weight < int(core.WeightLow) || req.Weight > int(core.WeightHigh) {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("weight %d out of range", req.Weight))
		return
	}
	if err := e.ConfigureField(fieldName, role, req.Enabled, core.Weight(req.Weight)); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"field": fieldName, "status": "configured"})
}

func parseRole(role string) (schema.Role, error) {
	switch role {
	case "searchable":
		return schema.RoleSearchable, nil
	case "filterable":
		return schema.RoleFilterable, nil
	case "facetable":
		return schema.RoleFacetable, nil
	case "sortable":
		return schema.RoleSortable, nil
	case "word_indexing":
		return schema.RoleWordIndexing, nil
	default:
		return 0, fmt.Errorf("unknown role %q", role)
	}
}

func (s *Server) handleLoadDocuments(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	n, err := e.LoadDocuments(r.Context(), r.Body)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"loaded": n})
}

func (s *Server) docKey(w http.ResponseWriter, r *http.Request) (core.DocKey, bool) {
	key, err := strconv.ParseUint(chi.URLParam(r, "key"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid document key")
		return 0, false
	}
	return key, true
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	key, ok := s.docKey(w, r)
	if !ok {
		return
	}
	raw, err := e.GetDocument(key)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(raw))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	key, ok := s.docKey(w, r)
	if !ok {
		return
	}
	if err := e.DeleteDocument(key); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDeleteWhere(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	var req struct {
		Filter string `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	f, ok := s.lookupFilter(e.Name(), req.Filter)
	if !ok {
		s.respondError(w, http.StatusNotFound, "unknown filter handle")
		return
	}
	n, err := e.DeleteWhere(f)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) handleBuildIndex(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	// The build outlives the request; detach it from the request context.
	h, err := e.BuildIndex(context.Background())
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.storeTask(h)
	s.respondJSON(w, http.StatusAccepted, map[string]string{"taskId": h.ID()})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookupTask(chi.URLParam(r, "id"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "unknown task")
		return
	}
	resp := map[string]any{
		"id":       h.ID(),
		"status":   h.Status().String(),
		"progress": h.Progress(),
	}
	if err := h.Err(); err != nil {
		resp["error"] = err.Error()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHibernate(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	if err := e.Hibernate(); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "hibernated"})
}

func (s *Server) handleWakeUp(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	if err := e.WakeUp(r.Context()); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	e.Unload()
	s.dropDatasetState(e.Name())
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "unloaded"})
}

type searchRequest struct {
	models.Query
	FilterHandle  string   `json:"filter,omitempty"`
	IncludeHandle string   `json:"keyIncludeFilter,omitempty"`
	ExcludeHandle string   `json:"keyExcludeFilter,omitempty"`
	BoostIDs      []string `json:"boosts,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	q := req.Query
	name := e.Name()
	if req.FilterHandle != "" {
		f, ok := s.lookupFilter(name, req.FilterHandle)
		if !ok {
			s.respondError(w, http.StatusNotFound, "unknown filter handle")
			return
		}
		q.Filter = f
	}
	if req.IncludeHandle != "" {
		f, ok := s.lookupFilter(name, req.IncludeHandle)
		if !ok {
			s.respondError(w, http.StatusNotFound, "unknown include filter handle")
			return
		}
		q.KeyIncludeFilter = f
	}
	if req.ExcludeHandle != "" {
		f, ok := s.lookupFilter(name, req.ExcludeHandle)
		if !ok {
			s.respondError(w, http.StatusNotFound, "unknown exclude filter handle")
			return
		}
		q.KeyExcludeFilter = f
	}
	for _, id := range req.BoostIDs {
		b, ok := s.lookupBoost(name, id)
		if !ok {
			s.respondError(w, http.StatusNotFound, "unknown boost id")
			return
		}
		q.Boosts = append(q.Boosts, b)
	}

	s.logger.Debug("search request",
		zap.String("dataset", name),
		zap.String("text", q.Text),
		zap.Int("maxResults", q.MaxResults),
	)
	result, err := e.Search(r.Context(), &q)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	searchesTotal.WithLabelValues(name, strconv.FormatBool(result.DidTimeOut)).Inc()
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateValueFilter(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	var req struct {
		Field string `json:"field"`
		Value any    `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	f, err := e.CreateValueFilter(req.Field, req.Value)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"filter": s.storeFilter(e.Name(), f)})
}

func (s *Server) handleCreateRangeFilter(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	var req struct {
		Field string  `json:"field"`
		Lo    float64 `json:"lo"`
		Hi    float64 `json:"hi"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	f, err := e.CreateRangeFilter(req.Field, req.Lo, req.Hi)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"filter": s.storeFilter(e.Name(), f)})
}

func (s *Server) handleCreateKeyFilter(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	var req struct {
		Keys []core.DocKey `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	f, err := e.CreateKeyFilter(req.Keys...)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"filter": s.storeFilter(e.Name(), f)})
}

func (s *Server) handleCombineFilters(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	var req struct {
		A  string `json:"a"`
		B  string `json:"b"`
		Op int    `json:"op"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a, okA := s.lookupFilter(e.Name(), req.A)
	b, okB := s.lookupFilter(e.Name(), req.B)
	if !okA || !okB {
		s.respondError(w, http.StatusNotFound, "unknown filter handle")
		return
	}
	if req.Op != int(filter.OpAnd) && req.Op != int(filter.OpOr) {
		s.respondError(w, http.StatusBadRequest, "op must be 0 (and) or 1 (or)")
		return
	}
	f, err := e.CombineFilters(a, b, filter.Op(req.Op))
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"filter": s.storeFilter(e.Name(), f)})
}

func (s *Server) handleNegateFilter(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	var req struct {
		Filter string `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	inner, ok := s.lookupFilter(e.Name(), req.Filter)
	if !ok {
		s.respondError(w, http.StatusNotFound, "unknown filter handle")
		return
	}
	f, err := e.NegateFilter(inner)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"filter": s.storeFilter(e.Name(), f)})
}

func (s *Server) handleCreateBoost(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dataset(w, r)
	if !ok {
		return
	}
	var req struct {
		Filter   string `json:"filter"`
		Strength int    `json:"strength"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	f, ok := s.lookupFilter(e.Name(), req.Filter)
	if !ok {
		s.respondError(w, http.StatusNotFound, "unknown filter handle")
		return
	}
	if req.Strength < int(core.StrengthLow) || req.Strength > int(core.StrengthHigh) {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("strength %d out of range", req.Strength))
		return
	}
	b, err := e.CreateBoost(f, core.Strength(req.Strength))
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	id := uuid.NewString()
	s.storeBoost(e.Name(), id, b)
	s.respondJSON(w, http.StatusCreated, map[string]string{"boost": id})
}

// respondEngineError maps the core error kinds onto HTTP statuses.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, core.ErrSchemaViolation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrCapacityExceeded):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrCancelled), errors.Is(err, core.ErrTimeout):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
