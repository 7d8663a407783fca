package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MikeSquared-Agency/Weightage/internal/hermes"
	"github.com/MikeSquared-Agency/Weightage/internal/metrics"
	"github.com/MikeSquared-Agency/Weightage/internal/sloref"
	"github.com/MikeSquared-Agency/Weightage/internal/store"
	"github.com/MikeSquared-Agency/Weightage/internal/weighting"
)

var (
	errSLONotFound  = errors.New("referenced SLO not found")
	errSLONotSimple = errors.New("only simple SLOs can be part of a composite")
)

type CompositesHandler struct {
	store  store.Store
	hermes hermes.Client
	refs   sloref.Client
	engine *weighting.Engine
	logger *slog.Logger
}

func NewCompositesHandler(s store.Store, h hermes.Client, refs sloref.Client, e *weighting.Engine, logger *slog.Logger) *CompositesHandler {
	return &CompositesHandler{store: s, hermes: h, refs: refs, engine: e, logger: logger}
}

type CreateCompositeRequest struct {
	Identifier        string                `json:"identifier" validate:"required,max=128"`
	Name              string                `json:"name" validate:"required,max=256"`
	Description       string                `json:"description,omitempty"`
	OrgIdentifier     string                `json:"org_identifier,omitempty"`
	ProjectIdentifier string                `json:"project_identifier,omitempty" validate:"required_with=OrgIdentifier"`
	Selections        []AddSelectionRequest `json:"selections" validate:"dive"`
}

type UpdateCompositeRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=256"`
	Description *string `json:"description,omitempty"`
}

type AddSelectionRequest struct {
	Identifier        string `json:"identifier" validate:"required"`
	OrgIdentifier     string `json:"org_identifier,omitempty"`
	ProjectIdentifier string `json:"project_identifier,omitempty"`
	DisplayName       string `json:"display_name,omitempty"`
}

type WeightRequest struct {
	Weight decimal.Decimal `json:"weight"`
	Pin    *bool           `json:"pin,omitempty"`
}

type PayloadResponse struct {
	Identifier                    string                   `json:"identifier"`
	Name                          string                   `json:"name"`
	Description                   string                   `json:"description,omitempty"`
	AccountID                     string                   `json:"accountId"`
	OrgIdentifier                 string                   `json:"orgIdentifier,omitempty"`
	ProjectIdentifier             string                   `json:"projectIdentifier,omitempty"`
	ServiceLevelObjectivesDetails []weighting.ObjectiveRef `json:"serviceLevelObjectivesDetails"`
}

// Create handles POST /api/v1/composites
func (h *CompositesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCompositeRequest
	if !decode(w, r, &req) {
		return
	}

	c := &store.CompositeSLO{
		Identifier:        req.Identifier,
		Name:              req.Name,
		Description:       req.Description,
		AccountID:         accountFrom(r),
		OrgIdentifier:     req.OrgIdentifier,
		ProjectIdentifier: req.ProjectIdentifier,
	}

	set := weighting.SelectionSet{}
	for _, sr := range req.Selections {
		sel, status, err := h.resolve(r.Context(), sr, c.Scope())
		if err != nil {
			writeError(w, status, err.Error())
			return
		}
		out, err := h.engine.Add(set, sel, c.Scope())
		metrics.ObserveEngine("add", err)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		set = out
	}
	c.Selections = set

	if err := h.store.CreateComposite(r.Context(), c); err != nil {
		if errors.Is(err, store.ErrDuplicateIdentifier) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.recordEvent(r, c, "created", map[string]interface{}{"selections": len(c.Selections)})
	if h.hermes != nil {
		_ = h.hermes.Publish(r.Context(), hermes.SubjectCompositeCreated(c.ID.String()), hermes.CompositeCreatedEvent{
			CompositeID: c.ID.String(),
			Identifier:  c.Identifier,
			AccountID:   c.AccountID,
			Selections:  len(c.Selections),
		})
	}

	writeJSON(w, http.StatusCreated, c)
}

// List handles GET /api/v1/composites
func (h *CompositesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CompositeFilter{
		AccountID:         accountFrom(r),
		OrgIdentifier:     q.Get("org_identifier"),
		ProjectIdentifier: q.Get("project_identifier"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	composites, err := h.store.ListComposites(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if composites == nil {
		composites = []*store.CompositeSLO{}
	}
	writeJSON(w, http.StatusOK, composites)
}

// Get handles GET /api/v1/composites/{id}
func (h *CompositesHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Update handles PATCH /api/v1/composites/{id}
func (h *CompositesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateCompositeRequest
	if !decode(w, r, &req) {
		return
	}
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	if v := r.Header.Get("If-Match"); v != "" && v != strconv.Itoa(c.Revision) {
		writeError(w, http.StatusPreconditionFailed, "composite revision is "+strconv.Itoa(c.Revision))
		return
	}

	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Description != nil {
		c.Description = *req.Description
	}
	if err := h.store.UpdateComposite(r.Context(), c); err != nil {
		if errors.Is(err, store.ErrRevisionConflict) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.recordEvent(r, c, "updated", map[string]interface{}{"revision": c.Revision})
	if h.hermes != nil {
		_ = h.hermes.Publish(r.Context(), hermes.SubjectCompositeUpdated(c.ID.String()), map[string]interface{}{
			"composite_id": c.ID.String(),
			"revision":     c.Revision,
		})
	}
	writeJSON(w, http.StatusOK, c)
}

// Candidates handles GET /api/v1/slos, listing the simple SLOs a composite
// in the requested scope may select.
func (h *CompositesHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	if h.refs == nil {
		writeError(w, http.StatusServiceUnavailable, "slo registry not configured")
		return
	}
	scope := weighting.Scope{
		AccountID:         accountFrom(r),
		OrgIdentifier:     r.URL.Query().Get("org_identifier"),
		ProjectIdentifier: r.URL.Query().Get("project_identifier"),
	}
	slos, err := h.refs.ListSLOs(r.Context(), scope)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	out := []sloref.SLO{}
	for _, slo := range slos {
		if slo.Kind == "" || slo.Kind == sloref.KindSimple {
			out = append(out, slo)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// AddSelection handles POST /api/v1/composites/{id}/selections
func (h *CompositesHandler) AddSelection(w http.ResponseWriter, r *http.Request) {
	var req AddSelectionRequest
	if !decode(w, r, &req) {
		return
	}
	h.mutate(w, r, "add", func(c *store.CompositeSLO) (weighting.SelectionSet, int, error) {
		sel, status, err := h.resolve(r.Context(), req, c.Scope())
		if err != nil {
			return nil, status, err
		}
		out, err := h.engine.Add(c.Selections, sel, c.Scope())
		return out, http.StatusUnprocessableEntity, err
	})
}

// EditWeight handles PUT /api/v1/composites/{id}/selections/{index}/weight
func (h *CompositesHandler) EditWeight(w http.ResponseWriter, r *http.Request) {
	index, req, ok := h.weightRequest(w, r)
	if !ok {
		return
	}
	pin := true
	if req.Pin != nil {
		pin = *req.Pin
	}
	h.mutate(w, r, "edit", func(c *store.CompositeSLO) (weighting.SelectionSet, int, error) {
		out, err := h.engine.EditWeight(c.Selections, index, req.Weight, pin)
		return out, http.StatusUnprocessableEntity, err
	})
}

// EditImpact handles PUT /api/v1/composites/{id}/selections/{index}/impact
func (h *CompositesHandler) EditImpact(w http.ResponseWriter, r *http.Request) {
	index, req, ok := h.weightRequest(w, r)
	if !ok {
		return
	}
	h.mutate(w, r, "impact", func(c *store.CompositeSLO) (weighting.SelectionSet, int, error) {
		out, err := h.engine.EditImpact(c.Selections, index, req.Weight)
		return out, http.StatusUnprocessableEntity, err
	})
}

// Reset handles POST /api/v1/composites/{id}/reset
func (h *CompositesHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "reset", func(c *store.CompositeSLO) (weighting.SelectionSet, int, error) {
		return h.engine.Reset(c.Selections, c.Scope(), weighting.DefaultTotal), 0, nil
	})
}

// RemoveSelection handles DELETE /api/v1/composites/{id}/selections/{ref}
func (h *CompositesHandler) RemoveSelection(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	h.mutate(w, r, "remove", func(c *store.CompositeSLO) (weighting.SelectionSet, int, error) {
		if !c.Selections.Contains(ref, c.Scope()) {
			return nil, http.StatusNotFound, fmt.Errorf("selection %s not found", ref)
		}
		return h.engine.Remove(c.Selections, ref, c.Scope()), 0, nil
	})
}

// Payload handles GET /api/v1/composites/{id}/payload
func (h *CompositesHandler) Payload(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := c.Selections.Validate(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, PayloadResponse{
		Identifier:                    c.Identifier,
		Name:                          c.Name,
		Description:                   c.Description,
		AccountID:                     c.AccountID,
		OrgIdentifier:                 c.OrgIdentifier,
		ProjectIdentifier:             c.ProjectIdentifier,
		ServiceLevelObjectivesDetails: c.Selections.Payload(),
	})
}

// Events handles GET /api/v1/composites/{id}/events
func (h *CompositesHandler) Events(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	events, err := h.store.GetCompositeEvents(r.Context(), c.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*store.CompositeEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// load fetches the composite named in the URL, hiding composites of other accounts.
func (h *CompositesHandler) load(w http.ResponseWriter, r *http.Request) (*store.CompositeSLO, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid composite id")
		return nil, false
	}
	c, err := h.store.GetComposite(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if c == nil || c.AccountID != accountFrom(r) {
		writeError(w, http.StatusNotFound, "composite not found")
		return nil, false
	}
	return c, true
}

// mutate loads the composite, applies fn to it and persists the result.
// fn returns the status to answer with when it fails.
func (h *CompositesHandler) mutate(w http.ResponseWriter, r *http.Request, operation string, fn func(c *store.CompositeSLO) (weighting.SelectionSet, int, error)) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	if v := r.Header.Get("If-Match"); v != "" && v != strconv.Itoa(c.Revision) {
		writeError(w, http.StatusPreconditionFailed, "composite revision is "+strconv.Itoa(c.Revision))
		return
	}

	out, status, err := fn(c)
	metrics.ObserveEngine(operation, err)
	if err != nil {
		if status == http.StatusUnprocessableEntity {
			writeJSON(w, status, SelectionsResponse{Selections: c.Selections, Error: err.Error()})
			return
		}
		writeError(w, status, err.Error())
		return
	}

	c.Selections = out
	if err := h.store.UpdateComposite(r.Context(), c); err != nil {
		if errors.Is(err, store.ErrRevisionConflict) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.recordEvent(r, c, operation, map[string]interface{}{"revision": c.Revision})
	if h.hermes != nil {
		_ = h.hermes.Publish(r.Context(), hermes.SubjectCompositeRebalanced(c.ID.String()), hermes.CompositeRebalancedEvent{
			CompositeID: c.ID.String(),
			Operation:   operation,
			Revision:    c.Revision,
			Weights:     weightMap(c.Selections),
			Timestamp:   time.Now().UTC(),
		})
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *CompositesHandler) weightRequest(w http.ResponseWriter, r *http.Request) (int, WeightRequest, bool) {
	var req WeightRequest
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid selection index")
		return 0, req, false
	}
	if !decode(w, r, &req) {
		return 0, req, false
	}
	return index, req, true
}

// resolve turns a selection request into a Selection, checking the registry
// when one is configured.
func (h *CompositesHandler) resolve(ctx context.Context, req AddSelectionRequest, scope weighting.Scope) (weighting.Selection, int, error) {
	sel := weighting.Selection{
		Identifier:        req.Identifier,
		OrgIdentifier:     req.OrgIdentifier,
		ProjectIdentifier: req.ProjectIdentifier,
		DisplayName:       req.DisplayName,
	}
	if h.refs == nil {
		return sel, 0, nil
	}

	slo, err := h.refs.GetSLO(ctx, sloref.SelectionScope(sel, scope), sel.Identifier)
	if err != nil {
		h.logger.Error("slo registry lookup failed", "identifier", sel.Identifier, "error", err)
		return sel, http.StatusBadGateway, fmt.Errorf("resolve %s: %w", sel.Identifier, err)
	}
	if slo == nil {
		return sel, http.StatusUnprocessableEntity, fmt.Errorf("%w: %s", errSLONotFound, sel.Identifier)
	}
	if slo.Kind != "" && slo.Kind != sloref.KindSimple {
		return sel, http.StatusUnprocessableEntity, fmt.Errorf("%w: %s is %s", errSLONotSimple, sel.Identifier, slo.Kind)
	}
	if sel.DisplayName == "" {
		sel.DisplayName = slo.Name
	}
	return sel, 0, nil
}

func (h *CompositesHandler) recordEvent(r *http.Request, c *store.CompositeSLO, event string, payload map[string]interface{}) {
	if err := h.store.CreateCompositeEvent(r.Context(), &store.CompositeEvent{
		CompositeID: c.ID,
		Event:       event,
		Actor:       r.Header.Get(headerUserID),
		Payload:     payload,
	}); err != nil {
		h.logger.Warn("failed to record composite event", "composite_id", c.ID, "event", event, "error", err)
	}
}

func weightMap(set weighting.SelectionSet) map[string]float64 {
	m := make(map[string]float64, len(set))
	for _, s := range set {
		m[s.ScopedRef()] = s.WeightPercentage.InexactFloat64()
	}
	return m
}
