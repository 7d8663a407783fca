package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Weightage/internal/hermes"
	"github.com/MikeSquared-Agency/Weightage/internal/store"
	"github.com/MikeSquared-Agency/Weightage/internal/sweeper"
)

// Sweeper runs a stale-selection sweep on demand.
type Sweeper interface {
	SweepOnce(ctx context.Context) (sweeper.Result, error)
}

type AdminHandler struct {
	store   store.Store
	hermes  hermes.Client
	sweeper Sweeper
	logger  *slog.Logger
}

func NewAdminHandler(s store.Store, h hermes.Client, sw Sweeper, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{store: s, hermes: h, sweeper: sw, logger: logger}
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Sweep handles POST /api/v1/admin/sweep
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeper disabled")
		return
	}
	res, err := h.sweeper.SweepOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteComposite handles DELETE /api/v1/admin/composites/{id}
func (h *AdminHandler) DeleteComposite(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid composite id")
		return
	}
	c, err := h.store.GetComposite(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "composite not found")
		return
	}

	if err := h.store.DeleteComposite(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("composite deleted", "composite_id", id, "identifier", c.Identifier)

	if h.hermes != nil {
		_ = h.hermes.Publish(r.Context(), hermes.SubjectCompositeDeleted(id.String()), hermes.CompositeDeletedEvent{
			CompositeID: id.String(),
			Identifier:  c.Identifier,
		})
	}

	w.WriteHeader(http.StatusNoContent)
}
