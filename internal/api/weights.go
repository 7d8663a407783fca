package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/MikeSquared-Agency/Weightage/internal/metrics"
	"github.com/MikeSquared-Agency/Weightage/internal/weighting"
)

// WeightsHandler exposes the engine statelessly: the caller sends its current
// form state and gets the recomputed selections back.
type WeightsHandler struct {
	engine *weighting.Engine
}

func NewWeightsHandler(e *weighting.Engine) *WeightsHandler {
	return &WeightsHandler{engine: e}
}

type EditWeightRequest struct {
	Selections weighting.SelectionSet `json:"selections" validate:"dive"`
	Index      int                    `json:"index"`
	Weight     decimal.Decimal        `json:"weight"`
	Pin        *bool                  `json:"pin,omitempty"`
}

type ResetRequest struct {
	Selections  weighting.SelectionSet `json:"selections" validate:"dive"`
	Scope       weighting.Scope        `json:"scope"`
	TotalWeight *decimal.Decimal       `json:"total_weight,omitempty"`
}

type RemoveRequest struct {
	Selections weighting.SelectionSet `json:"selections" validate:"dive"`
	Reference  string                 `json:"reference" validate:"required"`
	Scope      weighting.Scope        `json:"scope"`
}

type ValidateRequest struct {
	Selections weighting.SelectionSet `json:"selections" validate:"dive"`
}

type SelectionsResponse struct {
	Selections weighting.SelectionSet `json:"selections"`
	Error      string                 `json:"error,omitempty"`
}

// Edit handles POST /api/v1/weights/edit
func (h *WeightsHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req EditWeightRequest
	if !decode(w, r, &req) {
		return
	}
	pin := true
	if req.Pin != nil {
		pin = *req.Pin
	}
	out, err := h.engine.EditWeight(req.Selections, req.Index, req.Weight, pin)
	metrics.ObserveEngine("edit", err)
	writeSelections(w, out, err)
}

// Impact handles POST /api/v1/weights/impact
func (h *WeightsHandler) Impact(w http.ResponseWriter, r *http.Request) {
	var req EditWeightRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.engine.EditImpact(req.Selections, req.Index, req.Weight)
	metrics.ObserveEngine("impact", err)
	writeSelections(w, out, err)
}

// Reset handles POST /api/v1/weights/reset
func (h *WeightsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !decode(w, r, &req) {
		return
	}
	total := weighting.DefaultTotal
	if req.TotalWeight != nil {
		total = *req.TotalWeight
		if total.IsNegative() || total.GreaterThan(weighting.DefaultTotal) {
			writeError(w, http.StatusBadRequest, "total_weight must be within [0, 100]")
			return
		}
	}
	if !ownScope(w, r, req.Scope) {
		return
	}
	out := h.engine.Reset(req.Selections, req.Scope, total)
	metrics.ObserveEngine("reset", nil)
	writeSelections(w, out, nil)
}

// Remove handles POST /api/v1/weights/remove
func (h *WeightsHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req RemoveRequest
	if !decode(w, r, &req) {
		return
	}
	if !ownScope(w, r, req.Scope) {
		return
	}
	out := h.engine.Remove(req.Selections, req.Reference, req.Scope)
	metrics.ObserveEngine("remove", nil)
	writeSelections(w, out, nil)
}

// Validate handles POST /api/v1/weights/validate
func (h *WeightsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Selections.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "payload": req.Selections.Payload()})
}

// ownScope rejects a body scope naming an account other than the caller's.
func ownScope(w http.ResponseWriter, r *http.Request, scope weighting.Scope) bool {
	if scope.AccountID != accountFrom(r) {
		writeError(w, http.StatusForbidden, "scope account does not match caller")
		return false
	}
	return true
}

// writeSelections answers 422 with the unchanged selections when the engine
// rejected the operation, so the form can keep its state.
func writeSelections(w http.ResponseWriter, set weighting.SelectionSet, err error) {
	if set == nil {
		set = weighting.SelectionSet{}
	}
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, SelectionsResponse{Selections: set, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, SelectionsResponse{Selections: set})
}
