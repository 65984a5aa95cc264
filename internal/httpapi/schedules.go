package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/seamarks/helmsman/internal/fault"
)

type scheduleHandler struct {
	deps Deps
}

func (h *scheduleHandler) list(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.deps.Schedules.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

type addScheduleRequest struct {
	Workflow string                 `json:"workflow"`
	Kind     string                 `json:"kind"`
	Expr     string                 `json:"expr"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

func (h *scheduleHandler) add(w http.ResponseWriter, r *http.Request) {
	var req addScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	job, err := h.deps.Schedules.Add(r.Context(), req.Workflow, req.Kind, req.Expr, req.Payload)
	if err != nil {
		if errors.Is(err, fault.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *scheduleHandler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Schedules.Remove(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, fault.ErrValidation) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
