package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/seamarks/helmsman/internal/trigger"
)

type workflowHandler struct {
	deps Deps
}

func (h *workflowHandler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Manager.List())
}

func (h *workflowHandler) get(w http.ResponseWriter, r *http.Request) {
	def, err := h.deps.Manager.Get(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// run dispatches a manual trigger with an operator-supplied payload.
func (h *workflowHandler) run(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	payload := map[string]interface{}{}
	if r.Body != nil {
		// An empty body means an empty context
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}

	run, err := h.deps.Dispatcher.Dispatch(r.Context(), trigger.SourceManual, name, payload)
	switch {
	case errors.Is(err, trigger.ErrUnknownWorkflow):
		writeError(w, http.StatusNotFound, "unknown workflow")
		return
	case errors.Is(err, trigger.ErrWorkflowDisabled):
		writeError(w, http.StatusConflict, "workflow disabled")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *workflowHandler) setEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := h.deps.Manager.SetEnabled(name, enabled); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"name":    name,
			"enabled": enabled,
		})
	}
}

func (h *workflowHandler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Manager.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"workflows": len(h.deps.Manager.List())})
}

func (h *workflowHandler) history(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := h.deps.Manager.Get(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Runner.History(name))
}

func (h *workflowHandler) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.deps.Runner.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *workflowHandler) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.deps.Runner.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": id, "status": "cancelling"})
}
