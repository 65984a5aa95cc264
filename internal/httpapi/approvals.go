package httpapi

import (
	"encoding/json"
	"net/http"
)

type approvalHandler struct {
	deps Deps
}

// list returns both pending tool approvals and workflow runs parked at a
// requires_approval step.
func (h *approvalHandler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tool_approvals":    h.deps.Gateway.ListPending(),
		"awaiting_workflow": h.deps.Runner.Awaiting(),
	})
}

type decisionRequest struct {
	// Kind is "tool" for a gateway prompt or "workflow" for a parked
	// run's resume token.
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
}

func (h *approvalHandler) decide(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	switch req.Kind {
	case "tool":
		if !h.deps.Gateway.Resolve(req.ID, req.Approved) {
			writeError(w, http.StatusNotFound, "unknown or already resolved approval")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": req.ID, "approved": req.Approved})
	case "workflow":
		run, err := h.deps.Runner.Resume(r.Context(), req.ID, req.Approved)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, run)
	default:
		writeError(w, http.StatusBadRequest, `kind must be "tool" or "workflow"`)
	}
}
