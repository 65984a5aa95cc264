package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/seamarks/helmsman/internal/fault"
	"github.com/seamarks/helmsman/internal/orchestrator"
	"github.com/seamarks/helmsman/internal/permission"
)

type agentHandler struct {
	deps Deps
}

type agentRequest struct {
	Message string `json:"message"`
}

type agentResponse struct {
	Text      string `json:"text"`
	Rounds    int    `json:"rounds"`
	Calls     int    `json:"calls"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// run drives one interactive orchestrator turn for the operator. Pending
// write approvals surface through the notification channel and resolve
// via POST /approvals/decision while this request blocks.
func (h *agentHandler) run(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	res, err := h.deps.Orchestrator.Run(r.Context(), req.Message, orchestrator.Options{
		Mode: permission.ModeInteractive,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if fault.Kind(err) == "provider_error" {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agentResponse{
		Text:      res.FinalText,
		Rounds:    res.Rounds,
		Calls:     res.Calls,
		Cancelled: res.Cancelled,
	})
}
