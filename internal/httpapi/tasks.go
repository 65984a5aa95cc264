package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/seamarks/helmsman/internal/background"
	"github.com/seamarks/helmsman/internal/limits"
)

type taskHandler struct {
	deps Deps
}

type delegateRequest struct {
	Task          string   `json:"task"`
	Allowlist     []string `json:"allowlist"`
	Channel       string   `json:"channel,omitempty"`
	MaxToolRounds int      `json:"max_tool_rounds,omitempty"`
	MaxToolCalls  int      `json:"max_tool_calls,omitempty"`
	MaxWallClock  string   `json:"max_wall_clock,omitempty"`
}

func (h *taskHandler) delegate(w http.ResponseWriter, r *http.Request) {
	var req delegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}

	budget := limits.Budget{
		MaxToolRounds: req.MaxToolRounds,
		MaxToolCalls:  req.MaxToolCalls,
	}
	if req.MaxWallClock != "" {
		d, err := time.ParseDuration(req.MaxWallClock)
		if err != nil {
			writeError(w, http.StatusBadRequest, "max_wall_clock must be a duration")
			return
		}
		budget.MaxWallClock = d
	}

	id := h.deps.Tasks.Delegate(background.Spec{
		Task:      req.Task,
		Allowlist: req.Allowlist,
		Budget:    budget,
		Channel:   req.Channel,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (h *taskHandler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Tasks.List())
}

func (h *taskHandler) get(w http.ResponseWriter, r *http.Request) {
	task, ok := h.deps.Tasks.Status(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown or evicted task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}
