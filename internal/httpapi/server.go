// Package httpapi exposes the engine over HTTP: the webhook trigger
// endpoint, workflow and schedule management, approvals, background task
// inspection, and the audit event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/seamarks/helmsman/internal/audit"
	"github.com/seamarks/helmsman/internal/background"
	"github.com/seamarks/helmsman/internal/orchestrator"
	"github.com/seamarks/helmsman/internal/permission"
	"github.com/seamarks/helmsman/internal/schedule"
	"github.com/seamarks/helmsman/internal/trigger"
	"github.com/seamarks/helmsman/internal/workflow"
)

// Deps carries everything the HTTP surface fronts.
type Deps struct {
	Dispatcher   *trigger.Dispatcher
	Manager      *workflow.Manager
	Runner       *workflow.Runner
	Gateway      *permission.Gateway
	Schedules    *schedule.Manager
	Tasks        *background.Manager
	Orchestrator *orchestrator.Orchestrator
	Audit        *audit.Hub
	Logger       *zap.Logger

	// WebhookSecret enables HMAC verification when non-empty.
	WebhookSecret string
	// WebhookRateRPS and WebhookBurst bound inbound webhook traffic.
	WebhookRateRPS float64
	WebhookBurst   int
}

// Server wraps the mux and the http.Server lifecycle.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer registers all routes and returns an unstarted server.
func NewServer(port int, deps Deps) *Server {
	mux := http.NewServeMux()

	wh := newWebhookHandler(deps)
	mux.HandleFunc("POST /webhooks/{name}", wh.handle)

	wf := &workflowHandler{deps: deps}
	mux.HandleFunc("GET /workflows", wf.list)
	mux.HandleFunc("GET /workflows/{name}", wf.get)
	mux.HandleFunc("POST /workflows/{name}/run", wf.run)
	mux.HandleFunc("POST /workflows/{name}/enable", wf.setEnabled(true))
	mux.HandleFunc("POST /workflows/{name}/disable", wf.setEnabled(false))
	mux.HandleFunc("GET /workflows/{name}/history", wf.history)
	mux.HandleFunc("POST /workflows/reload", wf.reload)
	mux.HandleFunc("GET /runs/{id}", wf.getRun)
	mux.HandleFunc("POST /runs/{id}/cancel", wf.cancelRun)

	ag := &agentHandler{deps: deps}
	mux.HandleFunc("POST /agent", ag.run)

	ap := &approvalHandler{deps: deps}
	mux.HandleFunc("GET /approvals", ap.list)
	mux.HandleFunc("POST /approvals/decision", ap.decide)

	sc := &scheduleHandler{deps: deps}
	mux.HandleFunc("GET /schedules", sc.list)
	mux.HandleFunc("POST /schedules", sc.add)
	mux.HandleFunc("DELETE /schedules/{id}", sc.remove)

	tk := &taskHandler{deps: deps}
	mux.HandleFunc("POST /tasks", tk.delegate)
	mux.HandleFunc("GET /tasks", tk.list)
	mux.HandleFunc("GET /tasks/{id}", tk.get)

	ev := &eventsHandler{hub: deps.Audit, logger: deps.Logger}
	mux.HandleFunc("GET /events/sse", ev.handleSSE)
	mux.HandleFunc("GET /events/ws", ev.handleWS)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			// No blanket write timeout; SSE and websocket streams are
			// long-lived.
			IdleTimeout: 120 * time.Second,
		},
		logger: deps.Logger,
	}
}

// Start serves until Shutdown or listener failure.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the mux for httptest.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
