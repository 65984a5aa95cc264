package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tool execution metrics
	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_tool_executions_total",
			Help: "Total number of tool executions by outcome",
		},
		[]string{"tool", "outcome"},
	)

	ToolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helmsman_tool_execution_duration_seconds",
			Help:    "Tool handler execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Permission gateway metrics
	PermissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_permission_decisions_total",
			Help: "Total number of permission decisions",
		},
		[]string{"mode", "decision"},
	)

	PermissionTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "helmsman_permission_timeouts_total",
			Help: "Pending approvals that resolved to deny on timeout",
		},
	)

	// Orchestrator metrics
	OrchestratorRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_orchestrator_runs_total",
			Help: "Total number of orchestrator runs",
		},
		[]string{"mode", "status"},
	)

	OrchestratorRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helmsman_orchestrator_rounds",
			Help:    "Tool-call rounds consumed per orchestrator run",
			Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
		},
	)

	// Workflow metrics
	WorkflowRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_workflow_runs_total",
			Help: "Total number of workflow runs by trigger source and status",
		},
		[]string{"source", "status"},
	)

	WorkflowRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helmsman_workflow_run_duration_seconds",
			Help:    "Workflow run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)

	WorkflowsAwaitingApproval = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "helmsman_workflows_awaiting_approval",
			Help: "Workflow runs currently parked awaiting approval",
		},
	)

	// Background task metrics
	BackgroundTasksStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "helmsman_background_tasks_started_total",
			Help: "Total number of background tasks delegated",
		},
	)

	BackgroundTasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_background_tasks_completed_total",
			Help: "Total number of background tasks finished by status",
		},
		[]string{"status"},
	)

	BackgroundTasksEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "helmsman_background_tasks_evicted_total",
			Help: "Background task records evicted from the bounded store",
		},
	)

	// Trigger metrics
	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_webhook_requests_total",
			Help: "Total webhook trigger requests by result",
		},
		[]string{"result"},
	)

	ScheduleFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helmsman_schedule_fires_total",
			Help: "Total schedule trigger fires by outcome",
		},
		[]string{"outcome"},
	)

	// Audit stream metrics
	AuditEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "helmsman_audit_events_published_total",
			Help: "Audit events published to the event hub",
		},
	)

	AuditSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "helmsman_audit_subscribers",
			Help: "Active audit stream subscribers",
		},
	)
)
