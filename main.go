package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/seamarks/helmsman/internal/audit"
	"github.com/seamarks/helmsman/internal/background"
	"github.com/seamarks/helmsman/internal/config"
	"github.com/seamarks/helmsman/internal/fault"
	"github.com/seamarks/helmsman/internal/httpapi"
	"github.com/seamarks/helmsman/internal/limits"
	"github.com/seamarks/helmsman/internal/model"
	"github.com/seamarks/helmsman/internal/notify"
	"github.com/seamarks/helmsman/internal/orchestrator"
	"github.com/seamarks/helmsman/internal/permission"
	"github.com/seamarks/helmsman/internal/sanitize"
	"github.com/seamarks/helmsman/internal/schedule"
	"github.com/seamarks/helmsman/internal/toolexec"
	"github.com/seamarks/helmsman/internal/tools"
	"github.com/seamarks/helmsman/internal/tracing"
	"github.com/seamarks/helmsman/internal/trigger"
	"github.com/seamarks/helmsman/internal/workflow"
)

const systemPrompt = `You are an automation assistant operating real tools on behalf of a single trusted operator. Use tools when they help, report truthfully, and stop when the task is done.`

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Logging.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	// Audit hub with a structured-log sink; mirror to redis when
	// configured.
	hub := audit.NewHub(256)
	hub.AddSink(audit.SinkFunc(func(e audit.Event) {
		logger.Info("audit",
			zap.String("kind", e.Kind),
			zap.String("tool", e.Tool),
			zap.String("outcome", e.Outcome),
			zap.String("run_id", e.RunID))
	}))

	// Notification fanout: always log, add redis pub/sub when an
	// address is configured.
	sinks := notify.Fanout{notify.NewLogSink(logger)}
	if cfg.Notifications.RedisAddr != "" {
		rs, err := notify.NewRedisSink(cfg.Notifications.RedisAddr, cfg.Notifications.RedisChannel, logger)
		if err != nil {
			logger.Warn("redis notifications unavailable", zap.Error(err))
		} else {
			defer rs.Close()
			sinks = append(sinks, rs)
			hub.AddSink(audit.SinkFunc(func(e audit.Event) {
				_ = rs.Deliver(ctx, "audit", string(e.Marshal()))
			}))
		}
	}
	var notifier notify.Sink = sinks

	if err := os.MkdirAll(cfg.Workspace.Root, 0o755); err != nil {
		logger.Fatal("workspace root unavailable", zap.Error(err))
	}

	registry := tools.NewRegistry(logger)
	if err := tools.RegisterBuiltins(registry, tools.BuiltinDeps{
		WorkspaceRoot: cfg.Workspace.Root,
		Notifier:      notifier,
		Logger:        logger,
	}); err != nil {
		logger.Fatal("registering builtin tools", zap.Error(err))
	}

	var overlay *permission.Overlay
	if cfg.Permissions.PolicyDir != "" {
		overlay, err = permission.LoadOverlay(cfg.Permissions.PolicyDir, cfg.Permissions.FailClosed, logger)
		if err != nil {
			logger.Fatal("loading policy overlay", zap.Error(err))
		}
	}

	gateway := permission.NewGateway(cfg.Permissions.ApprovalTimeout, overlay,
		&approvalNotifier{notifier: notifier, logger: logger}, logger)

	invoker := &toolexec.Invoker{
		Registry: registry,
		Gateway:  gateway,
		Cleaner:  sanitize.NewCleaner(cfg.Workspace.Root),
		Audit:    hub,
		Logger:   logger,
	}

	orch := &orchestrator.Orchestrator{
		Client:       model.NewHTTPClient(cfg.Model.ServiceURL, cfg.Model.Timeout, logger),
		Invoker:      invoker,
		SystemPrompt: systemPrompt,
		Logger:       logger,
	}

	runner := workflow.NewRunner(invoker, hub, logger, 100)
	runner.Budget = limits.Budget{
		MaxToolCalls: cfg.Orchestrator.MaxToolCalls,
		MaxWallClock: cfg.Orchestrator.MaxWallClock,
	}
	runner.Prompter = &stepNotifier{notifier: notifier, logger: logger}

	manager, err := workflow.NewManager(cfg.Workflows.Dir, logger)
	if err != nil {
		logger.Fatal("loading workflows", zap.Error(err))
	}
	defer manager.Close()

	dispatcher := &trigger.Dispatcher{
		Manager:  manager,
		Runner:   runner,
		Notifier: notifier,
		Audit:    hub,
		Logger:   logger,
	}
	dispatcher.Install()

	tasks := background.NewManager(orch, notifier, hub, logger, cfg.Background.HistorySize)

	store, err := schedule.NewStore(cfg.Schedules.Driver, cfg.Schedules.DSN)
	if err != nil {
		logger.Fatal("opening schedule store", zap.Error(err))
	}
	defer store.Close()

	tz, err := time.LoadLocation(cfg.Schedules.Timezone)
	if err != nil {
		logger.Warn("bad timezone, using UTC", zap.String("tz", cfg.Schedules.Timezone))
		tz = time.UTC
	}
	schedules := schedule.NewManager(store, tz, func(ctx context.Context, wf string, payload map[string]interface{}) {
		if _, err := dispatcher.Dispatch(ctx, trigger.SourceSchedule, wf, payload); err != nil {
			logger.Warn("scheduled dispatch failed", zap.String("workflow", wf), zap.Error(err))
		}
	}, logger)

	syncDeclared := func() {
		var declared []schedule.Declared
		for _, def := range manager.List() {
			if def.Trigger.Type != workflow.TriggerSchedule || !def.Enabled {
				continue
			}
			d := schedule.Declared{Workflow: def.Name}
			switch {
			case def.Trigger.Cron != "":
				d.Kind, d.Expr = schedule.KindCron, def.Trigger.Cron
			case def.Trigger.Every != "":
				d.Kind, d.Expr = schedule.KindEvery, def.Trigger.Every
			default:
				continue
			}
			declared = append(declared, d)
		}
		schedules.SyncDeclared(declared)
	}
	manager.OnReload(syncDeclared)
	syncDeclared()

	if cfg.Workflows.Watch {
		if err := manager.Watch(); err != nil {
			logger.Warn("workflow watcher unavailable", zap.Error(err))
		}
	}

	if err := schedules.Start(ctx); err != nil {
		logger.Fatal("starting schedules", zap.Error(err))
	}

	registerCompositeTools(registry, dispatcher, tasks, cfg, logger)

	server := httpapi.NewServer(cfg.Server.Port, httpapi.Deps{
		Dispatcher:     dispatcher,
		Manager:        manager,
		Runner:         runner,
		Gateway:        gateway,
		Schedules:      schedules,
		Tasks:          tasks,
		Orchestrator:   orch,
		Audit:          hub,
		Logger:         logger,
		WebhookSecret:  cfg.Server.WebhookSecret,
		WebhookRateRPS: cfg.Server.WebhookRateRPS,
		WebhookBurst:   cfg.Server.WebhookBurst,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	schedules.Stop()
	tasks.Wait()
	logger.Info("helmsman stopped")
}

// registerCompositeTools adds the tools that close over higher layers:
// workflow_run dispatches a workflow, delegate_task spawns a background
// orchestrator run.
func registerCompositeTools(registry *tools.Registry, dispatcher *trigger.Dispatcher, tasks *background.Manager, cfg *config.Config, logger *zap.Logger) {
	err := registry.Register(tools.Definition{
		Name:        "workflow_run",
		Description: "Run a named workflow with an optional context payload",
		Category:    tools.RiskWrite,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name":    map[string]interface{}{"type": "string"},
				"payload": map[string]interface{}{"type": "object"},
			},
			"required": []string{"name"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			name, _ := args["name"].(string)
			if name == "" {
				return "", fault.Validation("name is required")
			}
			payload, _ := args["payload"].(map[string]interface{})
			run, err := dispatcher.Dispatch(ctx, trigger.SourceManual, name, payload)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("workflow %s run %s: %s", name, run.ID, run.Status), nil
		},
	})
	if err != nil {
		logger.Fatal("registering workflow_run", zap.Error(err))
	}

	err = registry.Register(tools.Definition{
		Name:        "delegate_task",
		Description: "Run a task in the background under a tool allowlist and report the result later",
		Category:    tools.RiskWrite,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"task":      map[string]interface{}{"type": "string"},
				"allowlist": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"channel":   map[string]interface{}{"type": "string"},
			},
			"required": []string{"task"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			task, _ := args["task"].(string)
			if task == "" {
				return "", fault.Validation("task is required")
			}
			var allowlist []string
			if raw, ok := args["allowlist"].([]interface{}); ok {
				for _, item := range raw {
					if s, ok := item.(string); ok {
						allowlist = append(allowlist, s)
					}
				}
			}
			channel, _ := args["channel"].(string)
			if channel == "" {
				channel = "operator"
			}
			id := tasks.Delegate(background.Spec{
				Task:      task,
				Allowlist: allowlist,
				Channel:   channel,
				Budget: limits.Budget{
					MaxToolRounds: cfg.Orchestrator.MaxToolRounds,
					MaxToolCalls:  cfg.Orchestrator.MaxToolCalls,
					MaxWallClock:  cfg.Orchestrator.MaxWallClock,
				},
			})
			return "delegated as task " + id, nil
		},
	})
	if err != nil {
		logger.Fatal("registering delegate_task", zap.Error(err))
	}
}

// approvalNotifier surfaces pending tool approvals on the operator's
// notification channel.
type approvalNotifier struct {
	notifier notify.Sink
	logger   *zap.Logger
}

func (a *approvalNotifier) PromptApproval(ctx context.Context, id string, req permission.Request, deadline time.Time) {
	msg := fmt.Sprintf("Approval needed [%s]: %s (%s). Denies automatically at %s.",
		id, req.Description, req.Category, deadline.Format(time.RFC3339))
	if err := a.notifier.Deliver(ctx, "operator", msg); err != nil {
		a.logger.Warn("approval prompt delivery failed", zap.String("id", id), zap.Error(err))
	}
}

// stepNotifier surfaces workflow runs parked at a requires_approval
// step.
type stepNotifier struct {
	notifier notify.Sink
	logger   *zap.Logger
}

func (s *stepNotifier) PromptStepApproval(run *workflow.Run, step workflow.Step, token string) {
	msg := fmt.Sprintf("Workflow %s is waiting on step %q (tool %s). Resume token: %s",
		run.Workflow, step.Name, step.Tool, token)
	if err := s.notifier.Deliver(context.Background(), "operator", msg); err != nil {
		s.logger.Warn("step approval prompt delivery failed",
			zap.String("run_id", run.ID), zap.Error(err))
	}
}
