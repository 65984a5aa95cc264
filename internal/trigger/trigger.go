// Package trigger collapses the three start sources (schedule, webhook,
// manual) into one dispatch call against the workflow runner.
package trigger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/seamarks/helmsman/internal/audit"
	"github.com/seamarks/helmsman/internal/notify"
	"github.com/seamarks/helmsman/internal/workflow"
)

// Source labels for dispatched runs.
const (
	SourceManual   = "manual"
	SourceWebhook  = "webhook"
	SourceSchedule = "schedule"
)

// Dispatch errors the HTTP layer maps to status codes.
var (
	ErrUnknownWorkflow  = errors.New("unknown workflow")
	ErrWorkflowDisabled = errors.New("workflow disabled")
)

// Dispatcher resolves a trigger to a workflow run and owns result
// delivery for terminal runs.
type Dispatcher struct {
	Manager  *workflow.Manager
	Runner   *workflow.Runner
	Notifier notify.Sink
	Audit    *audit.Hub
	Logger   *zap.Logger
	// Channel receives run result summaries.
	Channel string
}

// Install wires the dispatcher as the runner's terminal hook. Call once
// during startup.
func (d *Dispatcher) Install() {
	d.Runner.OnTerminal = d.deliver
}

// Dispatch starts workflow name with the given payload. Webhook dispatch
// only reaches workflows declared with a webhook trigger; unknown and
// mismatched names are indistinguishable to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, source, name string, payload map[string]interface{}) (*workflow.Run, error) {
	def, err := d.Manager.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}
	if source == SourceWebhook && def.Trigger.Type != workflow.TriggerWebhook {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}
	if !def.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowDisabled, name)
	}

	if d.Audit != nil {
		d.Audit.Publish(audit.Event{
			Kind:     audit.KindTrigger,
			Workflow: name,
			Detail:   source,
		})
	}
	d.Logger.Info("dispatching workflow",
		zap.String("workflow", name), zap.String("source", source))

	return d.Runner.Start(ctx, def, source, payload)
}

// deliver routes a terminal run's summary to the notification sink.
func (d *Dispatcher) deliver(run *workflow.Run) {
	if d.Notifier == nil {
		return
	}
	channel := d.Channel
	if channel == "" {
		channel = "operator"
	}
	msg := summarize(run)
	if err := d.Notifier.Deliver(context.Background(), channel, msg); err != nil {
		d.Logger.Warn("run result delivery failed",
			zap.String("run_id", run.ID), zap.Error(err))
	}
}

func summarize(run *workflow.Run) string {
	switch run.Status {
	case workflow.StatusCompleted:
		last := ""
		if n := len(run.Steps); n > 0 {
			last = run.Steps[n-1].Output
		}
		return fmt.Sprintf("workflow %s completed (%d steps). Last output: %s",
			run.Workflow, len(run.Steps), last)
	case workflow.StatusFailed:
		return fmt.Sprintf("workflow %s failed: %s", run.Workflow, run.Error)
	default:
		return fmt.Sprintf("workflow %s ended with status %s", run.Workflow, run.Status)
	}
}
