// Package toolexec is the single execution path for tool calls. Every
// caller (the orchestrator loop, the workflow runner, background tasks)
// goes through Invoker.Invoke, which applies the permission gateway, the
// sanitization chokepoint, budget accounting, metrics, and the audit
// trail in one place.
package toolexec

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/seamarks/helmsman/internal/audit"
	"github.com/seamarks/helmsman/internal/fault"
	"github.com/seamarks/helmsman/internal/limits"
	"github.com/seamarks/helmsman/internal/metrics"
	"github.com/seamarks/helmsman/internal/permission"
	"github.com/seamarks/helmsman/internal/sanitize"
	"github.com/seamarks/helmsman/internal/tools"
	"github.com/seamarks/helmsman/internal/tracing"
)

// Invoker binds the registry to its mandatory gatekeepers.
type Invoker struct {
	Registry *tools.Registry
	Gateway  *permission.Gateway
	Cleaner  *sanitize.Cleaner
	Audit    *audit.Hub
	Logger   *zap.Logger
}

// Options scope a single invocation.
type Options struct {
	Mode permission.Mode
	// Allowlist applies in scoped-auto mode.
	Allowlist []string
	// Tracker, when set, charges the call against a run budget.
	Tracker *limits.Tracker
	// RunID tags audit records with the owning run.
	RunID string
}

// Invoke executes one tool call end to end. The returned Result is always
// populated; a non-nil error carries the fault classification (denial,
// limit, validation, handler failure) for callers that need to branch on
// it.
func (inv *Invoker) Invoke(ctx context.Context, call tools.Call, opts Options) (tools.Result, error) {
	start := time.Now()

	def, ok := inv.Registry.Get(call.Name)
	if !ok {
		return inv.finish(call, opts, start, "", "", fault.Validation("unknown tool %q", call.Name))
	}

	category := tools.EffectiveCategory(def, call.Args)

	decision := inv.Gateway.Decide(ctx, permission.Request{
		Tool:        call.Name,
		Category:    category,
		Description: describeCall(call),
		Origin:      call.Origin,
		Allowlist:   opts.Allowlist,
	}, opts.Mode)
	if decision != permission.Approved {
		return inv.finish(call, opts, start, decision, "", fault.Denied("tool %s was not approved", call.Name))
	}

	if opts.Tracker != nil {
		if err := opts.Tracker.ChargeCall(); err != nil {
			return inv.finish(call, opts, start, decision, "", err)
		}
	}

	cleaned, err := inv.Cleaner.Clean(call.Name, call.Args)
	if err != nil {
		return inv.finish(call, opts, start, decision, "", err)
	}

	ctx, span := tracing.StartToolSpan(ctx, call.Name)
	defer span.End()

	content, err := def.Handler(ctx, cleaned)
	if err != nil && fault.Kind(err) == "internal" {
		// Handlers that return bare errors still executed; keep the
		// taxonomy honest.
		err = fault.Handler(call.Name, err)
	}
	return inv.finish(call, opts, start, decision, content, err)
}

func (inv *Invoker) finish(call tools.Call, opts Options, start time.Time, decision permission.Decision, content string, err error) (tools.Result, error) {
	outcome := fault.Kind(err)
	elapsed := time.Since(start)

	metrics.ToolExecutions.WithLabelValues(call.Name, outcome).Inc()
	metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(elapsed.Seconds())

	if inv.Audit != nil {
		inv.Audit.Publish(audit.Event{
			Kind:     audit.KindToolInvocation,
			Tool:     call.Name,
			Args:     call.Args,
			Decision: string(decision),
			Outcome:  outcome,
			Duration: elapsed,
			RunID:    opts.RunID,
		})
	}

	res := tools.Result{CallID: call.ID, Content: content}
	if err != nil {
		res.IsError = true
		res.Content = err.Error()
		inv.Logger.Warn("tool invocation failed",
			zap.String("tool", call.Name),
			zap.String("outcome", outcome),
			zap.Error(err))
		return res, err
	}

	inv.Logger.Debug("tool invocation completed",
		zap.String("tool", call.Name),
		zap.Duration("duration", elapsed))
	return res, nil
}

func describeCall(call tools.Call) string {
	b, err := json.Marshal(call.Args)
	if err != nil || len(b) == 0 {
		return call.Name
	}
	const max = 200
	s := string(b)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return call.Name + " " + s
}
