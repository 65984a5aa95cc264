// Package orchestrator runs the model/tool conversation loop: send the
// transcript, execute any requested tools through the shared invoker,
// feed the results back, and stop when the model answers in plain text
// or the run budget is spent.
package orchestrator

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/seamarks/helmsman/internal/fault"
	"github.com/seamarks/helmsman/internal/limits"
	"github.com/seamarks/helmsman/internal/metrics"
	"github.com/seamarks/helmsman/internal/model"
	"github.com/seamarks/helmsman/internal/permission"
	"github.com/seamarks/helmsman/internal/toolexec"
	"github.com/seamarks/helmsman/internal/tools"
	"github.com/seamarks/helmsman/internal/tracing"
)

// Orchestrator owns the loop. One instance serves all runs.
type Orchestrator struct {
	Client       model.Client
	Invoker      *toolexec.Invoker
	SystemPrompt string
	Logger       *zap.Logger
}

// Options configure one run.
type Options struct {
	Mode permission.Mode
	// Allowlist restricts tools in scoped-auto mode.
	Allowlist []string
	Budget    limits.Budget
	RunID     string
	// OnDelta streams assistant text fragments as they arrive.
	OnDelta func(text string)
}

// Result is the outcome of a run. Cancelled marks a partial result cut
// short at a round boundary.
type Result struct {
	FinalText string
	Rounds    int
	Calls     int
	Cancelled bool
}

// Run drives one conversation to completion. Budget exhaustion yields a
// forced summary answer, not an error. Cancellation is honored between
// rounds and between tool calls and yields a partial result with
// Cancelled set.
func (o *Orchestrator) Run(ctx context.Context, userMessage string, opts Options) (Result, error) {
	if opts.Mode == "" {
		opts.Mode = permission.ModeInteractive
	}

	ctx, span := tracing.StartSpan(ctx, "orchestrator.run")
	defer span.End()

	tracker := limits.NewTracker(opts.Budget)
	catalog := o.Invoker.Registry.Catalog(opts.Allowlist)
	turns := []model.Turn{{Role: model.RoleUser, Content: userMessage}}

	status := "completed"
	defer func() {
		metrics.OrchestratorRuns.WithLabelValues(string(opts.Mode), status).Inc()
	}()

	for {
		if ctx.Err() != nil {
			status = "cancelled"
			return Result{Cancelled: true, Rounds: tracker.Rounds(), Calls: tracker.Calls()}, nil
		}

		if err := tracker.BeginRound(); err != nil {
			// Only round exhaustion earns a closing summary. Wall clock
			// violations abort outright.
			if !errors.Is(err, limits.ErrRoundsExhausted) {
				status = fault.Kind(err)
				return Result{Rounds: tracker.Rounds(), Calls: tracker.Calls()}, err
			}
			// Ask for a closing answer with no tools on offer so the
			// loop cannot extend itself.
			text, serr := o.summarize(ctx, turns, opts)
			if serr != nil {
				status = fault.Kind(serr)
				return Result{Rounds: tracker.Rounds(), Calls: tracker.Calls()}, serr
			}
			status = "budget_exhausted"
			return Result{FinalText: text, Rounds: tracker.Rounds(), Calls: tracker.Calls()}, nil
		}

		resp, err := o.Client.Generate(ctx, model.Request{
			System:  o.SystemPrompt,
			Turns:   turns,
			Catalog: catalog,
			OnDelta: opts.OnDelta,
		})
		if err != nil {
			status = fault.Kind(err)
			return Result{Rounds: tracker.Rounds(), Calls: tracker.Calls()}, err
		}

		if len(resp.ToolCalls) == 0 {
			metrics.OrchestratorRounds.Observe(float64(tracker.Rounds()))
			return Result{FinalText: resp.Text, Rounds: tracker.Rounds(), Calls: tracker.Calls()}, nil
		}

		turns = append(turns, model.Turn{
			Role:      model.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		results := make([]tools.Result, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			if ctx.Err() != nil {
				status = "cancelled"
				return Result{Cancelled: true, Rounds: tracker.Rounds(), Calls: tracker.Calls()}, nil
			}
			// Denials and handler failures flow back to the model as
			// error results; the loop itself keeps going. A spent call
			// or wall clock budget ends the run instead, otherwise the
			// model would keep burning rounds on calls that can never
			// execute.
			res, err := o.Invoker.Invoke(ctx, call, toolexec.Options{
				Mode:      opts.Mode,
				Allowlist: opts.Allowlist,
				Tracker:   tracker,
				RunID:     opts.RunID,
			})
			if err != nil && errors.Is(err, fault.ErrResourceLimit) {
				status = fault.Kind(err)
				return Result{Rounds: tracker.Rounds(), Calls: tracker.Calls()}, err
			}
			results = append(results, res)
		}
		turns = append(turns, model.Turn{Role: model.RoleTool, Results: results})
	}
}

// summarize issues the final call with an empty catalog. Tool calls in
// the reply, if any slip through, are ignored.
func (o *Orchestrator) summarize(ctx context.Context, turns []model.Turn, opts Options) (string, error) {
	turns = append(turns, model.Turn{
		Role:    model.RoleUser,
		Content: "The tool budget for this request is spent. Summarize what was done and answer with what you have.",
	})
	resp, err := o.Client.Generate(ctx, model.Request{
		System:  o.SystemPrompt,
		Turns:   turns,
		OnDelta: opts.OnDelta,
	})
	if err != nil {
		return "", err
	}
	text := resp.Text
	if strings.TrimSpace(text) == "" {
		text = "The tool budget was exhausted before a final answer was produced."
	}
	return text, nil
}
