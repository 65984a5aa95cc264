package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seamarks/helmsman/internal/audit"
	"github.com/seamarks/helmsman/internal/fault"
	"github.com/seamarks/helmsman/internal/limits"
	"github.com/seamarks/helmsman/internal/metrics"
	"github.com/seamarks/helmsman/internal/permission"
	"github.com/seamarks/helmsman/internal/toolexec"
	"github.com/seamarks/helmsman/internal/tools"
	"github.com/seamarks/helmsman/internal/tracing"
)

// ApprovalPrompter is notified when a run parks at a requires_approval
// step. The token resolves the run exactly once via Resume.
type ApprovalPrompter interface {
	PromptStepApproval(run *Run, step Step, token string)
}

// Runner executes workflow definitions step by step through the shared
// tool invoker. Runs waiting on approval hold no goroutine; they are
// parked as state and resumed by token.
type Runner struct {
	Invoker  *toolexec.Invoker
	Audit    *audit.Hub
	Prompter ApprovalPrompter
	Logger   *zap.Logger
	// OnTerminal fires after a run reaches a final state; the trigger
	// layer uses it for result delivery.
	OnTerminal func(run *Run)
	// Budget bounds each run's wall clock and call count.
	Budget limits.Budget

	mu      sync.Mutex
	active  map[string]*runState // run id -> state
	byToken map[string]*runState
	history []*Run
	histCap int
}

type runState struct {
	run    *Run
	def    *Definition
	cancel bool
}

// NewRunner creates a runner keeping the given number of finished runs
// for inspection (default 100).
func NewRunner(inv *toolexec.Invoker, hub *audit.Hub, logger *zap.Logger, historySize int) *Runner {
	if historySize <= 0 {
		historySize = 100
	}
	return &Runner{
		Invoker: inv,
		Audit:   hub,
		Logger:  logger,
		active:  make(map[string]*runState),
		byToken: make(map[string]*runState),
		histCap: historySize,
	}
}

// Start begins a run for an enabled definition and drives it until it
// completes, fails, or parks awaiting approval. The returned Run is a
// snapshot.
func (r *Runner) Start(ctx context.Context, def *Definition, source string, payload map[string]interface{}) (*Run, error) {
	if !def.Enabled {
		return nil, fault.Validation("workflow %q is disabled", def.Name)
	}

	runCtx := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		runCtx[k] = v
	}

	st := &runState{
		def: def,
		run: &Run{
			ID:        uuid.New().String(),
			Workflow:  def.Name,
			Source:    source,
			Status:    StatusPending,
			Context:   runCtx,
			StartedAt: time.Now(),
		},
	}

	r.mu.Lock()
	r.active[st.run.ID] = st
	r.mu.Unlock()

	r.transition(st, StatusRunning, "")
	r.advance(ctx, st)
	return r.snapshot(st), nil
}

// advance executes steps from NextStep until the run parks or ends. Run
// state is shared with the inspection endpoints, so every read or write
// of st.run happens under r.mu; only the tool invocation itself runs
// unlocked.
func (r *Runner) advance(ctx context.Context, st *runState) {
	ctx, span := tracing.StartWorkflowSpan(ctx, st.def.Name, st.run.ID)
	defer span.End()

	tracker := limits.NewTracker(r.Budget)
	allowlist := st.def.Tools()

	for {
		if ctx.Err() != nil || r.cancelled(st) {
			r.finish(st, StatusCancelled, "")
			return
		}

		r.mu.Lock()
		if st.run.NextStep >= len(st.def.Steps) {
			r.mu.Unlock()
			break
		}
		step := st.def.Steps[st.run.NextStep]
		if step.RequiresApproval && st.run.ResumeToken == "" {
			r.mu.Unlock()
			r.park(st, step)
			return
		}
		// A just-approved step carries its spent token; clear it so a
		// later approval step parks again.
		st.run.ResumeToken = ""
		args := mergeArgs(step.Args, st.run.Context)
		callID := fmt.Sprintf("%s-%d", st.run.ID[:8], st.run.NextStep)
		r.mu.Unlock()

		start := time.Now()
		res, err := r.Invoker.Invoke(ctx, tools.Call{
			ID:     callID,
			Name:   step.Tool,
			Args:   args,
			Origin: st.run.ID,
		}, toolexec.Options{
			Mode:      permission.ModeScopedAuto,
			Allowlist: allowlist,
			Tracker:   tracker,
			RunID:     st.run.ID,
		})

		result := StepResult{
			Name:     step.Name,
			Tool:     step.Tool,
			Output:   res.Content,
			Status:   "ok",
			Duration: time.Since(start),
		}
		if err != nil {
			result.Status = fault.Kind(err)
		}
		r.mu.Lock()
		st.run.Steps = append(st.run.Steps, result)
		if err == nil {
			st.run.Context["previous_output"] = res.Content
			st.run.Context[step.Name+"_output"] = res.Content
			st.run.NextStep++
		}
		r.mu.Unlock()

		if err != nil {
			r.finish(st, StatusFailed, fmt.Sprintf("step %q: %v", step.Name, err))
			return
		}
	}

	r.finish(st, StatusCompleted, "")
}

// park suspends the run at the current step and hands out a resume token.
func (r *Runner) park(st *runState, step Step) {
	token := uuid.New().String()
	r.mu.Lock()
	st.run.ResumeToken = token
	r.byToken[token] = st
	r.mu.Unlock()

	r.transition(st, StatusAwaitingApproval, fmt.Sprintf("step %q requires approval", step.Name))
	metrics.WorkflowsAwaitingApproval.Inc()

	if r.Prompter != nil {
		r.Prompter.PromptStepApproval(r.snapshot(st), step, token)
	}
}

// Resume settles a parked run. Approval continues execution at the
// parked step; denial fails the run. The token is single use.
func (r *Runner) Resume(ctx context.Context, token string, approved bool) (*Run, error) {
	r.mu.Lock()
	st, ok := r.byToken[token]
	var next int
	if ok {
		delete(r.byToken, token)
		next = st.run.NextStep
	}
	r.mu.Unlock()
	if !ok {
		return nil, fault.Validation("unknown or already used resume token")
	}

	metrics.WorkflowsAwaitingApproval.Dec()

	if !approved {
		step := st.def.Steps[next]
		r.finish(st, StatusFailed, fmt.Sprintf("step %q was denied", step.Name))
		return r.snapshot(st), nil
	}

	r.transition(st, StatusRunning, "resumed after approval")
	r.advance(ctx, st)
	return r.snapshot(st), nil
}

// Cancel requests cancellation of an active run; it takes effect at the
// next step boundary. Parked runs are cancelled immediately.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	st, ok := r.active[runID]
	if ok {
		st.cancel = true
		if st.run.Status == StatusAwaitingApproval {
			delete(r.byToken, st.run.ResumeToken)
			r.mu.Unlock()
			metrics.WorkflowsAwaitingApproval.Dec()
			r.finish(st, StatusCancelled, "")
			return nil
		}
	}
	r.mu.Unlock()
	if !ok {
		return fault.Validation("unknown run %q", runID)
	}
	return nil
}

// Get returns an active or recently finished run by id.
func (r *Runner) Get(runID string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.active[runID]; ok {
		return cloneRun(st.run), true
	}
	for _, run := range r.history {
		if run.ID == runID {
			return cloneRun(run), true
		}
	}
	return nil, false
}

// History returns finished runs, newest first, optionally filtered by
// workflow name.
func (r *Runner) History(workflow string) []*Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Run, 0, len(r.history))
	for _, run := range r.history {
		if workflow != "" && run.Workflow != workflow {
			continue
		}
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Awaiting returns runs currently parked for approval.
func (r *Runner) Awaiting() []*Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Run, 0, len(r.byToken))
	for _, st := range r.byToken {
		out = append(out, cloneRun(st.run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (r *Runner) cancelled(st *runState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return st.cancel
}

func (r *Runner) transition(st *runState, status, detail string) {
	r.mu.Lock()
	st.run.Status = status
	r.mu.Unlock()

	if r.Audit != nil {
		r.Audit.Publish(audit.Event{
			Kind:     audit.KindWorkflowTransition,
			Workflow: st.run.Workflow,
			RunID:    st.run.ID,
			Outcome:  status,
			Detail:   detail,
		})
	}
	r.Logger.Info("workflow run transition",
		zap.String("workflow", st.run.Workflow),
		zap.String("run_id", st.run.ID),
		zap.String("status", status))
}

func (r *Runner) finish(st *runState, status, errMsg string) {
	r.mu.Lock()
	st.run.Error = errMsg
	st.run.FinishedAt = time.Now()
	r.mu.Unlock()
	r.transition(st, status, errMsg)

	metrics.WorkflowRuns.WithLabelValues(st.run.Source, status).Inc()
	metrics.WorkflowRunDuration.WithLabelValues(st.run.Workflow).
		Observe(st.run.FinishedAt.Sub(st.run.StartedAt).Seconds())

	r.mu.Lock()
	delete(r.active, st.run.ID)
	r.history = append(r.history, st.run)
	if len(r.history) > r.histCap {
		r.history = r.history[len(r.history)-r.histCap:]
	}
	onTerminal := r.OnTerminal
	r.mu.Unlock()

	if onTerminal != nil {
		onTerminal(cloneRun(st.run))
	}
}

func (r *Runner) snapshot(st *runState) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneRun(st.run)
}

func cloneRun(run *Run) *Run {
	cp := *run
	cp.Steps = append([]StepResult(nil), run.Steps...)
	cp.Context = make(map[string]interface{}, len(run.Context))
	for k, v := range run.Context {
		cp.Context[k] = v
	}
	return &cp
}

// mergeArgs overlays static step args on the run context, then expands
// {{key}} placeholders in string values from the context.
func mergeArgs(static map[string]interface{}, runCtx map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(static)+len(runCtx))
	for k, v := range runCtx {
		merged[k] = v
	}
	for k, v := range static {
		merged[k] = v
	}
	for k, v := range merged {
		if s, ok := v.(string); ok {
			merged[k] = expand(s, runCtx)
		}
	}
	return merged
}

func expand(s string, runCtx map[string]interface{}) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	for k, v := range runCtx {
		placeholder := "{{" + k + "}}"
		if strings.Contains(s, placeholder) {
			s = strings.ReplaceAll(s, placeholder, fmt.Sprintf("%v", v))
		}
	}
	return s
}
