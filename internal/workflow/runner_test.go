package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/seamarks/helmsman/internal/audit"
	"github.com/seamarks/helmsman/internal/permission"
	"github.com/seamarks/helmsman/internal/sanitize"
	"github.com/seamarks/helmsman/internal/toolexec"
	"github.com/seamarks/helmsman/internal/tools"
)

type recordedCall struct {
	tool string
	args map[string]interface{}
}

type toolRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
	fail  map[string]bool
}

func (r *toolRecorder) handler(name, output string) tools.Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		r.mu.Lock()
		r.calls = append(r.calls, recordedCall{tool: name, args: args})
		fail := r.fail[name]
		r.mu.Unlock()
		if fail {
			return "", errors.New("handler exploded")
		}
		return output, nil
	}
}

func (r *toolRecorder) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.tool
	}
	return out
}

func newTestRunner(t *testing.T, rec *toolRecorder) *Runner {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := tools.NewRegistry(logger)
	require.NoError(t, registry.Register(tools.Definition{
		Name: "step_a", Category: tools.RiskWrite, Handler: rec.handler("step_a", "a-result"),
	}))
	require.NoError(t, registry.Register(tools.Definition{
		Name: "step_b", Category: tools.RiskWrite, Handler: rec.handler("step_b", "b-result"),
	}))
	require.NoError(t, registry.Register(tools.Definition{
		Name: "step_c", Category: tools.RiskWrite, Handler: rec.handler("step_c", "c-result"),
	}))

	inv := &toolexec.Invoker{
		Registry: registry,
		Gateway:  permission.NewGateway(20*time.Millisecond, nil, nil, logger),
		Cleaner:  sanitize.NewCleaner(t.TempDir()),
		Logger:   logger,
	}
	return NewRunner(inv, audit.NewHub(64), logger, 10)
}

func threeStepDef(approvalOnB bool) *Definition {
	return &Definition{
		Name:    "pipeline",
		Trigger: TriggerSpec{Type: TriggerManual},
		Enabled: true,
		Steps: []Step{
			{Name: "a", Tool: "step_a"},
			{Name: "b", Tool: "step_b", RequiresApproval: approvalOnB},
			{Name: "c", Tool: "step_c"},
		},
	}
}

func TestRunCompletesAllSteps(t *testing.T) {
	rec := &toolRecorder{}
	r := newTestRunner(t, rec)

	run, err := r.Start(context.Background(), threeStepDef(false), "manual", map[string]interface{}{"env": "test"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	require.Len(t, run.Steps, 3)
	assert.Equal(t, []string{"step_a", "step_b", "step_c"}, rec.executed())
	assert.Equal(t, "c-result", run.Context["previous_output"])
	assert.Equal(t, "a-result", run.Context["a_output"])
}

func TestFailingStepStopsRun(t *testing.T) {
	rec := &toolRecorder{fail: map[string]bool{"step_b": true}}
	r := newTestRunner(t, rec)

	run, err := r.Start(context.Background(), threeStepDef(false), "manual", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Error, `step "b"`)

	// C never ran, and the result list holds exactly the A result plus
	// the failed B entry.
	assert.Equal(t, []string{"step_a", "step_b"}, rec.executed())
	require.Len(t, run.Steps, 2)
	assert.Equal(t, "a-result", run.Steps[0].Output)
	assert.Equal(t, "ok", run.Steps[0].Status)
	assert.NotEqual(t, "ok", run.Steps[1].Status)
}

func TestApprovalParksAndResumesAtPendingStep(t *testing.T) {
	rec := &toolRecorder{}
	r := newTestRunner(t, rec)

	run, err := r.Start(context.Background(), threeStepDef(true), "manual", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingApproval, run.Status)
	require.NotEmpty(t, run.ResumeToken)

	// B has not executed yet.
	assert.Equal(t, []string{"step_a"}, rec.executed())

	resumed, err := r.Resume(context.Background(), run.ResumeToken, true)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)

	// A ran once; the run resumed exactly at B.
	assert.Equal(t, []string{"step_a", "step_b", "step_c"}, rec.executed())

	_, err = r.Resume(context.Background(), run.ResumeToken, true)
	assert.Error(t, err, "resume token is single use")
}

func TestApprovalDenialFailsRun(t *testing.T) {
	rec := &toolRecorder{}
	r := newTestRunner(t, rec)

	run, err := r.Start(context.Background(), threeStepDef(true), "manual", nil)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingApproval, run.Status)

	resumed, err := r.Resume(context.Background(), run.ResumeToken, false)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, resumed.Status)
	assert.Contains(t, resumed.Error, "denied")
	assert.Equal(t, []string{"step_a"}, rec.executed())
}

func TestDisabledWorkflowRefusesToStart(t *testing.T) {
	rec := &toolRecorder{}
	r := newTestRunner(t, rec)

	def := threeStepDef(false)
	def.Enabled = false
	_, err := r.Start(context.Background(), def, "manual", nil)
	assert.Error(t, err)
	assert.Empty(t, rec.executed())
}

func TestContextMergeAndPlaceholders(t *testing.T) {
	rec := &toolRecorder{}
	r := newTestRunner(t, rec)

	def := &Definition{
		Name:    "merge",
		Trigger: TriggerSpec{Type: TriggerManual},
		Enabled: true,
		Steps: []Step{
			{Name: "first", Tool: "step_a", Args: map[string]interface{}{"static": "keep"}},
			{Name: "second", Tool: "step_b", Args: map[string]interface{}{"message": "got {{previous_output}}"}},
		},
	}

	run, err := r.Start(context.Background(), def, "manual", map[string]interface{}{"static": "payload-tries-to-win", "extra": "ctx"})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status)

	first := rec.calls[0]
	assert.Equal(t, "keep", first.args["static"], "static args win over payload")
	assert.Equal(t, "ctx", first.args["extra"])

	second := rec.calls[1]
	assert.Equal(t, "got a-result", second.args["message"])
}

func TestRunHistoryAndLookup(t *testing.T) {
	rec := &toolRecorder{}
	r := newTestRunner(t, rec)

	run, err := r.Start(context.Background(), threeStepDef(false), "manual", nil)
	require.NoError(t, err)

	got, ok := r.Get(run.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)

	hist := r.History("pipeline")
	require.Len(t, hist, 1)
	assert.Equal(t, run.ID, hist[0].ID)
	assert.Empty(t, r.History("other"))
}

func TestInspectionDuringActiveRun(t *testing.T) {
	rec := &toolRecorder{}
	logger := zaptest.NewLogger(t)
	registry := tools.NewRegistry(logger)
	for _, name := range []string{"step_a", "step_b", "step_c"} {
		inner := rec.handler(name, name+"-result")
		require.NoError(t, registry.Register(tools.Definition{
			Name:     name,
			Category: tools.RiskWrite,
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				time.Sleep(5 * time.Millisecond)
				return inner(ctx, args)
			},
		}))
	}
	inv := &toolexec.Invoker{
		Registry: registry,
		Gateway:  permission.NewGateway(20*time.Millisecond, nil, nil, logger),
		Cleaner:  sanitize.NewCleaner(t.TempDir()),
		Logger:   logger,
	}
	r := NewRunner(inv, audit.NewHub(64), logger, 10)

	run, err := r.Start(context.Background(), threeStepDef(true), "manual", nil)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingApproval, run.Status)

	resumed := make(chan *Run, 1)
	go func() {
		out, rerr := r.Resume(context.Background(), run.ResumeToken, true)
		assert.NoError(t, rerr)
		resumed <- out
	}()

	// Hammer the read side while the run advances in the background.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, ok := r.Get(run.ID)
		require.True(t, ok)
		r.Awaiting()
		r.History("pipeline")
		if got.Status == StatusCompleted || got.Status == StatusFailed {
			break
		}
		require.True(t, time.Now().Before(deadline), "run never reached a terminal status")
	}

	final := <-resumed
	require.NotNil(t, final)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, []string{"step_a", "step_b", "step_c"}, rec.executed())
}

func TestDefinitionValidate(t *testing.T) {
	def := threeStepDef(false)
	assert.NoError(t, def.Validate())

	bad := *def
	bad.Trigger.Type = "carrier-pigeon"
	assert.Error(t, bad.Validate())

	bad = *def
	bad.Steps = nil
	assert.Error(t, bad.Validate())

	bad = *def
	bad.Steps = []Step{{Name: "x", Tool: "t"}, {Name: "x", Tool: "t"}}
	assert.Error(t, bad.Validate(), "duplicate step names rejected")
}
