package background

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/seamarks/helmsman/internal/model"
	"github.com/seamarks/helmsman/internal/orchestrator"
	"github.com/seamarks/helmsman/internal/permission"
	"github.com/seamarks/helmsman/internal/sanitize"
	"github.com/seamarks/helmsman/internal/toolexec"
	"github.com/seamarks/helmsman/internal/tools"
)

// stubClient answers every request with one prepared response, then
// finishes with plain text.
type stubClient struct {
	first model.Response
	calls atomic.Int64
}

func (s *stubClient) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	if s.calls.Add(1) == 1 {
		return s.first, nil
	}
	return model.Response{Text: "wrapped up"}, nil
}

type captureSink struct {
	mu       sync.Mutex
	messages []string
}

func (c *captureSink) Deliver(_ context.Context, _, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return nil
}

func newTestManager(t *testing.T, client model.Client, executed *atomic.Int64, capacity int) (*Manager, *captureSink) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	registry := tools.NewRegistry(logger)
	for _, name := range []string{"shell_exec", "web_search"} {
		name := name
		category := tools.RiskWrite
		if name == "web_search" {
			category = tools.RiskNetworkRead
		}
		require.NoError(t, registry.Register(tools.Definition{
			Name:     name,
			Category: category,
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				if executed != nil {
					executed.Add(1)
				}
				return name + " output", nil
			},
		}))
	}

	orch := &orchestrator.Orchestrator{
		Client: client,
		Invoker: &toolexec.Invoker{
			Registry: registry,
			Gateway:  permission.NewGateway(20*time.Millisecond, nil, nil, logger),
			Cleaner:  sanitize.NewCleaner(t.TempDir()),
			Logger:   logger,
		},
		SystemPrompt: "test",
		Logger:       logger,
	}

	sink := &captureSink{}
	return NewManager(orch, sink, nil, logger, capacity), sink
}

func TestDelegateCompletesAndDelivers(t *testing.T) {
	client := &stubClient{first: model.Response{Text: "nothing to do"}}
	m, sink := newTestManager(t, client, nil, 0)

	id := m.Delegate(Spec{Task: "look around", Channel: "operator"})
	require.Len(t, id, 8)

	task, ok := m.Status(id)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, task.Status)

	m.Wait()

	task, ok = m.Status(id)
	require.True(t, ok)
	assert.Equal(t, StatusDone, task.Status)
	assert.Equal(t, "nothing to do", task.Result)
	assert.False(t, task.EndedAt.IsZero())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.messages, 1)
	assert.Contains(t, sink.messages[0], "nothing to do")
}

func TestAllowlistBlocksOutOfScopeTools(t *testing.T) {
	// The model wants shell_exec but only web_search is allowlisted; the
	// write tool must be denied and never execute.
	var executed atomic.Int64
	client := &stubClient{first: model.Response{
		ToolCalls: []tools.Call{{ID: "1", Name: "shell_exec", Args: map[string]interface{}{"command": "rm -rf /"}}},
	}}
	m, _ := newTestManager(t, client, &executed, 0)

	id := m.Delegate(Spec{Task: "clean up disk", Allowlist: []string{"web_search"}})
	m.Wait()

	task, ok := m.Status(id)
	require.True(t, ok)
	assert.Equal(t, StatusDone, task.Status)
	assert.Equal(t, int64(0), executed.Load(), "denied tool must not run")
}

func TestAllowlistedToolRuns(t *testing.T) {
	var executed atomic.Int64
	client := &stubClient{first: model.Response{
		ToolCalls: []tools.Call{{ID: "1", Name: "web_search", Args: map[string]interface{}{"query": "weather"}}},
	}}
	m, _ := newTestManager(t, client, &executed, 0)

	m.Delegate(Spec{Task: "check weather", Allowlist: []string{"web_search"}})
	m.Wait()

	assert.Equal(t, int64(1), executed.Load())
}

func TestRingEvictsOldest(t *testing.T) {
	client := &stubClient{first: model.Response{Text: "ok"}}
	m, _ := newTestManager(t, client, nil, 2)

	first := m.Delegate(Spec{Task: "one"})
	m.Wait()
	second := m.Delegate(Spec{Task: "two"})
	m.Wait()
	third := m.Delegate(Spec{Task: "three"})
	m.Wait()

	_, ok := m.Status(first)
	assert.False(t, ok, "oldest record evicted")
	_, ok = m.Status(second)
	assert.True(t, ok)
	_, ok = m.Status(third)
	assert.True(t, ok)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "three", list[0].Task, "newest first")
	assert.Equal(t, "two", list[1].Task)
}
