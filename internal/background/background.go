// Package background runs delegated orchestrator loops asynchronously
// under scoped-auto permissions and keeps a bounded in-memory history of
// outcomes. Nothing here survives a restart.
package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seamarks/helmsman/internal/audit"
	"github.com/seamarks/helmsman/internal/limits"
	"github.com/seamarks/helmsman/internal/metrics"
	"github.com/seamarks/helmsman/internal/notify"
	"github.com/seamarks/helmsman/internal/orchestrator"
	"github.com/seamarks/helmsman/internal/permission"
)

// Task statuses.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Spec describes one delegation.
type Spec struct {
	// Task is the instruction handed to the nested orchestrator.
	Task string
	// Allowlist is the scoped-auto tool allowlist; empty means no tool
	// is auto-approved and every non-read call is denied.
	Allowlist []string
	Budget    limits.Budget
	// Channel receives the result on completion.
	Channel string
}

// Task is one delegation record.
type Task struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Task      string    `json:"task"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Manager owns the task ring. Inject a small capacity in tests to
// exercise eviction.
type Manager struct {
	Orchestrator *orchestrator.Orchestrator
	Notifier     notify.Sink
	Audit        *audit.Hub
	Logger       *zap.Logger

	mu       sync.Mutex
	tasks    []*Task // oldest first
	capacity int
	wg       sync.WaitGroup
}

// NewManager creates a manager holding at most capacity records
// (default 50).
func NewManager(orch *orchestrator.Orchestrator, notifier notify.Sink, hub *audit.Hub, logger *zap.Logger, capacity int) *Manager {
	if capacity <= 0 {
		capacity = 50
	}
	return &Manager{
		Orchestrator: orch,
		Notifier:     notifier,
		Audit:        hub,
		Logger:       logger,
		capacity:     capacity,
	}
}

// Delegate records the task and schedules it without blocking. The
// returned id is immediately queryable via Status.
func (m *Manager) Delegate(spec Spec) string {
	task := &Task{
		ID:        uuid.New().String()[:8],
		Status:    StatusRunning,
		Task:      spec.Task,
		Channel:   spec.Channel,
		StartedAt: time.Now(),
	}
	m.record(task)
	metrics.BackgroundTasksStarted.Inc()
	m.audit(task, "delegated")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(task, spec)
	}()
	return task.ID
}

func (m *Manager) execute(task *Task, spec Spec) {
	// Background tasks own their lifetime; they are not tied to the
	// caller's request context and are not externally cancellable.
	res, err := m.Orchestrator.Run(context.Background(), spec.Task, orchestrator.Options{
		Mode:      permission.ModeScopedAuto,
		Allowlist: spec.Allowlist,
		Budget:    spec.Budget,
		RunID:     "bg-" + task.ID,
	})

	m.mu.Lock()
	task.EndedAt = time.Now()
	if err != nil {
		task.Status = StatusError
		task.Error = err.Error()
	} else {
		task.Status = StatusDone
		task.Result = res.FinalText
	}
	status := task.Status
	m.mu.Unlock()

	metrics.BackgroundTasksCompleted.WithLabelValues(status).Inc()
	m.audit(task, status)
	m.deliver(task)
}

func (m *Manager) deliver(task *Task) {
	if m.Notifier == nil || task.Channel == "" {
		return
	}
	var msg string
	if task.Status == StatusError {
		msg = fmt.Sprintf("Background task %s failed: %s", task.ID, task.Error)
	} else {
		msg = fmt.Sprintf("Background task %s finished: %s", task.ID, task.Result)
	}
	if err := m.Notifier.Deliver(context.Background(), task.Channel, msg); err != nil {
		m.Logger.Warn("background result delivery failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}

// record appends and evicts the oldest entry past capacity.
func (m *Manager) record(task *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	if len(m.tasks) > m.capacity {
		evicted := m.tasks[0]
		m.tasks = m.tasks[1:]
		metrics.BackgroundTasksEvicted.Inc()
		m.Logger.Debug("background task evicted", zap.String("task_id", evicted.ID))
	}
}

// Status returns a task by id, or false if unknown or evicted.
func (m *Manager) Status(id string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == id {
			return *t, true
		}
	}
	return Task{}, false
}

// List returns recorded tasks, newest first.
func (m *Manager) List() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.tasks))
	for i := len(m.tasks) - 1; i >= 0; i-- {
		out = append(out, *m.tasks[i])
	}
	return out
}

// Wait blocks until all in-flight tasks finish. Used in shutdown and
// tests.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) audit(task *Task, outcome string) {
	if m.Audit == nil {
		return
	}
	m.Audit.Publish(audit.Event{
		Kind:    audit.KindBackgroundTask,
		RunID:   task.ID,
		Outcome: outcome,
		Detail:  task.Task,
	})
}
