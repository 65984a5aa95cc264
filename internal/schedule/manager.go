package schedule

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/seamarks/helmsman/internal/fault"
	"github.com/seamarks/helmsman/internal/metrics"
)

// Dispatch starts a workflow run on behalf of a fired job.
type Dispatch func(ctx context.Context, workflow string, payload map[string]interface{})

// Manager owns the cron runtime and one-shot timers for persisted jobs.
// Missed fires while the process was down are not replayed; a one-shot
// job whose time has passed is dropped at load.
type Manager struct {
	store    *Store
	cron     *cron.Cron
	dispatch Dispatch
	logger   *zap.Logger

	mu       sync.Mutex
	entries  map[string]cron.EntryID
	timers   map[string]*time.Timer
	declared map[string]cron.EntryID
	closed   bool
}

// Declared is a schedule carried on a workflow definition rather than
// persisted in the store.
type Declared struct {
	Workflow string
	Kind     string
	Expr     string
}

// NewManager builds a manager over the store. Call Start to load
// persisted jobs and begin firing.
func NewManager(store *Store, tz *time.Location, dispatch Dispatch, logger *zap.Logger) *Manager {
	if tz == nil {
		tz = time.Local
	}
	return &Manager{
		store:    store,
		cron:     cron.New(cron.WithLocation(tz)),
		dispatch: dispatch,
		logger:   logger,
		entries:  make(map[string]cron.EntryID),
		timers:   make(map[string]*time.Timer),
		declared: make(map[string]cron.EntryID),
	}
}

// SyncDeclared replaces the set of definition-declared schedules. Called
// at startup and after every workflow reload. One-shot declarations are
// not supported here; use a persisted job for those.
func (m *Manager) SyncDeclared(items []Declared) {
	m.mu.Lock()
	for name, entry := range m.declared {
		m.cron.Remove(entry)
		delete(m.declared, name)
	}
	m.mu.Unlock()

	for _, item := range items {
		spec := item.Expr
		switch item.Kind {
		case KindEvery:
			spec = "@every " + item.Expr
		case KindCron:
		default:
			m.logger.Warn("unsupported declared schedule kind",
				zap.String("workflow", item.Workflow), zap.String("kind", item.Kind))
			continue
		}
		item := item
		entry, err := m.cron.AddFunc(spec, func() {
			m.fire(Job{ID: "wf:" + item.Workflow, Workflow: item.Workflow, Kind: item.Kind, Expr: item.Expr})
		})
		if err != nil {
			m.logger.Warn("bad declared schedule",
				zap.String("workflow", item.Workflow), zap.String("expr", item.Expr), zap.Error(err))
			continue
		}
		m.mu.Lock()
		m.declared[item.Workflow] = entry
		m.mu.Unlock()
	}
}

// Start loads every persisted job and starts the cron runtime.
func (m *Manager) Start(ctx context.Context) error {
	jobs, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := m.arm(job); err != nil {
			m.logger.Warn("skipping unschedulable job",
				zap.String("id", job.ID), zap.String("expr", job.Expr), zap.Error(err))
		}
	}
	m.cron.Start()
	m.logger.Info("schedule manager started", zap.Int("jobs", len(jobs)))
	return nil
}

// Add validates, persists, and arms a new job. Returns the job with its
// assigned id.
func (m *Manager) Add(ctx context.Context, workflow, kind, expr string, payload map[string]interface{}) (Job, error) {
	job := Job{
		ID:        uuid.New().String(),
		Workflow:  workflow,
		Kind:      kind,
		Expr:      expr,
		CreatedAt: time.Now(),
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Job{}, fault.Validation("payload is not serializable: %v", err)
		}
		job.Payload = string(b)
	}
	if err := validate(job); err != nil {
		return Job{}, err
	}
	if err := m.store.Insert(ctx, job); err != nil {
		return Job{}, err
	}
	if err := m.arm(job); err != nil {
		_ = m.store.Delete(ctx, job.ID)
		return Job{}, err
	}
	m.logger.Info("schedule added",
		zap.String("id", job.ID), zap.String("workflow", workflow),
		zap.String("kind", kind), zap.String("expr", expr))
	return job, nil
}

// Remove disarms and deletes a job.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.disarm(id)
	return m.store.Delete(ctx, id)
}

// List returns persisted jobs.
func (m *Manager) List(ctx context.Context) ([]Job, error) {
	return m.store.List(ctx)
}

// Stop halts firing; in-flight runs finish on their own.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()
	<-m.cron.Stop().Done()
}

func validate(job Job) error {
	switch job.Kind {
	case KindCron:
		if _, err := cron.ParseStandard(job.Expr); err != nil {
			return fault.Validation("bad cron expression %q: %v", job.Expr, err)
		}
	case KindEvery:
		d, err := time.ParseDuration(job.Expr)
		if err != nil || d <= 0 {
			return fault.Validation("bad interval %q", job.Expr)
		}
	case KindAt:
		if _, err := time.Parse(time.RFC3339, job.Expr); err != nil {
			return fault.Validation("bad timestamp %q, want RFC 3339", job.Expr)
		}
	default:
		return fault.Validation("unknown schedule kind %q", job.Kind)
	}
	if strings.TrimSpace(job.Workflow) == "" {
		return fault.Validation("schedule needs a workflow name")
	}
	return nil
}

// arm registers the job with the cron runtime or a one-shot timer.
func (m *Manager) arm(job Job) error {
	switch job.Kind {
	case KindCron, KindEvery:
		spec := job.Expr
		if job.Kind == KindEvery {
			spec = "@every " + job.Expr
		}
		entry, err := m.cron.AddFunc(spec, func() { m.fire(job) })
		if err != nil {
			return fault.Validation("scheduling %q: %v", job.Expr, err)
		}
		m.mu.Lock()
		m.entries[job.ID] = entry
		m.mu.Unlock()
	case KindAt:
		at, err := time.Parse(time.RFC3339, job.Expr)
		if err != nil {
			return fault.Validation("bad timestamp %q", job.Expr)
		}
		delay := time.Until(at)
		if delay <= 0 {
			m.logger.Info("dropping expired one-shot job", zap.String("id", job.ID))
			return m.store.Delete(context.Background(), job.ID)
		}
		m.mu.Lock()
		m.timers[job.ID] = time.AfterFunc(delay, func() {
			m.fire(job)
			// one-shot jobs delete themselves after firing
			if err := m.Remove(context.Background(), job.ID); err != nil {
				m.logger.Warn("removing fired one-shot job", zap.String("id", job.ID), zap.Error(err))
			}
		})
		m.mu.Unlock()
	default:
		return fault.Validation("unknown schedule kind %q", job.Kind)
	}
	return nil
}

func (m *Manager) disarm(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[id]; ok {
		m.cron.Remove(entry)
		delete(m.entries, id)
	}
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) fire(job Job) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	payload, err := job.PayloadMap()
	if err != nil {
		metrics.ScheduleFires.WithLabelValues("bad_payload").Inc()
		m.logger.Error("schedule fire skipped", zap.String("id", job.ID), zap.Error(err))
		return
	}
	metrics.ScheduleFires.WithLabelValues("fired").Inc()
	m.logger.Info("schedule fired",
		zap.String("id", job.ID), zap.String("workflow", job.Workflow))
	m.dispatch(context.Background(), job.Workflow, payload)
}
