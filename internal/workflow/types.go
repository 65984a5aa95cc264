package workflow

import (
	"fmt"
	"strings"
	"time"
)

// Trigger types a workflow responds to.
const (
	TriggerManual   = "manual"
	TriggerWebhook  = "webhook"
	TriggerSchedule = "schedule"
)

// TriggerSpec declares how a workflow is started. For schedule triggers
// exactly one of Cron, Every, or At is set.
type TriggerSpec struct {
	Type string `yaml:"type" json:"type"`
	// Cron is a standard five-field cron expression.
	Cron string `yaml:"cron,omitempty" json:"cron,omitempty"`
	// Every is a Go duration for fixed-interval firing.
	Every string `yaml:"every,omitempty" json:"every,omitempty"`
	// At is an RFC 3339 timestamp for a one-shot firing.
	At string `yaml:"at,omitempty" json:"at,omitempty"`
}

// Step is one tool invocation within a workflow.
type Step struct {
	Name             string                 `yaml:"name" json:"name"`
	Tool             string                 `yaml:"tool" json:"tool"`
	Args             map[string]interface{} `yaml:"args,omitempty" json:"args,omitempty"`
	RequiresApproval bool                   `yaml:"requires_approval,omitempty" json:"requires_approval,omitempty"`
}

// Definition is one declarative workflow file. Definitions are immutable
// once loaded; reload swaps the whole entry.
type Definition struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Trigger     TriggerSpec `yaml:"trigger" json:"trigger"`
	Steps       []Step      `yaml:"steps" json:"steps"`
	Enabled     bool        `yaml:"enabled" json:"enabled"`

	// source is the file the definition was loaded from. Writes go back
	// to this file, which need not be named after the workflow.
	source string
}

// Validate checks structural invariants before a definition is accepted.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("workflow name is required")
	}
	switch d.Trigger.Type {
	case TriggerManual, TriggerWebhook, TriggerSchedule:
	default:
		return fmt.Errorf("workflow %s: unknown trigger type %q", d.Name, d.Trigger.Type)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s: at least one step is required", d.Name)
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for i, s := range d.Steps {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("workflow %s: step %d has no name", d.Name, i)
		}
		if strings.TrimSpace(s.Tool) == "" {
			return fmt.Errorf("workflow %s: step %s has no tool", d.Name, s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("workflow %s: duplicate step name %s", d.Name, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// Tools returns the distinct tool names the definition invokes, in step
// order. Used as the scoped-auto allowlist for its runs.
func (d *Definition) Tools() []string {
	seen := make(map[string]struct{}, len(d.Steps))
	out := make([]string, 0, len(d.Steps))
	for _, s := range d.Steps {
		if _, ok := seen[s.Tool]; ok {
			continue
		}
		seen[s.Tool] = struct{}{}
		out = append(out, s.Tool)
	}
	return out
}

// Run status values.
const (
	StatusPending          = "pending"
	StatusRunning          = "running"
	StatusAwaitingApproval = "awaiting_approval"
	StatusCompleted        = "completed"
	StatusFailed           = "failed"
	StatusCancelled        = "cancelled"
)

// StepResult records one resolved step.
type StepResult struct {
	Name     string        `json:"name"`
	Tool     string        `json:"tool"`
	Output   string        `json:"output"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
}

// Run is the ephemeral state of one workflow execution.
type Run struct {
	ID       string                 `json:"id"`
	Workflow string                 `json:"workflow"`
	Source   string                 `json:"source"`
	Status   string                 `json:"status"`
	Steps    []StepResult           `json:"steps"`
	Context  map[string]interface{} `json:"context"`
	// NextStep is the index the run resumes at after approval.
	NextStep    int       `json:"next_step"`
	ResumeToken string    `json:"resume_token,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the run reached a final state.
func (r *Run) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
