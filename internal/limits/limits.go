// Package limits enforces per-run resource budgets: tool rounds, total
// tool calls, and wall clock.
package limits

import (
	"fmt"
	"sync"
	"time"

	"github.com/seamarks/helmsman/internal/fault"
)

// ErrRoundsExhausted marks the one budget violation a caller may want to
// soften: the conversation used up its tool rounds but can still wrap up
// with a final model turn. Call and wall clock violations stay plain
// resource_limit faults and should abort the run. errors.Is matches both
// this sentinel and fault.ErrResourceLimit.
var ErrRoundsExhausted = fault.ResourceLimit("tool round budget exhausted")

// Budget caps a single orchestration run. Zero values fall back to the
// package defaults.
type Budget struct {
	MaxToolRounds int
	MaxToolCalls  int
	MaxWallClock  time.Duration
}

const (
	DefaultMaxToolRounds = 10
	DefaultMaxToolCalls  = 10
	DefaultMaxWallClock  = 60 * time.Second
)

func (b Budget) withDefaults() Budget {
	if b.MaxToolRounds <= 0 {
		b.MaxToolRounds = DefaultMaxToolRounds
	}
	if b.MaxToolCalls <= 0 {
		b.MaxToolCalls = DefaultMaxToolCalls
	}
	if b.MaxWallClock <= 0 {
		b.MaxWallClock = DefaultMaxWallClock
	}
	return b
}

// Tracker accounts usage against a budget over the lifetime of one run.
// Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	budget  Budget
	started time.Time
	rounds  int
	calls   int
}

// NewTracker starts accounting now.
func NewTracker(b Budget) *Tracker {
	return &Tracker{budget: b.withDefaults(), started: time.Now()}
}

// BeginRound charges one tool round. Returns a resource_limit fault when
// the round budget or wall clock is exhausted.
func (t *Tracker) BeginRound() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkClock(); err != nil {
		return err
	}
	if t.rounds >= t.budget.MaxToolRounds {
		return fmt.Errorf("%w (limit %d)", ErrRoundsExhausted, t.budget.MaxToolRounds)
	}
	t.rounds++
	return nil
}

// ChargeCall charges one tool call within the current round.
func (t *Tracker) ChargeCall() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkClock(); err != nil {
		return err
	}
	if t.calls >= t.budget.MaxToolCalls {
		return fault.ResourceLimit("tool call budget of %d exhausted", t.budget.MaxToolCalls)
	}
	t.calls++
	return nil
}

func (t *Tracker) checkClock() error {
	if elapsed := time.Since(t.started); elapsed > t.budget.MaxWallClock {
		return fault.ResourceLimit("wall clock budget of %s exceeded after %s",
			t.budget.MaxWallClock, elapsed.Round(time.Millisecond))
	}
	return nil
}

// Rounds reports rounds consumed so far.
func (t *Tracker) Rounds() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rounds
}

// Calls reports calls consumed so far.
func (t *Tracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
