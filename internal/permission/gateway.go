package permission

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seamarks/helmsman/internal/metrics"
	"github.com/seamarks/helmsman/internal/tools"
)

// Mode selects the approval policy for a tool invocation.
type Mode string

const (
	// ModeInteractive is the conversational/manual context: risky tools
	// prompt the operator and wait.
	ModeInteractive Mode = "interactive"
	// ModeScopedAuto is the background/delegated context: risky tools are
	// approved only when present on the caller-supplied allowlist.
	ModeScopedAuto Mode = "scoped-auto"
)

// Decision is the gateway's verdict for one tool invocation.
type Decision string

const (
	Approved Decision = "approved"
	Denied   Decision = "denied"
	Pending  Decision = "pending"
)

// Request describes the invocation being decided.
type Request struct {
	Tool        string
	Category    tools.RiskCategory
	Description string
	Origin      string // conversation id or workflow-run id
	Allowlist   []string
}

// Prompter is notified when an approval is pending so the operator's
// channel can surface it. Fire-and-forget.
type Prompter interface {
	PromptApproval(ctx context.Context, id string, req Request, deadline time.Time)
}

type pendingApproval struct {
	id       string
	req      Request
	created  time.Time
	deadline time.Time
	resolve  chan bool
	once     sync.Once
}

// PendingInfo is the inspection view of an unresolved approval.
type PendingInfo struct {
	ID          string    `json:"id"`
	Tool        string    `json:"tool"`
	Description string    `json:"description"`
	Origin      string    `json:"origin"`
	Deadline    time.Time `json:"deadline"`
}

// Gateway decides whether a tool invocation may proceed. It is re-entrant:
// unrelated pending approvals do not interfere, and each resolves exactly
// once, by operator response or by deadline expiry (deny on timeout).
type Gateway struct {
	mu       sync.Mutex
	pending  map[string]*pendingApproval
	timeout  time.Duration
	overlay  *Overlay // optional rego policy, may be nil
	prompter Prompter // optional, may be nil
	logger   *zap.Logger
}

// NewGateway creates a gateway. approvalTimeout bounds interactive waits;
// zero means the 30s default.
func NewGateway(approvalTimeout time.Duration, overlay *Overlay, prompter Prompter, logger *zap.Logger) *Gateway {
	if approvalTimeout <= 0 {
		approvalTimeout = 30 * time.Second
	}
	return &Gateway{
		pending:  make(map[string]*pendingApproval),
		timeout:  approvalTimeout,
		overlay:  overlay,
		prompter: prompter,
		logger:   logger,
	}
}

// Decide resolves a permission request. In interactive mode a risky tool
// blocks the calling round until the operator responds or the timeout
// elapses; a timeout always resolves to Denied, never leaves the request
// pending forever. The gateway never upgrades a denial.
func (g *Gateway) Decide(ctx context.Context, req Request, mode Mode) Decision {
	d := g.decide(ctx, req, mode)
	metrics.PermissionDecisions.WithLabelValues(string(mode), string(d)).Inc()
	return d
}

func (g *Gateway) decide(ctx context.Context, req Request, mode Mode) Decision {
	// Operator-supplied rego policy can force-deny before the category
	// rules run. It cannot force-approve.
	if g.overlay != nil {
		verdict, err := g.overlay.Evaluate(ctx, req, mode)
		if err != nil {
			if g.overlay.FailClosed() {
				g.logger.Warn("Policy overlay error in fail-closed mode, denying",
					zap.String("tool", req.Tool), zap.Error(err))
				return Denied
			}
			g.logger.Warn("Policy overlay error, falling back to builtin rules",
				zap.String("tool", req.Tool), zap.Error(err))
		} else if verdict.Deny {
			g.logger.Info("Policy overlay denied tool",
				zap.String("tool", req.Tool),
				zap.String("reason", verdict.Reason),
			)
			return Denied
		}
	}

	switch req.Category {
	case tools.RiskRead, tools.RiskNetworkRead:
		return Approved
	}

	if mode == ModeScopedAuto {
		for _, name := range req.Allowlist {
			if name == req.Tool {
				return Approved
			}
		}
		// No human behind a scoped-auto run; denial is immediate rather
		// than pending.
		return Denied
	}

	return g.awaitApproval(ctx, req)
}

// awaitApproval parks the request as Pending and blocks until resolution.
func (g *Gateway) awaitApproval(ctx context.Context, req Request) Decision {
	p := &pendingApproval{
		id:       uuid.New().String(),
		req:      req,
		created:  time.Now(),
		deadline: time.Now().Add(g.timeout),
		resolve:  make(chan bool, 1),
	}

	g.mu.Lock()
	g.pending[p.id] = p
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, p.id)
		g.mu.Unlock()
	}()

	if g.prompter != nil {
		g.prompter.PromptApproval(ctx, p.id, req, p.deadline)
	}
	g.logger.Info("Approval pending",
		zap.String("approval_id", p.id),
		zap.String("tool", req.Tool),
		zap.String("origin", req.Origin),
		zap.Time("deadline", p.deadline),
	)

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case approved := <-p.resolve:
		if approved {
			return Approved
		}
		return Denied
	case <-timer.C:
		if !p.claim() {
			// Resolve won the race; honor its verdict.
			if <-p.resolve {
				return Approved
			}
			return Denied
		}
		metrics.PermissionTimeouts.Inc()
		g.logger.Info("Approval timed out, denying",
			zap.String("approval_id", p.id),
			zap.String("tool", req.Tool),
		)
		return Denied
	case <-ctx.Done():
		if !p.claim() {
			if <-p.resolve {
				return Approved
			}
		}
		return Denied
	}
}

// claim consumes the approval's once so a later Resolve reports false.
// Returns false when Resolve got there first.
func (p *pendingApproval) claim() bool {
	claimed := false
	p.once.Do(func() { claimed = true })
	return claimed
}

// Resolve settles a pending approval by id. Returns false if the id is
// unknown or already resolved.
func (g *Gateway) Resolve(id string, approved bool) bool {
	g.mu.Lock()
	p, ok := g.pending[id]
	g.mu.Unlock()
	if !ok {
		return false
	}
	resolved := false
	p.once.Do(func() {
		p.resolve <- approved
		resolved = true
	})
	return resolved
}

// ListPending returns the unresolved approvals for inspection.
func (g *Gateway) ListPending() []PendingInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PendingInfo, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, PendingInfo{
			ID:          p.id,
			Tool:        p.req.Tool,
			Description: p.req.Description,
			Origin:      p.req.Origin,
			Deadline:    p.deadline,
		})
	}
	return out
}
