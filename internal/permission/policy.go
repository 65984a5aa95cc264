package permission

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"
)

// Overlay evaluates operator-supplied rego policies against tool
// invocations. The overlay can only tighten the builtin rules: a deny is
// final, anything else falls through to the category policy.
//
// Policies live in a directory of .rego files and must populate
// data.helmsman.tools.decision with at least {"deny": bool} and an
// optional "reason".
type Overlay struct {
	compiled   *rego.PreparedEvalQuery
	failClosed bool
	logger     *zap.Logger
}

// Verdict is the parsed overlay decision.
type Verdict struct {
	Deny   bool
	Reason string
}

// LoadOverlay compiles all .rego files under dir. An empty dir yields a
// nil overlay (builtin rules only).
func LoadOverlay(dir string, failClosed bool, logger *zap.Logger) (*Overlay, error) {
	if dir == "" {
		return nil, nil
	}

	policies := make(map[string]string)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".rego") {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read policy file %s: %w", path, err)
			}
			relPath, _ := filepath.Rel(dir, path)
			policies[strings.TrimSuffix(relPath, ".rego")] = string(content)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk policy directory: %w", err)
	}
	if len(policies) == 0 {
		logger.Warn("No policy files found", zap.String("path", dir))
		if failClosed {
			return nil, fmt.Errorf("no policies found in fail-closed mode")
		}
		return nil, nil
	}

	regoOptions := []func(*rego.Rego){
		rego.Query("data.helmsman.tools.decision"),
	}
	for moduleName, content := range policies {
		regoOptions = append(regoOptions, rego.Module(moduleName, content))
	}

	compiled, err := rego.New(regoOptions...).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to compile policies: %w", err)
	}

	logger.Info("Permission policies loaded",
		zap.Int("policy_count", len(policies)),
		zap.String("decision_query", "data.helmsman.tools.decision"),
	)
	return &Overlay{compiled: &compiled, failClosed: failClosed, logger: logger}, nil
}

// FailClosed reports whether overlay errors deny instead of falling back.
func (o *Overlay) FailClosed() bool { return o.failClosed }

// Evaluate runs the compiled policies against one invocation.
func (o *Overlay) Evaluate(ctx context.Context, req Request, mode Mode) (*Verdict, error) {
	input := map[string]interface{}{
		"tool":      req.Tool,
		"category":  string(req.Category),
		"mode":      string(mode),
		"origin":    req.Origin,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	results, err := o.compiled.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// No decision produced; fall through to builtin rules.
		return &Verdict{}, nil
	}

	decision, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("policy decision has unexpected type %T", results[0].Expressions[0].Value)
	}

	v := &Verdict{}
	if deny, ok := decision["deny"].(bool); ok {
		v.Deny = deny
	}
	if reason, ok := decision["reason"].(string); ok {
		v.Reason = reason
	}
	return v, nil
}
