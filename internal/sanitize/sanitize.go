// Package sanitize is the single chokepoint every tool argument passes
// through before reaching a handler, regardless of tool or caller.
package sanitize

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/seamarks/helmsman/internal/fault"
)

// Patterns that resemble embedded system-role markers or instruction
// overrides. Stripped from every string-typed argument.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\|?(system|im_start|im_end)\|?>`),
	regexp.MustCompile(`(?i)\bsystem\s*:`),
	regexp.MustCompile(`(?i)\b(assistant|user)\s*:`),
	regexp.MustCompile(`(?i)ignore\s+(previous|above|all)\s+instructions`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+`),
	regexp.MustCompile(`(?i)pretend\s+you\s+are\s+`),
	regexp.MustCompile(`(?i)act\s+as\s+(if\s+)?you\s+are\s+`),
	regexp.MustCompile(`(?i)from\s+now\s+on,?\s+you\s+`),
}

// Argument keys treated as filesystem paths and confined to the workspace.
var pathKeys = map[string]bool{
	"path":      true,
	"file_path": true,
	"directory": true,
	"target":    true,
}

// Cleaner normalizes tool arguments before handler invocation.
type Cleaner struct {
	workspaceRoot string
}

// NewCleaner builds a cleaner confining path arguments to root.
func NewCleaner(workspaceRoot string) *Cleaner {
	return &Cleaner{workspaceRoot: filepath.Clean(workspaceRoot)}
}

// StripInjectionPatterns removes instruction-override markers from a
// string. Runs to a fixpoint: removing one marker can splice the
// surrounding text into another, and cleaning must be idempotent.
func StripInjectionPatterns(value string) string {
	for {
		before := value
		for _, p := range injectionPatterns {
			value = p.ReplaceAllString(value, "")
		}
		if value == before {
			return value
		}
	}
}

// ConfinePath normalizes a path argument relative to the workspace root and
// rejects anything that would resolve outside it. The returned path is
// workspace-relative.
func (c *Cleaner) ConfinePath(path string) (string, error) {
	cleaned := filepath.Clean(path)

	// Strip parent-traversal segments instead of resolving them, so
	// "a/../../etc" cannot climb out before confinement.
	parts := strings.Split(cleaned, string(filepath.Separator))
	kept := parts[:0]
	for _, p := range parts {
		if p == ".." {
			continue
		}
		kept = append(kept, p)
	}
	cleaned = filepath.Clean(strings.Join(kept, string(filepath.Separator)))
	if cleaned == "" {
		cleaned = "."
	}

	if filepath.IsAbs(cleaned) {
		// Absolute paths are acceptable only when already inside the
		// workspace; anything else is rejected, never rewritten.
		rel, err := filepath.Rel(c.workspaceRoot, cleaned)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", fault.Validation("path %q resolves outside workspace root", path)
		}
		return rel, nil
	}
	return cleaned, nil
}

// Clean applies both sanitization passes to an argument map and returns a
// new map. The input is never mutated. Clean is idempotent.
func (c *Cleaner) Clean(toolName string, args map[string]interface{}) (map[string]interface{}, error) {
	cleaned, err := c.cleanMap(args)
	if err != nil {
		return nil, err
	}
	return cleaned, nil
}

func (c *Cleaner) cleanMap(args map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(args))
	for key, value := range args {
		switch v := value.(type) {
		case string:
			s := StripInjectionPatterns(v)
			if pathKeys[key] {
				confined, err := c.ConfinePath(s)
				if err != nil {
					return nil, err
				}
				s = confined
			}
			out[key] = s
		case map[string]interface{}:
			nested, err := c.cleanMap(v)
			if err != nil {
				return nil, err
			}
			out[key] = nested
		case []interface{}:
			list := make([]interface{}, len(v))
			for i, item := range v {
				switch it := item.(type) {
				case string:
					list[i] = StripInjectionPatterns(it)
				case map[string]interface{}:
					nested, err := c.cleanMap(it)
					if err != nil {
						return nil, err
					}
					list[i] = nested
				default:
					list[i] = it
				}
			}
			out[key] = list
		default:
			out[key] = value
		}
	}
	return out, nil
}
