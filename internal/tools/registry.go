package tools

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry maps tool names to definitions. It is the single owner of the
// name→definition mapping; wiring happens at startup and the map is
// read-only afterwards.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Definition
	logger *zap.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		byName: make(map[string]Definition),
		logger: logger,
	}
}

// Register adds a tool definition. Duplicate names are an error so startup
// wiring mistakes surface immediately.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition missing name")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}
	switch def.Category {
	case RiskRead, RiskWrite, RiskDelete, RiskNetworkRead, RiskNetworkWrite:
	default:
		return fmt.Errorf("tool %q has invalid risk category %q", def.Name, def.Category)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[def.Name]; ok {
		return fmt.Errorf("tool %q already registered (category %s)", def.Name, existing.Category)
	}
	r.byName[def.Name] = def

	r.logger.Info("Tool registered",
		zap.String("tool", def.Name),
		zap.String("category", string(def.Category)),
	)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	return def, ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.byName))
	for _, def := range r.byName {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Catalog returns the definitions offered to the model boundary. A non-nil
// allowlist restricts the catalog to the named tools; unknown names are
// silently skipped.
func (r *Registry) Catalog(allowlist []string) []Definition {
	if allowlist == nil {
		return r.List()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(allowlist))
	for _, name := range allowlist {
		if def, ok := r.byName[name]; ok {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
