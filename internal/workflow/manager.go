package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/seamarks/helmsman/internal/fault"
)

// Manager loads workflow definitions from a directory of YAML files and
// keeps them fresh. One file per workflow; reload replaces each
// definition atomically rather than mutating it in place.
type Manager struct {
	dir    string
	logger *zap.Logger

	mu   sync.RWMutex
	defs map[string]*Definition

	watcher  *fsnotify.Watcher
	onReload []func()
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager reads every definition under dir. Unparseable files are
// logged and skipped so one bad workflow cannot take the rest down.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		dir:    dir,
		logger: logger,
		defs:   make(map[string]*Definition),
		stopCh: make(chan struct{}),
	}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload re-reads the directory and swaps the definition set.
func (m *Manager) Reload() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Info("workflow directory missing, starting empty", zap.String("dir", m.dir))
			return nil
		}
		return fmt.Errorf("reading workflow directory: %w", err)
	}

	next := make(map[string]*Definition)
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		def, err := loadFile(path)
		if err != nil {
			m.logger.Warn("skipping workflow file", zap.String("path", path), zap.Error(err))
			continue
		}
		if _, dup := next[def.Name]; dup {
			m.logger.Warn("duplicate workflow name, keeping first",
				zap.String("name", def.Name), zap.String("path", path))
			continue
		}
		next[def.Name] = def
	}

	m.mu.Lock()
	m.defs = next
	callbacks := m.onReload
	m.mu.Unlock()

	m.logger.Info("workflow definitions loaded", zap.Int("count", len(next)))
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

func loadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	def.source = path
	return &def, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// OnReload registers a callback invoked after every successful reload.
// The schedule layer uses this to re-register schedule triggers.
func (m *Manager) OnReload(fn func()) {
	m.mu.Lock()
	m.onReload = append(m.onReload, fn)
	m.mu.Unlock()
}

// Watch starts a filesystem watcher on the workflow directory and
// reloads on changes, debounced to absorb editor write bursts.
func (m *Manager) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(m.dir); err != nil {
		w.Close()
		return err
	}
	m.watcher = w

	go func() {
		var timer *time.Timer
		for {
			select {
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(500*time.Millisecond, func() {
					if err := m.Reload(); err != nil {
						m.logger.Error("workflow reload failed", zap.Error(err))
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.logger.Warn("workflow watcher error", zap.Error(err))
			case <-m.stopCh:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	if m.watcher != nil {
		m.watcher.Close()
	}
}

// Get returns a definition by name.
func (m *Manager) Get(name string) (*Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.defs[name]
	if !ok {
		return nil, fault.Validation("unknown workflow %q", name)
	}
	return def, nil
}

// List returns all definitions sorted by name.
func (m *Manager) List() []*Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Definition, 0, len(m.defs))
	for _, def := range m.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetEnabled flips a workflow's enabled flag and writes the change back
// to its file so it survives reloads and restarts.
func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[name]
	if !ok {
		return fault.Validation("unknown workflow %q", name)
	}
	if def.Enabled == enabled {
		return nil
	}
	updated := *def
	updated.Enabled = enabled
	if err := m.writeFile(&updated); err != nil {
		return err
	}
	m.defs[name] = &updated
	m.logger.Info("workflow toggled", zap.String("name", name), zap.Bool("enabled", enabled))
	return nil
}

func (m *Manager) writeFile(def *Definition) error {
	data, err := yaml.Marshal(def)
	if err != nil {
		return err
	}
	path := def.source
	if path == "" {
		path = filepath.Join(m.dir, def.Name+".yaml")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
