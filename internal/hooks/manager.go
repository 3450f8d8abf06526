package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrHookNotFound is returned when a requested hook cannot be found.
var ErrHookNotFound = errors.New("hook not found")

// maxParallel bounds the hooks running at once for one event.
const maxParallel = 4

// Manager discovers hooks and dispatches inspection events to them.
type Manager struct {
	dir      string
	executor *Executor
	logger   *slog.Logger

	mu    sync.RWMutex
	hooks map[string]*Hook
}

// NewManager creates a Manager for the hooks under dir.
func NewManager(dir string, executor *Executor, logger *slog.Logger) *Manager {
	if executor == nil {
		executor = NewExecutor(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:      dir,
		executor: executor,
		logger:   logger.With("service", "hooks"),
		hooks:    make(map[string]*Hook),
	}
}

// Discover scans dir for subdirectories holding a hook.json manifest.
// Unreadable or invalid manifests are skipped. A missing dir is not an
// error.
func (m *Manager) Discover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = make(map[string]*Hook)
	if m.dir == "" {
		return nil
	}

	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		raw, err := os.ReadFile(filepath.Join(path, "hook.json"))
		if err != nil {
			continue
		}
		var manifest Manifest
		if err := json.Unmarshal(raw, &manifest); err != nil {
			m.logger.Warn("skipping hook with invalid manifest", "dir", path, "error", err)
			continue
		}
		if manifest.Name == "" || manifest.Executable == "" {
			m.logger.Warn("skipping hook without name or executable", "dir", path)
			continue
		}
		m.hooks[manifest.Name] = &Hook{
			Manifest:   manifest,
			Path:       path,
			Executable: filepath.Join(path, manifest.Executable),
		}
	}
	m.logger.Info("hooks discovered", "dir", m.dir, "count", len(m.hooks))
	return nil
}

// Get returns a hook by name.
func (m *Manager) Get(name string) (*Hook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.hooks[name]
	if !ok {
		return nil, ErrHookNotFound
	}
	return h, nil
}

// List returns the discovered hooks ordered by name.
func (m *Manager) List() []*Hook {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Hook, 0, len(m.hooks))
	for _, h := range m.hooks {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.Name < out[j].Manifest.Name })
	return out
}

// Dir returns the hook directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Dispatch runs every hook subscribed to req.Event and waits for them.
// Hook failures are logged and returned joined; they never affect the
// inspection result.
func (m *Manager) Dispatch(ctx context.Context, req *Request) error {
	var targets []*Hook
	for _, h := range m.List() {
		if h.Handles(req.Event) {
			targets = append(targets, h)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(maxParallel)
	for _, h := range targets {
		h := h
		g.Go(func() error {
			resp, err := m.executor.Execute(ctx, h, req)
			if err == nil && !resp.Success {
				err = errors.New("hook " + h.Manifest.Name + ": " + resp.Error)
			}
			if err != nil {
				m.logger.Warn("hook failed", "hook", h.Manifest.Name, "event", req.Event, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			m.logger.Debug("hook ran", "hook", h.Manifest.Name, "event", req.Event)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
