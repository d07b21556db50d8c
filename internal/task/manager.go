package task

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/triageio/internal/notify"
)

// FinishedTaskRetention is how long a finished task stays registered.
const FinishedTaskRetention = 24 * time.Hour

// Manager is an in-memory registry of tasks.
type Manager struct {
	weights Weights
	sink    notify.Sink
	logger  hclog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewManager creates a registry whose tasks share weights and sink.
func NewManager(weights Weights, sink notify.Sink, logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{
		weights: weights,
		sink:    sink,
		logger:  logger.Named("tasks"),
		now:     time.Now,
		tasks:   map[string]*Task{},
	}
}

// Create registers a new task. An empty id gets a random one. Finished tasks older than
// FinishedTaskRetention are forgotten first.
func (m *Manager) Create(id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked(FinishedTaskRetention)
	if id != "" {
		if _, exists := m.tasks[id]; exists {
			return nil, fmt.Errorf("task %q already exists", id)
		}
	}
	t := New(Options{ID: id, Weights: m.weights, Sink: m.sink, Logger: m.logger, Clock: m.now})
	m.tasks[t.ID()] = t
	return t, nil
}

// Get looks a task up by id.
func (m *Manager) Get(id string) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

// List returns tasks newest first, optionally filtered by state. limit <= 0 means no limit.
func (m *Manager) List(state State, limit int) []*Task {
	m.mu.RLock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if state != "" && t.State() != state {
			continue
		}
		out = append(out, t)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].created.Equal(out[j].created) {
			return out[i].created.After(out[j].created)
		}
		return out[i].id < out[j].id
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Cancel requests cancellation of a task.
func (m *Manager) Cancel(id string) error {
	t, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	if t.State().Terminal() {
		return fmt.Errorf("task %q already finished as %s", id, t.State())
	}
	t.Cancel()
	return nil
}

// Delete removes a task, cancelling it first when it is still active.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	delete(m.tasks, id)
	m.mu.Unlock()
	if ok && !t.State().Terminal() {
		t.Cancel()
	}
	return ok
}

// CleanupOlderThan removes finished tasks created more than age ago and returns how many went.
func (m *Manager) CleanupOlderThan(age time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked(age)
}

func (m *Manager) cleanupLocked(age time.Duration) int {
	cutoff := m.now().Add(-age)
	removed := 0
	for id, t := range m.tasks {
		if t.created.Before(cutoff) && t.State().Terminal() {
			delete(m.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("removed finished tasks", "count", removed, "older_than", age)
	}
	return removed
}

// Stats summarises the registry.
type Stats struct {
	Total   int           `json:"total_tasks"`
	ByState map[State]int `json:"by_state"`
	Active  int           `json:"active_tasks"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{Total: len(m.tasks), ByState: map[State]int{}}
	for _, t := range m.tasks {
		st := t.State()
		s.ByState[st]++
		if !st.Terminal() {
			s.Active++
		}
	}
	return s
}

// Shutdown cancels the tasks still running and empties the registry. It returns the stats the
// registry had before.
func (m *Manager) Shutdown() Stats {
	stats := m.Stats()
	for _, t := range m.List("", 0) {
		m.Delete(t.ID())
	}
	if stats.Active > 0 {
		m.logger.Warn("cancelled unfinished tasks on shutdown", "count", stats.Active)
	}
	m.logger.Debug("task registry closed", "total", stats.Total, "by_state", stats.ByState)
	return stats
}
