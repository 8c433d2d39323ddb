package state

import (
	"context"
	"sync"
	"time"

	"github.com/nexus-orchestrator/nexus/internal/core"
)

// autosave is one per-project flush timer with a single-slot dirty buffer.
// MarkDirty overwrites the slot (last write wins); a failed flush keeps
// the buffer so the next tick retries it.
type autosave struct {
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	pending *core.NexusState
}

func (a *autosave) stop() {
	a.stopOnce.Do(func() { close(a.done) })
}

func (a *autosave) mark(state *core.NexusState) {
	a.mu.Lock()
	a.pending = state
	a.mu.Unlock()
}

func (a *autosave) take() *core.NexusState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// clear drops the buffer only if it still holds the flushed snapshot,
// so a MarkDirty that raced the flush is not lost.
func (a *autosave) clear(flushed *core.NexusState) {
	a.mu.Lock()
	if a.pending == flushed {
		a.pending = nil
	}
	a.mu.Unlock()
}

// EnableAutoSave starts a periodic flush timer for a project. Calling it
// again for the same project restarts the timer with the new interval;
// a pending dirty buffer carries over. A non-positive interval selects
// DefaultAutoSaveInterval.
func (m *Manager) EnableAutoSave(projectID string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAutoSaveInterval
	}

	m.mu.Lock()
	var carried *core.NexusState
	if prev, ok := m.autosaves[projectID]; ok {
		carried = prev.take()
		prev.stop()
	}
	a := &autosave{
		interval: interval,
		done:     make(chan struct{}),
		pending:  carried,
	}
	m.autosaves[projectID] = a
	m.mu.Unlock()

	go m.runAutoSave(projectID, a)

	m.log.Debug("auto-save enabled", "project_id", projectID, "interval", interval)
}

// DisableAutoSave cancels a project's flush timer and discards its dirty
// buffer. Idempotent.
func (m *Manager) DisableAutoSave(projectID string) {
	m.mu.Lock()
	a, ok := m.autosaves[projectID]
	if ok {
		delete(m.autosaves, projectID)
	}
	m.mu.Unlock()

	if ok {
		a.stop()
		m.log.Debug("auto-save disabled", "project_id", projectID)
	}
}

// MarkDirty stages a state snapshot for the project's next auto-save tick.
// Successive calls between ticks overwrite each other. A no-op when
// auto-save is not enabled for the project.
func (m *Manager) MarkDirty(projectID string, state *core.NexusState) {
	m.mu.Lock()
	a, ok := m.autosaves[projectID]
	m.mu.Unlock()

	if !ok {
		m.log.Debug("mark dirty ignored, auto-save not enabled", "project_id", projectID)
		return
	}
	a.mark(state)
}

func (m *Manager) runAutoSave(projectID string, a *autosave) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			m.flushDirty(projectID, a)
		}
	}
}

func (m *Manager) flushDirty(projectID string, a *autosave) {
	state := a.take()
	if state == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := m.SaveState(ctx, state); err != nil {
		// Buffer stays; the next tick retries.
		m.log.Warn("auto-save failed", "project_id", projectID, "error", err)
		return
	}
	a.clear(state)
	m.log.Debug("auto-save flushed", "project_id", projectID)
}
