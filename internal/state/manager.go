// Package state owns the canonical persisted representation of a project's
// execution state and the per-project auto-save timers that flush a dirty
// in-memory mirror of it.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nexus-orchestrator/nexus/internal/core"
	"github.com/nexus-orchestrator/nexus/internal/events"
	"github.com/nexus-orchestrator/nexus/internal/logging"
	"github.com/nexus-orchestrator/nexus/internal/store"
)

// DefaultAutoSaveInterval is used when EnableAutoSave is given a
// non-positive interval.
const DefaultAutoSaveInterval = 30 * time.Second

// Manager persists NexusState atomically and hydrates it back in full.
// All writes for a project go through one Manager instance; the store's
// transaction boundary provides the only mutual exclusion.
type Manager struct {
	db  *store.DB
	log *logging.Logger
	bus *events.Bus

	mu        sync.Mutex
	autosaves map[string]*autosave
}

// Option configures a Manager.
type Option func(*Manager)

// WithBus attaches an event bus; save/delete events are published to it.
func WithBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// NewManager creates a state manager on top of the shared store.
func NewManager(db *store.DB, log *logging.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	m := &Manager{
		db:        db,
		log:       log,
		autosaves: make(map[string]*autosave),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close stops all auto-save timers. The store handle is owned by the
// caller and stays open.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.autosaves {
		a.stop()
		delete(m.autosaves, id)
	}
}

// SaveState persists the full state as one transaction: upsert the project
// row, replace the project's feature and task sets wholesale, and re-sync
// the agents present in state.Agents by id. Replace-set is intentional; it
// keeps ordering and count invariants trivial compared to diffing.
func (m *Manager) SaveState(ctx context.Context, state *core.NexusState) error {
	if err := validate(state); err != nil {
		return err
	}

	now := time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now

	settingsJSON, err := marshalSettings(state.Settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (
			id, name, description, mode, root_path, repo_url,
			status, settings, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			mode = excluded.mode,
			root_path = excluded.root_path,
			repo_url = excluded.repo_url,
			status = excluded.status,
			settings = excluded.settings,
			updated_at = excluded.updated_at
	`,
		state.ProjectID, state.Name, store.NullString(state.Description),
		state.Mode, store.NullString(state.RootPath), store.NullString(state.RepoURL),
		state.Status, store.NullBytes(settingsJSON), state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting project: %w", err)
	}

	// Replace-set: delete then reinsert preserves order via position.
	if _, err = tx.ExecContext(ctx, "DELETE FROM tasks WHERE project_id = ?", state.ProjectID); err != nil {
		return fmt.Errorf("deleting existing tasks: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM features WHERE project_id = ?", state.ProjectID); err != nil {
		return fmt.Errorf("deleting existing features: %w", err)
	}

	for i := range state.Features {
		if err := insertFeature(ctx, tx, state.ProjectID, &state.Features[i], i, now); err != nil {
			return fmt.Errorf("inserting feature %s: %w", state.Features[i].ID, err)
		}
	}
	for i := range state.Tasks {
		if err := insertTask(ctx, tx, state.ProjectID, &state.Tasks[i], i, now); err != nil {
			return fmt.Errorf("inserting task %s: %w", state.Tasks[i].ID, err)
		}
	}

	// Agents are a flat pool; only the ones present in the snapshot are
	// re-synced, others are left alone.
	for i := range state.Agents {
		if err := upsertAgent(ctx, tx, &state.Agents[i], now); err != nil {
			return fmt.Errorf("syncing agent %s: %w", state.Agents[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	if m.bus != nil {
		m.bus.Publish(events.NewStateSavedEvent(state.ProjectID, len(state.Features), len(state.Tasks)))
	}
	return nil
}

// LoadState returns the fully hydrated state for a project, or (nil, nil)
// when no project row exists. A partially hydrated state is never returned.
func (m *Manager) LoadState(ctx context.Context, projectID string) (*core.NexusState, error) {
	var state core.NexusState
	var description, rootPath, repoURL, settingsJSON sql.NullString

	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, description, mode, root_path, repo_url,
		       status, settings, created_at, updated_at
		FROM projects WHERE id = ?
	`, projectID).Scan(
		&state.ProjectID, &state.Name, &description, &state.Mode,
		&rootPath, &repoURL, &state.Status, &settingsJSON,
		&state.CreatedAt, &state.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}

	state.Description = description.String
	state.RootPath = rootPath.String
	state.RepoURL = repoURL.String
	if settingsJSON.Valid && settingsJSON.String != "" {
		if err := json.Unmarshal([]byte(settingsJSON.String), &state.Settings); err != nil {
			return nil, fmt.Errorf("unmarshaling settings: %w", err)
		}
	}

	if state.Features, err = m.loadFeatures(ctx, projectID); err != nil {
		return nil, err
	}
	if state.Tasks, err = m.loadTasks(ctx, projectID); err != nil {
		return nil, err
	}
	if state.Agents, err = m.loadAgents(ctx); err != nil {
		return nil, err
	}

	return &state, nil
}

// ListProjects returns the ids of all persisted projects, oldest first.
func (m *Manager) ListProjects(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT id FROM projects ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateState applies a partial update (status, current phase, last
// checkpoint) to an existing project. Settings keys the update does not
// touch are preserved. Fails with a not-found error if the project does
// not exist; it never creates one.
func (m *Manager) UpdateState(ctx context.Context, projectID string, update core.StateUpdate) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status core.ProjectStatus
	var settingsJSON sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT status, settings FROM projects WHERE id = ?", projectID,
	).Scan(&status, &settingsJSON)
	if err == sql.ErrNoRows {
		return core.ErrStateNotFound(projectID)
	}
	if err != nil {
		return fmt.Errorf("loading project for update: %w", err)
	}

	settings := core.Settings{}
	if settingsJSON.Valid && settingsJSON.String != "" {
		if err := json.Unmarshal([]byte(settingsJSON.String), &settings); err != nil {
			return fmt.Errorf("unmarshaling settings: %w", err)
		}
	}

	if update.Status != nil {
		status = *update.Status
	}
	if update.CurrentPhase != nil {
		settings.SetCurrentPhase(*update.CurrentPhase)
	}
	if update.LastCheckpointID != nil {
		settings.SetLastCheckpointID(*update.LastCheckpointID)
	}

	merged, err := marshalSettings(settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE projects SET status = ?, settings = ?, updated_at = ? WHERE id = ?",
		status, store.NullBytes(merged), time.Now(), projectID,
	)
	if err != nil {
		return fmt.Errorf("updating project: %w", err)
	}

	return tx.Commit()
}

// DeleteState removes a project and its children (tasks before features
// before the project row), then cancels any pending auto-save timer and
// discards its dirty buffer. Idempotent: deleting an absent project is
// not an error.
func (m *Manager) DeleteState(ctx context.Context, projectID string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, "DELETE FROM tasks WHERE project_id = ?", projectID); err != nil {
		return fmt.Errorf("deleting tasks: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM features WHERE project_id = ?", projectID); err != nil {
		return fmt.Errorf("deleting features: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", projectID); err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	m.DisableAutoSave(projectID)

	if m.bus != nil {
		m.bus.Publish(events.NewStateDeletedEvent(projectID))
	}
	return nil
}

func validate(state *core.NexusState) error {
	var fields []string
	if state.ProjectID == "" {
		fields = append(fields, "projectId: required")
	}
	if state.Name == "" {
		fields = append(fields, "name: required")
	}

	taskIDs := make(map[string]bool, len(state.Tasks))
	for _, t := range state.Tasks {
		taskIDs[t.ID] = true
	}
	for _, t := range state.Tasks {
		if t.ProjectID != "" && t.ProjectID != state.ProjectID {
			fields = append(fields, fmt.Sprintf("tasks[%s].projectId: belongs to another project", t.ID))
		}
		for _, dep := range t.DependsOn {
			if !taskIDs[dep] {
				fields = append(fields, fmt.Sprintf("tasks[%s].dependsOn: unknown task %s", t.ID, dep))
			}
		}
	}
	for _, f := range state.Features {
		if f.ProjectID != "" && f.ProjectID != state.ProjectID {
			fields = append(fields, fmt.Sprintf("features[%s].projectId: belongs to another project", f.ID))
		}
	}

	if len(fields) > 0 {
		return core.ErrStateValidation(fields)
	}
	return nil
}

func marshalSettings(s core.Settings) ([]byte, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return json.Marshal(s)
}

func insertFeature(ctx context.Context, tx *sql.Tx, projectID string, f *core.Feature, position int, now time.Time) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	f.ProjectID = projectID

	_, err := tx.ExecContext(ctx, `
		INSERT INTO features (
			id, project_id, name, description, priority, status, complexity,
			estimated_tasks, completed_tasks, position, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.ID, projectID, f.Name, store.NullString(f.Description),
		f.Priority, f.Status, store.NullString(string(f.Complexity)),
		f.EstimatedTasks, f.CompletedTasks, position, f.CreatedAt, f.UpdatedAt,
	)
	return err
}

func insertTask(ctx context.Context, tx *sql.Tx, projectID string, t *core.Task, position int, now time.Time) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.ProjectID = projectID

	var depsJSON []byte
	if len(t.DependsOn) > 0 {
		var err error
		depsJSON, err = json.Marshal(t.DependsOn)
		if err != nil {
			return fmt.Errorf("marshaling dependencies: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (
			id, project_id, feature_id, name, description, type, status, size,
			priority, depends_on, qa_iterations, max_qa_iterations, position,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, projectID, store.NullString(t.FeatureID), t.Name,
		store.NullString(t.Description), t.Type, t.Status,
		store.NullString(string(t.Size)), t.Priority, store.NullBytes(depsJSON),
		t.QAIterations, t.MaxQAIterations, position, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func upsertAgent(ctx context.Context, tx *sql.Tx, a *core.Agent, now time.Time) error {
	if a.SpawnedAt.IsZero() {
		a.SpawnedAt = now
	}

	// Delete-then-reinsert keeps the sync semantics identical to the
	// feature/task replace-set while leaving unrelated agents untouched.
	if _, err := tx.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", a.ID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO agents (
			id, type, status, provider, model, temperature, max_tokens,
			current_task_id, tokens_used, tasks_completed, tasks_failed,
			spawned_at, last_active_at, terminated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.Type, a.Status, store.NullString(a.Provider),
		store.NullString(a.Model), a.Temperature, a.MaxTokens,
		store.NullString(a.CurrentTaskID), a.TokensUsed,
		a.TasksCompleted, a.TasksFailed, a.SpawnedAt,
		store.NullTime(a.LastActiveAt), store.NullTime(a.TerminatedAt),
	)
	return err
}

func (m *Manager) loadFeatures(ctx context.Context, projectID string) ([]core.Feature, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, project_id, name, description, priority, status, complexity,
		       estimated_tasks, completed_tasks, created_at, updated_at
		FROM features WHERE project_id = ? ORDER BY position
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading features: %w", err)
	}
	defer rows.Close()

	features := make([]core.Feature, 0)
	for rows.Next() {
		var f core.Feature
		var description, complexity sql.NullString
		err := rows.Scan(
			&f.ID, &f.ProjectID, &f.Name, &description, &f.Priority,
			&f.Status, &complexity, &f.EstimatedTasks, &f.CompletedTasks,
			&f.CreatedAt, &f.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning feature: %w", err)
		}
		f.Description = description.String
		f.Complexity = core.Complexity(complexity.String)
		features = append(features, f)
	}
	return features, rows.Err()
}

func (m *Manager) loadTasks(ctx context.Context, projectID string) ([]core.Task, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, project_id, feature_id, name, description, type, status,
		       size, priority, depends_on, qa_iterations, max_qa_iterations,
		       created_at, updated_at
		FROM tasks WHERE project_id = ? ORDER BY position
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]core.Task, 0)
	for rows.Next() {
		var t core.Task
		var featureID, description, size, depsJSON sql.NullString
		err := rows.Scan(
			&t.ID, &t.ProjectID, &featureID, &t.Name, &description,
			&t.Type, &t.Status, &size, &t.Priority, &depsJSON,
			&t.QAIterations, &t.MaxQAIterations, &t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		t.FeatureID = featureID.String
		t.Description = description.String
		t.Size = core.TaskSize(size.String)
		if depsJSON.Valid && depsJSON.String != "" {
			if err := json.Unmarshal([]byte(depsJSON.String), &t.DependsOn); err != nil {
				return nil, fmt.Errorf("unmarshaling dependencies: %w", err)
			}
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (m *Manager) loadAgents(ctx context.Context) ([]core.Agent, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, type, status, provider, model, temperature, max_tokens,
		       current_task_id, tokens_used, tasks_completed, tasks_failed,
		       spawned_at, last_active_at, terminated_at
		FROM agents ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("loading agents: %w", err)
	}
	defer rows.Close()

	agents := make([]core.Agent, 0)
	for rows.Next() {
		var a core.Agent
		var provider, model, currentTask sql.NullString
		var lastActive, terminated sql.NullTime
		err := rows.Scan(
			&a.ID, &a.Type, &a.Status, &provider, &model, &a.Temperature,
			&a.MaxTokens, &currentTask, &a.TokensUsed, &a.TasksCompleted,
			&a.TasksFailed, &a.SpawnedAt, &lastActive, &terminated,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		a.Provider = provider.String
		a.Model = model.String
		a.CurrentTaskID = currentTask.String
		if lastActive.Valid {
			a.LastActiveAt = &lastActive.Time
		}
		if terminated.Valid {
			a.TerminatedAt = &terminated.Time
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
