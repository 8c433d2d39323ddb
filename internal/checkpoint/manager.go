// Package checkpoint captures immutable full-state snapshots of a project,
// restores them wholesale, and runs the scheduler that decides when
// snapshots are taken automatically.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nexus-orchestrator/nexus/internal/core"
	"github.com/nexus-orchestrator/nexus/internal/events"
	"github.com/nexus-orchestrator/nexus/internal/logging"
	"github.com/nexus-orchestrator/nexus/internal/store"
)

// DefaultMaxCheckpoints bounds how many checkpoints are retained per
// project before the oldest are pruned.
const DefaultMaxCheckpoints = 50

// StateStore is the slice of the state manager the checkpoint manager
// needs: read the current state, overwrite it on restore, and record the
// last checkpoint id.
type StateStore interface {
	LoadState(ctx context.Context, projectID string) (*core.NexusState, error)
	SaveState(ctx context.Context, state *core.NexusState) error
	UpdateState(ctx context.Context, projectID string, update core.StateUpdate) error
}

// Manager creates, lists, restores, and prunes checkpoints.
type Manager struct {
	db     *store.DB
	states StateStore
	git    core.GitClient
	bus    *events.Bus
	log    *logging.Logger
	max    int
}

// Option configures a Manager.
type Option func(*Manager)

// WithGit attaches a version-control client rooted at the project tree.
// With it, checkpoints record the HEAD commit and restores can move the
// working tree back to it.
func WithGit(git core.GitClient) Option {
	return func(m *Manager) { m.git = git }
}

// WithBus attaches an event bus for checkpoint lifecycle events.
func WithBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithMaxCheckpoints overrides the per-project retention limit.
func WithMaxCheckpoints(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.max = n
		}
	}
}

// NewManager creates a checkpoint manager.
func NewManager(db *store.DB, states StateStore, log *logging.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	m := &Manager{
		db:     db,
		states: states,
		log:    log,
		max:    DefaultMaxCheckpoints,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxCheckpoints returns the per-project retention limit.
func (m *Manager) MaxCheckpoints() int {
	return m.max
}

// CreateCheckpoint captures the project's current state under the given
// name and reason. Fails when the project has no persisted state. The
// HEAD commit is recorded opportunistically: a git failure degrades to a
// checkpoint without a commit reference.
func (m *Manager) CreateCheckpoint(ctx context.Context, projectID, name, reason string) (*core.Checkpoint, error) {
	state, err := m.states.LoadState(ctx, projectID)
	if err != nil {
		return nil, core.ErrCheckpointFailed("loading state").WithDetail("project_id", projectID).WithCause(err)
	}
	if state == nil {
		return nil, core.ErrCheckpointFailed("no state to capture").WithDetail("project_id", projectID)
	}

	blob, err := json.Marshal(state)
	if err != nil {
		return nil, core.ErrCheckpointFailed("encoding state").WithDetail("project_id", projectID).WithCause(err)
	}

	var gitCommit string
	if m.git != nil && m.git.IsRepository(ctx) {
		if head, err := m.git.Head(ctx); err != nil {
			m.log.Warn("recording HEAD failed, checkpoint proceeds without it",
				"project_id", projectID, "error", err)
		} else {
			gitCommit = head
		}
	}

	cp := &core.Checkpoint{
		ID:        ulid.Make().String(),
		ProjectID: projectID,
		Name:      name,
		Reason:    reason,
		State:     blob,
		GitCommit: gitCommit,
		CreatedAt: time.Now(),
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, project_id, name, reason, state, git_commit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, cp.ID, cp.ProjectID, store.NullString(cp.Name), store.NullString(cp.Reason),
		string(cp.State), store.NullString(cp.GitCommit), cp.CreatedAt)
	if err != nil {
		return nil, core.ErrCheckpointFailed("inserting checkpoint").WithDetail("project_id", projectID).WithCause(err)
	}

	id := cp.ID
	if err := m.states.UpdateState(ctx, projectID, core.StateUpdate{LastCheckpointID: &id}); err != nil {
		m.log.Warn("recording last checkpoint id failed", "project_id", projectID, "error", err)
	}

	if pruned, err := m.PruneOldCheckpoints(ctx, projectID); err != nil {
		m.log.Warn("pruning checkpoints failed", "project_id", projectID, "error", err)
	} else if pruned > 0 {
		m.log.Debug("pruned old checkpoints", "project_id", projectID, "count", pruned)
	}

	if m.bus != nil {
		m.bus.Publish(events.NewCheckpointCreatedEvent(projectID, cp.ID, cp.Reason, cp.GitCommit))
	}
	m.log.Info("checkpoint created",
		"project_id", projectID, "checkpoint_id", cp.ID, "reason", reason)
	return cp, nil
}

// CreateAutoCheckpoint captures state on behalf of an automatic trigger.
// The reason is stored in the auto:<trigger> form so ParseTrigger can
// recover it later.
func (m *Manager) CreateAutoCheckpoint(ctx context.Context, projectID string, trigger Trigger) (*core.Checkpoint, error) {
	if !trigger.Valid() {
		return nil, core.ErrCheckpointFailed(fmt.Sprintf("unknown trigger %q", trigger)).WithDetail("project_id", projectID)
	}
	name := fmt.Sprintf("auto-%s-%s", trigger, time.Now().Format("20060102-150405"))
	return m.CreateCheckpoint(ctx, projectID, name, trigger.Reason())
}

// RestoreOptions controls restore behavior.
type RestoreOptions struct {
	// CheckoutGit moves the working tree back to the checkpoint's
	// recorded commit. Ignored when the checkpoint has none.
	CheckoutGit bool
}

// RestoreCheckpoint overwrites the project's state with the snapshot.
// The restore is all-or-nothing on the state side; a git checkout failure
// afterwards is reported but leaves the restored state in place.
func (m *Manager) RestoreCheckpoint(ctx context.Context, checkpointID string, opts RestoreOptions) (*core.NexusState, error) {
	cp, err := m.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}

	state, err := cp.DecodeState()
	if err != nil {
		return nil, err
	}

	if err := m.states.SaveState(ctx, state); err != nil {
		return nil, core.ErrRestoreFailed(checkpointID, "writing restored state").WithCause(err)
	}
	id := cp.ID
	if err := m.states.UpdateState(ctx, state.ProjectID, core.StateUpdate{LastCheckpointID: &id}); err != nil {
		m.log.Warn("recording last checkpoint id failed", "project_id", state.ProjectID, "error", err)
	}

	gitRestored := false
	if opts.CheckoutGit && cp.GitCommit != "" {
		if m.git == nil {
			return state, core.ErrRestoreFailed(checkpointID, "no git client for checkout")
		}
		if err := m.git.CheckoutBranch(ctx, cp.GitCommit); err != nil {
			return state, core.ErrRestoreFailed(checkpointID, "checking out recorded commit").WithCause(err)
		}
		gitRestored = true
	}

	if m.bus != nil {
		m.bus.Publish(events.NewCheckpointRestoredEvent(state.ProjectID, cp.ID, gitRestored))
	}
	m.log.Info("checkpoint restored",
		"project_id", state.ProjectID, "checkpoint_id", cp.ID, "git_restored", gitRestored)
	return state, nil
}

// GetCheckpoint fetches a single checkpoint by id.
func (m *Manager) GetCheckpoint(ctx context.Context, checkpointID string) (*core.Checkpoint, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, reason, state, git_commit, created_at
		FROM checkpoints WHERE id = ?
	`, checkpointID)

	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrCheckpointNotFound(checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns a project's checkpoints newest first. Ties on
// creation time fall back to id order; ids are ULIDs, so later inserts
// sort after earlier ones.
func (m *Manager) ListCheckpoints(ctx context.Context, projectID string) ([]core.Checkpoint, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, project_id, name, reason, state, git_commit, created_at
		FROM checkpoints WHERE project_id = ?
		ORDER BY created_at DESC, id DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := make([]core.Checkpoint, 0)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, *cp)
	}
	return checkpoints, rows.Err()
}

// DeleteCheckpoint removes a checkpoint. Idempotent.
func (m *Manager) DeleteCheckpoint(ctx context.Context, checkpointID string) error {
	_, err := m.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE id = ?", checkpointID)
	if err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	return nil
}

// PruneOldCheckpoints deletes everything beyond the newest max-retained
// checkpoints for a project and returns how many rows went away.
func (m *Manager) PruneOldCheckpoints(ctx context.Context, projectID string) (int, error) {
	res, err := m.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE project_id = ? AND id NOT IN (
			SELECT id FROM checkpoints
			WHERE project_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
	`, projectID, projectID, m.max)
	if err != nil {
		return 0, fmt.Errorf("pruning checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned checkpoints: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*core.Checkpoint, error) {
	var cp core.Checkpoint
	var name, reason, gitCommit sql.NullString
	var blob string
	err := row.Scan(&cp.ID, &cp.ProjectID, &name, &reason, &blob, &gitCommit, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}
	cp.Name = name.String
	cp.Reason = reason.String
	cp.GitCommit = gitCommit.String
	cp.State = json.RawMessage(blob)
	return &cp, nil
}
