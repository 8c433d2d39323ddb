package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio/v2"

	"github.com/nexus-orchestrator/nexus/internal/core"
	"github.com/nexus-orchestrator/nexus/internal/store"
)

// ExportCheckpoint writes a checkpoint to a JSON file. The write is
// atomic: readers either see the previous file or the complete new one.
func (m *Manager) ExportCheckpoint(ctx context.Context, checkpointID, path string) error {
	cp, err := m.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return err
	}

	blob, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	if err := renameio.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint file: %w", err)
	}

	m.log.Info("checkpoint exported", "checkpoint_id", checkpointID, "path", path)
	return nil
}

// ImportCheckpoint loads a checkpoint from a previously exported file and
// inserts it. The state blob must decode; importing an id that already
// exists is an error rather than an overwrite, since checkpoints are
// immutable.
func (m *Manager) ImportCheckpoint(ctx context.Context, path string) (*core.Checkpoint, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint file: %w", err)
	}

	var cp core.Checkpoint
	if err := json.Unmarshal(blob, &cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint file: %w", err)
	}
	if cp.ID == "" || cp.ProjectID == "" {
		return nil, fmt.Errorf("checkpoint file missing id or project id")
	}
	if _, err := cp.DecodeState(); err != nil {
		return nil, err
	}

	var exists int
	err = m.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM checkpoints WHERE id = ?", cp.ID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking for existing checkpoint: %w", err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("checkpoint %s already exists", cp.ID)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, project_id, name, reason, state, git_commit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, cp.ID, cp.ProjectID, store.NullString(cp.Name), store.NullString(cp.Reason),
		string(cp.State), store.NullString(cp.GitCommit), cp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting imported checkpoint: %w", err)
	}

	m.log.Info("checkpoint imported", "checkpoint_id", cp.ID, "path", path)
	return &cp, nil
}
