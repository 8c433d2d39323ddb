// Package review persists human-review requests opened for escalated
// tasks and tracks their resolution.
package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nexus-orchestrator/nexus/internal/core"
	"github.com/nexus-orchestrator/nexus/internal/logging"
	"github.com/nexus-orchestrator/nexus/internal/store"
)

// Review status values.
const (
	StatusPending   = "pending"
	StatusResolved  = "resolved"
	StatusDismissed = "dismissed"
)

// Manager is a store-backed core.Reviewer.
type Manager struct {
	db  *store.DB
	log *logging.Logger
}

// NewManager creates a review manager.
func NewManager(db *store.DB, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	return &Manager{db: db, log: log}
}

// RequestReview opens a pending review for a task.
func (m *Manager) RequestReview(ctx context.Context, req core.ReviewRequest) (*core.Review, error) {
	if req.TaskID == "" || req.ProjectID == "" {
		return nil, fmt.Errorf("review request needs task and project ids")
	}

	rev := &core.Review{
		ID:        ulid.Make().String(),
		TaskID:    req.TaskID,
		ProjectID: req.ProjectID,
		Reason:    req.Reason,
		Context:   req.Context,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	var contextJSON []byte
	if len(rev.Context) > 0 {
		var err error
		if contextJSON, err = json.Marshal(rev.Context); err != nil {
			return nil, fmt.Errorf("encoding review context: %w", err)
		}
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO reviews (id, task_id, project_id, reason, context, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rev.ID, rev.TaskID, rev.ProjectID, store.NullString(rev.Reason),
		store.NullBytes(contextJSON), rev.Status, rev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting review: %w", err)
	}

	m.log.Info("review requested",
		"review_id", rev.ID, "project_id", rev.ProjectID, "task_id", rev.TaskID)
	return rev, nil
}

// Resolve closes a pending review with a resolution note.
func (m *Manager) Resolve(ctx context.Context, reviewID, resolution string) error {
	return m.close(ctx, reviewID, StatusResolved, resolution)
}

// Dismiss closes a pending review without action.
func (m *Manager) Dismiss(ctx context.Context, reviewID string) error {
	return m.close(ctx, reviewID, StatusDismissed, "")
}

func (m *Manager) close(ctx context.Context, reviewID, status, resolution string) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE reviews SET status = ?, resolution = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, status, store.NullString(resolution), time.Now(), reviewID, StatusPending)
	if err != nil {
		return fmt.Errorf("closing review: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("review %s is not pending", reviewID)
	}
	return nil
}

// GetReview fetches a single review.
func (m *Manager) GetReview(ctx context.Context, reviewID string) (*core.Review, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, task_id, project_id, reason, context, status, resolution, created_at, resolved_at
		FROM reviews WHERE id = ?
	`, reviewID)

	rev, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("review not found: %s", reviewID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading review: %w", err)
	}
	return rev, nil
}

// ListPending returns a project's open reviews, oldest first.
func (m *Manager) ListPending(ctx context.Context, projectID string) ([]core.Review, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, task_id, project_id, reason, context, status, resolution, created_at, resolved_at
		FROM reviews WHERE project_id = ? AND status = ?
		ORDER BY created_at, id
	`, projectID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	defer rows.Close()

	reviews := make([]core.Review, 0)
	for rows.Next() {
		rev, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning review: %w", err)
		}
		reviews = append(reviews, *rev)
	}
	return reviews, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (*core.Review, error) {
	var rev core.Review
	var reason, contextJSON, resolution sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&rev.ID, &rev.TaskID, &rev.ProjectID, &reason, &contextJSON,
		&rev.Status, &resolution, &rev.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	rev.Reason = reason.String
	rev.Resolution = resolution.String
	if resolvedAt.Valid {
		rev.ResolvedAt = &resolvedAt.Time
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &rev.Context); err != nil {
			return nil, fmt.Errorf("decoding review context: %w", err)
		}
	}
	return &rev, nil
}

var _ core.Reviewer = (*Manager)(nil)
