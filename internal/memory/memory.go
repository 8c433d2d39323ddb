// Package memory stores episodic records of agent activity and retrieves
// them by embedding similarity under a token budget. Embeddings are
// JSON-encoded float64 vectors in SQLite; similarity is computed in Go
// over the candidate rows.
package memory

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

const (
	// DefaultProjectScope is the scope used for episodes stored without
	// a project id.
	DefaultProjectScope = "default"

	// summaryLimit caps derived summaries.
	summaryLimit = 160

	// defaultImportance is assigned to episodes stored without one.
	defaultImportance = 1.0

	// highImportanceThreshold marks episodes whose retention age is
	// doubled by age-based pruning.
	highImportanceThreshold = 1.5
)

// Manager stores and retrieves episodes.
type Manager struct {
	db       *store.DB
	embedder core.Embedder
	log      *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithEmbedder attaches an embedding provider. Without one, episodes are
// stored without vectors and similarity search is unavailable.
func WithEmbedder(e core.Embedder) Option {
	return func(m *Manager) { m.embedder = e }
}

// NewManager creates a memory manager.
func NewManager(db *store.DB, log *logging.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	m := &Manager{db: db, log: log}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StoreEpisode persists an episode. Missing fields are filled in: id,
// default project scope, derived summary, default importance, and the
// content embedding. Embedding failures are logged and tolerated; the
// episode is stored without a vector and skipped by similarity search.
func (m *Manager) StoreEpisode(ctx context.Context, ep *core.Episode) error {
	if ep.Content == "" {
		return core.ErrMemoryQuery("episode content is required", nil)
	}
	if ep.ID == "" {
		ep.ID = ulid.Make().String()
	}
	if ep.ProjectID == "" {
		ep.ProjectID = DefaultProjectScope
	}
	if ep.Summary == "" {
		ep.Summary = summarize(ep.Content)
	}
	if ep.Importance == 0 {
		ep.Importance = defaultImportance
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}

	if ep.Embedding == nil && m.embedder != nil {
		vec, err := m.embedder.Embed(ctx, ep.Content)
		if err != nil {
			m.log.Warn("embedding failed, storing episode without vector",
				"episode_id", ep.ID, "error", err)
		} else {
			ep.Embedding = vec
		}
	}

	var embeddingJSON, contextJSON []byte
	var err error
	if len(ep.Embedding) > 0 {
		if embeddingJSON, err = json.Marshal(ep.Embedding); err != nil {
			return fmt.Errorf("encoding embedding: %w", err)
		}
	}
	if len(ep.Context) > 0 {
		if contextJSON, err = json.Marshal(ep.Context); err != nil {
			return fmt.Errorf("encoding context: %w", err)
		}
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO episodes (
			id, project_id, type, content, summary, embedding, context,
			task_id, agent_id, importance, access_count, last_accessed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ep.ID, ep.ProjectID, ep.Type, ep.Content, ep.Summary,
		store.NullBytes(embeddingJSON), store.NullBytes(contextJSON),
		store.NullString(ep.TaskID), store.NullString(ep.AgentID),
		ep.Importance, ep.AccessCount, store.NullTime(ep.LastAccessedAt), ep.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting episode: %w", err)
	}
	return nil
}

// GetEpisode fetches an episode by id and records the access: the access
// count is incremented and the last-accessed timestamp updated.
func (m *Manager) GetEpisode(ctx context.Context, episodeID string) (*core.Episode, error) {
	ep, err := m.loadEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	if err := m.touch(ctx, []string{episodeID}); err != nil {
		m.log.Warn("recording episode access failed", "episode_id", episodeID, "error", err)
	} else {
		ep.AccessCount++
		now := time.Now()
		ep.LastAccessedAt = &now
	}
	return ep, nil
}

// DeleteEpisode removes an episode. Idempotent.
func (m *Manager) DeleteEpisode(ctx context.Context, episodeID string) error {
	_, err := m.db.ExecContext(ctx, "DELETE FROM episodes WHERE id = ?", episodeID)
	if err != nil {
		return fmt.Errorf("deleting episode: %w", err)
	}
	return nil
}

// PruneOldEpisodes deletes episodes older than maxAge within a project
// scope. An empty scope means the default scope, mirroring StoreEpisode.
// Episodes above the high-importance threshold get double the retention
// age. Returns the number of rows deleted.
func (m *Manager) PruneOldEpisodes(ctx context.Context, projectID string, maxAge time.Duration) (int, error) {
	if projectID == "" {
		projectID = DefaultProjectScope
	}
	now := time.Now()
	cutoff := now.Add(-maxAge)
	importantCutoff := now.Add(-2 * maxAge)

	res, err := m.db.ExecContext(ctx, `
		DELETE FROM episodes
		WHERE project_id = ?
		  AND (
			(importance <= ? AND created_at < ?) OR
			(importance > ? AND created_at < ?)
		  )
	`, projectID, highImportanceThreshold, cutoff, highImportanceThreshold, importantCutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning episodes by age: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned episodes: %w", err)
	}
	return int(n), nil
}

// PruneByCount keeps the top keep episodes of a project, ranked by
// importance then recency, and deletes the rest. An empty scope means
// the default scope, mirroring StoreEpisode. Returns the number of rows
// deleted.
func (m *Manager) PruneByCount(ctx context.Context, projectID string, keep int) (int, error) {
	if projectID == "" {
		projectID = DefaultProjectScope
	}
	if keep < 0 {
		keep = 0
	}
	res, err := m.db.ExecContext(ctx, `
		DELETE FROM episodes
		WHERE project_id = ? AND id NOT IN (
			SELECT id FROM episodes
			WHERE project_id = ?
			ORDER BY importance DESC, created_at DESC, id DESC
			LIMIT ?
		)
	`, projectID, projectID, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning episodes by count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned episodes: %w", err)
	}
	return int(n), nil
}

// summarize derives a short summary from episode content.
func summarize(content string) string {
	runes := []rune(content)
	if len(runes) <= summaryLimit {
		return content
	}
	return string(runes[:summaryLimit-3]) + "..."
}

// touch bumps access counters for the given episode ids.
func (m *Manager) touch(ctx context.Context, episodeIDs []string) error {
	if len(episodeIDs) == 0 {
		return nil
	}
	now := time.Now()
	for _, id := range episodeIDs {
		_, err := m.db.ExecContext(ctx, `
			UPDATE episodes
			SET access_count = access_count + 1, last_accessed_at = ?
			WHERE id = ?
		`, now, id)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) loadEpisode(ctx context.Context, episodeID string) (*core.Episode, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, project_id, type, content, summary, embedding, context,
		       task_id, agent_id, importance, access_count, last_accessed_at, created_at
		FROM episodes WHERE id = ?
	`, episodeID)

	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrEpisodeNotFound(episodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading episode: %w", err)
	}
	return ep, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (*core.Episode, error) {
	var ep core.Episode
	var summary, embeddingJSON, contextJSON, taskID, agentID sql.NullString
	var lastAccessed sql.NullTime

	err := row.Scan(
		&ep.ID, &ep.ProjectID, &ep.Type, &ep.Content, &summary,
		&embeddingJSON, &contextJSON, &taskID, &agentID,
		&ep.Importance, &ep.AccessCount, &lastAccessed, &ep.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	ep.Summary = summary.String
	ep.TaskID = taskID.String
	ep.AgentID = agentID.String
	if lastAccessed.Valid {
		ep.LastAccessedAt = &lastAccessed.Time
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &ep.Embedding); err != nil {
			return nil, fmt.Errorf("decoding embedding: %w", err)
		}
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &ep.Context); err != nil {
			return nil, fmt.Errorf("decoding context: %w", err)
		}
	}
	return &ep, nil
}
