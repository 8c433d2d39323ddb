package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sort"

	"github.com/nexus-orchestrator/nexus/internal/core"
)

const (
	// DefaultMinSimilarity is the cutoff for Search results.
	DefaultMinSimilarity = 0.5

	// DefaultSearchLimit caps Search results.
	DefaultSearchLimit = 10

	// relevanceThreshold is the looser cutoff GetRelevant uses to
	// gather candidates before the token budget narrows the result.
	relevanceThreshold = 0.3

	// relevanceCandidates bounds how many scored episodes GetRelevant
	// considers for budget packing.
	relevanceCandidates = 50
)

// ScoredEpisode pairs an episode with its similarity to a query.
type ScoredEpisode struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	Type       string  `json:"type"`
	Summary    string  `json:"summary"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
	Score      float64 `json:"score"`
}

// SearchOptions narrows a similarity search.
type SearchOptions struct {
	// ProjectID scopes the search; empty searches every scope.
	ProjectID string

	// Limit caps results. Zero selects DefaultSearchLimit.
	Limit int

	// MinSimilarity is the score cutoff. Zero selects
	// DefaultMinSimilarity; pass a negative value for no cutoff.
	MinSimilarity float64
}

// Search embeds the query and returns the most similar episodes, best
// first. Episodes stored without an embedding never match. The sort is
// stable, so equal scores keep their storage order.
func (m *Manager) Search(ctx context.Context, query string, opts SearchOptions) ([]ScoredEpisode, error) {
	if m.embedder == nil {
		return nil, core.ErrMemoryQuery("similarity search requires an embedder", nil)
	}
	queryVec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, core.ErrMemoryQuery("embedding query failed", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	minSim := opts.MinSimilarity
	if minSim == 0 {
		minSim = DefaultMinSimilarity
	}

	scored, err := m.scoreAll(ctx, queryVec, opts.ProjectID, minSim)
	if err != nil {
		return nil, err
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// GetRelevant returns episode texts for prompt assembly: a broad
// similarity search packed greedily into the token budget, best match
// first, stopping at the first episode that would overflow it. Episodes
// that make the cut have their access recorded.
func (m *Manager) GetRelevant(ctx context.Context, query, projectID string, tokenBudget int) ([]ScoredEpisode, error) {
	if tokenBudget <= 0 {
		return []ScoredEpisode{}, nil
	}

	scored, err := m.Search(ctx, query, SearchOptions{
		ProjectID:     projectID,
		Limit:         relevanceCandidates,
		MinSimilarity: relevanceThreshold,
	})
	if err != nil {
		return nil, err
	}

	included := make([]ScoredEpisode, 0, len(scored))
	remaining := tokenBudget
	for _, s := range scored {
		cost := estimateTokens(s.Content)
		if cost > remaining {
			break
		}
		remaining -= cost
		included = append(included, s)
	}

	ids := make([]string, len(included))
	for i, s := range included {
		ids[i] = s.ID
	}
	if err := m.touch(ctx, ids); err != nil {
		m.log.Warn("recording episode access failed", "error", err)
	}
	return included, nil
}

// scoreAll scans embedded episodes in a scope and scores them against the
// query vector.
func (m *Manager) scoreAll(ctx context.Context, queryVec []float64, projectID string, minSim float64) ([]ScoredEpisode, error) {
	q := `
		SELECT id, project_id, type, content, summary, embedding, importance
		FROM episodes
		WHERE embedding IS NOT NULL
	`
	args := []any{}
	if projectID != "" {
		q += " AND project_id = ?"
		args = append(args, projectID)
	}
	q += " ORDER BY created_at, id"

	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, core.ErrMemoryQuery("scanning episodes failed", err)
	}
	defer rows.Close()

	scored := make([]ScoredEpisode, 0)
	for rows.Next() {
		var s ScoredEpisode
		var summary sql.NullString
		var embeddingJSON string
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Type, &s.Content, &summary, &embeddingJSON, &s.Importance); err != nil {
			return nil, core.ErrMemoryQuery("scanning episode failed", err)
		}
		s.Summary = summary.String

		var vec []float64
		if err := json.Unmarshal([]byte(embeddingJSON), &vec); err != nil {
			m.log.Warn("skipping episode with corrupt embedding", "episode_id", s.ID, "error", err)
			continue
		}
		s.Score = CosineSimilarity(queryVec, vec)
		if s.Score >= minSim {
			scored = append(scored, s)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrMemoryQuery("scanning episodes failed", err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored, nil
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or a zero vector score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// estimateTokens approximates the token cost of text as one token per
// four bytes.
func estimateTokens(s string) int {
	return len(s) / 4
}
