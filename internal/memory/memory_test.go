package memory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nexus-orchestrator/nexus/internal/adapters/embed"
	"github.com/nexus-orchestrator/nexus/internal/core"
	"github.com/nexus-orchestrator/nexus/internal/logging"
	"github.com/nexus-orchestrator/nexus/internal/store"
)

// failingEmbedder always errors, for degradation tests.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, errors.New("embedding service down")
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "nexus.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewManager(db, logging.NewNop(), opts...)
}

func TestStoreEpisodeFillsDefaults(t *testing.T) {
	m := newTestManager(t, WithEmbedder(embed.NewLocal()))
	ctx := context.Background()

	ep := &core.Episode{
		Type:    core.EpisodeDecision,
		Content: "chose SQLite over Postgres for the state store",
	}
	if err := m.StoreEpisode(ctx, ep); err != nil {
		t.Fatalf("StoreEpisode: %v", err)
	}

	if ep.ID == "" {
		t.Error("id not assigned")
	}
	if ep.ProjectID != DefaultProjectScope {
		t.Errorf("project scope = %q", ep.ProjectID)
	}
	if ep.Summary != ep.Content {
		t.Errorf("short content should be its own summary: %q", ep.Summary)
	}
	if ep.Importance != 1.0 {
		t.Errorf("importance = %v", ep.Importance)
	}
	if len(ep.Embedding) == 0 {
		t.Error("embedding not generated")
	}
}

func TestStoreEpisodeDerivesSummary(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 10)
	ep := &core.Episode{Type: core.EpisodeResearch, Content: long}
	if err := m.StoreEpisode(ctx, ep); err != nil {
		t.Fatalf("StoreEpisode: %v", err)
	}

	if len([]rune(ep.Summary)) != 160 {
		t.Errorf("summary length = %d, want 160", len([]rune(ep.Summary)))
	}
	if !strings.HasSuffix(ep.Summary, "...") {
		t.Errorf("summary should end with ellipsis: %q", ep.Summary)
	}
}

func TestStoreEpisodeRequiresContent(t *testing.T) {
	m := newTestManager(t)
	err := m.StoreEpisode(context.Background(), &core.Episode{Type: core.EpisodeDecision})
	if err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestStoreEpisodeSurvivesEmbeddingFailure(t *testing.T) {
	m := newTestManager(t, WithEmbedder(failingEmbedder{}))
	ctx := context.Background()

	ep := &core.Episode{Type: core.EpisodeErrorFix, Content: "fixed nil deref in parser"}
	if err := m.StoreEpisode(ctx, ep); err != nil {
		t.Fatalf("StoreEpisode should tolerate embedding failure: %v", err)
	}
	if len(ep.Embedding) != 0 {
		t.Error("embedding should be absent")
	}

	got, err := m.GetEpisode(ctx, ep.ID)
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if got.Content != ep.Content {
		t.Errorf("content = %q", got.Content)
	}
}

func TestGetEpisodeRecordsAccess(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	ep := &core.Episode{Type: core.EpisodeDecision, Content: "something notable"}
	if err := m.StoreEpisode(ctx, ep); err != nil {
		t.Fatalf("StoreEpisode: %v", err)
	}

	first, err := m.GetEpisode(ctx, ep.ID)
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if first.AccessCount != 1 {
		t.Errorf("access count after first get = %d", first.AccessCount)
	}
	if first.LastAccessedAt == nil {
		t.Error("lastAccessedAt not set")
	}

	second, err := m.GetEpisode(ctx, ep.ID)
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if second.AccessCount != 2 {
		t.Errorf("access count after second get = %d", second.AccessCount)
	}
}

func TestGetEpisodeNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetEpisode(context.Background(), "ghost")
	if !core.IsCode(err, core.CodeEpisodeNotFound) {
		t.Fatalf("expected episode-not-found, got %v", err)
	}
}

func TestDeleteEpisodeIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	ep := &core.Episode{Type: core.EpisodeDecision, Content: "temp"}
	if err := m.StoreEpisode(ctx, ep); err != nil {
		t.Fatalf("StoreEpisode: %v", err)
	}
	if err := m.DeleteEpisode(ctx, ep.ID); err != nil {
		t.Fatalf("DeleteEpisode: %v", err)
	}
	if err := m.DeleteEpisode(ctx, ep.ID); err != nil {
		t.Errorf("second delete errored: %v", err)
	}
}

func TestPruneOldEpisodesRespectsImportance(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// Both ten days old; max age seven days. The important one survives
	// because its effective retention is doubled.
	old := time.Now().Add(-10 * 24 * time.Hour)
	plain := &core.Episode{
		ID: "plain", ProjectID: "proj-1", Type: core.EpisodeDecision,
		Content: "routine note", Importance: 1.0, CreatedAt: old,
	}
	important := &core.Episode{
		ID: "important", ProjectID: "proj-1", Type: core.EpisodeDecision,
		Content: "critical architectural decision", Importance: 2.0, CreatedAt: old,
	}
	for _, ep := range []*core.Episode{plain, important} {
		if err := m.StoreEpisode(ctx, ep); err != nil {
			t.Fatalf("StoreEpisode: %v", err)
		}
	}

	n, err := m.PruneOldEpisodes(ctx, "proj-1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("PruneOldEpisodes: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d episodes, want 1", n)
	}

	if _, err := m.GetEpisode(ctx, "plain"); !core.IsCode(err, core.CodeEpisodeNotFound) {
		t.Error("plain episode survived pruning")
	}
	if _, err := m.GetEpisode(ctx, "important"); err != nil {
		t.Errorf("important episode was pruned: %v", err)
	}
}

func TestPruneOldEpisodesDropsVeryOldImportant(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	ep := &core.Episode{
		ID: "ancient", ProjectID: "proj-1", Type: core.EpisodeDecision,
		Content: "long obsolete", Importance: 2.0,
		CreatedAt: time.Now().Add(-15 * 24 * time.Hour),
	}
	if err := m.StoreEpisode(ctx, ep); err != nil {
		t.Fatalf("StoreEpisode: %v", err)
	}

	// Doubled retention is fourteen days; fifteen is past it.
	n, err := m.PruneOldEpisodes(ctx, "proj-1", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("PruneOldEpisodes: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
}

func TestPruneByCountKeepsMostImportant(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	eps := []*core.Episode{
		{ID: "a", ProjectID: "proj-1", Type: core.EpisodeDecision, Content: "a", Importance: 3.0, CreatedAt: base},
		{ID: "b", ProjectID: "proj-1", Type: core.EpisodeDecision, Content: "b", Importance: 1.0, CreatedAt: base.Add(time.Minute)},
		{ID: "c", ProjectID: "proj-1", Type: core.EpisodeDecision, Content: "c", Importance: 2.0, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "d", ProjectID: "proj-1", Type: core.EpisodeDecision, Content: "d", Importance: 1.0, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, ep := range eps {
		if err := m.StoreEpisode(ctx, ep); err != nil {
			t.Fatalf("StoreEpisode: %v", err)
		}
	}

	n, err := m.PruneByCount(ctx, "proj-1", 2)
	if err != nil {
		t.Fatalf("PruneByCount: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}

	// Survivors: highest importance first, recency breaking ties.
	for _, id := range []string{"a", "c"} {
		if _, err := m.GetEpisode(ctx, id); err != nil {
			t.Errorf("episode %s should survive: %v", id, err)
		}
	}
	for _, id := range []string{"b", "d"} {
		if _, err := m.GetEpisode(ctx, id); !core.IsCode(err, core.CodeEpisodeNotFound) {
			t.Errorf("episode %s should be pruned", id)
		}
	}
}

func TestPruneScopesByProject(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	old := time.Now().Add(-10 * 24 * time.Hour)
	mine := &core.Episode{ID: "mine", ProjectID: "proj-1", Type: core.EpisodeDecision, Content: "x", CreatedAt: old}
	other := &core.Episode{ID: "other", ProjectID: "proj-2", Type: core.EpisodeDecision, Content: "y", CreatedAt: old}
	for _, ep := range []*core.Episode{mine, other} {
		if err := m.StoreEpisode(ctx, ep); err != nil {
			t.Fatalf("StoreEpisode: %v", err)
		}
	}

	if _, err := m.PruneOldEpisodes(ctx, "proj-1", 24*time.Hour); err != nil {
		t.Fatalf("PruneOldEpisodes: %v", err)
	}
	if _, err := m.GetEpisode(ctx, "other"); err != nil {
		t.Errorf("pruning crossed project scopes: %v", err)
	}
}

func TestPruneEmptyScopeMeansDefault(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// Stored without a project id, so it lands in the default scope.
	old := &core.Episode{
		ID: "scopeless", Type: core.EpisodeDecision, Content: "x",
		CreatedAt: time.Now().Add(-10 * 24 * time.Hour),
	}
	scoped := &core.Episode{
		ID: "scoped", ProjectID: "proj-1", Type: core.EpisodeDecision, Content: "y",
		CreatedAt: time.Now().Add(-10 * 24 * time.Hour),
	}
	for _, ep := range []*core.Episode{old, scoped} {
		if err := m.StoreEpisode(ctx, ep); err != nil {
			t.Fatalf("StoreEpisode: %v", err)
		}
	}

	n, err := m.PruneOldEpisodes(ctx, "", 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneOldEpisodes: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1 (the default-scope episode)", n)
	}
	if _, err := m.GetEpisode(ctx, "scopeless"); !core.IsCode(err, core.CodeEpisodeNotFound) {
		t.Error("default-scope episode survived empty-scope pruning")
	}
	if _, err := m.GetEpisode(ctx, "scoped"); err != nil {
		t.Errorf("other scope touched: %v", err)
	}

	if err := m.StoreEpisode(ctx, &core.Episode{ID: "again", Type: core.EpisodeDecision, Content: "z"}); err != nil {
		t.Fatalf("StoreEpisode: %v", err)
	}
	n, err = m.PruneByCount(ctx, "", 0)
	if err != nil {
		t.Fatalf("PruneByCount: %v", err)
	}
	if n != 1 {
		t.Errorf("PruneByCount pruned %d, want 1", n)
	}
}
