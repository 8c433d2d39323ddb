package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexus-orchestrator/nexus/internal/core"
	"github.com/nexus-orchestrator/nexus/internal/events"
	"github.com/nexus-orchestrator/nexus/internal/logging"
	"github.com/nexus-orchestrator/nexus/internal/state"
	"github.com/nexus-orchestrator/nexus/internal/store"
)

// fakeGit is a scripted git client.
type fakeGit struct {
	isRepo     bool
	head       string
	headErr    error
	checkedOut []string
}

func (g *fakeGit) IsRepository(context.Context) bool { return g.isRepo }

func (g *fakeGit) Head(context.Context) (string, error) {
	return g.head, g.headErr
}

func (g *fakeGit) Log(context.Context, int) ([]core.Commit, error) {
	return nil, nil
}

func (g *fakeGit) CheckoutBranch(_ context.Context, ref string) error {
	g.checkedOut = append(g.checkedOut, ref)
	return nil
}

type testEnv struct {
	db     *store.DB
	states *state.Manager
	mgr    *Manager
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "nexus.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	states := state.NewManager(db, logging.NewNop())
	t.Cleanup(states.Close)

	return &testEnv{
		db:     db,
		states: states,
		mgr:    NewManager(db, states, logging.NewNop(), opts...),
	}
}

func seedState(t *testing.T, env *testEnv, projectID string) *core.NexusState {
	t.Helper()
	st := &core.NexusState{
		ProjectID: projectID,
		Name:      "payments",
		Mode:      core.ModeGenesis,
		Status:    core.StatusExecuting,
		Features: []core.Feature{
			{ID: "feat-1", Name: "refunds", Priority: core.PriorityMust, Status: "in_progress"},
		},
		Tasks: []core.Task{
			{ID: "task-1", FeatureID: "feat-1", Name: "refund API", Type: core.TaskTypeAuto, Status: "pending"},
		},
	}
	if err := env.states.SaveState(context.Background(), st); err != nil {
		t.Fatalf("seeding state: %v", err)
	}
	return st
}

func TestCreateCheckpointCapturesState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedState(t, env, "proj-1")

	cp, err := env.mgr.CreateCheckpoint(ctx, "proj-1", "before refactor", "manual")
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
	if cp.ID == "" {
		t.Fatal("checkpoint id empty")
	}
	if cp.Name != "before refactor" || cp.Reason != "manual" {
		t.Errorf("name/reason: %q/%q", cp.Name, cp.Reason)
	}

	decoded, err := cp.DecodeState()
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if decoded.ProjectID != "proj-1" || len(decoded.Features) != 1 || len(decoded.Tasks) != 1 {
		t.Errorf("captured state incomplete: %+v", decoded)
	}

	// The project records its last checkpoint.
	st, err := env.states.LoadState(ctx, "proj-1")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.Settings.LastCheckpointID() != cp.ID {
		t.Errorf("lastCheckpointId = %q, want %q", st.Settings.LastCheckpointID(), cp.ID)
	}
}

func TestCreateCheckpointWithoutState(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mgr.CreateCheckpoint(context.Background(), "ghost", "x", "manual")
	if !core.IsCode(err, core.CodeCheckpointFailed) {
		t.Fatalf("expected checkpoint-failed, got %v", err)
	}
}

func TestCreateCheckpointRecordsHead(t *testing.T) {
	git := &fakeGit{isRepo: true, head: "abc123def"}
	env := newTestEnv(t, WithGit(git))
	seedState(t, env, "proj-1")

	cp, err := env.mgr.CreateCheckpoint(context.Background(), "proj-1", "x", "manual")
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
	if cp.GitCommit != "abc123def" {
		t.Errorf("gitCommit = %q", cp.GitCommit)
	}
}

func TestCreateCheckpointGitFailureDegrades(t *testing.T) {
	git := &fakeGit{isRepo: true, headErr: errors.New("git broke")}
	env := newTestEnv(t, WithGit(git))
	seedState(t, env, "proj-1")

	cp, err := env.mgr.CreateCheckpoint(context.Background(), "proj-1", "x", "manual")
	if err != nil {
		t.Fatalf("CreateCheckpoint should not fail on git error: %v", err)
	}
	if cp.GitCommit != "" {
		t.Errorf("gitCommit = %q, want empty", cp.GitCommit)
	}
}

func TestCreateAutoCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	seedState(t, env, "proj-1")

	cp, err := env.mgr.CreateAutoCheckpoint(context.Background(), "proj-1", TriggerFeatureComplete)
	if err != nil {
		t.Fatalf("CreateAutoCheckpoint: %v", err)
	}
	if cp.Reason != "auto:feature_complete" {
		t.Errorf("reason = %q", cp.Reason)
	}

	trigger, err := ParseTrigger(cp.Reason)
	if err != nil {
		t.Fatalf("ParseTrigger: %v", err)
	}
	if trigger != TriggerFeatureComplete {
		t.Errorf("trigger = %q", trigger)
	}
}

func TestCreateAutoCheckpointUnknownTrigger(t *testing.T) {
	env := newTestEnv(t)
	seedState(t, env, "proj-1")

	if _, err := env.mgr.CreateAutoCheckpoint(context.Background(), "proj-1", Trigger("vibes")); err == nil {
		t.Fatal("expected error for unknown trigger")
	}
}

func TestParseTriggerRejectsManualReasons(t *testing.T) {
	if _, err := ParseTrigger("manual"); err == nil {
		t.Error("expected error for manual reason")
	}
	if _, err := ParseTrigger("auto:vibes"); err == nil {
		t.Error("expected error for unknown trigger")
	}
}

func TestRestoreCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	st := seedState(t, env, "proj-1")

	cp, err := env.mgr.CreateCheckpoint(ctx, "proj-1", "baseline", "manual")
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	// Mutate the live state past the checkpoint.
	st.Status = core.StatusFailed
	st.Tasks = append(st.Tasks, core.Task{
		ID: "task-2", Name: "extra", Type: core.TaskTypeAuto, Status: "pending",
	})
	if err := env.states.SaveState(ctx, st); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	restored, err := env.mgr.RestoreCheckpoint(ctx, cp.ID, RestoreOptions{})
	if err != nil {
		t.Fatalf("RestoreCheckpoint: %v", err)
	}
	if restored.Status != core.StatusExecuting {
		t.Errorf("restored status = %s", restored.Status)
	}

	got, err := env.states.LoadState(ctx, "proj-1")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got.Status != core.StatusExecuting {
		t.Errorf("persisted status = %s", got.Status)
	}
	if len(got.Tasks) != 1 {
		t.Errorf("restore kept stale task set: %d tasks", len(got.Tasks))
	}
	if got.Settings.LastCheckpointID() != cp.ID {
		t.Errorf("lastCheckpointId = %q", got.Settings.LastCheckpointID())
	}
}

func TestRestoreCheckpointNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.mgr.RestoreCheckpoint(context.Background(), "ghost", RestoreOptions{})
	if !core.IsCode(err, core.CodeCheckpointNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestRestoreCorruptBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, project_id, state, created_at)
		VALUES ('bad-cp', 'proj-1', '{not json', ?)
	`, time.Now())
	if err != nil {
		t.Fatalf("inserting corrupt checkpoint: %v", err)
	}

	_, err = env.mgr.RestoreCheckpoint(ctx, "bad-cp", RestoreOptions{})
	if !core.IsCode(err, core.CodeRestoreFailed) {
		t.Fatalf("expected restore-failed, got %v", err)
	}
}

func TestRestoreWithGitCheckout(t *testing.T) {
	git := &fakeGit{isRepo: true, head: "abc123"}
	env := newTestEnv(t, WithGit(git))
	ctx := context.Background()
	seedState(t, env, "proj-1")

	cp, err := env.mgr.CreateCheckpoint(ctx, "proj-1", "x", "manual")
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	if _, err := env.mgr.RestoreCheckpoint(ctx, cp.ID, RestoreOptions{CheckoutGit: true}); err != nil {
		t.Fatalf("RestoreCheckpoint: %v", err)
	}
	if len(git.checkedOut) != 1 || git.checkedOut[0] != "abc123" {
		t.Errorf("checkout refs = %v", git.checkedOut)
	}
}

func TestListCheckpointsNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedState(t, env, "proj-1")

	var ids []string
	for i := 0; i < 3; i++ {
		cp, err := env.mgr.CreateCheckpoint(ctx, "proj-1", "", "manual")
		if err != nil {
			t.Fatalf("CreateCheckpoint: %v", err)
		}
		ids = append(ids, cp.ID)
	}

	list, err := env.mgr.ListCheckpoints(ctx, "proj-1")
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d checkpoints", len(list))
	}
	for i := 0; i < 3; i++ {
		if list[i].ID != ids[2-i] {
			t.Errorf("position %d: got %s, want %s", i, list[i].ID, ids[2-i])
		}
	}
}

func TestDeleteCheckpointIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedState(t, env, "proj-1")

	cp, err := env.mgr.CreateCheckpoint(ctx, "proj-1", "", "manual")
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
	if err := env.mgr.DeleteCheckpoint(ctx, cp.ID); err != nil {
		t.Fatalf("DeleteCheckpoint: %v", err)
	}
	if err := env.mgr.DeleteCheckpoint(ctx, cp.ID); err != nil {
		t.Errorf("second delete errored: %v", err)
	}
	if _, err := env.mgr.GetCheckpoint(ctx, cp.ID); !core.IsCode(err, core.CodeCheckpointNotFound) {
		t.Errorf("checkpoint survived delete: %v", err)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	env := newTestEnv(t, WithMaxCheckpoints(3))
	ctx := context.Background()
	seedState(t, env, "proj-1")

	var ids []string
	for i := 0; i < 5; i++ {
		cp, err := env.mgr.CreateCheckpoint(ctx, "proj-1", "", "manual")
		if err != nil {
			t.Fatalf("CreateCheckpoint: %v", err)
		}
		ids = append(ids, cp.ID)
	}

	// CreateCheckpoint prunes as it goes; only the newest three remain.
	list, err := env.mgr.ListCheckpoints(ctx, "proj-1")
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d checkpoints, want 3", len(list))
	}
	for i, want := range []string{ids[4], ids[3], ids[2]} {
		if list[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, list[i].ID, want)
		}
	}
}

func TestCheckpointCreatedEvent(t *testing.T) {
	bus := events.New(8)
	defer bus.Close()
	env := newTestEnv(t, WithBus(bus))
	seedState(t, env, "proj-1")

	ch := bus.Subscribe(events.TypeCheckpointCreated)

	cp, err := env.mgr.CreateCheckpoint(context.Background(), "proj-1", "", "manual")
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	select {
	case ev := <-ch:
		created, ok := ev.(events.CheckpointCreatedEvent)
		if !ok {
			t.Fatalf("unexpected event %T", ev)
		}
		if created.CheckpointID != cp.ID {
			t.Errorf("event checkpoint id = %s", created.CheckpointID)
		}
	case <-time.After(time.Second):
		t.Fatal("no checkpoint-created event")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedState(t, env, "proj-1")

	cp, err := env.mgr.CreateCheckpoint(ctx, "proj-1", "export me", "manual")
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	path := filepath.Join(t.TempDir(), "cp.json")
	if err := env.mgr.ExportCheckpoint(ctx, cp.ID, path); err != nil {
		t.Fatalf("ExportCheckpoint: %v", err)
	}

	// Import into a fresh database.
	other := newTestEnv(t)
	imported, err := other.mgr.ImportCheckpoint(ctx, path)
	if err != nil {
		t.Fatalf("ImportCheckpoint: %v", err)
	}
	if imported.ID != cp.ID || imported.Name != "export me" {
		t.Errorf("imported checkpoint: %+v", imported)
	}

	got, err := other.mgr.GetCheckpoint(ctx, cp.ID)
	if err != nil {
		t.Fatalf("GetCheckpoint after import: %v", err)
	}
	decoded, err := got.DecodeState()
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if decoded.ProjectID != "proj-1" {
		t.Errorf("decoded project = %s", decoded.ProjectID)
	}

	// Importing the same id twice is rejected.
	if _, err := other.mgr.ImportCheckpoint(ctx, path); err == nil {
		t.Error("duplicate import accepted")
	}
}
