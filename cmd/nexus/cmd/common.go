package cmd

import (
	"context"
	"fmt"

	"github.com/nexus-orchestrator/nexus/internal/adapters/embed"
	gitadapter "github.com/nexus-orchestrator/nexus/internal/adapters/git"
	"github.com/nexus-orchestrator/nexus/internal/checkpoint"
	"github.com/nexus-orchestrator/nexus/internal/core"
	"github.com/nexus-orchestrator/nexus/internal/events"
	"github.com/nexus-orchestrator/nexus/internal/memory"
	"github.com/nexus-orchestrator/nexus/internal/review"
	"github.com/nexus-orchestrator/nexus/internal/state"
	"github.com/nexus-orchestrator/nexus/internal/store"
)

// app bundles the wired subsystems a command needs.
type app struct {
	db          *store.DB
	bus         *events.Bus
	states      *state.Manager
	checkpoints *checkpoint.Manager
	memories    *memory.Manager
	reviews     *review.Manager
}

// openApp wires the subsystems from the loaded configuration.
func openApp() (*app, error) {
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", cfg.Store.Path, err)
	}

	bus := events.New(100)
	states := state.NewManager(db, log, state.WithBus(bus))
	checkpoints := checkpoint.NewManager(db, states, log,
		checkpoint.WithBus(bus),
		checkpoint.WithMaxCheckpoints(cfg.Checkpoint.MaxCheckpoints))
	reviews := review.NewManager(db, log)

	memOpts := []memory.Option{}
	if e := buildEmbedder(); e != nil {
		memOpts = append(memOpts, memory.WithEmbedder(e))
	}
	memories := memory.NewManager(db, log, memOpts...)

	return &app{
		db:          db,
		bus:         bus,
		states:      states,
		checkpoints: checkpoints,
		memories:    memories,
		reviews:     reviews,
	}, nil
}

func (a *app) close() {
	a.states.Close()
	a.bus.Close()
	_ = a.db.Close()
}

func buildEmbedder() core.Embedder {
	switch cfg.Memory.Embedder {
	case "openai":
		return embed.NewOpenAI(embed.OpenAIConfig{
			BaseURL: cfg.Memory.EmbedBaseURL,
			APIKey:  cfg.Memory.EmbedAPIKey,
			Model:   cfg.Memory.EmbedModel,
		})
	case "none":
		return nil
	default:
		return embed.NewLocal()
	}
}

// checkpointManagerFor returns a checkpoint manager with a git client
// attached when the project's root path is a repository. Falls back to
// the plain manager otherwise.
func (a *app) checkpointManagerFor(ctx context.Context, projectID string) (*checkpoint.Manager, error) {
	st, err := a.states.LoadState(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if st == nil || st.RootPath == "" {
		return a.checkpoints, nil
	}

	git, err := gitadapter.NewClient(st.RootPath)
	if err != nil {
		log.Debug("project root is not a git repository", "project_id", projectID, "path", st.RootPath)
		return a.checkpoints, nil
	}
	return checkpoint.NewManager(a.db, a.states, log,
		checkpoint.WithBus(a.bus),
		checkpoint.WithMaxCheckpoints(cfg.Checkpoint.MaxCheckpoints),
		checkpoint.WithGit(git)), nil
}
