package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nexus-orchestrator/nexus/internal/api"
	"github.com/nexus-orchestrator/nexus/internal/checkpoint"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the read-only API server and checkpoint scheduler",
	Long: `serve starts the HTTP API for inspecting state, checkpoints, memory and
pending reviews, and runs the checkpoint scheduler for every known
project until interrupted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		scheduler := checkpoint.NewScheduler(a.checkpoints, a.bus, log,
			checkpoint.SchedulerConfig{
				Interval:          cfg.Checkpoint.Interval,
				OnFeatureComplete: &cfg.Checkpoint.OnFeatureComplete,
				OnRiskyOps:        &cfg.Checkpoint.OnRiskyOps,
			},
			checkpoint.WithReviewer(a.reviews))

		projects, err := a.states.ListProjects(ctx)
		if err != nil {
			return err
		}
		for _, id := range projects {
			if err := scheduler.Watch(id); err != nil {
				return fmt.Errorf("watching project %s: %w", id, err)
			}
			if cfg.State.AutoSaveInterval > 0 {
				a.states.EnableAutoSave(id, cfg.State.AutoSaveInterval)
			}
		}

		if err := scheduler.Start(); err != nil {
			return err
		}
		defer scheduler.Stop()

		server := api.NewServer(a.states, a.checkpoints, a.memories, a.reviews, log,
			api.WithCORSOrigins(cfg.API.CORSOrigins))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Info("api server listening", "addr", cfg.API.Addr)
			return server.ListenAndServe(gctx, cfg.API.Addr, cfg.API.ShutdownTimeout)
		})

		if err := g.Wait(); err != nil {
			return fmt.Errorf("serving: %w", err)
		}
		log.Info("shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
