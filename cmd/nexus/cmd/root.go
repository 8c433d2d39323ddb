// Package cmd implements the nexus CLI.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nexus-orchestrator/nexus/internal/config"
	"github.com/nexus-orchestrator/nexus/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	appVersion string
	appCommit  string
	appDate    string

	cfg *config.Config
	log *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "State and recovery core for autonomous agent orchestration",
	Long: `nexus persists the execution state of agent-driven projects, captures
point-in-time checkpoints for recovery, and keeps an episodic memory of
agent activity for semantic recall.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// Version and init work without a valid config.
		switch cmd.Name() {
		case "version", "init":
			return nil
		}
		return initConfig()
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion injects build-time version information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .nexus.yaml, then ~/.config/nexus/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() error {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}

	var err error
	cfg, err = loader.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log = logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	return nil
}
