// Package config defines the application configuration and its loader.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Store      StoreConfig      `mapstructure:"store"`
	State      StateConfig      `mapstructure:"state"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	API        APIConfig        `mapstructure:"api"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// StateConfig configures the state manager.
type StateConfig struct {
	AutoSaveInterval time.Duration `mapstructure:"auto_save_interval"`
}

// CheckpointConfig configures the checkpoint manager and scheduler.
type CheckpointConfig struct {
	MaxCheckpoints    int           `mapstructure:"max_checkpoints"`
	Interval          time.Duration `mapstructure:"interval"`
	OnFeatureComplete bool          `mapstructure:"on_feature_complete"`
	OnRiskyOps        bool          `mapstructure:"on_risky_ops"`
	RestoreGit        bool          `mapstructure:"restore_git"`
}

// MemoryConfig configures the episodic memory system.
type MemoryConfig struct {
	Embedder     string        `mapstructure:"embedder"` // local, openai, none
	EmbedBaseURL string        `mapstructure:"embed_base_url"`
	EmbedAPIKey  string        `mapstructure:"embed_api_key"`
	EmbedModel   string        `mapstructure:"embed_model"`
	MaxEpisodes  int           `mapstructure:"max_episodes"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	TokenBudget  int           `mapstructure:"token_budget"`
}

// APIConfig configures the read-only HTTP API.
type APIConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path: required")
	}
	if c.Checkpoint.MaxCheckpoints <= 0 {
		return fmt.Errorf("checkpoint.max_checkpoints: must be positive")
	}
	if c.Checkpoint.Interval < 0 {
		return fmt.Errorf("checkpoint.interval: must not be negative")
	}
	switch c.Memory.Embedder {
	case "local", "openai", "none":
	default:
		return fmt.Errorf("memory.embedder: unknown embedder %q", c.Memory.Embedder)
	}
	if c.Memory.Embedder == "openai" && c.Memory.EmbedBaseURL == "" && c.Memory.EmbedAPIKey == "" {
		return fmt.Errorf("memory.embedder: openai needs embed_api_key or a local embed_base_url")
	}
	if c.Memory.TokenBudget < 0 {
		return fmt.Errorf("memory.token_budget: must not be negative")
	}
	if c.API.Addr == "" {
		return fmt.Errorf("api.addr: required")
	}
	return nil
}
