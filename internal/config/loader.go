package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads configuration from file, environment, and bound flags.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a loader with its own viper instance.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "NEXUS",
	}
}

// NewLoaderWithViper creates a loader over an existing viper instance so
// CLI flag bindings participate in precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "NEXUS",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads configuration from all sources. Precedence, highest first:
// bound CLI flags, NEXUS_* environment variables, the project config
// (.nexus.yaml in the working directory), the user config
// (~/.config/nexus/config.yaml), defaults.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".nexus")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "nexus"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("store.path", ".nexus/nexus.db")

	l.v.SetDefault("state.auto_save_interval", "30s")

	l.v.SetDefault("checkpoint.max_checkpoints", 50)
	l.v.SetDefault("checkpoint.interval", "10m")
	l.v.SetDefault("checkpoint.on_feature_complete", true)
	l.v.SetDefault("checkpoint.on_risky_ops", true)
	l.v.SetDefault("checkpoint.restore_git", false)

	l.v.SetDefault("memory.embedder", "local")
	l.v.SetDefault("memory.embed_model", "text-embedding-3-small")
	l.v.SetDefault("memory.max_episodes", 1000)
	l.v.SetDefault("memory.max_age", "720h")
	l.v.SetDefault("memory.token_budget", 2000)

	l.v.SetDefault("api.addr", "127.0.0.1:8600")
	l.v.SetDefault("api.cors_origins", []string{})
	l.v.SetDefault("api.shutdown_timeout", "10s")
}

// ConfigFile returns the config file path actually used, if any.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// DefaultConfigYAML is the annotated starter config written by the init
// command.
const DefaultConfigYAML = `# nexus configuration
log:
  level: info      # debug, info, warn, error
  format: auto     # auto, text, json

store:
  path: .nexus/nexus.db

state:
  auto_save_interval: 30s

checkpoint:
  max_checkpoints: 50
  interval: 10m
  on_feature_complete: true
  on_risky_ops: true
  restore_git: false

memory:
  embedder: local  # local, openai, none
  # embed_base_url: http://localhost:11434
  # embed_api_key: ""
  embed_model: text-embedding-3-small
  max_episodes: 1000
  max_age: 720h
  token_budget: 2000

api:
  addr: 127.0.0.1:8600
  cors_origins: []
  shutdown_timeout: 10s
`
