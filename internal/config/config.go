// Package config handles configuration loading for condoflow.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for condoflow.
type Config struct {
	Paths    PathsConfig       `mapstructure:"paths"`
	Runtime  RuntimeConfig     `mapstructure:"runtime"`
	Defaults DefaultsConfig    `mapstructure:"defaults"`
	Delays   DelaysConfig      `mapstructure:"delays"`
	Timeouts TimeoutsConfig    `mapstructure:"timeouts"`
	Workers  map[string]string `mapstructure:"workers"`
}

// RuntimeConfig points at the agent runtime's RPC endpoint.
type RuntimeConfig struct {
	// URL is the base URL of the agent runtime.
	URL string `mapstructure:"url"`
}

// PathsConfig holds file locations for persisted state.
type PathsConfig struct {
	// Store is the path to the goal document.
	Store string `mapstructure:"store"`
	// Outbox is the path to the relay buffer database.
	Outbox string `mapstructure:"outbox"`
	// Logs is the directory for engine debug logs.
	Logs string `mapstructure:"logs"`
}

// DefaultsConfig holds default values applied to new goals.
type DefaultsConfig struct {
	// AutonomyMode is the mode applied to goals that don't set one.
	AutonomyMode string `mapstructure:"autonomy_mode"`
	// MaxRetries is the per-task retry budget for new goals.
	MaxRetries int `mapstructure:"max_retries"`
	// Worker is the worker identity used when a task's role is unresolved.
	Worker string `mapstructure:"worker"`
	// Manager is the worker identity for plan-cascade manager sessions.
	Manager string `mapstructure:"manager"`
}

// DelaysConfig holds the deferred-cascade delays. Each delayed action
// re-reads fresh state at fire time, so these only bound staleness.
type DelaysConfig struct {
	// Settle is the delay before a re-kickoff after a task transition.
	Settle time.Duration `mapstructure:"settle"`
	// Sweep is the delay before a condo-wide unblocked-goal sweep.
	Sweep time.Duration `mapstructure:"sweep"`
}

// TimeoutsConfig holds timeouts for runtime RPC calls.
type TimeoutsConfig struct {
	// Send bounds instruction delivery to a session.
	Send time.Duration `mapstructure:"send"`
	// History bounds fetching a session's conversation history.
	History time.Duration `mapstructure:"history"`
	// Git bounds push and merge operations.
	Git time.Duration `mapstructure:"git"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables (CONDOFLOW_*)
// 2. Project config (.condoflow.yaml in current directory or a parent)
// 3. User config (~/.config/condoflow/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CONDOFLOW")
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures built-in default values.
func setDefaults(v *viper.Viper) {
	dataDir := getUserDataDir()
	v.SetDefault("paths.store", filepath.Join(dataDir, "condoflow.json"))
	v.SetDefault("paths.outbox", filepath.Join(dataDir, "relay.db"))
	v.SetDefault("paths.logs", filepath.Join(dataDir, "logs"))

	v.SetDefault("runtime.url", "http://127.0.0.1:7230")

	v.SetDefault("defaults.autonomy_mode", "supervised")
	v.SetDefault("defaults.max_retries", 1)
	v.SetDefault("defaults.worker", "main")
	v.SetDefault("defaults.manager", "manager")

	v.SetDefault("delays.settle", 1500*time.Millisecond)
	v.SetDefault("delays.sweep", time.Second)

	v.SetDefault("timeouts.send", 30*time.Second)
	v.SetDefault("timeouts.history", 30*time.Second)
	v.SetDefault("timeouts.git", 2*time.Minute)
}

// getUserConfigDir returns the XDG config directory for condoflow.
func getUserConfigDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "condoflow")
}

// getUserDataDir returns the XDG data directory for condoflow.
func getUserDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "condoflow")
}

// findProjectConfig walks up from the working directory looking for a
// .condoflow.yaml file.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".condoflow.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
