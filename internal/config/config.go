// Package config handles configuration loading and management for Ultracode.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for Ultracode.
type Config struct {
	Providers ProvidersConfig `mapstructure:"providers"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Voting    VotingConfig    `mapstructure:"voting"`
	LLMLog    LLMLogConfig    `mapstructure:"llm_log"`
	Data      DataConfig      `mapstructure:"data"`
}

// ProvidersConfig holds per-provider API settings.
type ProvidersConfig struct {
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	GeminiAPIKey    string `mapstructure:"gemini_api_key"`
	// AWSRegion enables the Bedrock path when set.
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// SafetyConfig holds command execution safety settings.
type SafetyConfig struct {
	// Mode is "ask" or "auto".
	Mode string `mapstructure:"mode"`
	// Allowlist patterns mark matching commands low severity.
	Allowlist []string `mapstructure:"allowlist"`
	// Denylist patterns block matching commands outright.
	Denylist []string `mapstructure:"denylist"`
	// PolicyFile optionally points at a full YAML command policy.
	PolicyFile string `mapstructure:"policy_file"`
}

// VotingConfig holds default consensus parameters.
type VotingConfig struct {
	K              int `mapstructure:"k"`
	InitialSamples int `mapstructure:"initial_samples"`
	MaxSamples     int `mapstructure:"max_samples"`
}

// LLMLogConfig controls model interaction logging.
type LLMLogConfig struct {
	// Mode is "off", "preview", or "full".
	Mode string `mapstructure:"mode"`
	// Path is the log file. Empty logs under the data directory.
	Path string `mapstructure:"path"`
}

// DataConfig holds durable storage settings.
type DataConfig struct {
	// Dir is the process-wide data directory.
	Dir string `mapstructure:"dir"`
}

// DatabasePath returns the sqlite database location under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.Dir, "ultracode.db")
}

// WorkspacesDir returns the directory for transient ad-hoc task workspaces.
func (c *Config) WorkspacesDir() string {
	return filepath.Join(c.Data.Dir, "workspaces")
}

// Load loads configuration from XDG paths, project overrides, and environment
// variables. Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, GEMINI_API_KEY)
// 2. Project config (.ultracode.yaml in current directory or parent)
// 3. User config (~/.config/ultracode/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("providers.anthropic_api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("providers.gemini_api_key", "GEMINI_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Providers.AnthropicAPIKey = expandEnv(cfg.Providers.AnthropicAPIKey)
	cfg.Providers.GeminiAPIKey = expandEnv(cfg.Providers.GeminiAPIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
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

	cfg.Providers.AnthropicAPIKey = expandEnv(cfg.Providers.AnthropicAPIKey)
	cfg.Providers.GeminiAPIKey = expandEnv(cfg.Providers.GeminiAPIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("providers.anthropic_api_key", cfg.Providers.AnthropicAPIKey)
	v.Set("providers.gemini_api_key", cfg.Providers.GeminiAPIKey)
	v.Set("providers.aws_region", cfg.Providers.AWSRegion)
	v.Set("providers.aws_profile", cfg.Providers.AWSProfile)
	v.Set("safety.mode", cfg.Safety.Mode)
	v.Set("safety.allowlist", cfg.Safety.Allowlist)
	v.Set("safety.denylist", cfg.Safety.Denylist)
	v.Set("safety.policy_file", cfg.Safety.PolicyFile)
	v.Set("voting.k", cfg.Voting.K)
	v.Set("voting.initial_samples", cfg.Voting.InitialSamples)
	v.Set("voting.max_samples", cfg.Voting.MaxSamples)
	v.Set("llm_log.mode", cfg.LLMLog.Mode)
	v.Set("llm_log.path", cfg.LLMLog.Path)
	v.Set("data.dir", cfg.Data.Dir)

	return v.WriteConfig()
}

// Default returns a Config with default values.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults always unmarshal cleanly.
	_ = v.Unmarshal(cfg)
	return cfg
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("providers.anthropic_api_key", "")
	v.SetDefault("providers.gemini_api_key", "")
	v.SetDefault("providers.aws_region", "")
	v.SetDefault("providers.aws_profile", "")

	v.SetDefault("safety.mode", "ask")
	v.SetDefault("safety.allowlist", []string{})
	v.SetDefault("safety.denylist", []string{})
	v.SetDefault("safety.policy_file", "")

	v.SetDefault("voting.k", 2)
	v.SetDefault("voting.initial_samples", 3)
	v.SetDefault("voting.max_samples", 6)

	v.SetDefault("llm_log.mode", "off")
	v.SetDefault("llm_log.path", "")

	v.SetDefault("data.dir", defaultDataDir())
}

// getUserConfigDir returns the XDG config directory for Ultracode.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ultracode")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "ultracode")
	}
	return filepath.Join(home, ".config", "ultracode")
}

// defaultDataDir returns the XDG data directory for Ultracode.
func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "ultracode")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "data")
	}
	return filepath.Join(home, ".local", "share", "ultracode")
}

// findProjectConfig searches for .ultracode.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".ultracode.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in configured values.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}
