// API key management utilities.
package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured for a provider.
var ErrNoAPIKey = errors.New("no API key configured")

// Credentials returns the per-provider API keys for the provider registry,
// keyed by provider type. Only configured providers appear.
func (c *Config) Credentials() map[string]string {
	creds := map[string]string{}
	if key := resolveKey("ANTHROPIC_API_KEY", c.Providers.AnthropicAPIKey); key != "" {
		creds["anthropic"] = key
	}
	if key := resolveKey("GEMINI_API_KEY", c.Providers.GeminiAPIKey); key != "" {
		creds["gemini"] = key
	}
	return creds
}

// GetAnthropicKey returns the Anthropic API key, preferring the environment
// variable over the config file.
func GetAnthropicKey(cfg *Config) (string, error) {
	var configured string
	if cfg != nil {
		configured = cfg.Providers.AnthropicAPIKey
	}
	if key := resolveKey("ANTHROPIC_API_KEY", configured); key != "" {
		return key, nil
	}
	return "", ErrNoAPIKey
}

// resolveKey prefers the environment variable, then the configured value
// with any remaining ${VAR} references expanded.
func resolveKey(envVar, configured string) string {
	if key := os.Getenv(envVar); key != "" {
		return key
	}
	key := os.ExpandEnv(configured)
	if key == "" || strings.HasPrefix(key, "${") {
		return ""
	}
	return key
}

// ValidateAnthropicKey performs basic format validation on an Anthropic key.
// It does not verify the key against the API.
func ValidateAnthropicKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey returns a masked version of an API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAnthropicKeySource returns where the Anthropic API key was sourced from.
func GetAnthropicKeySource(cfg *Config) KeySource {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return KeySourceEnv
	}

	if cfg != nil && cfg.Providers.AnthropicAPIKey != "" {
		key := os.ExpandEnv(cfg.Providers.AnthropicAPIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return KeySourceConfig
		}
	}

	return KeySourceNone
}
