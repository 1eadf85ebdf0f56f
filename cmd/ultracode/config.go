package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tomgoeck/Ultracode-sub000/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Ultracode configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/ultracode/config.yaml
Project-specific overrides can be placed in .ultracode.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

func displayAllConfig(cfg *config.Config) {
	fmt.Printf("providers.anthropic_api_key: %s\n", config.MaskAPIKey(cfg.Providers.AnthropicAPIKey))
	fmt.Printf("providers.gemini_api_key: %s\n", config.MaskAPIKey(cfg.Providers.GeminiAPIKey))
	fmt.Printf("safety.mode: %s\n", cfg.Safety.Mode)
	fmt.Printf("voting.k: %d\n", cfg.Voting.K)
	fmt.Printf("voting.initial_samples: %d\n", cfg.Voting.InitialSamples)
	fmt.Printf("voting.max_samples: %d\n", cfg.Voting.MaxSamples)
	fmt.Printf("llm_log.mode: %s\n", cfg.LLMLog.Mode)
	fmt.Printf("llm_log.path: %s\n", cfg.LLMLog.Path)
	fmt.Printf("data.dir: %s\n", cfg.Data.Dir)
}

func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "providers.anthropic_api_key":
		return config.MaskAPIKey(cfg.Providers.AnthropicAPIKey), nil
	case "providers.gemini_api_key":
		return config.MaskAPIKey(cfg.Providers.GeminiAPIKey), nil
	case "safety.mode":
		return cfg.Safety.Mode, nil
	case "voting.k":
		return strconv.Itoa(cfg.Voting.K), nil
	case "voting.initial_samples":
		return strconv.Itoa(cfg.Voting.InitialSamples), nil
	case "voting.max_samples":
		return strconv.Itoa(cfg.Voting.MaxSamples), nil
	case "llm_log.mode":
		return cfg.LLMLog.Mode, nil
	case "llm_log.path":
		return cfg.LLMLog.Path, nil
	case "data.dir":
		return cfg.Data.Dir, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "providers.anthropic_api_key":
		cfg.Providers.AnthropicAPIKey = value
	case "providers.gemini_api_key":
		cfg.Providers.GeminiAPIKey = value
	case "safety.mode":
		if value != "ask" && value != "auto" {
			return fmt.Errorf("safety.mode must be ask or auto")
		}
		cfg.Safety.Mode = value
	case "voting.k":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("voting.k must be a positive integer")
		}
		cfg.Voting.K = n
	case "voting.initial_samples":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("voting.initial_samples must be a positive integer")
		}
		cfg.Voting.InitialSamples = n
	case "voting.max_samples":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("voting.max_samples must be a positive integer")
		}
		cfg.Voting.MaxSamples = n
	case "llm_log.mode":
		switch value {
		case "off", "preview", "full":
		default:
			return fmt.Errorf("llm_log.mode must be off, preview, or full")
		}
		cfg.LLMLog.Mode = value
	case "llm_log.path":
		cfg.LLMLog.Path = value
	case "data.dir":
		cfg.Data.Dir = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
