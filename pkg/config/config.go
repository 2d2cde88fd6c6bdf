// Package config loads dispatch settings from ~/.dispatch/config.yaml
// and the environment. Environment variables win over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the resolved application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string

	// CLI binary overrides, empty means PATH lookup.
	ClaudePath string
	CodexPath  string
	GeminiPath string

	DefaultProvider string
	DefaultModel    string

	BuildTimeout  time.Duration
	ReviewTimeout time.Duration

	EvidenceDir string
	ConfigDir   string
}

// FileConfig represents the structure of ~/.dispatch/config.yaml.
type FileConfig struct {
	APIKeys  APIKeysConfig  `yaml:"api_keys"`
	CLI      CLIConfig      `yaml:"cli"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Evidence EvidenceConfig `yaml:"evidence"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
}

// CLIConfig holds per-backend binary path overrides.
type CLIConfig struct {
	Claude string `yaml:"claude"`
	Codex  string `yaml:"codex"`
	Gemini string `yaml:"gemini"`
}

// DefaultsConfig holds the default backend selection.
type DefaultsConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// TimeoutsConfig holds stage deadlines as Go duration strings.
type TimeoutsConfig struct {
	Build  string `yaml:"build"`
	Review string `yaml:"review"`
}

// EvidenceConfig holds the run journal location.
type EvidenceConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads configuration from the config file and environment variables.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	fileConfig := loadFileConfig(filepath.Join(configDir, "config.yaml"))

	cfg := &Config{
		AnthropicAPIKey: getEnvOrDefault("ANTHROPIC_API_KEY", fileConfig.APIKeys.Anthropic),
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", fileConfig.APIKeys.OpenAI),
		GoogleAPIKey:    getEnvOrDefault("GOOGLE_API_KEY", fileConfig.APIKeys.Google),
		ClaudePath:      fileConfig.CLI.Claude,
		CodexPath:       fileConfig.CLI.Codex,
		GeminiPath:      fileConfig.CLI.Gemini,
		DefaultProvider: fileConfig.Defaults.Provider,
		DefaultModel:    fileConfig.Defaults.Model,
		EvidenceDir:     fileConfig.Evidence.Dir,
		ConfigDir:       configDir,
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "claude"
	}
	if cfg.EvidenceDir == "" {
		cfg.EvidenceDir = filepath.Join(configDir, "runs")
	}

	cfg.BuildTimeout, err = parseTimeout(fileConfig.Timeouts.Build)
	if err != nil {
		return nil, fmt.Errorf("invalid build timeout: %w", err)
	}
	cfg.ReviewTimeout, err = parseTimeout(fileConfig.Timeouts.Review)
	if err != nil {
		return nil, fmt.Errorf("invalid review timeout: %w", err)
	}

	return cfg, nil
}

// HasProvider returns true if the given backend has what it needs to run.
// CLI backends are always considered configured since binaries are
// resolved at run time; hosted backends need an API key.
func (c *Config) HasProvider(name string) bool {
	switch name {
	case "claude", "codex", "gemini":
		return true
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	default:
		return false
	}
}

// CLIPath returns the configured binary override for a CLI backend.
func (c *Config) CLIPath(name string) string {
	switch name {
	case "claude":
		return c.ClaudePath
	case "codex":
		return c.CodexPath
	case "gemini":
		return c.GeminiPath
	default:
		return ""
	}
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) *FileConfig {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	_ = yaml.Unmarshal(data, cfg)
	return cfg
}

func parseTimeout(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %s", value)
	}
	return d, nil
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".dispatch")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
