package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AnthropicConfig represents configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`  // Anthropic API key
	BaseURL string `yaml:"base_url,omitempty"` // Custom base URL
	Model   string `yaml:"model,omitempty"`    // Default model name
}

// OpenAIConfig represents configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`      // OpenAI API key
	BaseURL      string `yaml:"base_url,omitempty"`     // Custom base URL (default: official API)
	Model        string `yaml:"model,omitempty"`        // Default model name
	Organization string `yaml:"organization,omitempty"` // Organization ID
}

// GeminiConfig represents configuration for the Gemini provider.
type GeminiConfig struct {
	APIKey string `yaml:"api_key,omitempty"` // Gemini API key
	Model  string `yaml:"model,omitempty"`   // Default model name
}

// ToolConfig declares per-tool behavior for the follow-up loop.
type ToolConfig struct {
	// IdempotentLookup marks read-only lookup tools; the orchestrator runs
	// them at most once per follow-up round even if requested repeatedly.
	IdempotentLookup bool `yaml:"idempotent_lookup,omitempty"`
}

// SessionConfig tunes the streaming orchestrator.
type SessionConfig struct {
	MaxFollowupRounds      int `yaml:"max_followup_rounds,omitempty"`       // Cap on tool follow-up rounds per turn
	DuplicateDeltaMinBytes int `yaml:"duplicate_delta_min_bytes,omitempty"` // Threshold for dropping repeated deltas
	ChunkIdleTimeout       int `yaml:"chunk_idle_timeout,omitempty"`        // Seconds to wait for the next vendor chunk
}

// ServerConfig represents configuration for the gatewayd daemon.
type ServerConfig struct {
	// Provider configurations
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`
	Gemini    GeminiConfig    `yaml:"gemini,omitempty"`

	// Providers lists the vendors to enable, in preference order.
	Providers []string `yaml:"providers,omitempty"`

	Session SessionConfig          `yaml:"session,omitempty"`
	Tools   map[string]*ToolConfig `yaml:"tools,omitempty"`

	// Storage
	DBPath         string `yaml:"db_path,omitempty"`
	MigrationsPath string `yaml:"migrations_path,omitempty"`
}

// GetServerConfigPath returns the default server config file path.
// Can be overridden via GATEWAY_CONFIG_PATH environment variable.
func GetServerConfigPath() string {
	if envPath := os.Getenv("GATEWAY_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.gatewayd/config.yaml"
	}
	return filepath.Join(homeDir, ".gatewayd", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// SaveServerConfig saves the server configuration to the specified path.
func SaveServerConfig(cfg *ServerConfig, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadServerConfig loads server-side configuration: defaults, then the
// config file merged on top (if it exists).
func LoadServerConfig(path string) (*ServerConfig, error) {
	defaults := ServerConfig{
		Providers: []string{"anthropic"},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.0-flash",
		},
		Session: SessionConfig{
			MaxFollowupRounds:      3,
			DuplicateDeltaMinBytes: 200,
			ChunkIdleTimeout:       60,
		},
		Tools:          make(map[string]*ToolConfig),
		DBPath:         "gateway.db",
		MigrationsPath: "./migrations",
	}

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err != nil {
		// File doesn't exist, return defaults
		return &defaults, nil
	}

	configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
	}

	var fileConfig ServerConfig
	if err := yaml.Unmarshal(configYAML, &fileConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := mergo.Merge(&defaults, fileConfig, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}

	if defaults.Tools == nil {
		defaults.Tools = make(map[string]*ToolConfig)
	}

	return &defaults, nil
}
