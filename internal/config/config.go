package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for turnbridge.
//
// NOTE: This file contains secrets (API keys). Always keep it chmod 0600.
type Config struct {
	// TransportURL is the websocket endpoint of the agent gateway.
	TransportURL string `yaml:"transport_url"`
	// TransportToken is the bearer token presented on dial, if any.
	TransportToken string `yaml:"transport_token,omitempty"`

	WorkspaceID string `yaml:"workspace_id"`

	// StateDir holds local state (memory database). If empty, the config
	// file's directory is used.
	StateDir string `yaml:"state_dir,omitempty"`

	// CanonicalEvents routes notifications through the engine adapters before
	// the legacy per-method handling.
	CanonicalEvents bool `yaml:"canonical_events,omitempty"`
	// SteerEnabled allows sends to bypass the outbound queue mid-turn.
	SteerEnabled bool `yaml:"steer_enabled,omitempty"`

	Memory MemoryConfig `yaml:"memory,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `yaml:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `yaml:"log_level,omitempty"`
}

// MemoryConfig configures memory capture; leaving both API keys empty disables it.
type MemoryConfig struct {
	AnthropicAPIKey  string `yaml:"anthropic_api_key,omitempty"`
	AnthropicBaseURL string `yaml:"anthropic_base_url,omitempty"`
	OpenAIAPIKey     string `yaml:"openai_api_key,omitempty"`
	OpenAIBaseURL    string `yaml:"openai_base_url,omitempty"`

	SummaryModel  string `yaml:"summary_model,omitempty"`
	ClassifyModel string `yaml:"classify_model,omitempty"`
}

// Enabled reports whether at least one provider is configured.
func (m MemoryConfig) Enabled() bool {
	return strings.TrimSpace(m.AnthropicAPIKey) != "" || strings.TrimSpace(m.OpenAIAPIKey) != ""
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	url := strings.TrimSpace(c.TransportURL)
	if url == "" {
		return errors.New("missing transport_url")
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return errors.New("transport_url must be a ws:// or wss:// url")
	}
	if strings.TrimSpace(c.WorkspaceID) == "" {
		return errors.New("missing workspace_id")
	}
	switch strings.TrimSpace(c.LogFormat) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	switch strings.TrimSpace(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// DefaultConfigPath returns the default config path:
//
//	~/.turnbridge/config.yaml
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "turnbridge.config.yaml"
	}
	return filepath.Join(home, ".turnbridge", "config.yaml")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if strings.TrimSpace(cfg.StateDir) == "" {
		cfg.StateDir = filepath.Dir(path)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
