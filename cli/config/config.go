// Package config handles CLI configuration loading and management.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pijaz/pijaz-go/core"
)

// Environment variables that override the config file.
const (
	EnvAppID           = "PIJAZ_APP_ID"
	EnvAPIKey          = "PIJAZ_API_KEY"
	EnvAPIServerURL    = "PIJAZ_API_SERVER_URL"
	EnvRenderServerURL = "PIJAZ_RENDER_SERVER_URL"
	EnvMasterKey       = "PIJAZ_MASTER_KEY"
)

// Config represents the CLI configuration.
type Config struct {
	AppID           string                    `yaml:"app_id"`
	APIKeyRef       string                    `yaml:"api_key_ref,omitempty"`
	APIServerURL    string                    `yaml:"api_server_url,omitempty"`
	RenderServerURL string                    `yaml:"render_server_url,omitempty"`
	RefreshFuzz     time.Duration             `yaml:"refresh_fuzz,omitempty"`
	MaxAttempts     int                       `yaml:"max_attempts,omitempty"`
	Timeout         time.Duration             `yaml:"timeout,omitempty"`
	RateLimit       float64                   `yaml:"rate_limit,omitempty"`
	LogFormat       string                    `yaml:"log_format,omitempty"`
	Workflows       map[string]WorkflowConfig `yaml:"workflows,omitempty"`

	// APIKey is only ever set from the environment, never from the file.
	APIKey string `yaml:"-"`
}

// WorkflowConfig holds per-workflow render settings.
type WorkflowConfig struct {
	XML      string            `yaml:"xml,omitempty"`
	Defaults map[string]string `yaml:"defaults,omitempty"`
}

// DefaultConfigPath returns the default configuration file path for the current platform.
// - macOS/Linux: ~/.pijaz/config.yaml
// - Windows: %USERPROFILE%\.pijaz\config.yaml
func DefaultConfigPath() string {
	home := homeDir()
	if home == "" {
		return "config.yaml"
	}
	return filepath.Join(home, ".pijaz", "config.yaml")
}

func homeDir() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("USERPROFILE")
	}
	return os.Getenv("HOME")
}

// LoadConfig loads configuration from the specified path.
// If the file doesn't exist, returns an empty config without error.
// Returns an error only if the file exists but cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Workflows: make(map[string]WorkflowConfig),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.Workflows == nil {
		cfg.Workflows = make(map[string]WorkflowConfig)
	}
	return cfg, nil
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overrides fields from PIJAZ_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvAppID); v != "" {
		c.AppID = v
	}
	if v := getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
	if v := getenv(EnvAPIServerURL); v != "" {
		c.APIServerURL = v
	}
	if v := getenv(EnvRenderServerURL); v != "" {
		c.RenderServerURL = v
	}
}

// KeyRef returns the keystore entry holding the API key: api_key_ref when
// set, else the app ID.
func (c *Config) KeyRef() string {
	if c.APIKeyRef != "" {
		return c.APIKeyRef
	}
	return c.AppID
}

// Workflow returns the settings for id, or the zero value.
func (c *Config) Workflow(id string) WorkflowConfig {
	if c.Workflows == nil {
		return WorkflowConfig{}
	}
	return c.Workflows[id]
}

// ServerConfig converts the CLI config into an SDK config. apiKey is
// passed separately because it usually comes from the keystore.
func (c *Config) ServerConfig(apiKey string) core.Config {
	cfg := core.DefaultConfig(c.AppID, apiKey)
	if c.APIServerURL != "" {
		cfg.APIServerURL = c.APIServerURL
	}
	if c.RenderServerURL != "" {
		cfg.RenderServerURL = c.RenderServerURL
	}
	if c.RefreshFuzz > 0 {
		cfg.RefreshFuzz = c.RefreshFuzz
	}
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	return cfg
}

// Save writes the config to path, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
