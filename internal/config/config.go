// Package config handles application configuration loading and validation.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// ConfigFileName is the default configuration file name
	ConfigFileName = "config.json"
	// ConfigDirName is the directory name under user home
	ConfigDirName = ".analyzehub"
	// EnvDataDir is the environment variable for data directory (highest priority)
	EnvDataDir = "DATA"
	// EnvPort is the environment variable for the view server port (highest priority)
	EnvPort = "PORT"
	// EnvBackendURL is the environment variable for the analysis service base URL
	EnvBackendURL = "BACKEND_URL"
)

// Defaults for the analyzer section.
const (
	DefaultBackendURL            = "http://localhost:5000"
	DefaultTimeoutSeconds        = 60
	DefaultBaseDelayMs           = 3000
	DefaultMaxAttempts           = 3
	DefaultDebounceMs            = 500
	DefaultCooldownSeconds       = 30
	DefaultRecentTargetsCapacity = 5
	DefaultPort                  = 5600
	DefaultHistoryDatabaseName   = "history.sqlite"
)

// Validation errors
var (
	ErrInvalidPort       = errors.New("port must be between 1 and 65535")
	ErrEmptyBackendURL   = errors.New("analyzer backendUrl is required")
	ErrInvalidBackendURL = errors.New("analyzer backendUrl must be an absolute http(s) URL")
	ErrInvalidTimeout    = errors.New("analyzer timeoutSeconds must be positive")
	ErrInvalidAttempts   = errors.New("analyzer maxAttempts must be positive")
)

// AnalyzerConfig configures the remote analysis client and the request gate.
type AnalyzerConfig struct {
	BackendURL             string `json:"backendUrl,omitempty"`
	TimeoutSeconds         int    `json:"timeoutSeconds,omitempty"`
	BaseDelayMs            int    `json:"baseDelayMs,omitempty"`
	MaxAttempts            int    `json:"maxAttempts,omitempty"`
	DebounceMs             int    `json:"debounceMs,omitempty"`
	DefaultCooldownSeconds int    `json:"defaultCooldownSeconds,omitempty"`
}

// DefaultAnalyzerConfig returns the analyzer defaults.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		BackendURL:             DefaultBackendURL,
		TimeoutSeconds:         DefaultTimeoutSeconds,
		BaseDelayMs:            DefaultBaseDelayMs,
		MaxAttempts:            DefaultMaxAttempts,
		DebounceMs:             DefaultDebounceMs,
		DefaultCooldownSeconds: DefaultCooldownSeconds,
	}
}

// WithDefaults fills zero fields from DefaultAnalyzerConfig.
func (a AnalyzerConfig) WithDefaults() AnalyzerConfig {
	def := DefaultAnalyzerConfig()
	if strings.TrimSpace(a.BackendURL) == "" {
		a.BackendURL = def.BackendURL
	}
	if a.TimeoutSeconds <= 0 {
		a.TimeoutSeconds = def.TimeoutSeconds
	}
	if a.BaseDelayMs <= 0 {
		a.BaseDelayMs = def.BaseDelayMs
	}
	if a.MaxAttempts <= 0 {
		a.MaxAttempts = def.MaxAttempts
	}
	if a.DebounceMs <= 0 {
		a.DebounceMs = def.DebounceMs
	}
	if a.DefaultCooldownSeconds <= 0 {
		a.DefaultCooldownSeconds = def.DefaultCooldownSeconds
	}
	return a
}

// Timeout returns the per-request timeout.
func (a AnalyzerConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// BaseDelay returns the retry backoff unit.
func (a AnalyzerConfig) BaseDelay() time.Duration {
	return time.Duration(a.BaseDelayMs) * time.Millisecond
}

// Debounce returns the submission debounce window.
func (a AnalyzerConfig) Debounce() time.Duration {
	return time.Duration(a.DebounceMs) * time.Millisecond
}

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppConfigKV map[string]interface{} `json:"appConfig,omitempty"`
	Analyzer    AnalyzerConfig         `json:"analyzer"`
}

// ConfigLoader handles loading configuration from JSON file
type ConfigLoader struct {
	path string
}

// NewConfigLoader creates a new ConfigLoader with the specified path
// If path is empty, it will search for config.json in the following order:
// 1. DATA environment variable directory
// 2. Current directory
// 3. User home directory under .analyzehub
func NewConfigLoader(path string) *ConfigLoader {
	if path == "" {
		path = FindOrCreateConfigPath()
	}
	return &ConfigLoader{path: path}
}

// GetDataDir returns the data directory path
// Priority order:
// 1. DATA environment variable (highest priority)
// 2. Current directory (if config.json exists)
// 3. User home directory under .analyzehub
func GetDataDir() string {
	if envDir := os.Getenv(EnvDataDir); envDir != "" {
		if err := os.MkdirAll(envDir, 0755); err == nil {
			return envDir
		}
	}

	if fileExists(ConfigFileName) {
		cwd, err := os.Getwd()
		if err == nil {
			return cwd
		}
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configDir := filepath.Join(homeDir, ConfigDirName)
		os.MkdirAll(configDir, 0755)
		return configDir
	}

	return "."
}

// GetPortFromEnv returns the port from environment variable if set
// Returns 0 if not set or invalid
func GetPortFromEnv() int {
	if envPort := os.Getenv(EnvPort); envPort != "" {
		if port, err := strconv.Atoi(envPort); err == nil && port >= 1 && port <= 65535 {
			return port
		}
	}
	return 0
}

// FindOrCreateConfigPath finds existing config.json or creates a new one in
// the data directory.
func FindOrCreateConfigPath() string {
	dataDir := GetDataDir()
	configPath := filepath.Join(dataDir, ConfigFileName)

	if fileExists(configPath) {
		return configPath
	}

	if os.Getenv(EnvDataDir) == "" {
		if fileExists(ConfigFileName) {
			return ConfigFileName
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err == nil {
		if data, err := NewAppConfig().ToJSON(); err == nil {
			_ = os.WriteFile(configPath, data, 0644)
		}
	}

	return configPath
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// NewAppConfig returns an empty configuration with analyzer defaults.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		AppConfigKV: map[string]interface{}{},
		Analyzer:    DefaultAnalyzerConfig(),
	}
}

// GetPath returns the current configuration file path
func (c *ConfigLoader) GetPath() string {
	return c.path
}

// SetPath sets the configuration file path
func (c *ConfigLoader) SetPath(path string) {
	c.path = path
}

// Load reads and parses the configuration from the JSON file
func (c *ConfigLoader) Load() (*AppConfig, error) {
	if c.path == "" {
		return nil, errors.New("config path is not set")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseJSON(data)
}

// Save serializes cfg into the configuration file.
func (c *ConfigLoader) Save(cfg *AppConfig) error {
	if c.path == "" {
		return errors.New("config path is not set")
	}
	if cfg == nil {
		return nil
	}
	data, err := cfg.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadAndValidate reads, parses, and validates the configuration. Analyzer
// defaults are applied before validation.
func (c *ConfigLoader) LoadAndValidate() (*AppConfig, []error) {
	config, err := c.Load()
	if err != nil {
		return nil, []error{err}
	}
	config.Analyzer = config.Analyzer.WithDefaults()
	return config, ValidateAnalyzer(&config.Analyzer)
}

// ParseJSON parses JSON data into AppConfig
func ParseJSON(data []byte) (*AppConfig, error) {
	var config AppConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return &config, nil
}

// ToJSON serializes AppConfig to JSON
func (c *AppConfig) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ValidatePort checks if a port number is valid (1-65535)
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return ErrInvalidPort
	}
	return nil
}

// ValidateAnalyzer validates an analyzer configuration
// Returns a slice of validation errors (empty if valid)
func ValidateAnalyzer(a *AnalyzerConfig) []error {
	var errs []error

	raw := strings.TrimSpace(a.BackendURL)
	if raw == "" {
		errs = append(errs, ErrEmptyBackendURL)
	} else if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ErrInvalidBackendURL)
	}
	if a.TimeoutSeconds <= 0 {
		errs = append(errs, ErrInvalidTimeout)
	}
	if a.MaxAttempts <= 0 {
		errs = append(errs, ErrInvalidAttempts)
	}

	return errs
}
