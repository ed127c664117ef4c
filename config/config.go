// Package config handles application configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.ghostvision.dev/dashboard/internal/types"
	"gopkg.in/yaml.v3"
)

const (
	appName        = "ghostvision"
	configFileName = "config.json"

	envBackendURL = "GHOSTVISION_BACKEND_URL"
	envListenAddr = "GHOSTVISION_LISTEN_ADDR"
)

// Defaults.
const (
	DefaultBackendURL    = "http://127.0.0.1:5000"
	DefaultSocketPath    = "/socket.io/"
	DefaultNamespace     = "/"
	DefaultListenAddr    = "127.0.0.1:3000"
	DefaultLocale        = "en-US"
	DefaultLogLevel      = "info"
	DefaultDelayMs       = 1000
	DefaultMaxDelayMs    = 5000
	DefaultRandomization = 0.5
)

// Config represents the application configuration.
type Config struct {
	// Backend connection
	BackendURL string          `json:"backend_url" yaml:"backend_url"`
	SocketPath string          `json:"socket_path,omitempty" yaml:"socket_path,omitempty"`
	Namespace  string          `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Reconnect  ReconnectConfig `json:"reconnect" yaml:"reconnect"`

	// Dashboard
	ListenAddr   string `json:"listen_addr" yaml:"listen_addr"`
	ThreatMarker string `json:"threat_marker" yaml:"threat_marker"`
	MaxLogs      int    `json:"max_logs" yaml:"max_logs"`
	Locale       string `json:"locale" yaml:"locale"`

	LogLevel string `json:"log_level" yaml:"log_level"`

	path string
}

// ReconnectConfig controls the backoff between connection attempts.
type ReconnectConfig struct {
	DelayMs       int      `json:"delay_ms" yaml:"delay_ms"`
	MaxDelayMs    int      `json:"max_delay_ms" yaml:"max_delay_ms"`
	Randomization *float64 `json:"randomization,omitempty" yaml:"randomization,omitempty"`
}

// Load loads configuration from the user config directory.
// Returns default config if the file doesn't exist.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}

	cfg, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		cfg.path = path
		cfg.applyEnv()
		return cfg, nil
	}
	return cfg, err
}

// LoadFile loads configuration from path. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.path = path
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Save persists the configuration to the file it was loaded from.
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		p, err := configPath()
		if err != nil {
			return fmt.Errorf("get config path: %w", err)
		}
		path = p
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	c.path = path
	return nil
}

// Path returns the file backing this configuration, if any.
func (c *Config) Path() string {
	return c.path
}

// Validate checks configuration correctness.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("backend_url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("backend_url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("backend_url: host required")
	}

	if !strings.HasPrefix(c.Namespace, "/") {
		return fmt.Errorf("namespace must start with /: %q", c.Namespace)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr required")
	}
	if c.MaxLogs <= 0 {
		return fmt.Errorf("max_logs must be positive: %d", c.MaxLogs)
	}
	if c.Reconnect.DelayMs < 0 {
		return fmt.Errorf("reconnect.delay_ms must not be negative: %d", c.Reconnect.DelayMs)
	}
	if c.Reconnect.MaxDelayMs < 0 {
		return fmt.Errorf("reconnect.max_delay_ms must not be negative: %d", c.Reconnect.MaxDelayMs)
	}
	if c.Reconnect.MaxDelayMs < c.Reconnect.DelayMs {
		return fmt.Errorf("reconnect.max_delay_ms (%d) below delay_ms (%d)", c.Reconnect.MaxDelayMs, c.Reconnect.DelayMs)
	}
	if r := c.RandomizationFactor(); r < 0 || r > 1 {
		return fmt.Errorf("reconnect.randomization must be within [0, 1]: %v", r)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// RandomizationFactor returns the reconnect jitter factor.
func (c *Config) RandomizationFactor() float64 {
	if c.Reconnect.Randomization == nil {
		return DefaultRandomization
	}
	return *c.Reconnect.Randomization
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// Helper functions

func (c *Config) applyDefaults() {
	if c.BackendURL == "" {
		c.BackendURL = DefaultBackendURL
	}
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.ThreatMarker == "" {
		c.ThreatMarker = types.DefaultThreatMarker
	}
	if c.MaxLogs == 0 {
		c.MaxLogs = types.DefaultMaxLogs
	}
	if c.Locale == "" {
		c.Locale = DefaultLocale
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Reconnect.DelayMs == 0 {
		c.Reconnect.DelayMs = DefaultDelayMs
	}
	if c.Reconnect.MaxDelayMs == 0 {
		c.Reconnect.MaxDelayMs = DefaultMaxDelayMs
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envBackendURL); v != "" {
		c.BackendURL = v
	}
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}
