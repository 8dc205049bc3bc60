package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spiffcs/testdeck/internal/constants"
	"github.com/spiffcs/testdeck/internal/duration"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvAPIURL    = "TESTDECK_API_URL"
	EnvSocketURL = "TESTDECK_SOCKET_URL"
	EnvToken     = "TESTDECK_TOKEN"
)

// Config represents the application configuration
type Config struct {
	APIURL        string `yaml:"api_url,omitempty"`
	SocketURL     string `yaml:"socket_url,omitempty"`
	DefaultFormat string `yaml:"default_format,omitempty"`
	PageSize      *int   `yaml:"page_size,omitempty"`

	Cache    *CacheOverrides    `yaml:"cache,omitempty"`
	Realtime *RealtimeOverrides `yaml:"realtime,omitempty"`
}

// CacheOverrides tunes the query cache.
type CacheOverrides struct {
	StaleTime *string `yaml:"stale_time,omitempty"`
}

// RealtimeOverrides tunes the progress channel.
type RealtimeOverrides struct {
	ReconnectAttempts     *int    `yaml:"reconnect_attempts,omitempty"`
	ReconnectDelay        *string `yaml:"reconnect_delay,omitempty"`
	QueueSize             *int    `yaml:"queue_size,omitempty"`
	UnmatchedTTL          *string `yaml:"unmatched_ttl,omitempty"`
	InvalidateOnReconnect *bool   `yaml:"invalidate_on_reconnect,omitempty"`
}

// Settings is the resolved configuration with every value set.
type Settings struct {
	APIURL    string
	SocketURL string
	PageSize  int

	StaleTime time.Duration

	ReconnectAttempts     int
	ReconnectDelay        time.Duration
	QueueSize             int
	UnmatchedTTL          time.Duration
	InvalidateOnReconnect bool
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		APIURL:            constants.DefaultAPIURL,
		SocketURL:         constants.DefaultSocketURL,
		PageSize:          constants.DefaultPageSize,
		StaleTime:         constants.StaleTime,
		ReconnectAttempts: constants.ReconnectAttempts,
		ReconnectDelay:    constants.ReconnectDelay,
		QueueSize:         constants.ListenerQueueSize,
		UnmatchedTTL:      constants.UnmatchedEventTTL,
	}
}

// GetSettings returns settings with file values and environment overrides
// applied over the defaults.
func (c *Config) GetSettings() (Settings, error) {
	s := DefaultSettings()

	if c.APIURL != "" {
		s.APIURL = c.APIURL
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		s.APIURL = v
	}
	switch {
	case os.Getenv(EnvSocketURL) != "":
		s.SocketURL = os.Getenv(EnvSocketURL)
	case c.SocketURL != "":
		s.SocketURL = c.SocketURL
	case s.APIURL != constants.DefaultAPIURL:
		s.SocketURL = SocketURLFor(s.APIURL)
	}

	if c.PageSize != nil {
		if *c.PageSize < 1 || *c.PageSize > constants.MaxPageSize {
			return s, fmt.Errorf("page_size must be between 1 and %d, got %d", constants.MaxPageSize, *c.PageSize)
		}
		s.PageSize = *c.PageSize
	}

	if c.Cache != nil && c.Cache.StaleTime != nil {
		d, err := duration.Parse(*c.Cache.StaleTime)
		if err != nil {
			return s, fmt.Errorf("cache.stale_time: %w", err)
		}
		s.StaleTime = d
	}

	if r := c.Realtime; r != nil {
		if r.ReconnectAttempts != nil {
			if *r.ReconnectAttempts < 1 {
				return s, fmt.Errorf("realtime.reconnect_attempts must be at least 1, got %d", *r.ReconnectAttempts)
			}
			s.ReconnectAttempts = *r.ReconnectAttempts
		}
		if r.ReconnectDelay != nil {
			d, err := duration.Parse(*r.ReconnectDelay)
			if err != nil {
				return s, fmt.Errorf("realtime.reconnect_delay: %w", err)
			}
			s.ReconnectDelay = d
		}
		if r.QueueSize != nil {
			if *r.QueueSize < 1 {
				return s, fmt.Errorf("realtime.queue_size must be at least 1, got %d", *r.QueueSize)
			}
			s.QueueSize = *r.QueueSize
		}
		if r.UnmatchedTTL != nil {
			d, err := duration.Parse(*r.UnmatchedTTL)
			if err != nil {
				return s, fmt.Errorf("realtime.unmatched_ttl: %w", err)
			}
			s.UnmatchedTTL = d
		}
		if r.InvalidateOnReconnect != nil {
			s.InvalidateOnReconnect = *r.InvalidateOnReconnect
		}
	}

	return s, nil
}

// SocketURLFor derives the progress endpoint from an API root.
func SocketURLFor(apiURL string) string {
	u := strings.TrimRight(apiURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// GetToken returns the API token from the TESTDECK_TOKEN environment
// variable. Tokens are never read from or written to config files.
func (c *Config) GetToken() string {
	return os.Getenv(EnvToken)
}

// DefaultConfigDir returns the default config directory
func DefaultConfigDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ".testdeck"
	}
	return filepath.Join(configDir, "testdeck")
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// LocalConfigPath returns the path to the local config file in the current directory
func LocalConfigPath() string {
	return ".testdeck.yaml"
}

// ConfigFileExists returns true if the config file exists on disk
func ConfigFileExists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}

// Load loads the configuration from disk.
// It first loads the global config from XDG config directory, then merges
// any local .testdeck.yaml config on top (local values take precedence).
func Load() (*Config, error) {
	return LoadFrom(ConfigPath(), LocalConfigPath())
}

// LoadFrom loads the global config at globalPath and merges the local
// config at localPath on top. Missing files are skipped.
func LoadFrom(globalPath, localPath string) (*Config, error) {
	cfg := &Config{
		DefaultFormat: "table",
	}

	if _, err := os.Stat(globalPath); err == nil {
		data, err := os.ReadFile(globalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read global config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse global config file: %w", err)
		}
	}

	if _, err := os.Stat(localPath); err == nil {
		data, err := os.ReadFile(localPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read local config file: %w", err)
		}

		var localCfg Config
		if err := yaml.Unmarshal(data, &localCfg); err != nil {
			return nil, fmt.Errorf("failed to parse local config file: %w", err)
		}

		cfg = mergeConfig(cfg, &localCfg)
	}

	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = "table"
	}

	return cfg, nil
}

// mergeConfig merges local config on top of global config.
// Local values take precedence; unset local values preserve global values.
func mergeConfig(global, local *Config) *Config {
	result := &Config{
		APIURL:        pick(local.APIURL, global.APIURL),
		SocketURL:     pick(local.SocketURL, global.SocketURL),
		DefaultFormat: pick(local.DefaultFormat, global.DefaultFormat),
		PageSize:      global.PageSize,
	}
	if local.PageSize != nil {
		result.PageSize = local.PageSize
	}

	result.Cache = mergeCacheOverrides(global.Cache, local.Cache)
	result.Realtime = mergeRealtimeOverrides(global.Realtime, local.Realtime)

	return result
}

func pick(local, global string) string {
	if local != "" {
		return local
	}
	return global
}

func mergeCacheOverrides(global, local *CacheOverrides) *CacheOverrides {
	if global == nil && local == nil {
		return nil
	}
	result := &CacheOverrides{}
	if global != nil {
		result.StaleTime = global.StaleTime
	}
	if local != nil && local.StaleTime != nil {
		result.StaleTime = local.StaleTime
	}
	if result.StaleTime == nil {
		return nil
	}
	return result
}

func mergeRealtimeOverrides(global, local *RealtimeOverrides) *RealtimeOverrides {
	if global == nil && local == nil {
		return nil
	}
	result := &RealtimeOverrides{}

	if global != nil {
		*result = *global
	}

	if local != nil {
		if local.ReconnectAttempts != nil {
			result.ReconnectAttempts = local.ReconnectAttempts
		}
		if local.ReconnectDelay != nil {
			result.ReconnectDelay = local.ReconnectDelay
		}
		if local.QueueSize != nil {
			result.QueueSize = local.QueueSize
		}
		if local.UnmatchedTTL != nil {
			result.UnmatchedTTL = local.UnmatchedTTL
		}
		if local.InvalidateOnReconnect != nil {
			result.InvalidateOnReconnect = local.InvalidateOnReconnect
		}
	}

	// Return nil if all fields are nil
	if result.ReconnectAttempts == nil && result.ReconnectDelay == nil && result.QueueSize == nil &&
		result.UnmatchedTTL == nil && result.InvalidateOnReconnect == nil {
		return nil
	}

	return result
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	configDir := DefaultConfigDir()

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(ConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SettableKeys lists the keys accepted by Set.
var SettableKeys = []string{"format", "api_url", "socket_url", "page_size"}

// Set validates and stores one value, then saves. The token is never
// written to disk.
func (c *Config) Set(key, value string) error {
	switch key {
	case "token":
		return fmt.Errorf("tokens cannot be stored in config files for security reasons. Set the %s environment variable instead", EnvToken)
	case "format":
		if value != "table" && value != "json" {
			return fmt.Errorf("invalid format: %s (must be table or json)", value)
		}
		c.DefaultFormat = value
	case "api_url":
		if err := validateURL(value, "http", "https"); err != nil {
			return fmt.Errorf("invalid api_url: %w", err)
		}
		c.APIURL = value
	case "socket_url":
		if err := validateURL(value, "ws", "wss"); err != nil {
			return fmt.Errorf("invalid socket_url: %w", err)
		}
		c.SocketURL = value
	case "page_size":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > constants.MaxPageSize {
			return fmt.Errorf("invalid page_size: %s (must be between 1 and %d)", value, constants.MaxPageSize)
		}
		c.PageSize = &n
	default:
		return fmt.Errorf("unknown config key: %s (available: %s)", key, strings.Join(SettableKeys, ", "))
	}
	return c.Save()
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" || !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("%q must be an absolute %s URL", raw, strings.Join(schemes, " or "))
	}
	return nil
}

// DefaultConfig returns a fully populated config with all default values.
// This is useful for generating a complete config file template.
func DefaultConfig() *Config {
	s := DefaultSettings()
	staleTime := s.StaleTime.String()
	reconnectDelay := s.ReconnectDelay.String()
	unmatchedTTL := s.UnmatchedTTL.String()

	return &Config{
		APIURL:        s.APIURL,
		SocketURL:     s.SocketURL,
		DefaultFormat: "table",
		PageSize:      &s.PageSize,
		Cache: &CacheOverrides{
			StaleTime: &staleTime,
		},
		Realtime: &RealtimeOverrides{
			ReconnectAttempts:     &s.ReconnectAttempts,
			ReconnectDelay:        &reconnectDelay,
			QueueSize:             &s.QueueSize,
			UnmatchedTTL:          &unmatchedTTL,
			InvalidateOnReconnect: &s.InvalidateOnReconnect,
		},
	}
}

// ToYAML returns the config as a YAML string
func (c *Config) ToYAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}

// ConfigPathInfo contains information about config file paths
type ConfigPathInfo struct {
	GlobalPath   string
	GlobalExists bool
	LocalPath    string
	LocalExists  bool
}

// GetConfigPaths returns path info for both global and local configs
func GetConfigPaths() ConfigPathInfo {
	globalPath := ConfigPath()
	localPath := LocalConfigPath()

	absLocalPath, err := filepath.Abs(localPath)
	if err != nil {
		absLocalPath = localPath
	}

	_, globalErr := os.Stat(globalPath)
	_, localErr := os.Stat(localPath)

	return ConfigPathInfo{
		GlobalPath:   globalPath,
		GlobalExists: globalErr == nil,
		LocalPath:    absLocalPath,
		LocalExists:  localErr == nil,
	}
}

// MinimalConfig returns a minimal config template with comments
func MinimalConfig() string {
	return `# testdeck configuration file
# See: testdeck config defaults  (for all available options)

# Test management API (the token is read from TESTDECK_TOKEN only)
api_url: http://localhost:3005

# Progress socket; derived from api_url when omitted
# socket_url: ws://localhost:3005/ws

# Output format: table or json
default_format: table

# Rows per page on list screens (1-100)
# page_size: 10

# How long a list is served from memory before it is read again
# cache:
#   stale_time: 30s

# Live progress connection (optional)
# realtime:
#   reconnect_attempts: 5
#   reconnect_delay: 1s
#   invalidate_on_reconnect: false
`
}

// SaveTo writes content to a specific path, creating directories as needed
func SaveTo(path string, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	return nil
}
