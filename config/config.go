// Package config provides configuration management for vpn-ondemand.
// It handles loading, saving, and validating application settings,
// including the stored tunnel preferences handed to the configuration builder.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-ondemand/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// AppGroup is the shared container identifier passed to the tunnel.
	AppGroup string `yaml:"app_group"`
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
	// LogToFile enables the rotated log file under the config directory.
	LogToFile bool `yaml:"log_to_file"`
	// CatalogDB is the path of the SQLite provider catalog.
	// Empty means <config dir>/catalog.db.
	CatalogDB string `yaml:"catalog_db,omitempty"`
	// CatalogSource is an optional YAML catalog document that is imported
	// into CatalogDB and watched for changes.
	CatalogSource string `yaml:"catalog_source,omitempty"`
	// Tunnel holds the stored preferences applied to every built configuration.
	Tunnel Preferences `yaml:"tunnel"`

	path string
}

// Preferences are the user's stored tunnel preferences.
type Preferences struct {
	// DisconnectsOnSleep tears the tunnel down while the device sleeps.
	DisconnectsOnSleep bool `yaml:"disconnects_on_sleep"`
	// KillSwitch routes all traffic through the tunnel, blocking leaks
	// while it is down.
	KillSwitch bool `yaml:"kill_switch"`
	// ExcludeLocalNetworks keeps LAN traffic outside the tunnel.
	ExcludeLocalNetworks bool `yaml:"exclude_local_networks"`
	// KeepAliveSeconds is the tunnel keep-alive interval; 0 disables it.
	KeepAliveSeconds int `yaml:"keep_alive_seconds"`
	// ReadyTimeoutSeconds bounds a single make-ready attempt.
	ReadyTimeoutSeconds int `yaml:"ready_timeout_seconds"`
}

// ReadyTimeout returns the make-ready bound, common.ReadyTimeout when unset.
func (p Preferences) ReadyTimeout() time.Duration {
	if p.ReadyTimeoutSeconds <= 0 {
		return common.ReadyTimeout
	}
	return time.Duration(p.ReadyTimeoutSeconds) * time.Second
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AppGroup:  common.DefaultAppGroup,
		LogLevel:  "info",
		LogToFile: true,
		Tunnel: Preferences{
			ExcludeLocalNetworks: true,
			KeepAliveSeconds:     25,
			ReadyTimeoutSeconds:  int(common.ReadyTimeout / time.Second),
		},
	}
}

// DefaultPath returns ~/.config/vpn-ondemand/config.yaml.
func DefaultPath() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.ConfigFileName), nil
}

// Load loads the configuration from path. An empty path selects DefaultPath.
// If the file doesn't exist, it is created with default values.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.path = path
		if err := cfg.Save(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	cfg := DefaultConfig()
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", common.ErrConfigLoad, path, err)
	}
	cfg.path = path

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate rejects unusable values and falls back to defaults where a
// sensible one exists.
func (c *Config) validate() error {
	c.AppGroup = strings.TrimSpace(c.AppGroup)
	if c.AppGroup == "" {
		c.AppGroup = common.DefaultAppGroup
	}
	if _, ok := common.ParseLogLevel(c.LogLevel); !ok {
		common.LogWarn("Unknown log level %q, using info", c.LogLevel)
		c.LogLevel = "info"
	}
	if c.Tunnel.KeepAliveSeconds < 0 {
		return fmt.Errorf("tunnel.keep_alive_seconds must not be negative, got %d", c.Tunnel.KeepAliveSeconds)
	}
	if c.Tunnel.ReadyTimeoutSeconds < 0 {
		return fmt.Errorf("tunnel.ready_timeout_seconds must not be negative, got %d", c.Tunnel.ReadyTimeoutSeconds)
	}
	return nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Dir returns the directory holding the configuration file; profiles,
// credentials and the catalog live next to it.
func (c *Config) Dir() string {
	return filepath.Dir(c.path)
}

// CatalogPath returns the SQLite catalog location.
func (c *Config) CatalogPath() string {
	if c.CatalogDB != "" {
		return c.CatalogDB
	}
	return filepath.Join(c.Dir(), common.CatalogFileName)
}

// Level returns the parsed log level.
func (c *Config) Level() common.LogLevel {
	level, _ := common.ParseLogLevel(c.LogLevel)
	return level
}

// Save saves the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		c.path = p
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("%w: creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	if err := common.WriteFileAtomic(c.path, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}
