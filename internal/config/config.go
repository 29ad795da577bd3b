// Package config handles application configuration
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed config.sample.yaml
var sampleConfig string

// AppName names the XDG directories.
const AppName = "gtgstore"

// DataFileName is the default name of the XML data file.
const DataFileName = "gtg_data.xml"

// Defaults applied by the getters.
const (
	DefaultBackupsNumber = 7
	DefaultRetentionDays = 30
	DefaultPurgeMaxDays  = 30
	DefaultDebounceMs    = 1000
)

var validate = validator.New()

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// Config represents the application configuration
type Config struct {
	DataPath string          `yaml:"data_path"`
	Backups  BackupsConfig   `yaml:"backups"`
	Purge    PurgeConfig     `yaml:"purge"`
	Logging  LoggingConfig   `yaml:"logging"`
	Watch    WatchConfig     `yaml:"watch"`
	Backends []BackendConfig `yaml:"backends" validate:"unique=ID,dive"`
}

// BackupsConfig holds backup ring settings
type BackupsConfig struct {
	Number        int  `yaml:"number" validate:"gte=0,lte=100"`
	RetentionDays *int `yaml:"retention_days" validate:"omitempty,gte=0"` // 0 disables the purge
}

// PurgeConfig holds task purge settings
type PurgeConfig struct {
	MaxDays int `yaml:"max_days" validate:"gte=0"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Verbose bool   `yaml:"verbose"`
	File    string `yaml:"file"`
}

// WatchConfig holds settings of the watch command
type WatchConfig struct {
	DebounceMs int `yaml:"debounce_ms" validate:"gte=0"`
}

// BackendConfig describes one backend instance.
type BackendConfig struct {
	ID           string         `yaml:"id" validate:"required"`
	Type         string         `yaml:"type" validate:"required"`
	Enabled      *bool          `yaml:"enabled"`
	Default      bool           `yaml:"default"`
	AttachedTags []string       `yaml:"attached_tags"`
	Params       map[string]any `yaml:"params"`
}

// IsEnabled returns the enabled flag; unset means enabled.
func (b BackendConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	retention := DefaultRetentionDays
	return &Config{
		DataPath: filepath.Join(GetDataDir(), DataFileName),
		Backups:  BackupsConfig{Number: DefaultBackupsNumber, RetentionDays: &retention},
		Purge:    PurgeConfig{MaxDays: DefaultPurgeMaxDays},
		Watch:    WatchConfig{DebounceMs: DefaultDebounceMs},
		Backends: []BackendConfig{{ID: "local", Type: "local", Default: true}},
	}
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it is created from the sample.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeSample(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, expands and validates configuration YAML.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) expandPaths() {
	c.DataPath = ExpandPath(c.DataPath)
	c.Logging.File = ExpandPath(c.Logging.File)
	for i := range c.Backends {
		if p, ok := c.Backends[i].Params["path"].(string); ok {
			c.Backends[i].Params["path"] = ExpandPath(p)
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	defaults := 0
	for _, b := range c.Backends {
		if b.Default {
			defaults++
		}
	}
	if len(c.Backends) > 0 && defaults != 1 {
		return fmt.Errorf("invalid configuration: expected exactly one default backend, found %d", defaults)
	}
	return nil
}

// GetDataPath returns the data file path.
func (c *Config) GetDataPath() string {
	if c.DataPath == "" {
		return filepath.Join(GetDataDir(), DataFileName)
	}
	return c.DataPath
}

// GetBackupsNumber returns the size of the backup ring.
// Returns 7 if not configured.
func (c *Config) GetBackupsNumber() int {
	if c.Backups.Number <= 0 {
		return DefaultBackupsNumber
	}
	return c.Backups.Number
}

// GetRetentionDays returns the backup retention period in days.
// Returns 30 if not configured, or 0 if the purge is disabled.
func (c *Config) GetRetentionDays() int {
	if c.Backups.RetentionDays == nil {
		return DefaultRetentionDays
	}
	return *c.Backups.RetentionDays
}

// GetPurgeMaxDays returns the age after which closed tasks are purged.
func (c *Config) GetPurgeMaxDays() int {
	if c.Purge.MaxDays <= 0 {
		return DefaultPurgeMaxDays
	}
	return c.Purge.MaxDays
}

// GetDebounce returns the watch debounce period.
// Returns 1 second if not configured.
func (c *Config) GetDebounce() time.Duration {
	if c.Watch.DebounceMs <= 0 {
		return DefaultDebounceMs * time.Millisecond
	}
	return time.Duration(c.Watch.DebounceMs) * time.Millisecond
}

// GetBackends returns the configured backends, or a single default local
// backend when none are configured.
func (c *Config) GetBackends() []BackendConfig {
	if len(c.Backends) == 0 {
		return DefaultConfig().Backends
	}
	return c.Backends
}

// getXDGDir returns a directory path following the XDG base directory layout.
// envVar is the XDG environment variable (e.g., "XDG_CONFIG_HOME").
// fallbackPath is the relative path from home (e.g., ".config").
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, AppName)
	}
	return filepath.Join(home, fallbackPath, AppName)
}

// GetConfigDir returns the configuration directory following the XDG base directory layout
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following the XDG base directory layout
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
