package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"devicecal/internal/permission"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

const (
	defaultWorkers        = 4
	defaultMaxOccurrences = 5000
	defaultColor          = "0xFFFF0000"
	defaultSnapshotCron   = "*/5 * * * *"
)

// PermissionsConfig controls how the command line tool answers permission
// prompts.
type PermissionsConfig struct {
	// Mode is one of granted, prompt, denied or unsupported.
	Mode string `yaml:"mode" json:"mode"`
}

// StoreConfig selects and configures the calendar provider.
type StoreConfig struct {
	// Driver is "memory" (default) or "postgres".
	Driver string `yaml:"driver" json:"driver"`

	// SnapshotPath is where the memory store is persisted between runs.
	// Empty disables persistence.
	SnapshotPath string `yaml:"snapshot_path" json:"snapshot_path"`

	// SnapshotCron is a cron spec for periodic snapshot flushes in serve mode.
	SnapshotCron string `yaml:"snapshot_cron" json:"snapshot_cron"`

	// DSN is the PostgreSQL connection string for the postgres driver.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA zone used for events with a missing or unknown
	// zone and for new calendars. Empty means the system zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// LogFormat is "console" or "json".
	LogFormat string `yaml:"log_format" json:"log_format"`

	// Workers is the number of concurrent operation workers.
	Workers int `yaml:"workers" json:"workers"`

	// MaxOccurrences caps the expansion of one recurring event.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// DefaultCalendarColor is the ARGB color, in hex, of calendars created
	// without one.
	DefaultCalendarColor string `yaml:"default_calendar_color" json:"default_calendar_color"`

	// ICSCacheDir holds conditional-request caches for fetched feeds.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	Permissions PermissionsConfig `yaml:"permissions" json:"permissions"`
	Store       StoreConfig       `yaml:"store" json:"store"`
}

// DefaultPath returns ~/.config/devicecal/config.yaml, or a relative path
// when the user config directory is unknown.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".devicecal", "config.yaml")
	}
	return filepath.Join(dir, "devicecal", "config.yaml")
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel:             "info",
		LogFormat:            "console",
		Workers:              defaultWorkers,
		MaxOccurrences:       defaultMaxOccurrences,
		DefaultCalendarColor: defaultColor,
		Permissions:          PermissionsConfig{Mode: string(permission.ModeGranted)},
		Store: StoreConfig{
			Driver:       DriverMemory,
			SnapshotCron: defaultSnapshotCron,
		},
	}
	return cfg
}

// Normalize fills in missing or invalid values so partially written files
// still behave.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		c.LogFormat = "console"
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = defaultMaxOccurrences
	}
	if c.DefaultCalendarColor == "" {
		c.DefaultCalendarColor = defaultColor
	}
	if c.Permissions.Mode == "" {
		c.Permissions.Mode = string(permission.ModeGranted)
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.SnapshotCron == "" {
		c.Store.SnapshotCron = defaultSnapshotCron
	}
}

// Validate reports values Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.CalendarColor(); err != nil {
		errs = append(errs, err)
	}
	if _, err := permission.ParseMode(c.Permissions.Mode); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if _, err := cron.ParseStandard(c.Store.SnapshotCron); err != nil {
		errs = append(errs, fmt.Errorf("store.snapshot_cron: %w", err))
	}
	return errors.Join(errs...)
}

// Location resolves Timezone. Empty means time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// CalendarColor parses DefaultCalendarColor.
func (c *Config) CalendarColor() (uint32, error) {
	s := strings.TrimPrefix(strings.TrimSpace(c.DefaultCalendarColor), "#")
	if !strings.HasPrefix(strings.ToLower(s), "0x") {
		s = "0x" + s
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("default_calendar_color: %w", err)
	}
	return uint32(v), nil
}

// Load reads the YAML file at path. A missing file is created with the
// default configuration (0600).
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".devicecal-config-*.tmp")
}

// WriteFileAtomic writes data to a temp file next to path, syncs it, sets
// 0600 and renames it over path.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
