// Package config loads and saves the icalq YAML configuration.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"icalq/feed"
	"icalq/ics"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone, when set, is the IANA zone assigned to floating times
	// (e.g. "Europe/Berlin"). When empty, floating times follow the feed's
	// X-WR-TIMEZONE, then a lone embedded VTIMEZONE, then UTC.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic refresh in watch mode.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is the number of future days the default query window covers.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// BackfillDays extends the default query window into the past.
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// Mode selects the default window filter. Supported values:
	//   - "overlap" (default): occurrences intersecting the window
	//   - "contains": occurrences fully inside the window
	Mode string `yaml:"mode" json:"mode"`

	// Dedup collapses occurrences sharing (uid, start), keeping the last.
	Dedup bool `yaml:"dedup" json:"dedup"`

	// Strict rejects malformed feeds instead of repairing around them.
	Strict bool `yaml:"strict" json:"strict"`

	// FixQuirks enables vendor text repairs before parsing.
	FixQuirks bool `yaml:"fix_quirks" json:"fix_quirks"`

	// MaxOccurrences caps recurrence expansion per event.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// CacheDir is the base directory for the feed fetch cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// LogLevel is one of DEBUG, INFO, ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Sources is the list of subscribed feed sources.
	Sources []feed.Source `yaml:"sources" json:"sources"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         "127.0.0.1:8080",
		Timezone:       "",
		RefreshCron:    "*/15 * * * *",
		HorizonDays:    7,
		BackfillDays:   0,
		Mode:           "overlap",
		Dedup:          true,
		Strict:         false,
		FixQuirks:      true,
		MaxOccurrences: ics.DefaultMaxOccurrences,
		CacheDir:       "./var/feed-cache",
		LogLevel:       "INFO",
		Sources:        []feed.Source{},
		BasicAuth:      nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 7
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	switch c.Mode {
	case "overlap", "contains":
		// ok
	case "":
		c.Mode = "overlap"
	default:
		// Unknown value; fall back to overlap to avoid silently narrowing results.
		c.Mode = "overlap"
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = ics.DefaultMaxOccurrences
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/feed-cache"
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "ERROR":
		c.LogLevel = strings.ToUpper(c.LogLevel)
	default:
		c.LogLevel = "INFO"
	}
	if c.Sources == nil {
		c.Sources = []feed.Source{}
	}
}

// Options builds the parse options implied by the configuration. It fails
// when Timezone names a zone the host does not know.
func (c *Config) Options() (ics.Options, error) {
	opts := ics.Options{
		Strict:         c.Strict,
		FixQuirks:      c.FixQuirks,
		MaxOccurrences: c.MaxOccurrences,
	}
	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return ics.Options{}, err
		}
		opts.Floating = loc
	}
	return opts, nil
}

// Window returns the default query window around now: BackfillDays into the
// past through HorizonDays into the future.
func (c *Config) Window(now time.Time) (time.Time, time.Time) {
	return now.AddDate(0, 0, -c.BackfillDays), now.AddDate(0, 0, c.HorizonDays)
}

// QueryMode maps the configured mode string onto the engine's mode.
func (c *Config) QueryMode() ics.QueryMode {
	if c.Mode == "contains" {
		return ics.ModeContains
	}
	return ics.ModeOverlap
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".icalq-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Set permissions to 0600 on temp file before rename.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	// Rename over the target path.
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function:
//
//	cfg, _ := config.Load(path)
//	// ... mutate cfg ...
//	if err := cfg.Save(path); err != nil { ... }
func (c *Config) Save(path string) error {
	return Save(path, c)
}
