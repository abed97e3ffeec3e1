package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icalq/feed"
	"icalq/ics"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "*/15 * * * *", cfg.RefreshCron)
	assert.Equal(t, 7, cfg.HorizonDays)
	assert.Equal(t, "overlap", cfg.Mode)
	assert.True(t, cfg.Dedup)
	assert.True(t, cfg.FixQuirks)
	assert.Equal(t, ics.DefaultMaxOccurrences, cfg.MaxOccurrences)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.NotNil(t, cfg.Sources)
	assert.Empty(t, cfg.Sources)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	orig := DefaultConfig()
	orig.Listen = "0.0.0.0:9090"
	orig.Timezone = "Europe/Berlin"
	orig.HorizonDays = 30
	orig.BackfillDays = 3
	orig.Mode = "contains"
	orig.Strict = true
	orig.LogLevel = "DEBUG"
	orig.Sources = []feed.Source{
		{ID: "work", URL: "https://example.com/work.ics"},
		{ID: "private", URL: "webcal://example.com/me.ics", Username: "alice", Password: "s3cret"},
	}
	orig.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "hunter2"}
	require.NoError(t, Save(path, orig))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestLoad_NormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := "listen: \"127.0.0.1:9000\"\nmode: bogus\nlog_level: debug\nhorizon_days: -3\nbackfill_days: -1\n"
	require.NoError(t, os.WriteFile(path, []byte(partial), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "overlap", cfg.Mode)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 7, cfg.HorizonDays)
	assert.Equal(t, 0, cfg.BackfillDays)
	assert.Equal(t, "*/15 * * * *", cfg.RefreshCron)
	assert.Equal(t, ics.DefaultMaxOccurrences, cfg.MaxOccurrences)
	assert.NotNil(t, cfg.Sources)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestSave_Errors(t *testing.T) {
	assert.Error(t, Save("", DefaultConfig()))
	assert.Error(t, Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
}

func TestNormalize_Mode(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"overlap", "overlap"},
		{"contains", "contains"},
		{"", "overlap"},
		{"intersect", "overlap"},
	} {
		t.Run("mode="+tc.in, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = tc.in
			cfg.Normalize()
			assert.Equal(t, tc.want, cfg.Mode)
		})
	}
}

func TestOptions(t *testing.T) {
	cfg := DefaultConfig()
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.False(t, opts.Strict)
	assert.True(t, opts.FixQuirks)
	assert.Equal(t, ics.DefaultMaxOccurrences, opts.MaxOccurrences)
	assert.Nil(t, opts.Floating)

	cfg.Timezone = "Europe/Berlin"
	opts, err = cfg.Options()
	require.NoError(t, err)
	require.NotNil(t, opts.Floating)
	assert.Equal(t, "Europe/Berlin", opts.Floating.String())

	cfg.Timezone = "Nowhere/Invalid"
	_, err = cfg.Options()
	assert.Error(t, err)
}

func TestWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackfillDays = 2
	cfg.HorizonDays = 14

	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	start, end := cfg.Window(now)
	assert.Equal(t, time.Date(2026, time.March, 8, 12, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, time.March, 24, 12, 0, 0, 0, time.UTC), end)
}

func TestQueryMode(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ics.ModeOverlap, cfg.QueryMode())

	cfg.Mode = "contains"
	assert.Equal(t, ics.ModeContains, cfg.QueryMode())
}
