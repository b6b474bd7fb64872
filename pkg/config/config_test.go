package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultServiceURL, cfg.Bluesky.ServiceURL)
	assert.Equal(t, 100, cfg.Fetch.Limit)
	assert.Equal(t, DefaultPageSize, cfg.Fetch.PageSize)
	assert.Equal(t, 5, cfg.RateLimit.MaxRetries)
	assert.Equal(t, time.Second, cfg.RateLimit.BaseDelay)
	assert.Equal(t, "./archive", cfg.Output.Directory)
	assert.Equal(t, filepath.Join("archive", "archive.db"), cfg.DatabasePath())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BSKY_ARCHIVER_HANDLE", "alice.bsky.social")
	t.Setenv("BLUESKY_APP_PASSWORD", "abcd-efgh-ijkl-mnop")
	t.Setenv("BSKY_ARCHIVER_OUTPUT_DIR", "/tmp/likes")
	t.Setenv("BSKY_ARCHIVER_LIMIT", "0")
	t.Setenv("BSKY_ARCHIVER_DELAY_MS", "250")
	t.Setenv("BSKY_ARCHIVER_NSFW_ONLY", "true")
	t.Setenv("BSKY_ARCHIVER_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "alice.bsky.social", cfg.Bluesky.Handle)
	assert.Equal(t, "abcd-efgh-ijkl-mnop", cfg.Bluesky.AppPassword)
	assert.Equal(t, "/tmp/likes", cfg.Output.Directory)
	assert.Equal(t, 0, cfg.Fetch.Limit)
	assert.Equal(t, 250*time.Millisecond, cfg.Fetch.Delay)
	assert.True(t, cfg.Output.NSFWOnly)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("BSKY_ARCHIVER_LIMIT", "lots")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "BSKY_ARCHIVER_LIMIT")
	assert.Equal(t, 100, cfg.Fetch.Limit)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:      "negative limit",
			mutate:    func(c *Config) { c.Fetch.Limit = -1 },
			wantError: "limit cannot be negative",
		},
		{
			name:      "page size above API maximum",
			mutate:    func(c *Config) { c.Fetch.PageSize = 250 },
			wantError: "page size must be between 1 and 100",
		},
		{
			name:      "max delay below base delay",
			mutate:    func(c *Config) { c.RateLimit.MaxDelay = time.Millisecond },
			wantError: "max delay must not be smaller than base delay",
		},
		{
			name:      "missing output directory",
			mutate:    func(c *Config) { c.Output.Directory = "" },
			wantError: "output directory is required",
		},
		{
			name:      "invalid log level",
			mutate:    func(c *Config) { c.Logging.Level = "loud" },
			wantError: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fetch.Limit = -1
	cfg.Output.Directory = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit cannot be negative")
	assert.Contains(t, err.Error(), "output directory is required")
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()

	cfg.MergeCommandLineFlags(map[string]interface{}{
		"username":     "bob.bsky.social",
		"output":       "/flag/output",
		"limit":        0,
		"delay":        1500,
		"resume":       true,
		"archive-user": "carol.bsky.social",
		"nsfw-only":    true,
		"log-level":    "error",
	})

	want := DefaultConfig()
	want.Bluesky.Handle = "bob.bsky.social"
	want.Output.Directory = "/flag/output"
	want.Fetch.Limit = 0
	want.Fetch.Delay = 1500 * time.Millisecond
	want.Fetch.Resume = true
	want.Fetch.ArchiveUser = "carol.bsky.social"
	want.Output.NSFWOnly = true
	want.Logging.Level = "error"

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("merged config mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveAndLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Bluesky.Handle = "dave.bsky.social"
	cfg.Fetch.Limit = 0
	cfg.RateLimit.DownloadsPerMinute = 30
	require.NoError(t, cfg.Save(configPath))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(configPath))

	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round-tripped config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
bluesky:
  handle: file.bsky.social
output:
  directory: /from/file
fetch:
  limit: 10
`), 0600))

	t.Setenv("BSKY_ARCHIVER_OUTPUT_DIR", "/from/env")

	cfg, err := Load(configPath, map[string]interface{}{"limit": 25})
	require.NoError(t, err)

	assert.Equal(t, "file.bsky.social", cfg.Bluesky.Handle)
	assert.Equal(t, "/from/env", cfg.Output.Directory)
	assert.Equal(t, 25, cfg.Fetch.Limit)
}
