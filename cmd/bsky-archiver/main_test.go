package main

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluejorts/bluesky-archiver/pkg/config"
)

func TestArchiveFlagsOnlyIncludesChangedFlags(t *testing.T) {
	cmd := archiveCmd
	t.Cleanup(func() {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			f.Changed = false
			_ = f.Value.Set(f.DefValue)
		})
	})

	require.NoError(t, cmd.Flags().Parse([]string{"-u", "alice.bsky.social", "--limit", "0", "--nsfw-only", "-d", "1500"}))

	flags := archiveFlags(cmd)
	assert.Equal(t, map[string]interface{}{
		"username":  "alice.bsky.social",
		"limit":     0,
		"nsfw-only": true,
		"delay":     1500,
	}, flags)

	cfg := config.DefaultConfig()
	cfg.MergeCommandLineFlags(flags)
	assert.Equal(t, 0, cfg.Fetch.Limit)
	assert.Equal(t, "alice.bsky.social", cfg.Bluesky.Handle)
	assert.Equal(t, int64(1500), cfg.Fetch.Delay.Milliseconds())
	assert.True(t, cfg.Output.NSFWOnly)
}

func TestMaskedConfigHidesPassword(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Bluesky.AppPassword = "abcd-efgh-ijkl-mnop"

	display := maskedConfig(cfg)
	assert.Equal(t, "abcd...mnop", display.Bluesky.AppPassword)
	assert.Equal(t, "abcd-efgh-ijkl-mnop", cfg.Bluesky.AppPassword)
}

func TestGlobalFlagsVerboseMeansDebug(t *testing.T) {
	oldVerbose, oldLevel := verbose, logLevel
	t.Cleanup(func() { verbose, logLevel = oldVerbose, oldLevel })

	verbose, logLevel = true, ""
	assert.Equal(t, "debug", globalFlags(nil)["log-level"])

	logLevel = "warn"
	assert.Equal(t, "warn", globalFlags(nil)["log-level"])
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"archive", "auth", "config", "stats"} {
		assert.True(t, names[want], want)
	}
}
