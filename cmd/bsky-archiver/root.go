package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/bluejorts/bluesky-archiver/pkg/config"
	"github.com/bluejorts/bluesky-archiver/pkg/logger"
	"github.com/bluejorts/bluesky-archiver/pkg/ui"
)

var (
	// Version information
	version   = "0.3.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFile    string
	verbose    bool
	notify     bool
)

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Archive images from Bluesky liked posts and author feeds",
	Long: `bsky-archiver downloads the images attached to the posts you liked on
Bluesky, or to the media posts of any account, into a local directory.

Features:
  - Resumable pagination with a cursor checkpoint per target
  - Exponential backoff when the server rate limits
  - Deduplication by blob CID in a local SQLite database
  - Optional NSFW-only mode using moderation labels
  - App passwords stored in the system keychain`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Name() == "archive" || !cmd.HasParent() {
			ui.PrintLogo()
		}
	},
}

// Execute runs the root command and exits non-zero on any error
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/bsky-archiver/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print every page and image instead of a progress line")
	rootCmd.PersistentFlags().BoolVar(&notify, "notify", false, "send a desktop notification when a run ends")

	rootCmd.SetVersionTemplate(`bsky-archiver {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// globalFlags collects the persistent flags that map onto config keys
func globalFlags(flags map[string]interface{}) map[string]interface{} {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	switch {
	case logLevel != "":
		flags["log-level"] = logLevel
	case verbose:
		flags["log-level"] = "debug"
	}
	if logFile != "" {
		flags["log-file"] = logFile
	}
	return flags
}

// loadConfig loads configuration and initializes the global logger from it
func loadConfig(flags map[string]interface{}) (*config.Config, error) {
	cfg, err := config.Load(configFile, globalFlags(flags))
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
