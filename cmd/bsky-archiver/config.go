package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bluejorts/bluesky-archiver/pkg/auth"
	"github.com/bluejorts/bluesky-archiver/pkg/config"
	"github.com/bluejorts/bluesky-archiver/pkg/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage bsky-archiver configuration files.

Configuration is loaded from, highest priority first:
  - Command line flags
  - Environment variables (BSKY_ARCHIVER_*, BLUESKY_APP_PASSWORD)
  - .env files
  - Configuration file
  - Default values`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = config.DefaultPath()
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "1. Set bluesky.handle, or run 'bsky-archiver auth login'")
	fmt.Fprintln(out, "2. Run 'bsky-archiver config validate'")
	fmt.Fprintln(out, "3. Start archiving with 'bsky-archiver archive'")
	return nil
}

// maskedConfig returns a copy that is safe to print
func maskedConfig(cfg *config.Config) config.Config {
	display := *cfg
	if display.Bluesky.AppPassword != "" {
		display.Bluesky.AppPassword = auth.MaskString(display.Bluesky.AppPassword)
	}
	return display
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags(nil))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	display := maskedConfig(cfg)
	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(data))

	fmt.Fprintln(out, "\nConfiguration file:")
	if configFile != "" {
		fmt.Fprintf(out, "  %s\n", configFile)
	} else {
		fmt.Fprintf(out, "  searched ./.bsky-archiver.yaml and %s\n", config.DefaultPath())
	}
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags(nil))
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	var warnings, problems []string

	if cfg.Bluesky.Handle == "" {
		warnings = append(warnings, "bluesky.handle is not set; the newest stored account will be used")
	}
	if cfg.Bluesky.AppPassword != "" {
		warnings = append(warnings, "app password is kept in plain text; consider 'auth login'")
	}
	if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create output directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}

	out := cmd.OutOrStdout()
	if len(problems) > 0 {
		ui.PrintError("Configuration has errors")
		for _, p := range problems {
			fmt.Fprintf(out, "  - %s\n", p)
		}
		return fmt.Errorf("%d configuration errors", len(problems))
	}
	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings")
		for _, w := range warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
		fmt.Fprintln(out)
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Fprintln(out, "\nConfiguration summary:")
	fmt.Fprintf(out, "  Service: %s\n", cfg.Bluesky.ServiceURL)
	fmt.Fprintf(out, "  Output directory: %s\n", cfg.Output.Directory)
	fmt.Fprintf(out, "  Database: %s\n", cfg.DatabasePath())
	fmt.Fprintf(out, "  Limit: %d (page size %d)\n", cfg.Fetch.Limit, cfg.Fetch.PageSize)
	fmt.Fprintf(out, "  Max retries: %d (base delay %s)\n", cfg.RateLimit.MaxRetries, cfg.RateLimit.BaseDelay)
	fmt.Fprintf(out, "  Log level: %s\n", cfg.Logging.Level)
	return nil
}
