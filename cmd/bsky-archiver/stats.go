package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bluejorts/bluesky-archiver/pkg/logger"
	"github.com/bluejorts/bluesky-archiver/pkg/runner"
	"github.com/bluejorts/bluesky-archiver/pkg/ui"
)

var statsOutput string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what an archive directory contains",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVarP(&statsOutput, "output", "o", "", "archive directory (default from config)")
}

func runStats(cmd *cobra.Command, args []string) error {
	flags := make(map[string]interface{})
	if statsOutput != "" {
		flags["output"] = statsOutput
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.DatabasePath()); os.IsNotExist(err) {
		ui.PrintWarning("No archive database in " + cfg.Output.Directory)
		return nil
	}

	st, err := runner.Stats(cmd.Context(), cfg, logger.GetLogger())
	if err != nil {
		return err
	}

	ui.PrintHighlight("Archive " + cfg.Output.Directory)
	ui.PrintInfo("Posts", fmt.Sprintf("%d", st.Posts))
	ui.PrintInfo("NSFW posts", fmt.Sprintf("%d", st.NSFWPosts))
	ui.PrintInfo("Images", fmt.Sprintf("%d", st.Images))
	ui.PrintInfo("Size", ui.FormatBytes(st.TotalBytes))
	return nil
}
