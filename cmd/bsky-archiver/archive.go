package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bluejorts/bluesky-archiver/pkg/auth"
	"github.com/bluejorts/bluesky-archiver/pkg/config"
	"github.com/bluejorts/bluesky-archiver/pkg/fetcher"
	"github.com/bluejorts/bluesky-archiver/pkg/logger"
	"github.com/bluejorts/bluesky-archiver/pkg/runner"
	"github.com/bluejorts/bluesky-archiver/pkg/ui"
)

var (
	handle      string
	appPassword string
	serviceURL  string
	outputDir   string
	limit       int
	nsfwOnly    bool
	delayMS     int
	resume      bool
	archiveUser string
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Download images from your liked posts or an author's feed",
	Long: `Download the images of your liked posts, newest first.

With --archive-user the target becomes that account's own posts with media;
reposts and quote posts are skipped.

Images already recorded in the archive database are never downloaded again,
so re-running the command only fetches what is new. Without --resume a run
starts from the newest post and discards any saved cursor for the target.`,
	Example: `  # Archive the 100 most recent likes
  bsky-archiver archive -u alice.bsky.social

  # Archive every like, continuing where the last run stopped
  bsky-archiver archive -u alice.bsky.social --limit 0 --resume

  # Only keep posts carrying an adult content label
  bsky-archiver archive --nsfw-only -o ./nsfw-archive

  # Archive someone's media posts with a 1.5s pause between pages
  bsky-archiver archive --archive-user bob.bsky.social --delay 1500`,
	Args: cobra.NoArgs,
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)

	f := archiveCmd.Flags()
	f.StringVarP(&handle, "username", "u", "", "Bluesky handle to log in as")
	f.StringVarP(&appPassword, "password", "p", "", "app password (prefer 'auth login' or BLUESKY_APP_PASSWORD)")
	f.StringVar(&serviceURL, "service", "", "XRPC base URL (default https://bsky.social/xrpc)")
	f.StringVarP(&outputDir, "output", "o", "", "output directory (default ./archive)")
	f.IntVarP(&limit, "limit", "l", 100, "maximum posts to fetch, 0 for all")
	f.BoolVar(&nsfwOnly, "nsfw-only", false, "only archive posts with an adult content label")
	f.IntVarP(&delayMS, "delay", "d", 0, "pause between page requests in milliseconds")
	f.BoolVar(&resume, "resume", false, "continue from the saved cursor")
	f.StringVar(&archiveUser, "archive-user", "", "archive this account's media posts instead of your likes")

	// archive is also what a bare invocation runs
	rootCmd.Flags().AddFlagSet(f)
	rootCmd.Args = cobra.NoArgs
	rootCmd.RunE = runArchive
}

// archiveFlags returns only the flags the user set, so config and environment
// values are not overridden by flag defaults
func archiveFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := cmd.Flags().Changed

	if set("username") {
		flags["username"] = handle
	}
	if set("password") {
		flags["password"] = appPassword
	}
	if set("service") {
		flags["service"] = serviceURL
	}
	if set("output") {
		flags["output"] = outputDir
	}
	if set("limit") {
		flags["limit"] = limit
	}
	if set("nsfw-only") {
		flags["nsfw-only"] = nsfwOnly
	}
	if set("delay") {
		flags["delay"] = delayMS
	}
	if set("resume") {
		flags["resume"] = resume
	}
	if set("archive-user") {
		flags["archive-user"] = archiveUser
	}
	return flags
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(archiveFlags(cmd))
	if err != nil {
		return err
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("bsky-archiver starting")

	credentials, err := auth.NewManager()
	if err != nil {
		// Flags and environment can still supply the password.
		log.WithError(err).Warn("Credential store unavailable")
	}

	printTarget(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.New(cfg, credentialSource(credentials), log)
	label := "likes"
	if cfg.Fetch.ArchiveUser != "" {
		label = "@" + cfg.Fetch.ArchiveUser
	}
	reporter := ui.NewReporter(os.Stdout, label, verbose)
	r.SetProgress(reporter)

	summary, err := r.Run(ctx)
	if summary != nil && summary.Archive.Posts > 0 {
		reporter.Finish(summary.Archive)
	}

	var notifier *ui.Notifier
	if notify {
		notifier = ui.NewNotifier(os.Stdout)
	}

	if err != nil {
		log.WithError(err).Error("Archive run failed")
		if summary != nil && summary.Fetched > 0 {
			ui.PrintWarning(fmt.Sprintf("Archived %d fetched posts before the failure; rerun with --resume to continue", summary.Fetched))
		}
		if notifier != nil {
			notifier.SendError("Archive failed", err.Error())
		}
		return err
	}

	printSummary(summary)
	if notifier != nil {
		notifier.SendSuccess("Archive complete",
			fmt.Sprintf("%d new images, %d already archived", summary.Archive.Downloaded, summary.Archive.Skipped))
	}
	return nil
}

// credentialSource avoids handing the runner a typed nil
func credentialSource(m *auth.Manager) runner.Credentials {
	if m == nil {
		return nil
	}
	return m
}

func printTarget(cfg *config.Config) {
	if cfg.Fetch.ArchiveUser != "" {
		ui.PrintInfo("Target", "@"+cfg.Fetch.ArchiveUser+" (media posts)")
	} else {
		ui.PrintInfo("Target", "liked posts")
	}
	ui.PrintInfo("Output", cfg.Output.Directory)
	if cfg.Fetch.Limit > 0 {
		ui.PrintInfo("Limit", fmt.Sprintf("%d posts", cfg.Fetch.Limit))
	} else {
		ui.PrintInfo("Limit", "none")
	}
	if cfg.Output.NSFWOnly {
		ui.PrintInfo("Filter", "NSFW only")
	}
	if cfg.Fetch.Resume {
		ui.PrintInfo("Resume", "from saved cursor")
	}
	fmt.Fprintln(ui.Out)
}

func printSummary(s *runner.Summary) {
	fmt.Fprintln(ui.Out)
	switch {
	case s.Complete:
		ui.PrintSuccess(fmt.Sprintf("Reached the end of %s after %d pages", s.Endpoint, s.Pages))
	case s.Limited:
		ui.PrintSuccess(fmt.Sprintf("Stopped at the limit after %d posts", s.Fetched))
		ui.PrintInfo("Checkpoint", s.Checkpoint)
	}
	if s.Fetched == 0 {
		ui.PrintWarning("No posts found")
	}
	if s.Endpoint == fetcher.AuthorFeed {
		ui.PrintInfo("Author", "@"+s.Actor)
	}
	ui.PrintInfo("Duration", s.Duration.String())
}
