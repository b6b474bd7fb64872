package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluejorts/bluesky-archiver/pkg/archive"
	"github.com/bluejorts/bluesky-archiver/pkg/auth"
	"github.com/bluejorts/bluesky-archiver/pkg/bluesky"
	"github.com/bluejorts/bluesky-archiver/pkg/checkpoint"
	"github.com/bluejorts/bluesky-archiver/pkg/config"
	"github.com/bluejorts/bluesky-archiver/pkg/fetcher"
	"github.com/bluejorts/bluesky-archiver/pkg/logger"
	"github.com/bluejorts/bluesky-archiver/pkg/ratelimit"
	"github.com/bluejorts/bluesky-archiver/pkg/retry"
	"github.com/bluejorts/bluesky-archiver/pkg/storage"
	"github.com/bluejorts/bluesky-archiver/pkg/store"
)

// ErrNoCredentials is returned when no app password can be found
var ErrNoCredentials = errors.New("no app password configured; pass --password or run 'auth login'")

// Credentials looks up stored app passwords
type Credentials interface {
	Retrieve(handle string) (*auth.Account, error)
	RetrieveDefault() (*auth.Account, error)
}

// Progress observes both halves of a run
type Progress interface {
	fetcher.Progress
	archive.Progress
}

// Summary describes a finished run
type Summary struct {
	Endpoint   fetcher.Endpoint
	Actor      string
	Pages      int
	Fetched    int
	Complete   bool
	Limited    bool
	Checkpoint string
	Archive    archive.Stats
	Duration   time.Duration
}

// Runner wires login, pagination and archiving into one run
type Runner struct {
	config      *config.Config
	credentials Credentials
	progress    Progress
	logger      logger.Logger
	sleep       retry.SleepFunc
}

// New creates a runner for cfg. credentials may be nil when the app
// password is always configured directly.
func New(cfg *config.Config, credentials Credentials, log logger.Logger) *Runner {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Runner{
		config:      cfg,
		credentials: credentials,
		logger:      log,
		sleep:       retry.Wait,
	}
}

// SetProgress attaches an observer to the fetcher and archiver
func (r *Runner) SetProgress(p Progress) {
	r.progress = p
}

// SetSleep replaces the sleep used for delays and backoff
func (r *Runner) SetSleep(sleep retry.SleepFunc) {
	r.sleep = sleep
}

// resolveAccount picks the identifier, app password and service: configured
// values first, then the credential stores. A stored account keeps the PDS it
// was saved with.
func (r *Runner) resolveAccount() (*auth.Account, error) {
	handle := r.config.Bluesky.Handle
	if handle != "" {
		parsed, err := bluesky.ParseActor(handle)
		if err != nil {
			return nil, err
		}
		handle = parsed
	}

	password := r.config.Bluesky.AppPassword
	if password != "" {
		if handle == "" {
			return nil, errors.New("a handle is required with an app password")
		}
		return &auth.Account{Handle: handle, AppPassword: password, ServiceURL: r.config.Bluesky.ServiceURL}, nil
	}
	if r.credentials == nil {
		return nil, ErrNoCredentials
	}

	var (
		account *auth.Account
		err     error
	)
	if handle != "" {
		account, err = r.credentials.Retrieve(handle)
	} else {
		account, err = r.credentials.RetrieveDefault()
	}
	if err != nil || account == nil {
		return nil, ErrNoCredentials
	}
	if account.ServiceURL == "" {
		account.ServiceURL = r.config.Bluesky.ServiceURL
	}
	r.logger.DebugWithFields("Using stored credentials", map[string]interface{}{
		"handle":  account.Handle,
		"did":     account.DID,
		"service": account.ServiceURL,
	})
	return account, nil
}

// Run logs in, fetches the target feed and archives what it returned. Posts
// fetched before a fatal fetch error are still archived before the error is
// returned.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	cfg := r.config
	start := time.Now()

	account, err := r.resolveAccount()
	if err != nil {
		return nil, err
	}

	endpoint, target := fetcher.Likes, ""
	if cfg.Fetch.ArchiveUser != "" {
		if target, err = bluesky.ParseActor(cfg.Fetch.ArchiveUser); err != nil {
			return nil, fmt.Errorf("archive user: %w", err)
		}
		endpoint = fetcher.AuthorFeed
	}

	client := bluesky.NewClient(account.ServiceURL, cfg.Bluesky.RequestTimeout, r.logger)
	session, err := client.Login(ctx, account.Identifier(), account.AppPassword)
	if err != nil {
		return nil, err
	}

	actor := target
	if endpoint == fetcher.Likes {
		actor = session.Handle
		if actor == "" {
			actor = account.Handle
		}
	}
	log := r.logger.WithFields(map[string]interface{}{
		"endpoint": endpoint.String(),
		"actor":    actor,
	})

	files, err := storage.NewManager(cfg.Output.Directory)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, cfg.DatabasePath(), r.logger)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	cp, err := checkpoint.NewManager(cfg.Output.Directory, endpoint.Scope(), actor, r.logger)
	if err != nil {
		return nil, err
	}
	startCursor, err := r.startCursor(log, cp)
	if err != nil {
		return nil, err
	}

	f := fetcher.New(client, session, cp, r.logger)
	f.SetSleep(r.sleep)
	if r.progress != nil {
		f.SetProgress(r.progress)
	}

	result, fetchErr := f.Fetch(ctx, fetcher.Options{
		Endpoint:    endpoint,
		Actor:       actor,
		Limit:       cfg.Fetch.Limit,
		PageSize:    cfg.Fetch.PageSize,
		Delay:       cfg.Fetch.Delay,
		StartCursor: startCursor,
		Policy:      policyFromConfig(cfg.RateLimit),
	})

	summary := &Summary{
		Endpoint:   endpoint,
		Actor:      actor,
		Checkpoint: cp.Path(),
	}
	defer func() { summary.Duration = time.Since(start).Round(time.Millisecond) }()
	if result != nil {
		summary.Pages = result.Pages
		summary.Fetched = len(result.Posts)
		summary.Complete = result.Complete
		summary.Limited = result.LimitReached
	}

	if result == nil || len(result.Posts) == 0 {
		if fetchErr != nil {
			return summary, fetchErr
		}
		log.Info("Nothing to archive")
		return summary, nil
	}

	if fetchErr != nil {
		log.WithError(fetchErr).WarnWithFields("Fetch failed, archiving posts fetched so far", map[string]interface{}{
			"posts": len(result.Posts),
		})
	}

	a := archive.New(client, session, db, files, r.logger)
	a.SetLimiter(ratelimit.PerMinute(cfg.RateLimit.DownloadsPerMinute))
	if r.progress != nil {
		a.SetProgress(r.progress)
	}

	stats, err := a.Archive(ctx, result.Posts, cfg.Output.NSFWOnly)
	summary.Archive = stats
	if fetchErr != nil {
		return summary, fetchErr
	}
	if err != nil {
		return summary, fmt.Errorf("archive interrupted: %w", err)
	}
	return summary, nil
}

// startCursor loads the saved cursor on resume and otherwise drops any stale one
func (r *Runner) startCursor(log logger.Logger, cp *checkpoint.Manager) (string, error) {
	if !r.config.Fetch.Resume {
		if cp.Exists() {
			log.Info("Clearing checkpoint from a previous run")
			if err := cp.Clear(); err != nil {
				return "", fmt.Errorf("failed to clear checkpoint: %w", err)
			}
		}
		return "", nil
	}

	cursor, ok, err := cp.Load()
	if err != nil {
		return "", err
	}
	if !ok {
		log.Info("No checkpoint found, starting from the newest post")
		return "", nil
	}
	log.InfoWithFields("Resuming from checkpoint", map[string]interface{}{
		"cursor": cursor,
	})
	return cursor, nil
}

func policyFromConfig(rl config.RateLimitConfig) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = rl.MaxRetries
	if rl.BaseDelay > 0 {
		p.BaseDelay = rl.BaseDelay
	}
	if rl.MaxDelay > 0 {
		p.MaxDelay = rl.MaxDelay
	}
	return p
}

// Stats opens the archive database under cfg and reports its totals
func Stats(ctx context.Context, cfg *config.Config, log logger.Logger) (store.Stats, error) {
	db, err := store.Open(ctx, cfg.DatabasePath(), log)
	if err != nil {
		return store.Stats{}, err
	}
	defer db.Close()
	return db.Stats(ctx)
}
