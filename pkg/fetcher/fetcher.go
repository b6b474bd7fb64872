package fetcher

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bluejorts/bluesky-archiver/pkg/bluesky"
	apperrors "github.com/bluejorts/bluesky-archiver/pkg/errors"
	"github.com/bluejorts/bluesky-archiver/pkg/logger"
	"github.com/bluejorts/bluesky-archiver/pkg/retry"
)

// MaxPageSize is the largest page either feed endpoint will serve
const MaxPageSize = 100

// Requester sends one authenticated XRPC call and returns status and body
type Requester interface {
	Request(ctx context.Context, session *bluesky.Session, method, path string, query url.Values, body []byte) (int, []byte, error)
}

// Checkpoint receives the cursor of every accepted page
type Checkpoint interface {
	Save(cursor string) error
	Clear() error
}

// Progress observes a run. Implementations must not block.
type Progress interface {
	PageFetched(page, items, accepted, total int)
	RateLimited(attempt int, wait time.Duration)
}

// Endpoint selects which feed is walked
type Endpoint int

const (
	// Likes walks the posts an actor has liked
	Likes Endpoint = iota
	// AuthorFeed walks an actor's own posts that carry images
	AuthorFeed
)

// Method returns the XRPC method name
func (e Endpoint) Method() string {
	if e == AuthorFeed {
		return bluesky.MethodGetAuthorFeed
	}
	return bluesky.MethodGetActorLikes
}

// Scope names the checkpoint namespace of the endpoint
func (e Endpoint) Scope() string {
	if e == AuthorFeed {
		return "feed"
	}
	return "likes"
}

func (e Endpoint) String() string {
	return e.Scope()
}

// accepts reports whether an item counts toward the limit
func (e Endpoint) accepts(item *bluesky.FeedItem) bool {
	if e != AuthorFeed {
		return true
	}
	if item.IsRepost() || item.Post.IsQuote() {
		return false
	}
	return len(item.Post.Images()) > 0
}

// State is the fetcher's position in a run
type State int

const (
	StateIdle State = iota
	StateRequesting
	StatePageAccepted
	StateRateLimited
	StateFatalError
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StatePageAccepted:
		return "page_accepted"
	case StateRateLimited:
		return "rate_limited"
	case StateFatalError:
		return "fatal_error"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Options describes one run
type Options struct {
	Endpoint Endpoint
	Actor    string
	// Limit of 0 fetches until the feed ends
	Limit    int
	PageSize int
	// Delay is slept before every page request except the first
	Delay       time.Duration
	StartCursor string
	Policy      retry.Policy
}

// Result is what a run produced. On error it still holds the posts of the
// pages accepted before the failure.
type Result struct {
	Posts []bluesky.Post
	Pages int
	// Cursor is the last cursor handed to the checkpoint
	Cursor string
	// Complete is set when the feed ran out
	Complete bool
	// LimitReached is set when the run stopped at Options.Limit
	LimitReached bool
}

// Fetcher walks one feed endpoint page by page
type Fetcher struct {
	client     Requester
	session    *bluesky.Session
	checkpoint Checkpoint
	progress   Progress
	logger     logger.Logger
	sleep      retry.SleepFunc
	now        func() time.Time
	state      State
}

// New creates a fetcher. checkpoint may be nil when nothing should be persisted.
func New(client Requester, session *bluesky.Session, checkpoint Checkpoint, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Fetcher{
		client:     client,
		session:    session,
		checkpoint: checkpoint,
		logger:     log,
		sleep:      retry.Wait,
		now:        time.Now,
	}
}

// SetSleep replaces the function used for backoff and inter-request delays
func (f *Fetcher) SetSleep(sleep retry.SleepFunc) {
	f.sleep = sleep
}

// SetClock replaces the clock used for the session expiry check
func (f *Fetcher) SetClock(now func() time.Time) {
	f.now = now
}

// SetProgress attaches an observer
func (f *Fetcher) SetProgress(p Progress) {
	f.progress = p
}

// State returns where the last run stopped
func (f *Fetcher) State() State {
	return f.state
}

// Fetch runs until the feed ends, the limit is reached, or a fatal error occurs
func (f *Fetcher) Fetch(ctx context.Context, opts Options) (*Result, error) {
	f.state = StateIdle
	result := &Result{Cursor: opts.StartCursor}

	if f.session != nil && f.session.Expired(f.now()) {
		f.state = StateFatalError
		return result, apperrors.NewSessionExpired(f.session.ExpiresAt.Format(time.RFC3339))
	}

	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	log := f.logger.WithFields(map[string]interface{}{
		"endpoint": opts.Endpoint.Method(),
		"actor":    opts.Actor,
	})
	log.InfoWithFields("Starting fetch", map[string]interface{}{
		"limit":        opts.Limit,
		"resume":       opts.StartCursor != "",
		"delay":        opts.Delay,
		"max_retries":  opts.Policy.MaxRetries,
		"page_size":    pageSize,
		"start_cursor": opts.StartCursor,
	})

	cursor := opts.StartCursor
	for {
		size := pageSize
		if opts.Limit > 0 {
			if remaining := opts.Limit - len(result.Posts); remaining < size {
				size = remaining
			}
		}

		if result.Pages > 0 && opts.Delay > 0 {
			if err := f.sleep(ctx, opts.Delay); err != nil {
				return result, err
			}
		}

		page, err := f.fetchPage(ctx, log, opts, cursor, size)
		if err != nil {
			return result, err
		}
		result.Pages++

		if len(page.Feed) == 0 {
			log.Info("Empty page, feed exhausted")
			f.clearCheckpoint(log)
			result.Complete = true
			return result, nil
		}

		accepted := 0
		drained := true
		for i := range page.Feed {
			item := &page.Feed[i]
			if !opts.Endpoint.accepts(item) {
				continue
			}
			result.Posts = append(result.Posts, item.Post)
			accepted++

			if opts.Limit > 0 && len(result.Posts) >= opts.Limit {
				result.LimitReached = true
				drained = i == len(page.Feed)-1
				break
			}
		}

		logger.LogPage(log, opts.Endpoint.Method(), len(page.Feed), accepted, page.Cursor)
		if f.progress != nil {
			f.progress.PageFetched(result.Pages, len(page.Feed), accepted, len(result.Posts))
		}

		if result.LimitReached {
			// Resume from the page that satisfied the limit unless nothing of it is left.
			switch {
			case drained && page.Cursor == "":
				f.clearCheckpoint(log)
				result.Complete = true
			case drained:
				f.saveCheckpoint(log, page.Cursor)
				result.Cursor = page.Cursor
			}
			log.InfoWithFields("Limit reached", map[string]interface{}{
				"limit": opts.Limit,
				"posts": len(result.Posts),
			})
			return result, nil
		}

		if page.Cursor == "" {
			log.Info("No cursor returned, feed exhausted")
			f.clearCheckpoint(log)
			result.Complete = true
			return result, nil
		}

		f.saveCheckpoint(log, page.Cursor)
		result.Cursor = page.Cursor
		cursor = page.Cursor
	}
}

// fetchPage requests one page, retrying only on 429
func (f *Fetcher) fetchPage(ctx context.Context, log logger.Logger, opts Options, cursor string, size int) (*bluesky.FeedPage, error) {
	method := opts.Endpoint.Method()
	query := url.Values{}
	query.Set("actor", opts.Actor)
	query.Set("limit", strconv.Itoa(size))
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if opts.Endpoint == AuthorFeed {
		query.Set("filter", "posts_with_media")
	}

	attempt := 0
	for {
		f.state = StateRequesting
		status, body, err := f.client.Request(ctx, f.session, http.MethodGet, method, query, nil)
		if err != nil {
			f.state = StateFatalError
			return nil, err
		}

		if apperrors.IsRetryableStatusCode(status) {
			attempt++
			if opts.Policy.ShouldGiveUp(attempt) {
				f.state = StateExhausted
				log.ErrorWithFields("Rate limit retries exhausted", map[string]interface{}{
					"attempts": attempt,
					"cursor":   cursor,
				})
				return nil, apperrors.NewRateLimitExhausted(opts.Policy.MaxRetries)
			}

			f.state = StateRateLimited
			wait := opts.Policy.NextWait(attempt)
			logger.LogRateLimit(log, method, attempt, opts.Policy.MaxRetries, wait)
			if f.progress != nil {
				f.progress.RateLimited(attempt, wait)
			}
			if err := f.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if status < 200 || status >= 300 {
			f.state = StateFatalError
			return nil, apperrors.NewAPIError(method, status, body)
		}

		page, err := bluesky.DecodeFeedPage(method, body)
		if err != nil {
			f.state = StateFatalError
			return nil, err
		}
		f.state = StatePageAccepted
		return page, nil
	}
}

// saveCheckpoint persists a cursor; failure only costs resumability
func (f *Fetcher) saveCheckpoint(log logger.Logger, cursor string) {
	if f.checkpoint == nil {
		return
	}
	if err := f.checkpoint.Save(cursor); err != nil {
		log.WithError(err).Warn("Failed to save checkpoint")
	}
}

func (f *Fetcher) clearCheckpoint(log logger.Logger) {
	if f.checkpoint == nil {
		return
	}
	if err := f.checkpoint.Clear(); err != nil {
		log.WithError(err).Warn("Failed to clear checkpoint")
	}
}
