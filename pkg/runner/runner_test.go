package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluejorts/bluesky-archiver/pkg/auth"
	"github.com/bluejorts/bluesky-archiver/pkg/bluesky"
	"github.com/bluejorts/bluesky-archiver/pkg/checkpoint"
	"github.com/bluejorts/bluesky-archiver/pkg/config"
	apperrors "github.com/bluejorts/bluesky-archiver/pkg/errors"
	"github.com/bluejorts/bluesky-archiver/pkg/fetcher"
	"github.com/bluejorts/bluesky-archiver/pkg/logger"
)

// fakePDS serves createSession, feed pages keyed by cursor, and blobs
type fakePDS struct {
	mu        sync.Mutex
	pages     map[string]string
	status    map[string][]int
	blobs     map[string]int
	feedCalls []string
	logins    []string
	endpoint  string
}

func newFakePDS() *fakePDS {
	return &fakePDS{
		pages:  make(map[string]string),
		status: make(map[string][]int),
		blobs:  make(map[string]int),
	}
}

func (p *fakePDS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.URL.Path {
	case "/xrpc/" + bluesky.MethodCreateSession:
		var req struct {
			Identifier string `json:"identifier"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		p.logins = append(p.logins, req.Identifier)
		json.NewEncoder(w).Encode(map[string]string{
			"did":       "did:plc:me",
			"handle":    "me.bsky.social",
			"accessJwt": "opaque-access",
		})
	case "/xrpc/" + bluesky.MethodGetActorLikes, "/xrpc/" + bluesky.MethodGetAuthorFeed:
		p.endpoint = r.URL.Path
		cursor := r.URL.Query().Get("cursor")
		p.feedCalls = append(p.feedCalls, cursor)
		if queued := p.status[cursor]; len(queued) > 0 {
			p.status[cursor] = queued[1:]
			w.WriteHeader(queued[0])
			w.Write([]byte(`{"error":"RateLimitExceeded"}`))
			return
		}
		body, ok := p.pages[cursor]
		if !ok {
			body = `{"feed":[]}`
		}
		w.Write([]byte(body))
	case "/xrpc/" + bluesky.MethodGetBlob:
		cid := r.URL.Query().Get("cid")
		p.blobs[cid]++
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("image-bytes-" + cid))
	default:
		http.NotFound(w, r)
	}
}

func postJSON(rkey, createdAt string, blobs []string, labels ...string) string {
	images := ""
	for i, b := range blobs {
		if i > 0 {
			images += ","
		}
		images += fmt.Sprintf(`{"alt":"","image":{"$type":"blob","ref":{"$link":%q},"mimeType":"image/jpeg","size":10}}`, b)
	}
	labelJSON := ""
	for i, l := range labels {
		if i > 0 {
			labelJSON += ","
		}
		labelJSON += fmt.Sprintf(`{"src":"did:plc:mod","uri":"at://x","val":%q}`, l)
	}
	return fmt.Sprintf(`{"post":{
		"uri":"at://did:plc:alice/app.bsky.feed.post/%s",
		"cid":"bafyrei%scid00000",
		"author":{"did":"did:plc:alice","handle":"alice.bsky.social"},
		"indexedAt":%q,
		"record":{"$type":"app.bsky.feed.post","text":"post %s","createdAt":%q,
			"embed":{"$type":"app.bsky.embed.images","images":[%s]}},
		"labels":[%s]}}`, rkey, rkey, createdAt, rkey, createdAt, images, labelJSON)
}

func withReason(item string) string {
	return item[:len(item)-1] + `,"reason":{"$type":"app.bsky.feed.defs#reasonRepost"}}`
}

func page(cursor string, items ...string) string {
	feed := ""
	for i, it := range items {
		if i > 0 {
			feed += ","
		}
		feed += it
	}
	if cursor == "" {
		return `{"feed":[` + feed + `]}`
	}
	return fmt.Sprintf(`{"cursor":%q,"feed":[%s]}`, cursor, feed)
}

type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testConfig(t *testing.T, serverURL string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Bluesky.Handle = "me.bsky.social"
	cfg.Bluesky.AppPassword = "abcd-efgh-ijkl-mnop"
	cfg.Bluesky.ServiceURL = serverURL + "/xrpc"
	cfg.Bluesky.RequestTimeout = 5 * time.Second
	cfg.Fetch.Limit = 0
	cfg.Output.Directory = t.TempDir()
	return cfg
}

func startPDS(t *testing.T, pds *fakePDS) string {
	t.Helper()
	server := httptest.NewServer(pds)
	t.Cleanup(server.Close)
	return server.URL
}

func newTestRunner(cfg *config.Config, creds Credentials) (*Runner, *recordingSleep) {
	r := New(cfg, creds, logger.NewNopLogger())
	rec := &recordingSleep{}
	r.SetSleep(rec.sleep)
	return r, rec
}

func TestRunSharedBlobDownloadedOnce(t *testing.T) {
	pds := newFakePDS()
	pds.pages[""] = page("c1",
		postJSON("p1", "2024-01-15T10:30:45.123Z", []string{"bafkshared", "bafkone"}),
	)
	pds.pages["c1"] = page("",
		postJSON("p2", "2024-01-16T08:00:00.000Z", []string{"bafkshared"}),
	)
	cfg := testConfig(t, startPDS(t, pds))

	r, _ := newTestRunner(cfg, nil)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, fetcher.Likes, summary.Endpoint)
	assert.Equal(t, "me.bsky.social", summary.Actor)
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 2, summary.Fetched)
	assert.True(t, summary.Complete)
	assert.Equal(t, 2, summary.Archive.Downloaded)
	assert.Equal(t, 1, summary.Archive.Skipped)
	assert.Equal(t, 0, summary.Archive.Failed)

	assert.Equal(t, 1, pds.blobs["bafkshared"])
	assert.Equal(t, 1, pds.blobs["bafkone"])

	_, err = os.Stat(filepath.Join(cfg.Output.Directory, "alice.bsky.social",
		"alice.bsky.social_2024-01-15T10-30-45-123Z_bafyreip_0.jpg"))
	assert.NoError(t, err)

	stats, err := Stats(context.Background(), cfg, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Posts)
	assert.Equal(t, int64(2), stats.Images)

	// Natural end clears the checkpoint.
	_, err = os.Stat(summary.Checkpoint)
	assert.True(t, os.IsNotExist(err))
}

func TestRunSecondRunSkipsEverything(t *testing.T) {
	pds := newFakePDS()
	pds.pages[""] = page("", postJSON("p1", "2024-01-15T10:30:45.123Z", []string{"bafka", "bafkb"}))
	cfg := testConfig(t, startPDS(t, pds))

	r, _ := newTestRunner(cfg, nil)
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Archive.Downloaded)
	assert.Equal(t, 2, summary.Archive.Skipped)
	assert.Equal(t, 1, pds.blobs["bafka"])
}

func TestRunRetriesRateLimitedPage(t *testing.T) {
	pds := newFakePDS()
	pds.status[""] = []int{http.StatusTooManyRequests, http.StatusTooManyRequests}
	pds.pages[""] = page("", postJSON("p1", "2024-01-15T10:30:45.123Z", []string{"bafka"}))
	cfg := testConfig(t, startPDS(t, pds))
	cfg.RateLimit.BaseDelay = time.Second

	r, rec := newTestRunner(cfg, nil)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.waits)
	assert.Equal(t, []string{"", "", ""}, pds.feedCalls)
	assert.Equal(t, 1, summary.Archive.Downloaded)
}

func TestRunArchivesPartialPostsOnFatalError(t *testing.T) {
	pds := newFakePDS()
	pds.pages[""] = page("c1", postJSON("p1", "2024-01-15T10:30:45.123Z", []string{"bafka"}))
	pds.status["c1"] = []int{http.StatusBadGateway}
	cfg := testConfig(t, startPDS(t, pds))

	r, _ := newTestRunner(cfg, nil)
	summary, err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeAPI))

	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 1, summary.Archive.Downloaded)

	// The cursor of the accepted page survives for --resume.
	data, err := os.ReadFile(summary.Checkpoint)
	require.NoError(t, err)
	assert.Equal(t, "c1", string(data))
}

func TestRunResumeStartsFromCheckpoint(t *testing.T) {
	pds := newFakePDS()
	pds.pages["c7"] = page("", postJSON("p9", "2024-03-01T00:00:00.000Z", []string{"bafkz"}))
	cfg := testConfig(t, startPDS(t, pds))
	cfg.Fetch.Resume = true

	cp, err := checkpoint.NewManager(cfg.Output.Directory, "likes", "me.bsky.social", logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, cp.Save("c7"))

	r, _ := newTestRunner(cfg, nil)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"c7"}, pds.feedCalls)
	assert.Equal(t, 1, summary.Archive.Downloaded)
}

func TestRunWithoutResumeClearsStaleCheckpoint(t *testing.T) {
	pds := newFakePDS()
	pds.pages[""] = page("", postJSON("p1", "2024-01-15T10:30:45.123Z", nil))
	cfg := testConfig(t, startPDS(t, pds))

	cp, err := checkpoint.NewManager(cfg.Output.Directory, "likes", "me.bsky.social", logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, cp.Save("stale"))

	r, _ := newTestRunner(cfg, nil)
	_, err = r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{""}, pds.feedCalls)
	assert.False(t, cp.Exists())
}

func TestRunAuthorFeed(t *testing.T) {
	pds := newFakePDS()
	pds.pages[""] = page("",
		postJSON("p1", "2024-01-15T10:30:45.123Z", []string{"bafka"}),
		withReason(postJSON("p2", "2024-01-15T10:30:45.123Z", []string{"bafkr"})),
	)
	cfg := testConfig(t, startPDS(t, pds))
	cfg.Fetch.ArchiveUser = "alice.bsky.social"

	r, _ := newTestRunner(cfg, nil)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/xrpc/"+bluesky.MethodGetAuthorFeed, pds.endpoint)
	assert.Equal(t, fetcher.AuthorFeed, summary.Endpoint)
	assert.Equal(t, "alice.bsky.social", summary.Actor)
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 0, pds.blobs["bafkr"])
	assert.Equal(t, filepath.Join(cfg.Output.Directory, checkpoint.FileName("feed", "alice.bsky.social")), summary.Checkpoint)
}

func TestRunNSFWOnly(t *testing.T) {
	pds := newFakePDS()
	pds.pages[""] = page("",
		postJSON("p1", "2024-01-15T10:30:45.123Z", []string{"bafksafe"}),
		postJSON("p2", "2024-01-15T11:00:00.000Z", []string{"bafknsfw"}, "porn"),
	)
	cfg := testConfig(t, startPDS(t, pds))
	cfg.Output.NSFWOnly = true

	r, _ := newTestRunner(cfg, nil)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Archive.Posts)
	assert.Equal(t, 0, pds.blobs["bafksafe"])
	assert.Equal(t, 1, pds.blobs["bafknsfw"])
	assert.DirExists(t, filepath.Join(cfg.Output.Directory, "nsfw", "alice.bsky.social"))
}

func TestRunUsesStoredCredentials(t *testing.T) {
	pds := newFakePDS()
	cfg := testConfig(t, startPDS(t, pds))
	cfg.Bluesky.AppPassword = ""

	creds, _ := auth.NewMockManager()
	require.NoError(t, creds.Store(&auth.Account{Handle: "me.bsky.social", AppPassword: "abcd-efgh-ijkl-mnop"}))

	r, _ := newTestRunner(cfg, creds)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Complete)
}

func TestRunStoredAccountKeepsItsService(t *testing.T) {
	pds := newFakePDS()
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Bluesky.Handle = "@Me.Bsky.Social"
	cfg.Bluesky.AppPassword = ""

	creds, _ := auth.NewMockManager()
	require.NoError(t, creds.Store(&auth.Account{
		Handle:      "me.bsky.social",
		DID:         "did:plc:me",
		AppPassword: "abcd-efgh-ijkl-mnop",
		ServiceURL:  startPDS(t, pds) + "/xrpc",
	}))

	r, _ := newTestRunner(cfg, creds)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Complete)
	assert.Equal(t, []string{"me.bsky.social"}, pds.logins)
}

func TestRunRejectsMalformedArchiveUser(t *testing.T) {
	pds := newFakePDS()
	cfg := testConfig(t, startPDS(t, pds))
	cfg.Fetch.ArchiveUser = "not a handle"

	r, _ := newTestRunner(cfg, nil)
	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive user")
	assert.Empty(t, pds.logins, "nothing is requested for an invalid target")
}

func TestRunWithoutCredentials(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Bluesky.AppPassword = ""

	r, _ := newTestRunner(cfg, nil)
	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)

	empty, _ := auth.NewMockManager()
	r, _ = newTestRunner(cfg, empty)
	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}
