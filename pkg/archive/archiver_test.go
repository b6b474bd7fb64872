package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluejorts/bluesky-archiver/pkg/bluesky"
	"github.com/bluejorts/bluesky-archiver/pkg/logger"
	"github.com/bluejorts/bluesky-archiver/pkg/storage"
	"github.com/bluejorts/bluesky-archiver/pkg/store"
)

type fakeDownloader struct {
	blobs map[string][]byte
	calls map[string]int
}

func newFakeDownloader(blobs map[string][]byte) *fakeDownloader {
	return &fakeDownloader{blobs: blobs, calls: make(map[string]int)}
}

func (d *fakeDownloader) DownloadBlob(ctx context.Context, session *bluesky.Session, did, cid string) ([]byte, error) {
	d.calls[cid]++
	data, ok := d.blobs[cid]
	if !ok {
		return nil, errors.New("api error (code 404): BlobNotFound")
	}
	return data, nil
}

type harness struct {
	archiver *Archiver
	client   *fakeDownloader
	store    *store.Store
	dir      string
}

func newHarness(t *testing.T, blobs map[string][]byte) *harness {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(context.Background(), filepath.Join(dir, "archive.db"), logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	files, err := storage.NewManager(dir)
	require.NoError(t, err)

	client := newFakeDownloader(blobs)
	a := New(client, &bluesky.Session{AccessJWT: "t"}, st, files, logger.NewNopLogger())
	a.SetClock(func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) })

	return &harness{archiver: a, client: client, store: st, dir: dir}
}

func post(uri, cid, handle string, blobs ...string) bluesky.Post {
	p := bluesky.Post{
		URI:    uri,
		CID:    cid,
		Author: bluesky.Author{DID: "did:plc:" + handle, Handle: handle},
		Record: bluesky.Record{Text: "text of " + uri, CreatedAt: "2024-01-15T10:30:45.123Z"},
	}
	if len(blobs) > 0 {
		embed := &bluesky.ImagesEmbed{}
		for _, b := range blobs {
			embed.Images = append(embed.Images, bluesky.Image{
				Alt:   "alt " + b,
				Image: bluesky.Blob{Ref: bluesky.BlobRef{Link: b}, MimeType: "image/jpeg"},
			})
		}
		p.Record.Embed = embed
	}
	return p
}

func labelled(p bluesky.Post, val string) bluesky.Post {
	p.Labels = append(p.Labels, bluesky.Label{Val: val})
	return p
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) != ".db" && filepath.Ext(path) != ".db-journal" {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestArchiveDownloadsImages(t *testing.T) {
	h := newHarness(t, map[string][]byte{"bafk1": []byte("one"), "bafk2": []byte("two!")})
	ctx := context.Background()

	stats, err := h.archiver.Archive(ctx, []bluesky.Post{post("at://p/1", "bafyreiabcdefgh", "alice.test", "bafk1", "bafk2")}, false)
	require.NoError(t, err)

	assert.Equal(t, Stats{Posts: 1, Downloaded: 2, Bytes: 7}, stats)

	first := filepath.Join(h.dir, "alice.test", "alice.test_2024-01-15T10-30-45-123Z_bafyreia_0.jpg")
	second := filepath.Join(h.dir, "alice.test", "alice.test_2024-01-15T10-30-45-123Z_bafyreia_1.jpg")
	assert.FileExists(t, first)
	assert.FileExists(t, second)

	images, err := h.store.ImagesForPost(ctx, "at://p/1")
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, filepath.Base(first), images[0].Filename)
	assert.Equal(t, int64(3), images[0].Size)
	assert.Equal(t, "alt bafk1", images[0].AltText)

	rec, err := h.store.GetPost(ctx, "at://p/1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.ImageCount)
	assert.False(t, rec.HasContentWarning)
}

func TestArchiveZeroImagePost(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	stats, err := h.archiver.Archive(ctx, []bluesky.Post{post("at://p/text", "bafyreitext0000", "bob.test")}, false)
	require.NoError(t, err)

	assert.Zero(t, stats.Downloaded)
	assert.Zero(t, stats.Skipped)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, countFiles(t, h.dir))
	assert.NoDirExists(t, filepath.Join(h.dir, "bob.test"))

	seen, err := h.store.HasPost(ctx, "at://p/text")
	require.NoError(t, err)
	assert.True(t, seen, "a post without images is still recorded as seen")
}

func TestArchiveSkipsKnownBlobWithoutRewriting(t *testing.T) {
	h := newHarness(t, map[string][]byte{"bafk1": []byte("original")})
	ctx := context.Background()
	posts := []bluesky.Post{post("at://p/1", "bafyreiabcdefgh", "alice.test", "bafk1")}

	_, err := h.archiver.Archive(ctx, posts, false)
	require.NoError(t, err)

	path := filepath.Join(h.dir, "alice.test", Filename("alice.test", "2024-01-15T10:30:45.123Z", "bafyreiabcdefgh", 0, "image/jpeg"))
	require.NoError(t, os.WriteFile(path, []byte("marker"), 0644))

	stats, err := h.archiver.Archive(ctx, posts, false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Downloaded)
	assert.Equal(t, 1, h.client.calls["bafk1"], "blob must never be downloaded twice")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "marker", string(content), "existing file must not be rewritten")
}

func TestArchiveNSFWOnly(t *testing.T) {
	h := newHarness(t, map[string][]byte{"bafkplain": []byte("a"), "bafklabel": []byte("b")})
	ctx := context.Background()

	plain := post("at://p/plain", "bafyreiplain000", "carol.test", "bafkplain")
	flagged := labelled(post("at://p/flagged", "bafyreiflag0000", "carol.test", "bafklabel"), "nudity")

	stats, err := h.archiver.Archive(ctx, []bluesky.Post{plain, flagged}, true)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Posts)
	assert.Equal(t, 1, stats.Downloaded)
	assert.Zero(t, h.client.calls["bafkplain"])

	seen, err := h.store.HasPost(ctx, "at://p/plain")
	require.NoError(t, err)
	assert.False(t, seen)

	assert.DirExists(t, filepath.Join(h.dir, "nsfw", "carol.test"))
	assert.NoDirExists(t, filepath.Join(h.dir, "carol.test"))

	rec, err := h.store.GetPost(ctx, "at://p/flagged")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.HasContentWarning)
}

func TestArchiveLabelledPostGoesToNSFWWithoutFilter(t *testing.T) {
	h := newHarness(t, map[string][]byte{"bafk1": []byte("a")})

	_, err := h.archiver.Archive(context.Background(), []bluesky.Post{labelled(post("at://p/1", "bafyreiabcdefgh", "dave.test", "bafk1"), "porn")}, false)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(h.dir, "nsfw", "dave.test", "dave.test_2024-01-15T10-30-45-123Z_bafyreia_0.jpg"))
}

func TestArchiveSharedBlobAcrossPosts(t *testing.T) {
	h := newHarness(t, map[string][]byte{"bafkshared": []byte("same bytes")})
	ctx := context.Background()

	stats, err := h.archiver.Archive(ctx, []bluesky.Post{
		post("at://p/1", "bafyreifirst000", "erin.test", "bafkshared"),
		post("at://p/2", "bafyreisecond00", "frank.test", "bafkshared"),
	}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Downloaded)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, h.client.calls["bafkshared"])

	st, err := h.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Posts)
	assert.Equal(t, int64(1), st.Images)
}

func TestArchiveFailedImageDoesNotStopPost(t *testing.T) {
	h := newHarness(t, map[string][]byte{"bafkok": []byte("fine")})
	ctx := context.Background()

	stats, err := h.archiver.Archive(ctx, []bluesky.Post{
		post("at://p/1", "bafyreiabcdefgh", "gina.test", "bafkmissing", "bafkok"),
	}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Downloaded)

	failedPath := filepath.Join(h.dir, "gina.test", Filename("gina.test", "2024-01-15T10:30:45.123Z", "bafyreiabcdefgh", 0, "image/jpeg"))
	assert.NoFileExists(t, failedPath)

	seen, err := h.store.HasImage(ctx, "bafkmissing")
	require.NoError(t, err)
	assert.False(t, seen, "a failed image must stay unrecorded so the next run retries it")

	h.client.blobs["bafkmissing"] = []byte("now present")
	stats, err = h.archiver.Archive(ctx, []bluesky.Post{
		post("at://p/1", "bafyreiabcdefgh", "gina.test", "bafkmissing", "bafkok"),
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Downloaded)
	assert.Equal(t, 1, stats.Skipped)
	assert.FileExists(t, failedPath)
}

func TestArchiveUnwritableOutputIsFatal(t *testing.T) {
	h := newHarness(t, map[string][]byte{"bafk1": []byte("a")})
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "henry.test"), []byte("not a dir"), 0644))

	_, err := h.archiver.Archive(context.Background(), []bluesky.Post{post("at://p/1", "bafyreiabcdefgh", "henry.test", "bafk1")}, false)
	assert.Error(t, err)
}

type brokenStore struct {
	*store.Store
}

func (b brokenStore) HasImage(ctx context.Context, blobCID string) (bool, error) {
	return false, errors.New("database is locked")
}

func TestArchiveStoreLookupFailureCountsAsFailed(t *testing.T) {
	h := newHarness(t, map[string][]byte{"bafk1": []byte("a")})
	files, err := storage.NewManager(h.dir)
	require.NoError(t, err)
	a := New(h.client, nil, brokenStore{h.store}, files, logger.NewNopLogger())

	stats, err := a.Archive(context.Background(), []bluesky.Post{post("at://p/1", "bafyreiabcdefgh", "ivy.test", "bafk1")}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, h.client.calls["bafk1"])
}

type countingLimiter struct {
	waits int
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.waits++
	return nil
}

func TestArchiveWaitsOnLimiterPerDownload(t *testing.T) {
	h := newHarness(t, map[string][]byte{"bafk1": []byte("a"), "bafk2": []byte("b")})
	limiter := &countingLimiter{}
	h.archiver.SetLimiter(limiter)

	_, err := h.archiver.Archive(context.Background(), []bluesky.Post{
		post("at://p/1", "bafyreiabcdefgh", "jo.test", "bafk1", "bafk2"),
		post("at://p/2", "bafyreiother00", "jo.test", "bafk1"),
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, limiter.waits, "skipped blobs do not consume a token")
}

type progressRecorder struct {
	posts, images int
	outcomes      []Outcome
}

func (p *progressRecorder) ArchiveStarted(posts, images int) {
	p.posts, p.images = posts, images
}

func (p *progressRecorder) ImageArchived(handle string, outcome Outcome) {
	p.outcomes = append(p.outcomes, outcome)
}

func TestArchiveReportsProgress(t *testing.T) {
	h := newHarness(t, map[string][]byte{"bafk1": []byte("a")})
	progress := &progressRecorder{}
	h.archiver.SetProgress(progress)

	_, err := h.archiver.Archive(context.Background(), []bluesky.Post{
		post("at://p/1", "bafyreiabcdefgh", "kim.test", "bafk1", "bafkgone"),
		post("at://p/2", "bafyreiother00", "kim.test", "bafk1"),
	}, false)
	require.NoError(t, err)

	assert.Equal(t, 2, progress.posts)
	assert.Equal(t, 3, progress.images)
	assert.Equal(t, []Outcome{Downloaded, Failed, Skipped}, progress.outcomes)
}
