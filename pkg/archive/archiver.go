package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bluejorts/bluesky-archiver/pkg/bluesky"
	"github.com/bluejorts/bluesky-archiver/pkg/logger"
	"github.com/bluejorts/bluesky-archiver/pkg/ratelimit"
	"github.com/bluejorts/bluesky-archiver/pkg/storage"
	"github.com/bluejorts/bluesky-archiver/pkg/store"
)

// BlobDownloader fetches blob bytes from the author's repo
type BlobDownloader interface {
	DownloadBlob(ctx context.Context, session *bluesky.Session, did, cid string) ([]byte, error)
}

// Store is the dedup record the archiver writes to
type Store interface {
	UpsertPost(ctx context.Context, p *store.PostRecord) error
	HasImage(ctx context.Context, blobCID string) (bool, error)
	UpsertImage(ctx context.Context, img *store.ImageRecord) error
}

// Outcome is what happened to a single image
type Outcome int

const (
	Downloaded Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Downloaded:
		return "downloaded"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Progress observes an archive pass
type Progress interface {
	ArchiveStarted(posts, images int)
	ImageArchived(handle string, outcome Outcome)
}

// Stats are the totals of one Archive call
type Stats struct {
	Posts      int
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
}

// Archiver downloads the images of a batch of posts, one at a time
type Archiver struct {
	client   BlobDownloader
	session  *bluesky.Session
	store    Store
	files    *storage.Manager
	limiter  ratelimit.Limiter
	progress Progress
	logger   logger.Logger
	now      func() time.Time
}

// New creates an archiver
func New(client BlobDownloader, session *bluesky.Session, st Store, files *storage.Manager, log logger.Logger) *Archiver {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Archiver{
		client:  client,
		session: session,
		store:   st,
		files:   files,
		logger:  log,
		now:     time.Now,
	}
}

// SetLimiter throttles blob downloads; nil disables throttling
func (a *Archiver) SetLimiter(l ratelimit.Limiter) {
	a.limiter = l
}

// SetProgress attaches an observer
func (a *Archiver) SetProgress(p Progress) {
	a.progress = p
}

// SetClock replaces the clock used for archive timestamps
func (a *Archiver) SetClock(now func() time.Time) {
	a.now = now
}

// Archive records every post and downloads the images not archived before.
// Per-image problems only show up in Stats; an error means the run could not
// continue at all.
func (a *Archiver) Archive(ctx context.Context, posts []bluesky.Post, nsfwOnly bool) (Stats, error) {
	var stats Stats

	selected := make([]*bluesky.Post, 0, len(posts))
	totalImages := 0
	for i := range posts {
		if nsfwOnly && !posts[i].HasRestrictedLabel() {
			continue
		}
		selected = append(selected, &posts[i])
		totalImages += len(posts[i].Images())
	}

	a.logger.InfoWithFields("Archiving posts", map[string]interface{}{
		"posts":     len(selected),
		"images":    totalImages,
		"nsfw_only": nsfwOnly,
		"filtered":  len(posts) - len(selected),
	})
	if a.progress != nil {
		a.progress.ArchiveStarted(len(selected), totalImages)
	}

	for _, post := range selected {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := a.archivePost(ctx, post, &stats); err != nil {
			return stats, err
		}
		stats.Posts++
	}

	logger.LogArchiveStats(a.logger, stats.Downloaded, stats.Skipped, stats.Failed)
	return stats, nil
}

func (a *Archiver) archivePost(ctx context.Context, post *bluesky.Post, stats *Stats) error {
	nsfw := post.HasRestrictedLabel()
	images := post.Images()
	log := a.logger.WithFields(map[string]interface{}{
		"uri":    post.URI,
		"handle": post.Author.Handle,
	})

	record := &store.PostRecord{
		URI:               post.URI,
		CID:               post.CID,
		AuthorDID:         post.Author.DID,
		AuthorHandle:      post.Author.Handle,
		Text:              post.Record.Text,
		ImageCount:        len(images),
		HasContentWarning: nsfw,
		PostCreatedAt:     post.Record.CreatedAt,
		ArchivedAt:        a.now(),
	}
	if err := a.store.UpsertPost(ctx, record); err != nil {
		// Images cannot be recorded without their post row.
		log.WithError(err).Warn("Failed to record post")
		for range images {
			a.count(stats, post.Author.Handle, Failed)
		}
		return nil
	}

	if len(images) == 0 {
		log.Debug("No images in post")
		return nil
	}

	dir, err := a.files.AuthorDir(post.Author.Handle, nsfw)
	if err != nil {
		return err
	}

	for idx, image := range images {
		if err := a.archiveImage(ctx, log, post, dir, idx, image, stats); err != nil {
			return err
		}
	}
	return nil
}

// archiveImage handles one attachment. It only returns an error when the
// context is done.
func (a *Archiver) archiveImage(ctx context.Context, log logger.Logger, post *bluesky.Post, dir string, idx int, image bluesky.Image, stats *Stats) error {
	handle := post.Author.Handle
	blobCID := image.Image.CID()
	if blobCID == "" {
		log.WarnWithFields("Image has no blob reference", map[string]interface{}{"index": idx})
		a.count(stats, handle, Failed)
		return nil
	}

	seen, err := a.store.HasImage(ctx, blobCID)
	if err != nil {
		log.WithError(err).WarnWithFields("Failed to check image", map[string]interface{}{"blob_cid": blobCID})
		a.count(stats, handle, Failed)
		return nil
	}
	if seen {
		log.DebugWithFields("Image already archived", map[string]interface{}{"blob_cid": blobCID})
		a.count(stats, handle, Skipped)
		return nil
	}

	filename := Filename(handle, post.Record.CreatedAt, post.CID, idx, image.Image.MimeType)

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	data, err := a.client.DownloadBlob(ctx, a.session, post.Author.DID, blobCID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.LogDownload(log, handle, blobCID, filename, err)
		a.count(stats, handle, Failed)
		return nil
	}

	size, err := a.files.SaveFile(dir, filename, bytes.NewReader(data))
	if err != nil {
		logger.LogDownload(log, handle, blobCID, filename, fmt.Errorf("write file: %w", err))
		a.count(stats, handle, Failed)
		return nil
	}

	err = a.store.UpsertImage(ctx, &store.ImageRecord{
		PostURI:      post.URI,
		BlobCID:      blobCID,
		Filename:     filename,
		MimeType:     image.Image.MimeType,
		Size:         size,
		AltText:      image.Alt,
		DownloadedAt: a.now(),
	})
	if err != nil {
		// The file stays; the next run sees the blob as new and rewrites the same name.
		logger.LogDownload(log, handle, blobCID, filename, fmt.Errorf("record image: %w", err))
		a.count(stats, handle, Failed)
		return nil
	}

	logger.LogDownload(log, handle, blobCID, filename, nil)
	stats.Bytes += size
	a.count(stats, handle, Downloaded)
	return nil
}

func (a *Archiver) count(stats *Stats, handle string, outcome Outcome) {
	switch outcome {
	case Downloaded:
		stats.Downloaded++
	case Skipped:
		stats.Skipped++
	case Failed:
		stats.Failed++
	}
	if a.progress != nil {
		a.progress.ImageArchived(handle, outcome)
	}
}
