package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	apperrors "github.com/bluejorts/bluesky-archiver/pkg/errors"
	"github.com/bluejorts/bluesky-archiver/pkg/logger"
	"github.com/bluejorts/bluesky-archiver/pkg/store/migrations"
)

const timeLayout = time.RFC3339

// PostRecord is the archived projection of a post
type PostRecord struct {
	URI               string
	CID               string
	AuthorDID         string
	AuthorHandle      string
	Text              string
	ImageCount        int
	HasContentWarning bool
	PostCreatedAt     string
	ArchivedAt        time.Time
}

// ImageRecord is the archived projection of one image blob
type ImageRecord struct {
	PostURI      string
	BlobCID      string
	Filename     string
	MimeType     string
	Size         int64
	AltText      string
	DownloadedAt time.Time
}

// Stats summarizes an archive database
type Stats struct {
	Posts      int64
	NSFWPosts  int64
	Images     int64
	TotalBytes int64
}

// Store records which posts and blobs have been archived. It expects a
// single writer.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

// Open opens or creates the database at path and applies migrations
func Open(ctx context.Context, path string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperrors.NewFilesystemError("create database directory", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := New(db, log)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.DebugWithFields("Archive database ready", map[string]interface{}{
		"path": path,
	})
	return s, nil
}

// New wraps an already open database without migrating it
func New(db *sql.DB, log logger.Logger) *Store {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{db: db, logger: log}
}

// Migrate brings the schema up to date
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("failed to migrate archive database: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// HasPost reports whether a post URI has been recorded
func (s *Store) HasPost(ctx context.Context, uri string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM archived_posts WHERE uri = ?)`, uri).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up post: %w", err)
	}
	return exists, nil
}

// UpsertPost inserts a post or overwrites the existing row with the same URI
func (s *Store) UpsertPost(ctx context.Context, p *PostRecord) error {
	query := `INSERT INTO archived_posts
			(uri, cid, author_did, author_handle, post_text, image_count, archived_at, post_created_at, has_content_warning)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			cid = excluded.cid,
			author_did = excluded.author_did,
			author_handle = excluded.author_handle,
			post_text = excluded.post_text,
			image_count = excluded.image_count,
			archived_at = excluded.archived_at,
			post_created_at = excluded.post_created_at,
			has_content_warning = excluded.has_content_warning`

	_, err := s.db.ExecContext(ctx, query,
		p.URI, p.CID, p.AuthorDID, p.AuthorHandle, p.Text, p.ImageCount,
		p.ArchivedAt.UTC().Format(timeLayout), p.PostCreatedAt, p.HasContentWarning)
	if err != nil {
		return fmt.Errorf("failed to upsert post %s: %w", p.URI, err)
	}
	return nil
}

// HasImage reports whether a blob CID has been recorded
func (s *Store) HasImage(ctx context.Context, blobCID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM archived_images WHERE blob_cid = ?)`, blobCID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up image: %w", err)
	}
	return exists, nil
}

// UpsertImage records a blob. A blob CID already present is left untouched.
func (s *Store) UpsertImage(ctx context.Context, img *ImageRecord) error {
	query := `INSERT INTO archived_images
			(post_uri, blob_cid, filename, mime_type, size, alt_text, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(blob_cid) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		img.PostURI, img.BlobCID, img.Filename, img.MimeType, img.Size, img.AltText,
		img.DownloadedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to record image %s: %w", img.BlobCID, err)
	}
	return nil
}

// GetPost returns a recorded post, or nil when the URI is unknown
func (s *Store) GetPost(ctx context.Context, uri string) (*PostRecord, error) {
	query := `SELECT uri, cid, author_did, author_handle, COALESCE(post_text, ''), image_count,
			archived_at, post_created_at, has_content_warning
		FROM archived_posts WHERE uri = ?`

	var p PostRecord
	var archivedAt string
	err := s.db.QueryRowContext(ctx, query, uri).Scan(
		&p.URI, &p.CID, &p.AuthorDID, &p.AuthorHandle, &p.Text, &p.ImageCount,
		&archivedAt, &p.PostCreatedAt, &p.HasContentWarning)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post %s: %w", uri, err)
	}
	p.ArchivedAt, _ = time.Parse(timeLayout, archivedAt)
	return &p, nil
}

// ImagesForPost lists the images recorded for a post in insertion order
func (s *Store) ImagesForPost(ctx context.Context, postURI string) ([]ImageRecord, error) {
	query := `SELECT post_uri, blob_cid, filename, mime_type, size, COALESCE(alt_text, ''), downloaded_at
		FROM archived_images WHERE post_uri = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, postURI)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	var images []ImageRecord
	for rows.Next() {
		var img ImageRecord
		var downloadedAt string
		if err := rows.Scan(&img.PostURI, &img.BlobCID, &img.Filename, &img.MimeType, &img.Size, &img.AltText, &downloadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		img.DownloadedAt, _ = time.Parse(timeLayout, downloadedAt)
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	return images, nil
}

// Stats counts archived posts and images
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(has_content_warning), 0) FROM archived_posts`).
		Scan(&st.Posts, &st.NSFWPosts)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count posts: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM archived_images`).
		Scan(&st.Images, &st.TotalBytes)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count images: %w", err)
	}
	return st, nil
}
