package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogRateLimit records a 429 backoff before the same page is requested again
func LogRateLimit(l Logger, endpoint string, attempt, maxRetries int, wait time.Duration) {
	l.WarnWithFields("Rate limited, backing off", map[string]interface{}{
		"endpoint":    endpoint,
		"attempt":     attempt,
		"max_retries": maxRetries,
		"wait":        wait,
	})
}

// LogPage records an accepted page
func LogPage(l Logger, endpoint string, items, accepted int, cursor string) {
	l.DebugWithFields("Page accepted", map[string]interface{}{
		"endpoint":   endpoint,
		"items":      items,
		"accepted":   accepted,
		"has_cursor": cursor != "",
	})
}

// LogDownload records the outcome of a single blob
func LogDownload(l Logger, handle, blobCID, filename string, err error) {
	fields := map[string]interface{}{
		"handle":   handle,
		"blob_cid": blobCID,
		"filename": filename,
	}
	if err != nil {
		l.WithError(err).WarnWithFields("Image download failed", fields)
		return
	}
	l.InfoWithFields("Downloaded", fields)
}

// LogArchiveStats records the totals of an archive pass
func LogArchiveStats(l Logger, downloaded, skipped, failed int) {
	l.InfoWithFields("Archive complete", map[string]interface{}{
		"downloaded": downloaded,
		"skipped":    skipped,
		"failed":     failed,
	})
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
