package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bluejorts/bluesky-archiver/pkg/archive"
)

const barWidth = 20

// Reporter renders fetch and archive progress on a terminal line. It
// satisfies both fetcher.Progress and archive.Progress.
type Reporter struct {
	mu      sync.Mutex
	out     io.Writer
	label   string
	verbose bool
	now     func() time.Time

	start      time.Time
	pages      int
	posts      int
	total      int
	done       int
	downloaded int
	skipped    int
	failed     int
}

// NewReporter creates a reporter. In verbose mode every event gets its own
// line instead of redrawing a single status line.
func NewReporter(out io.Writer, label string, verbose bool) *Reporter {
	return &Reporter{
		out:     out,
		label:   label,
		verbose: verbose,
		now:     time.Now,
		start:   time.Now(),
	}
}

// PageFetched is called after each accepted page
func (r *Reporter) PageFetched(page, items, accepted, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pages = page
	r.posts = total
	if r.verbose {
		fmt.Fprintf(r.out, "%s page %d: %d items, %d kept (%d posts)\n",
			Magenta("→"), page, items, accepted, total)
		return
	}
	r.redraw(fmt.Sprintf("%s scanning • page %d • %d posts", Cyan(r.label), page, total))
}

// RateLimited is called before sleeping on a 429
func (r *Reporter) RateLimited(attempt int, wait time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "\n%s Rate limited (attempt %d). Waiting %s...\n",
		Yellow("⚠"), attempt, formatDuration(wait))
}

// ArchiveStarted resets the image counters for a new archive pass
func (r *Reporter) ArchiveStarted(posts, images int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.start = r.now()
	r.posts = posts
	r.total = images
	r.done, r.downloaded, r.skipped, r.failed = 0, 0, 0, 0
	if !r.verbose {
		fmt.Fprintln(r.out)
	}
	fmt.Fprintf(r.out, "%s %d images in %d posts\n", Cyan("Archiving"), images, posts)
}

// ImageArchived records one image outcome
func (r *Reporter) ImageArchived(handle string, outcome archive.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.done++
	switch outcome {
	case archive.Downloaded:
		r.downloaded++
	case archive.Skipped:
		r.skipped++
	case archive.Failed:
		r.failed++
	}

	if r.verbose {
		mark := Green("✓")
		switch outcome {
		case archive.Skipped:
			mark = Dim("•")
		case archive.Failed:
			mark = Red("✗")
		}
		fmt.Fprintf(r.out, "%s @%s %s\n", mark, handle, Dim(outcome.String()))
		return
	}
	r.redraw(r.line())
}

// Finish prints the closing summary
func (r *Reporter) Finish(stats archive.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := r.now().Sub(r.start)
	fmt.Fprintf(r.out, "\n\n%s Archived %d posts from %s\n", Green("✓"), stats.Posts, r.label)
	fmt.Fprintf(r.out, "  %s %d downloaded, %d already archived\n", Dim("•"), stats.Downloaded, stats.Skipped)
	fmt.Fprintf(r.out, "  %s %s in %s\n", Dim("•"), FormatBytes(stats.Bytes), formatDuration(elapsed))
	if stats.Failed > 0 {
		fmt.Fprintf(r.out, "  %s %s\n", Dim("•"), Red(fmt.Sprintf("%d images failed", stats.Failed)))
	}
}

func (r *Reporter) line() string {
	progress := 1.0
	if r.total > 0 {
		progress = float64(r.done) / float64(r.total)
	}
	filled := int(progress * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("━", filled) + strings.Repeat("─", barWidth-filled)

	line := fmt.Sprintf("%s [%s] %d/%d • %d new • %d skipped",
		Cyan(r.label), bar, r.done, r.total, r.downloaded, r.skipped)
	if r.failed > 0 {
		line += " • " + Red(fmt.Sprintf("%d errors", r.failed))
	}
	return line
}

func (r *Reporter) redraw(line string) {
	fmt.Fprintf(r.out, "\r%s\r%s", strings.Repeat(" ", 100), line)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
