package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	apperrors "github.com/bluejorts/bluesky-archiver/pkg/errors"
)

const (
	nsfwDir  = "nsfw"
	filePerm = 0644
)

// Manager owns the archive's directory tree and writes image files into it
type Manager struct {
	outputDir string
}

// NewManager creates the output directory if needed
func NewManager(outputDir string) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, apperrors.NewFilesystemError("create output directory", outputDir, err)
	}
	return &Manager{outputDir: outputDir}, nil
}

// AuthorDir returns, creating it on demand, output/[nsfw/]<handle>
func (m *Manager) AuthorDir(handle string, nsfw bool) (string, error) {
	dir := m.outputDir
	if nsfw {
		dir = filepath.Join(dir, nsfwDir)
	}
	dir = filepath.Join(dir, safeName(handle))

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperrors.NewFilesystemError("create author directory", dir, err)
	}
	return dir, nil
}

// SaveFile writes r to dir/name through a pending file that only replaces the
// destination once fully written and synced. It returns the number of bytes written.
func (m *Manager) SaveFile(dir, name string, r io.Reader) (int64, error) {
	filename := filepath.Join(dir, name)

	pending, err := renameio.NewPendingFile(filename, renameio.WithTempDir(dir), renameio.WithPermissions(filePerm))
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer pending.Cleanup()

	n, err := io.Copy(pending, r)
	if err != nil {
		return 0, fmt.Errorf("failed to save image data: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return 0, fmt.Errorf("failed to replace %s: %w", filename, err)
	}
	return n, nil
}

// safeName keeps a handle from escaping its parent directory
func safeName(handle string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "\x00", "_").Replace(handle)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}
