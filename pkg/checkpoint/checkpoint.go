package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/bluejorts/bluesky-archiver/pkg/logger"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Manager persists the pagination cursor of one fetch target
type Manager struct {
	checkpointPath string
	logger         logger.Logger
}

// FileName returns the cursor file name for a scope ("likes" or "feed") and actor
func FileName(scope, actor string) string {
	return fmt.Sprintf(".cursor_%s_%s", scope, unsafeChars.ReplaceAllString(actor, "_"))
}

// NewManager creates a checkpoint manager storing its file under outputDir
func NewManager(outputDir, scope, actor string, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &Manager{
		checkpointPath: filepath.Join(outputDir, FileName(scope, actor)),
		logger:         log,
	}, nil
}

// Path returns the cursor file location
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Load returns the saved cursor; ok is false when there is none
func (m *Manager) Load() (cursor string, ok bool, err error) {
	data, err := os.ReadFile(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	cursor = strings.TrimSpace(string(data))
	if cursor == "" {
		return "", false, nil
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"path": m.checkpointPath,
	})
	return cursor, true, nil
}

// Save writes the cursor atomically, replacing any previous one
func (m *Manager) Save(cursor string) error {
	if err := renameio.WriteFile(m.checkpointPath, []byte(cursor), 0644, renameio.WithTempDir(filepath.Dir(m.checkpointPath))); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"path": m.checkpointPath,
	})
	return nil
}

// Clear removes the cursor file; a missing file is not an error
func (m *Manager) Clear() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint cleared", map[string]interface{}{
		"path": m.checkpointPath,
	})
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}
