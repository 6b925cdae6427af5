package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/utils"
)

const (
	// UUIDPlaceholder is replaced with a fresh UUID when the directory is resolved.
	UUIDPlaceholder = "#uuid#"

	// FilePrefix and FileSuffix frame every spool file name.
	FilePrefix = "cos-"
	FileSuffix = ".tmp"

	defaultDirPerm = 0o700
)

// DefaultDirectory returns the directory pattern used when none is configured.
// Every resolution yields a new directory, so a directory left behind by a
// crashed process is never reused.
func DefaultDirectory() string {
	return filepath.Join(os.TempDir(), "streamcache", "streamcache-tmp-"+UUIDPlaceholder)
}

// Manager owns the spool directory shared by all spool files of one strategy.
type Manager struct {
	mu       sync.Mutex
	pattern  string
	dir      string
	sequence atomic.Uint64
	logger   *utils.StructuredLogger
}

// NewManager creates a manager for the given directory pattern. An empty
// pattern selects DefaultDirectory.
func NewManager(pattern string, logger *utils.StructuredLogger) *Manager {
	if pattern == "" {
		pattern = DefaultDirectory()
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Manager{
		pattern: pattern,
		logger:  logger.WithComponent("spool"),
	}
}

// Directory returns the resolved directory, or "" before EnsureDirectory succeeded.
func (m *Manager) Directory() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dir
}

// EnsureDirectory resolves the directory pattern once and creates the
// directory and its parents if needed. The directory must be writable.
func (m *Manager) EnsureDirectory() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.dir
	if dir == "" {
		dir = strings.ReplaceAll(m.pattern, UUIDPlaceholder, uuid.NewString())
	}

	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", unavailable(dir, "cannot create spool directory", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", unavailable(dir, "cannot stat spool directory", err)
	}
	if !info.IsDir() {
		return "", unavailable(dir, "spool path is not a directory", nil)
	}

	check, err := os.CreateTemp(dir, ".writecheck-*")
	if err != nil {
		return "", unavailable(dir, "spool directory is not writable", err)
	}
	_ = check.Close()
	_ = os.Remove(check.Name())

	if m.dir == "" {
		m.logger.Debug("spool directory ready", map[string]interface{}{"path": dir})
	}
	m.dir = dir
	return dir, nil
}

// Allocate returns a path inside the directory that no other caller of this
// manager has been or will be given. The file itself is not created.
func (m *Manager) Allocate() (string, error) {
	dir := m.Directory()
	if dir == "" {
		return "", errors.NewError(errors.ErrCodeInvalidState, "spool directory not initialized").
			WithComponent("spool").
			WithOperation("allocate")
	}

	seq := m.sequence.Add(1)
	name := fmt.Sprintf("%s%d-%s%s", FilePrefix, seq, uuid.NewString(), FileSuffix)
	return filepath.Join(dir, name), nil
}

// Files lists the spool files currently present in the directory.
func (m *Manager) Files() ([]string, error) {
	dir := m.Directory()
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, FilePrefix) && strings.HasSuffix(name, FileSuffix) {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Teardown removes the directory and everything under it. It is best effort:
// the error is returned for reporting only.
func (m *Manager) Teardown() error {
	dir := m.Directory()
	if dir == "" {
		return nil
	}

	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("failed to remove spool directory", map[string]interface{}{
			"path":  dir,
			"error": err,
		})
		return unavailable(dir, "cannot remove spool directory", err)
	}

	m.logger.Debug("spool directory removed", map[string]interface{}{"path": dir})
	return nil
}

func unavailable(dir, message string, cause error) error {
	return errors.NewError(errors.ErrCodeDirectoryUnavailable, message).
		WithComponent("spool").
		WithContext("path", dir).
		WithCause(cause)
}
