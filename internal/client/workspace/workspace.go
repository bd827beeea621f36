package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/openmined/syncbox/internal/utils"
	"github.com/spf13/afero"
)

const lockFile = "syncbox.lock"

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
)

// Workspace is the sync root of this host plus the data dir that holds its private state.
type Workspace struct {
	Root    string
	DataDir string

	flock *flock.Flock
}

func NewWorkspace(rootDir string, dataDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}
	data, err := utils.ResolvePath(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", dataDir, err)
	}

	return &Workspace{
		Root:    root,
		DataDir: data,
		flock:   flock.New(filepath.Join(data, lockFile)),
	}, nil
}

// Lock makes sure only one syncbox process works on this data dir.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.DataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.DataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}

	return nil
}

func (w *Workspace) Unlock() error {
	// if this process hasn't locked the workspace, then don't delete the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}

	return os.Remove(w.flock.Path())
}

// Setup locks the workspace and creates the sync root and data dir.
func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root, "data", w.DataDir)

	for _, dir := range []string{w.Root, w.DataDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Fs is the sync root as a filesystem whose paths are "/"-prefixed names relative to the root.
func (w *Workspace) Fs() afero.Fs {
	return afero.NewBasePathFs(afero.NewOsFs(), w.Root)
}

// RelPath returns the sync name of an absolute path under the root.
func (w *Workspace) RelPath(absPath string) (string, error) {
	relPath, err := filepath.Rel(w.Root, absPath)
	if err != nil {
		return "", err
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside of %s", absPath, w.Root)
	}
	return NormPath(relPath), nil
}

// NormPath normalizes a path by cleaning it, replacing backslashes with slashes, and trimming leading slashes
func NormPath(path string) string {
	path = filepath.Clean(path)
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimLeft(path, "/")
	return path
}
