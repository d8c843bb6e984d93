// Package pathresolve implements the Path Resolver (C1): locating the
// task directory under a precedence list, the project config file,
// and the global home directory.
package pathresolve

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// candidateTaskDirs lists, in precedence order, the repo-relative
// directories the resolver checks for an existing task store.
var candidateTaskDirs = []string{
	filepath.Join("workmesh", "tasks"),
	filepath.Join(".workmesh", "tasks"),
	"tasks",
	filepath.Join("backlog", "tasks"),
	filepath.Join("project", "tasks"),
}

// DefaultTaskDir is the layout chosen for a brand new repo.
const DefaultTaskDir = "workmesh/tasks"

// Layout resolves the absolute paths used by the core for a given
// repo root.
type Layout struct {
	Root       string
	TasksDir   string
	ArchiveDir string
	ContextPath string
	TruthDir   string
	WorktreesPath string
	IndexDir   string
	AuditLogPath string
	LockPath   string
	ConfigPath string
}

// Resolve returns the Layout for root, picking the first existing
// tasks directory from the precedence list, or DefaultTaskDir if none
// exist yet (a later "create" operation will materialize it).
func Resolve(fs afero.Fs, root string) Layout {
	tasksDir := filepath.Join(root, DefaultTaskDir)
	for _, candidate := range candidateTaskDirs {
		p := filepath.Join(root, candidate)
		if isDir(fs, p) {
			tasksDir = p
			break
		}
	}

	// The rest of the on-disk layout lives beside whichever tasks
	// directory won, one level up (e.g. workmesh/tasks -> workmesh/).
	base := filepath.Dir(tasksDir)

	return Layout{
		Root:          root,
		TasksDir:      tasksDir,
		ArchiveDir:    filepath.Join(base, "archive"),
		ContextPath:   filepath.Join(base, "context.json"),
		TruthDir:      filepath.Join(base, "truth"),
		WorktreesPath: filepath.Join(base, "worktrees.json"),
		IndexDir:      filepath.Join(base, ".index"),
		AuditLogPath:  filepath.Join(base, ".audit.log"),
		LockPath:      filepath.Join(root, ".workmesh.lock"),
		ConfigPath:    filepath.Join(root, ".workmesh.toml"),
	}
}

// LegacyContextPath is the pre-migration location of the Context
// pointer, migrated forward into context.json.
func LegacyContextPath(l Layout) string {
	return filepath.Join(filepath.Dir(l.ContextPath), "focus.json")
}

// GlobalHome resolves $WORKMESH_HOME, falling back to the OS user
// home joined with .workmesh.
func GlobalHome() (string, error) {
	if h := os.Getenv("WORKMESH_HOME"); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".workmesh"), nil
}

// FindRoot walks upward from start looking for a directory that
// already contains one of the recognized task-dir layouts or a
// project config file, returning the first match. If nothing is
// found, start itself is returned as the root (new-repo case).
func FindRoot(fs afero.Fs, start string) string {
	dir := start
	for {
		for _, candidate := range candidateTaskDirs {
			if isDir(fs, filepath.Join(dir, candidate)) {
				return dir
			}
		}
		if isFile(fs, filepath.Join(dir, ".workmesh.toml")) || isFile(fs, filepath.Join(dir, ".workmeshrc")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return start
}

func isDir(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && !info.IsDir()
}
