// Package worktree implements the Worktree Registry (C11):
// worktrees.json bindings between sessions, paths, and branches, plus
// doctor diagnostics over those bindings.
package worktree

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/workmesh/workmesh/internal/vcs"
	"github.com/workmesh/workmesh/internal/werr"
)

// Binding is one entry in worktrees.json.
type Binding struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Branch    string `json:"branch"`
	SessionID string `json:"session_id,omitempty"`
}

// Registry wraps read/write access to worktrees.json.
type Registry struct {
	fs   afero.Fs
	path string
	vcs  vcs.VCS
}

// New constructs a Registry. path is typically Layout.WorktreesPath.
func New(fs afero.Fs, path string, v vcs.VCS) *Registry {
	if v == nil {
		v = vcs.Null{}
	}
	return &Registry{fs: fs, path: path, vcs: v}
}

func (r *Registry) readAll() ([]Binding, error) {
	raw, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, werr.Wrap(werr.IOError, err, "reading worktree registry")
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var bindings []Binding
	if err := json.Unmarshal(raw, &bindings); err != nil {
		return nil, werr.Wrap(werr.ParseError, err, "parsing worktree registry")
	}
	return bindings, nil
}

func (r *Registry) writeAll(bindings []Binding) error {
	data, err := json.MarshalIndent(bindings, "", "  ")
	if err != nil {
		return werr.Wrap(werr.IOError, err, "encoding worktree registry")
	}
	tmp := r.path + ".tmp"
	if err := afero.WriteFile(r.fs, tmp, append(data, '\n'), 0o644); err != nil {
		return werr.Wrap(werr.IOError, err, "writing worktree registry")
	}
	if err := r.fs.Rename(tmp, r.path); err != nil {
		return werr.Wrap(werr.IOError, err, "installing worktree registry")
	}
	return nil
}

// List returns every binding.
func (r *Registry) List() ([]Binding, error) {
	return r.readAll()
}

// Create creates a new working copy at path bound to branch via the
// VCS backend, registers the binding, and returns it. from (optional)
// names the base ref when branch does not already exist.
func (r *Registry) Create(repoPath, path, branch, from string) (Binding, error) {
	if err := r.vcs.CreateWorktree(repoPath, path, branch, from); err != nil {
		return Binding{}, werr.Wrap(werr.IOError, err, "creating worktree at %s", path)
	}
	binding := Binding{ID: uuid.NewString(), Path: path, Branch: branch}

	bindings, err := r.readAll()
	if err != nil {
		return Binding{}, err
	}
	bindings = append(bindings, binding)
	if err := r.writeAll(bindings); err != nil {
		return Binding{}, err
	}
	return binding, nil
}

// Attach binds sessionID to the binding at path.
func (r *Registry) Attach(sessionID, path string) error {
	bindings, err := r.readAll()
	if err != nil {
		return err
	}
	found := false
	for i := range bindings {
		if bindings[i].Path == path {
			bindings[i].SessionID = sessionID
			found = true
			break
		}
	}
	if !found {
		return werr.New(werr.NotFound, "no worktree binding for path %s", path)
	}
	return r.writeAll(bindings)
}

// Detach clears the session binding at path.
func (r *Registry) Detach(path string) error {
	bindings, err := r.readAll()
	if err != nil {
		return err
	}
	found := false
	for i := range bindings {
		if bindings[i].Path == path {
			bindings[i].SessionID = ""
			found = true
			break
		}
	}
	if !found {
		return werr.New(werr.NotFound, "no worktree binding for path %s", path)
	}
	return r.writeAll(bindings)
}

// Issue describes one doctor finding.
type Issue struct {
	Binding Binding
	Reason  string
}

// Doctor reports missing paths, orphan session bindings (a
// session_id that sessionExists reports unknown), and bindings whose
// underlying branch no longer matches the registry. sessionExists may
// be nil to skip the orphan check.
func (r *Registry) Doctor(sessionExists func(id string) bool) ([]Issue, error) {
	bindings, err := r.readAll()
	if err != nil {
		return nil, err
	}
	var issues []Issue
	for _, b := range bindings {
		info, statErr := r.fs.Stat(b.Path)
		if statErr != nil || !info.IsDir() {
			issues = append(issues, Issue{Binding: b, Reason: "path missing"})
			continue
		}
		if actual, ok := r.vcs.CurrentBranch(b.Path); ok && actual != b.Branch {
			issues = append(issues, Issue{Binding: b, Reason: "branch mismatch: registry says " + b.Branch + ", working copy is on " + actual})
		}
		if b.SessionID != "" && sessionExists != nil && !sessionExists(b.SessionID) {
			issues = append(issues, Issue{Binding: b, Reason: "orphan binding: session " + b.SessionID + " no longer exists"})
		}
	}
	return issues, nil
}
