// Package wmcontext implements the Context Pointer (C8): a single
// small JSON file tracking the user's current focus (project, epic,
// objective, working set), auto-maintained by Task Store transitions.
package wmcontext

import (
	"encoding/json"
	"os"

	"github.com/spf13/afero"
	"github.com/workmesh/workmesh/internal/task"
	"github.com/workmesh/workmesh/internal/werr"
)

// Context is the persisted pointer, stored at
// <root>/workmesh/context.json.
type Context struct {
	ProjectID  string   `json:"project_id,omitempty"`
	EpicID     string   `json:"epic_id,omitempty"`
	Objective  string   `json:"objective,omitempty"`
	WorkingSet []string `json:"working_set,omitempty"`
}

// Store wraps read/write/auto-maintenance access to the Context file.
type Store struct {
	fs   afero.Fs
	path string
}

// New constructs a Store. path is typically Layout.ContextPath.
func New(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Show loads the Context, returning a zero-value Context if none has
// been set yet.
func (s *Store) Show() (Context, error) {
	raw, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Context{}, nil
		}
		return Context{}, werr.Wrap(werr.IOError, err, "reading context")
	}
	var c Context
	if err := json.Unmarshal(raw, &c); err != nil {
		return Context{}, werr.Wrap(werr.ParseError, err, "parsing context")
	}
	return c, nil
}

// Set overwrites the named fields, leaving unset pointer args
// untouched; tasks (if non-nil) replaces the working set wholesale.
func (s *Store) Set(project, epic, objective *string, tasks []string) (Context, error) {
	c, err := s.Show()
	if err != nil {
		return Context{}, err
	}
	if project != nil {
		c.ProjectID = *project
	}
	if epic != nil {
		c.EpicID = *epic
	}
	if objective != nil {
		c.Objective = *objective
	}
	if tasks != nil {
		c.WorkingSet = append([]string(nil), tasks...)
	}
	return c, s.write(c)
}

// Clear resets the Context to empty.
func (s *Store) Clear() error {
	return s.write(Context{})
}

func (s *Store) write(c Context) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return werr.Wrap(werr.IOError, err, "encoding context")
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, append(data, '\n'), 0o644); err != nil {
		return werr.Wrap(werr.IOError, err, "writing context")
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return werr.Wrap(werr.IOError, err, "installing context")
	}
	return nil
}

// OnMutate reacts to a Task Store MutationEvent, applying the auto-
// maintenance rules: entering In Progress or claiming adds the task
// to the working set (end, no duplicates); leaving to To Do or Done
// removes it; an epic reaching completion clears epic_id and the
// working set while preserving project_id.
func (s *Store) OnMutate(event task.MutationEvent, epicComplete func(epicID string) bool) {
	c, err := s.Show()
	if err != nil {
		return
	}
	changed := false

	if event.After != nil {
		switch event.Action {
		case "set_status":
			switch event.After.Status {
			case task.StatusInProgress:
				if addWorkingSet(&c, event.After.ID) {
					changed = true
				}
			case task.StatusToDo, task.StatusDone:
				if removeWorkingSet(&c, event.After.ID) {
					changed = true
				}
			}
		case "claim":
			if addWorkingSet(&c, event.After.ID) {
				changed = true
			}
		}
	}

	if c.EpicID != "" && epicComplete != nil && epicComplete(c.EpicID) {
		c.EpicID = ""
		c.WorkingSet = nil
		changed = true
	}

	if changed {
		_ = s.write(c)
	}
}

func addWorkingSet(c *Context, id string) bool {
	for _, existing := range c.WorkingSet {
		if existing == id {
			return false
		}
	}
	c.WorkingSet = append(c.WorkingSet, id)
	return true
}

func removeWorkingSet(c *Context, id string) bool {
	out := c.WorkingSet[:0:0]
	found := false
	for _, existing := range c.WorkingSet {
		if existing == id {
			found = true
			continue
		}
		out = append(out, existing)
	}
	c.WorkingSet = out
	return found
}
