package task

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
	"github.com/workmesh/workmesh/internal/clockx"
	"github.com/workmesh/workmesh/internal/diag"
	"github.com/workmesh/workmesh/internal/werr"
)

// cacheEntry pairs a parsed task with the file mtime it was parsed
// from, so a cache hit can be invalidated cheaply on the next lookup.
type cacheEntry struct {
	mtime int64
	task  *Task
}

// Store implements the Task Store (C3) against an injected
// filesystem, directory, clock, and diagnostics sink.
type Store struct {
	fs         afero.Fs
	dir        string
	archiveDir string
	clock      clockx.Clock
	diag       diag.Sink
	cache      *lru.Cache[string, cacheEntry]
	OnMutate   func(event MutationEvent)
}

// MutationEvent is emitted after every successful mutating operation,
// for the Audit Log / Task Index / Context to best-effort react to.
type MutationEvent struct {
	Action string
	Before *Task // nil for add
	After  *Task // the task after the change; for archive, at its new path
}

// New constructs a Store rooted at dir (the resolved tasks directory).
func New(fs afero.Fs, dir string, clock clockx.Clock, sink diag.Sink) *Store {
	cache, _ := lru.New[string, cacheEntry](512)
	return &Store{fs: fs, dir: dir, clock: clock, diag: sink, cache: cache}
}

func (s *Store) notify(action string, before, after *Task) {
	if s.OnMutate != nil {
		s.OnMutate(MutationEvent{Action: action, Before: before, After: after})
	}
}

// Dir returns the task directory this store is rooted at.
func (s *Store) Dir() string { return s.dir }

// SetArchiveDir sets the destination root for Archive; callers
// normally pass pathresolve's Layout.ArchiveDir.
func (s *Store) SetArchiveDir(dir string) { s.archiveDir = dir }

// Load parses a single task file by absolute path, using the parse
// cache keyed by (path, mtime) to avoid re-parsing unchanged files.
func (s *Store) Load(path string) (*Task, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		return nil, werr.Wrap(werr.NotFound, err, "stat %s", path)
	}
	mtime := info.ModTime().UnixNano()

	if s.cache != nil {
		if entry, ok := s.cache.Get(path); ok && entry.mtime == mtime {
			return entry.task.Clone(), nil
		}
	}

	raw, err := afero.ReadFile(s.fs, path)
	if err != nil {
		// Tolerate a transient partial read by retrying once.
		raw, err = afero.ReadFile(s.fs, path)
		if err != nil {
			return nil, werr.Wrap(werr.IOError, err, "reading %s", path)
		}
	}
	t, err := Parse(raw, path)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(path, cacheEntry{mtime: mtime, task: t.Clone()})
	}
	return t, nil
}

// LoadAll walks the task directory and parses every *.md file. Parse
// errors for individual files are collected, not fatal to the scan;
// callers decide whether to surface them.
func (s *Store) LoadAll() ([]*Task, []error) {
	var tasks []*Task
	var errs []error

	_ = afero.Walk(s.fs, s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			errs = append(errs, werr.Wrap(werr.IOError, err, "walking %s", path))
			return nil
		}
		if info.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		t, err := s.Load(path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		tasks = append(tasks, t)
		return nil
	})

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].ID != tasks[j].ID {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].UID < tasks[j].UID
	})
	return tasks, errs
}

// FindByID returns the task whose ID matches id exactly.
func (s *Store) FindByID(id string) (*Task, error) {
	tasks, _ := s.LoadAll()
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, werr.New(werr.NotFound, "no task with id %s", id)
}

// FindByUID returns the task whose UID matches uid exactly.
func (s *Store) FindByUID(uid string) (*Task, error) {
	tasks, _ := s.LoadAll()
	for _, t := range tasks {
		if t.UID == uid {
			return t, nil
		}
	}
	return nil, werr.New(werr.NotFound, "no task with uid %s", uid)
}

// Resolve resolves a possibly-partial reference (full id, full uid,
// or an unambiguous prefix/suffix of either) to a single task.
func (s *Store) Resolve(ref string) (*Task, error) {
	tasks, _ := s.LoadAll()
	for _, t := range tasks {
		if t.ID == ref || t.UID == ref {
			return t, nil
		}
	}

	var matches []*Task
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, ref) || strings.HasSuffix(t.ID, ref) ||
			strings.HasPrefix(t.UID, ref) || strings.HasSuffix(t.UID, ref) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return nil, werr.New(werr.NotFound, "no task matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return nil, werr.New(werr.AmbiguousReference, "%q matches multiple tasks: %s", ref, strings.Join(ids, ", "))
	}
}

// write atomically persists t to its Path (temp file + rename).
func (s *Store) write(t *Task) error {
	data, err := t.Serialize()
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(t.Path), 0o750); err != nil {
		return werr.Wrap(werr.IOError, err, "creating task directory")
	}
	tmp := t.Path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return werr.Wrap(werr.IOError, err, "writing temp file for %s", t.ID)
	}
	if err := s.fs.Rename(tmp, t.Path); err != nil {
		return werr.Wrap(werr.IOError, err, "renaming into place for %s", t.ID)
	}
	if s.cache != nil {
		s.cache.Remove(t.Path)
	}
	return nil
}

// touch updates UpdatedDate to now unless touch is explicitly false.
func (s *Store) touch(t *Task, doTouch bool) {
	if doTouch {
		t.UpdatedDate = s.clock.Now()
	}
}
