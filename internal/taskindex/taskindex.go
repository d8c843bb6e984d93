// Package taskindex implements the Task Index (C4): a JSONL
// projection of the Task Store keyed by repo-relative path, with
// rebuild/refresh/verify semantics. The index is advisory — readiness
// and blocker queries fall back to the Task Store whenever it is
// missing or fails verification.
package taskindex

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/spf13/afero"
	"github.com/workmesh/workmesh/internal/diag"
	"github.com/workmesh/workmesh/internal/task"
	"github.com/workmesh/workmesh/internal/werr"
	"golang.org/x/sync/errgroup"
)

// Entry is one line of tasks.jsonl: a repo-relative path, the full
// task snapshot, the source mtime, and a content hash for drift
// detection.
type Entry struct {
	Path  string     `json:"path"`
	Task  *task.Task `json:"task"`
	MTime int64      `json:"mtime"`
	Hash  uint64     `json:"hash"`
}

// Index wraps read/write access to <root>/.index/tasks.jsonl.
type Index struct {
	fs       afero.Fs
	dir      string // .index directory
	tasksDir string // root tasks directory, for computing repo-relative paths
	sink     diag.Sink
}

// New constructs an Index. indexDir is typically Layout.IndexDir and
// tasksDir is Layout.TasksDir.
func New(fs afero.Fs, indexDir, tasksDir string, sink diag.Sink) *Index {
	if sink == nil {
		sink = diag.Discard
	}
	return &Index{fs: fs, dir: indexDir, tasksDir: tasksDir, sink: sink}
}

func (i *Index) path() string { return filepath.Join(i.dir, "tasks.jsonl") }

// relPath makes abs repo-relative to the tasks directory's parent, so
// stored paths survive the repo being cloned to a different location.
func (i *Index) relPath(abs string) string {
	rel, err := filepath.Rel(filepath.Dir(i.tasksDir), abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func (i *Index) absPath(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(filepath.Dir(i.tasksDir), filepath.FromSlash(rel))
}

func hashTask(t *task.Task) uint64 {
	h, err := hashstructure.Hash(t, hashstructure.FormatV2, nil)
	if err != nil {
		return 0
	}
	return h
}

// Rebuild loads every task through the store, then stats and hashes
// each one concurrently (bounded by errgroup), and rewrites tasks.jsonl
// sorted by id then uid for determinism.
func (i *Index) Rebuild(ctx context.Context, store *task.Store) error {
	all, parseErrs := store.LoadAll()
	for _, e := range parseErrs {
		i.sink.Warn("taskindex", "skipping unparseable task file during rebuild", map[string]any{"error": e.Error()})
	}

	entries := make([]Entry, len(all))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for idx, t := range all {
		idx, t := idx, t
		g.Go(func() error {
			info, err := i.fs.Stat(t.Path)
			mtime := int64(0)
			if err == nil {
				mtime = info.ModTime().UnixNano()
			}
			entries[idx] = Entry{Path: i.relPath(t.Path), Task: t, MTime: mtime, Hash: hashTask(t)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return werr.Wrap(werr.IOError, err, "rebuilding task index")
	}

	sort.Slice(entries, func(a, b int) bool {
		if entries[a].Task.ID != entries[b].Task.ID {
			return entries[a].Task.ID < entries[b].Task.ID
		}
		return entries[a].Task.UID < entries[b].Task.UID
	})
	return i.writeAll(entries)
}

// Refresh reads the existing index, compares mtime and content hash
// per entry against the live Task Store, and rewrites only changed
// lines plus appends new ones; stale entries (source file missing)
// are dropped. Legacy absolute paths are upgraded to repo-relative
// ones in place.
func (i *Index) Refresh(store *task.Store) error {
	existing, err := i.readAll()
	if err != nil {
		if werr.KindOf(err) == werr.NotFound {
			return i.Rebuild(context.Background(), store)
		}
		return err
	}

	byPath := make(map[string]Entry, len(existing))
	for _, e := range existing {
		byPath[i.relPath(i.absPath(e.Path))] = e
	}

	all, _ := store.LoadAll()
	var out []Entry
	for _, t := range all {
		rel := i.relPath(t.Path)

		info, statErr := i.fs.Stat(t.Path)
		mtime := int64(0)
		if statErr == nil {
			mtime = info.ModTime().UnixNano()
		}
		h := hashTask(t)

		if prev, ok := byPath[rel]; ok && prev.MTime == mtime && prev.Hash == h {
			prev.Path = rel
			out = append(out, prev)
			continue
		}
		out = append(out, Entry{Path: rel, Task: t, MTime: mtime, Hash: h})
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].Task.ID != out[b].Task.ID {
			return out[a].Task.ID < out[b].Task.ID
		}
		return out[a].Task.UID < out[b].Task.UID
	})
	return i.writeAll(out)
}

// Divergence describes one line of disagreement found by Verify.
type Divergence struct {
	Path   string
	Reason string
}

// Verify reports any divergence between the index and the live Task
// Store without writing anything.
func (i *Index) Verify(store *task.Store) ([]Divergence, error) {
	entries, err := i.readAll()
	if err != nil {
		return nil, err
	}
	all, _ := store.LoadAll()
	live := make(map[string]*task.Task, len(all))
	for _, t := range all {
		live[i.relPath(t.Path)] = t
	}

	var divergences []Divergence
	indexed := make(map[string]bool, len(entries))
	for _, e := range entries {
		indexed[e.Path] = true
		t, ok := live[e.Path]
		if !ok {
			divergences = append(divergences, Divergence{Path: e.Path, Reason: "source file missing"})
			continue
		}
		if hashTask(t) != e.Hash {
			divergences = append(divergences, Divergence{Path: e.Path, Reason: "content hash mismatch"})
		}
	}
	for rel := range live {
		if !indexed[rel] {
			divergences = append(divergences, Divergence{Path: rel, Reason: "missing from index"})
		}
	}
	sort.Slice(divergences, func(a, b int) bool { return divergences[a].Path < divergences[b].Path })
	return divergences, nil
}

func (i *Index) readAll() ([]Entry, error) {
	f, err := i.fs.Open(i.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, werr.New(werr.NotFound, "task index not built yet")
		}
		return nil, werr.Wrap(werr.IOError, err, "opening task index")
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, werr.Wrap(werr.ParseError, err, "task index line %d", lineNo)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, werr.Wrap(werr.IOError, err, "scanning task index")
	}
	return entries, nil
}

// writeAll atomically rewrites tasks.jsonl (temp + rename, matching
// the Task Store's own write discipline).
func (i *Index) writeAll(entries []Entry) error {
	if err := i.fs.MkdirAll(i.dir, 0o750); err != nil {
		return werr.Wrap(werr.IOError, err, "creating index directory")
	}

	var buf strings.Builder
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return werr.Wrap(werr.IOError, err, "encoding index entry for %s", e.Path)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	tmp := i.path() + ".tmp"
	if err := afero.WriteFile(i.fs, tmp, []byte(buf.String()), 0o644); err != nil {
		return werr.Wrap(werr.IOError, err, "writing task index")
	}
	if err := i.fs.Rename(tmp, i.path()); err != nil {
		return werr.Wrap(werr.IOError, err, "installing task index")
	}
	return nil
}
