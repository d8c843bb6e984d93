// Package sessions implements the Global Sessions Store (C10): a
// cross-repo history of work sessions under $WORKMESH_HOME/sessions/,
// used to resume work after a context switch.
package sessions

import (
	"bufio"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/workmesh/workmesh/internal/clockx"
	"github.com/workmesh/workmesh/internal/idalloc"
	"github.com/workmesh/workmesh/internal/vcs"
	"github.com/workmesh/workmesh/internal/werr"
)

// GitSnapshot captures the repo state at save time.
type GitSnapshot struct {
	Branch string `json:"branch,omitempty"`
	SHA    string `json:"sha,omitempty"`
	Dirty  bool   `json:"dirty"`
}

// Snapshot is one saved session's full state.
type Snapshot struct {
	ID         string      `json:"id"`
	SavedAt    time.Time   `json:"saved_at"`
	Objective  string      `json:"objective,omitempty"`
	CWD        string      `json:"cwd"`
	RepoRoot   string      `json:"repo_root"`
	ProjectID  string      `json:"project_id,omitempty"`
	EpicID     string      `json:"epic_id,omitempty"`
	WorkingSet []string    `json:"working_set,omitempty"`
	Git        GitSnapshot `json:"git"`
	Checkpoint string      `json:"checkpoint,omitempty"`
	TruthRefs  []string    `json:"truth_refs,omitempty"`
}

// event is the on-disk envelope for events.jsonl; today the only kind
// is SessionSaved, but the envelope leaves room for future kinds
// without breaking the log format.
type event struct {
	Kind     string    `json:"kind"`
	Snapshot *Snapshot `json:"snapshot"`
}

// Store wraps the sessions directory: events.jsonl, current.json, and
// the derived .index/sessions.jsonl.
type Store struct {
	fs    afero.Fs
	dir   string
	clock clockx.Clock
	vcs   vcs.VCS
}

// New constructs a Store rooted at dir (typically $WORKMESH_HOME/sessions).
func New(fs afero.Fs, dir string, clock clockx.Clock, v vcs.VCS) *Store {
	if v == nil {
		v = vcs.Null{}
	}
	return &Store{fs: fs, dir: dir, clock: clock, vcs: v}
}

func (s *Store) eventsPath() string  { return s.dir + "/events.jsonl" }
func (s *Store) currentPath() string { return s.dir + "/current.json" }
func (s *Store) indexPath() string   { return s.dir + "/.index/sessions.jsonl" }

// SaveInput carries the best-effort inference inputs for Save;
// ProjectID/EpicID/WorkingSet/TruthRefs are the caller's already-
// resolved values (from Context and the Truth Ledger), since the
// Global Sessions Store has no direct view of a specific repo root.
type SaveInput struct {
	Objective  string
	CWD        string
	RepoRoot   string
	ProjectID  string
	EpicID     string
	WorkingSet []string
	Checkpoint string
	TruthRefs  []string
}

// Save appends a SessionSaved event with a best-effort snapshot and
// updates current.json to point at it.
func (s *Store) Save(in SaveInput) (*Snapshot, error) {
	uid, err := idalloc.NewULID(s.clock.Now())
	if err != nil {
		return nil, werr.Wrap(werr.IOError, err, "allocating session id")
	}

	snap := &Snapshot{
		ID: uid, SavedAt: s.clock.Now().UTC(), Objective: in.Objective,
		CWD: in.CWD, RepoRoot: in.RepoRoot, ProjectID: in.ProjectID, EpicID: in.EpicID,
		WorkingSet: in.WorkingSet, Checkpoint: in.Checkpoint, TruthRefs: in.TruthRefs,
	}
	if branch, ok := s.vcs.CurrentBranch(in.RepoRoot); ok {
		snap.Git.Branch = branch
	}
	if sha, ok := s.vcs.HeadSHA(in.RepoRoot); ok {
		snap.Git.SHA = sha
	}
	snap.Git.Dirty = s.vcs.IsDirty(in.RepoRoot)

	if err := s.appendEvent(event{Kind: "SessionSaved", Snapshot: snap}); err != nil {
		return nil, err
	}
	if err := s.writeCurrent(snap.ID); err != nil {
		return nil, err
	}
	_ = s.rebuildIndex()
	return snap, nil
}

func (s *Store) appendEvent(e event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return werr.Wrap(werr.IOError, err, "encoding session event")
	}
	if err := s.fs.MkdirAll(s.dir, 0o750); err != nil {
		return werr.Wrap(werr.IOError, err, "creating sessions directory")
	}
	f, err := s.fs.OpenFile(s.eventsPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return werr.Wrap(werr.IOError, err, "opening session events log")
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return werr.Wrap(werr.IOError, err, "appending session event")
	}
	return nil
}

func (s *Store) writeCurrent(id string) error {
	data, err := json.Marshal(struct {
		CurrentID string `json:"current_id"`
	}{CurrentID: id})
	if err != nil {
		return werr.Wrap(werr.IOError, err, "encoding current session pointer")
	}
	tmp := s.currentPath() + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, append(data, '\n'), 0o644); err != nil {
		return werr.Wrap(werr.IOError, err, "writing current session pointer")
	}
	if err := s.fs.Rename(tmp, s.currentPath()); err != nil {
		return werr.Wrap(werr.IOError, err, "installing current session pointer")
	}
	return nil
}

// readAllSnapshots folds events.jsonl into one Snapshot per id,
// keeping only the most recent save per id (sessions are append-only
// but re-saved under the same id represent an update, not a new one).
func (s *Store) readAllSnapshots() (map[string]*Snapshot, error) {
	f, err := s.fs.Open(s.eventsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Snapshot{}, nil
		}
		return nil, werr.Wrap(werr.IOError, err, "opening session events log")
	}
	defer f.Close()

	snaps := make(map[string]*Snapshot)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e event
		if err := json.Unmarshal([]byte(line), &e); err != nil || e.Snapshot == nil {
			continue
		}
		snaps[e.Snapshot.ID] = e.Snapshot
	}
	return snaps, scanner.Err()
}

// List returns every saved session sorted by saved_at descending then
// id, reading the derived index when present, else folding events.
func (s *Store) List() ([]*Snapshot, error) {
	snaps, err := s.readIndexOrFold()
	if err != nil {
		return nil, err
	}
	out := make([]*Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].SavedAt.After(out[j].SavedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) readIndexOrFold() (map[string]*Snapshot, error) {
	f, err := s.fs.Open(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return s.readAllSnapshots()
		}
		return nil, werr.Wrap(werr.IOError, err, "opening sessions index")
	}
	defer f.Close()

	snaps := make(map[string]*Snapshot)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(line), &snap); err != nil {
			continue
		}
		c := snap
		snaps[snap.ID] = &c
	}
	return snaps, scanner.Err()
}

// rebuildIndex recomputes .index/sessions.jsonl from events.jsonl.
func (s *Store) rebuildIndex() error {
	snaps, err := s.readAllSnapshots()
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(snaps))
	for id := range snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf strings.Builder
	for _, id := range ids {
		line, err := json.Marshal(snaps[id])
		if err != nil {
			return werr.Wrap(werr.IOError, err, "encoding session index entry for %s", id)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	if err := s.fs.MkdirAll(s.dir+"/.index", 0o750); err != nil {
		return werr.Wrap(werr.IOError, err, "creating sessions index directory")
	}
	tmp := s.indexPath() + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, []byte(buf.String()), 0o644); err != nil {
		return werr.Wrap(werr.IOError, err, "writing sessions index")
	}
	return s.fs.Rename(tmp, s.indexPath())
}

// Show returns the latest snapshot for id.
func (s *Store) Show(id string) (*Snapshot, error) {
	snaps, err := s.readIndexOrFold()
	if err != nil {
		return nil, err
	}
	snap, ok := snaps[id]
	if !ok {
		return nil, werr.New(werr.NotFound, "no session %s", id)
	}
	return snap, nil
}

// CurrentID returns the session id current.json points at.
func (s *Store) CurrentID() (string, error) {
	raw, err := afero.ReadFile(s.fs, s.currentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", werr.New(werr.NotFound, "no current session")
		}
		return "", werr.Wrap(werr.IOError, err, "reading current session pointer")
	}
	var v struct {
		CurrentID string `json:"current_id"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", werr.Wrap(werr.ParseError, err, "parsing current session pointer")
	}
	return v.CurrentID, nil
}

// ResumePlan is the suggested resume script for a session: a CWD to
// change into plus a sequence of follow-up commands for the caller's
// front-end to run.
type ResumePlan struct {
	Snapshot *Snapshot
	Commands []string
}

// Resume returns a ResumePlan for id, or for the current session if
// id is empty.
func (s *Store) Resume(id string) (*ResumePlan, error) {
	if id == "" {
		cur, err := s.CurrentID()
		if err != nil {
			return nil, err
		}
		id = cur
	}
	snap, err := s.Show(id)
	if err != nil {
		return nil, err
	}
	commands := []string{
		"cd " + snap.CWD,
		"workmesh context show",
		"workmesh truth list --state accepted --project " + snap.ProjectID,
		"workmesh next",
	}
	return &ResumePlan{Snapshot: snap, Commands: commands}, nil
}
