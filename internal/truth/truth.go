// Package truth implements the Truth Ledger (C9): an append-only
// event log of validated feature decisions plus a derived,
// rebuildable "current" projection keyed by truth id.
package truth

import (
	"bufio"
	"encoding/json"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/workmesh/workmesh/internal/clockx"
	"github.com/workmesh/workmesh/internal/idalloc"
	"github.com/workmesh/workmesh/internal/werr"
)

// State is one of the closed set of Truth Ledger states.
type State string

const (
	Proposed   State = "proposed"
	Accepted   State = "accepted"
	Rejected   State = "rejected"
	Superseded State = "superseded"
)

// EventKind names the kind of one Truth event.
type EventKind string

const (
	KindProposed   EventKind = "Proposed"
	KindAccepted   EventKind = "Accepted"
	KindRejected   EventKind = "Rejected"
	KindSuperseded EventKind = "Superseded"
)

// Event is one line of events.jsonl. Fields not relevant to Kind are
// omitted on write and ignored on read.
type Event struct {
	TS      time.Time `json:"ts"`
	TruthID string    `json:"truth_id"`
	Actor   string    `json:"actor,omitempty"`
	Kind    EventKind `json:"kind"`

	// Proposed payload.
	Feature      string   `json:"feature,omitempty"`
	Statement    string   `json:"statement,omitempty"`
	ProjectID    string   `json:"project_id,omitempty"`
	EpicID       string   `json:"epic_id,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	WorktreeID   string   `json:"worktree_id,omitempty"`
	WorktreePath string   `json:"worktree_path,omitempty"`
	Tags         []string `json:"tags,omitempty"`

	// Accepted/Rejected payload.
	Note string `json:"note,omitempty"`

	// Superseded payload.
	By     string `json:"by,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Truth is one live entry in the current.jsonl projection.
type Truth struct {
	ID           string   `json:"id"`
	State        State    `json:"state"`
	Feature      string   `json:"feature,omitempty"`
	Statement    string   `json:"statement,omitempty"`
	ProjectID    string   `json:"project_id,omitempty"`
	EpicID       string   `json:"epic_id,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	WorktreeID   string   `json:"worktree_id,omitempty"`
	WorktreePath string   `json:"worktree_path,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	SupersededBy string   `json:"superseded_by,omitempty"`
	Supersedes   string   `json:"supersedes,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Ledger wraps the events log and the current projection under dir
// (typically Layout.TruthDir).
type Ledger struct {
	fs    afero.Fs
	dir   string
	clock clockx.Clock
}

func New(fs afero.Fs, dir string, clock clockx.Clock) *Ledger {
	return &Ledger{fs: fs, dir: dir, clock: clock}
}

func (l *Ledger) eventsPath() string  { return l.dir + "/events.jsonl" }
func (l *Ledger) currentPath() string { return l.dir + "/current.jsonl" }

// Propose appends a Proposed event for a freshly allocated truth-<ULID>
// id and returns it.
func (l *Ledger) Propose(actor, feature, statement, projectID, epicID, sessionID, worktreeID, worktreePath string, tags []string) (string, error) {
	uid, err := idalloc.NewULID(l.clock.Now())
	if err != nil {
		return "", werr.Wrap(werr.IOError, err, "allocating truth id")
	}
	id := "truth-" + uid

	event := Event{
		TS: l.clock.Now().UTC(), TruthID: id, Actor: actor, Kind: KindProposed,
		Feature: feature, Statement: statement, ProjectID: projectID, EpicID: epicID,
		SessionID: sessionID, WorktreeID: worktreeID, WorktreePath: worktreePath, Tags: tags,
	}
	if err := l.append(event); err != nil {
		return "", err
	}
	return id, l.rebuildCurrent()
}

// Accept transitions a truth from proposed to accepted.
func (l *Ledger) Accept(actor, truthID, note string) error {
	return l.transition(actor, truthID, KindAccepted, note, "", "")
}

// Reject transitions a truth from proposed to rejected.
func (l *Ledger) Reject(actor, truthID, note string) error {
	return l.transition(actor, truthID, KindRejected, note, "", "")
}

// Supersede transitions an accepted truth to superseded, pointing at
// by (which must itself be, or become, accepted in the same call).
func (l *Ledger) Supersede(actor, truthID, by, reason string) error {
	return l.transition(actor, truthID, KindSuperseded, "", by, reason)
}

func (l *Ledger) transition(actor, truthID string, kind EventKind, note, by, reason string) error {
	current, err := l.Current()
	if err != nil {
		return err
	}
	t, ok := current[truthID]
	if !ok {
		return werr.New(werr.NotFound, "no truth %s", truthID)
	}

	// autoAccept carries an Accepted event for `by` that must be
	// appended before the Superseded event itself, so that a
	// not-yet-accepted by-truth transitions to accepted atomically
	// with the supersession it backs.
	var autoAccept *Event
	switch kind {
	case KindAccepted, KindRejected:
		if t.State != Proposed {
			return werr.New(werr.InvalidTransition, "truth %s is %s, not proposed", truthID, t.State)
		}
	case KindSuperseded:
		if t.State != Accepted {
			return werr.New(werr.InvalidTransition, "truth %s is %s, not accepted", truthID, t.State)
		}
		if by == "" {
			return werr.New(werr.ConfigError, "supersede requires a by truth id")
		}
		byTruth, ok := current[by]
		if !ok {
			return werr.New(werr.NotFound, "supersede by-truth %s does not exist", by)
		}
		switch byTruth.State {
		case Accepted:
		case Proposed:
			e := Event{TS: l.clock.Now().UTC(), TruthID: by, Actor: actor, Kind: KindAccepted, Note: "auto-accepted via supersede"}
			autoAccept = &e
		default:
			return werr.New(werr.InvalidTransition, "supersede by-truth %s is %s, not accepted or proposed", by, byTruth.State)
		}
	}

	if autoAccept != nil {
		if err := l.append(*autoAccept); err != nil {
			return err
		}
	}

	event := Event{TS: l.clock.Now().UTC(), TruthID: truthID, Actor: actor, Kind: kind, Note: note, By: by, Reason: reason}
	if err := l.append(event); err != nil {
		return err
	}
	return l.rebuildCurrent()
}

func (l *Ledger) append(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return werr.Wrap(werr.IOError, err, "encoding truth event")
	}
	f, err := l.fs.OpenFile(l.eventsPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		if err2 := l.fs.MkdirAll(l.dir, 0o750); err2 != nil {
			return werr.Wrap(werr.IOError, err2, "creating truth directory")
		}
		f, err = l.fs.OpenFile(l.eventsPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return werr.Wrap(werr.IOError, err, "opening truth events log")
		}
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return werr.Wrap(werr.IOError, err, "appending truth event")
	}
	return nil
}

// readEvents reads every event in file order, tolerating malformed
// lines by skipping them.
func (l *Ledger) readEvents() ([]Event, error) {
	f, err := l.fs.Open(l.eventsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, werr.Wrap(werr.IOError, err, "opening truth events log")
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, scanner.Err()
}

// fold replays events in timestamp-then-insertion order into the
// current-state projection.
func fold(events []Event) map[string]Truth {
	sort.SliceStable(events, func(i, j int) bool { return events[i].TS.Before(events[j].TS) })

	current := make(map[string]Truth)
	for _, e := range events {
		switch e.Kind {
		case KindProposed:
			current[e.TruthID] = Truth{
				ID: e.TruthID, State: Proposed, Feature: e.Feature, Statement: e.Statement,
				ProjectID: e.ProjectID, EpicID: e.EpicID, SessionID: e.SessionID,
				WorktreeID: e.WorktreeID, WorktreePath: e.WorktreePath, Tags: e.Tags,
				UpdatedAt: e.TS,
			}
		case KindAccepted:
			if t, ok := current[e.TruthID]; ok {
				t.State = Accepted
				t.UpdatedAt = e.TS
				current[e.TruthID] = t
			}
		case KindRejected:
			if t, ok := current[e.TruthID]; ok {
				t.State = Rejected
				t.UpdatedAt = e.TS
				current[e.TruthID] = t
			}
		case KindSuperseded:
			if t, ok := current[e.TruthID]; ok {
				t.State = Superseded
				t.SupersededBy = e.By
				t.UpdatedAt = e.TS
				current[e.TruthID] = t
			}
			if e.By != "" {
				if by, ok := current[e.By]; ok {
					by.Supersedes = e.TruthID
					current[e.By] = by
				}
			}
		}
	}
	return current
}

// Current returns the live projection, folding events.jsonl on every
// call; it does not read current.jsonl.
func (l *Ledger) Current() (map[string]Truth, error) {
	events, err := l.readEvents()
	if err != nil {
		return nil, err
	}
	return fold(events), nil
}

// RebuildCurrent recomputes current.jsonl from events.jsonl from
// scratch.
func (l *Ledger) RebuildCurrent() error {
	return l.rebuildCurrent()
}

func (l *Ledger) rebuildCurrent() error {
	current, err := l.Current()
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf strings.Builder
	for _, id := range ids {
		line, err := json.Marshal(current[id])
		if err != nil {
			return werr.Wrap(werr.IOError, err, "encoding truth projection for %s", id)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	if err := l.fs.MkdirAll(l.dir, 0o750); err != nil {
		return werr.Wrap(werr.IOError, err, "creating truth directory")
	}
	tmp := l.currentPath() + ".tmp"
	if err := afero.WriteFile(l.fs, tmp, []byte(buf.String()), 0o644); err != nil {
		return werr.Wrap(werr.IOError, err, "writing truth projection")
	}
	if err := l.fs.Rename(tmp, l.currentPath()); err != nil {
		return werr.Wrap(werr.IOError, err, "installing truth projection")
	}
	return nil
}

// VerifyProjection reports whether current.jsonl on disk matches a
// fresh fold of events.jsonl.
func (l *Ledger) VerifyProjection() (bool, error) {
	want, err := l.Current()
	if err != nil {
		return false, err
	}
	raw, err := afero.ReadFile(l.fs, l.currentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return len(want) == 0, nil
		}
		return false, werr.Wrap(werr.IOError, err, "reading truth projection")
	}
	got := make(map[string]Truth)
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var t Truth
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			return false, werr.Wrap(werr.ParseError, err, "parsing truth projection")
		}
		got[t.ID] = t
	}
	if len(got) != len(want) {
		return false, nil
	}
	for id, t := range want {
		if g, ok := got[id]; !ok || !reflect.DeepEqual(g, t) {
			return false, nil
		}
	}
	return true, nil
}

// Backfill records a legacy decision note as a proposed truth, never
// auto-accepted.
func (l *Ledger) Backfill(actor, feature, statement string) (string, error) {
	return l.Propose(actor, feature, statement, "", "", "", "", "", nil)
}
