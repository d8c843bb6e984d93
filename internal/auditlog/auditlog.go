// Package auditlog implements the Audit Log (C5): an append-only
// JSONL history at <root>/.audit.log. Writes are best-effort and
// never block or fail the primary operation that triggered them.
package auditlog

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/afero"
	"github.com/workmesh/workmesh/internal/clockx"
	"github.com/workmesh/workmesh/internal/diag"
	"github.com/workmesh/workmesh/internal/werr"
)

// Event is one audit line: { ts, action, task_id, uid, diff }.
type Event struct {
	TS     time.Time `json:"ts"`
	Action string    `json:"action"`
	TaskID string    `json:"task_id,omitempty"`
	UID    string    `json:"uid,omitempty"`
	Diff   string    `json:"diff,omitempty"`
}

// Log appends events to a single JSONL file.
type Log struct {
	fs    afero.Fs
	path  string
	clock clockx.Clock
	sink  diag.Sink
	dmp   *diffmatchpatch.DiffMatchPatch
}

// New constructs a Log writing to path (typically Layout.AuditLogPath).
func New(fs afero.Fs, path string, clock clockx.Clock, sink diag.Sink) *Log {
	if sink == nil {
		sink = diag.Discard
	}
	return &Log{fs: fs, path: path, clock: clock, sink: sink, dmp: diffmatchpatch.New()}
}

// Append records one event, diffing before/after text representations
// with go-diff when both are non-empty. Failure is swallowed: best-
// effort per the concurrency model, never fails the caller's mutation.
func (l *Log) Append(action, taskID, uid, before, after string) {
	diff := ""
	if before != "" || after != "" {
		diffs := l.dmp.DiffMain(before, after, false)
		diff = l.dmp.DiffPrettyText(diffs)
	}
	event := Event{TS: l.clock.Now().UTC(), Action: action, TaskID: taskID, UID: uid, Diff: diff}

	line, err := json.Marshal(event)
	if err != nil {
		l.sink.Error("auditlog", "encoding event", err, map[string]any{"action": action})
		return
	}

	f, err := l.fs.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.sink.Error("auditlog", "opening audit log", err, map[string]any{"path": l.path})
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		l.sink.Error("auditlog", "appending audit event", err, map[string]any{"path": l.path})
	}
}

// ReadAll returns every recorded event in file order, for doctor/
// inspection tooling. Malformed lines are skipped, not fatal.
func (l *Log) ReadAll() ([]Event, error) {
	f, err := l.fs.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, werr.Wrap(werr.IOError, err, "opening audit log")
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
	if err := scanner.Err(); err != nil {
		return events, werr.Wrap(werr.IOError, err, "scanning audit log")
	}
	return events, nil
}
