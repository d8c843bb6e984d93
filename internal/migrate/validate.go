// Package migrate implements the Migration & Validation surface
// (C12): a read-only integrity report over C3-C11, layout/legacy
// migrations with audit/plan/apply staging, and id rekeying.
package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"github.com/workmesh/workmesh/internal/config"
	"github.com/workmesh/workmesh/internal/pathresolve"
	"github.com/workmesh/workmesh/internal/task"
	"github.com/workmesh/workmesh/internal/taskindex"
	"github.com/workmesh/workmesh/internal/truth"
	"github.com/workmesh/workmesh/internal/werr"
	"go.uber.org/multierr"
)

// Severity distinguishes a report line that blocks confidence in the
// store (Error) from one that is merely worth a human's attention
// (Warning).
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one line of a validate report.
type Finding struct {
	Severity Severity
	Kind     werr.Kind
	Message  string
	TaskID   string
	Path     string
}

// Report is the full, structured result of a validate pass. It never
// mutates anything on disk.
type Report struct {
	Findings []Finding
}

// Errors returns only the error-severity findings.
func (r Report) Errors() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			out = append(out, f)
		}
	}
	return out
}

// Warnings returns only the warning-severity findings.
func (r Report) Warnings() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityWarning {
			out = append(out, f)
		}
	}
	return out
}

// OK reports whether the store has no error-severity findings.
func (r Report) OK() bool { return len(r.Errors()) == 0 }

func (r *Report) add(f Finding) { r.Findings = append(r.Findings, f) }

// Validate runs every integrity check over a single root and
// returns a structured report. Independent checks are aggregated with
// multierr internally so one failing check (e.g. an unreadable truth
// ledger) does not abort the rest of the pass.
func Validate(fs afero.Fs, layout pathresolve.Layout, cfg config.Config, store *task.Store, idx *taskindex.Index, ledger *truth.Ledger) (Report, error) {
	var report Report
	var errs error

	all, parseErrs := store.LoadAll()
	for _, e := range parseErrs {
		errs = multierr.Append(errs, e)
		report.add(Finding{Severity: SeverityError, Kind: werr.ParseError, Message: e.Error()})
	}

	checkDuplicateIdentities(&report, all)
	checkDanglingReferences(&report, all)
	checkCycles(&report, all)
	checkEpicCompletion(&report, all)
	checkExternalReferences(fs, cfg, &report, all)
	if err := checkMissingPRDFiles(fs, layout.Root, &report, all); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := checkTruthDrift(ledger, &report); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := checkIndexDrift(idx, store, &report); err != nil {
		errs = multierr.Append(errs, err)
	}

	sort.SliceStable(report.Findings, func(i, j int) bool {
		return report.Findings[i].TaskID < report.Findings[j].TaskID
	})
	return report, errs
}

// checkDuplicateIdentities: duplicate uid is an error; duplicate id
// with a distinct uid is a warning recommending rekey-apply.
func checkDuplicateIdentities(report *Report, all []*task.Task) {
	byUID := make(map[string][]*task.Task)
	byID := make(map[string][]*task.Task)
	for _, t := range all {
		if t.UID != "" {
			byUID[t.UID] = append(byUID[t.UID], t)
		}
		if t.ID != "" {
			byID[t.ID] = append(byID[t.ID], t)
		}
	}
	for uid, tasks := range byUID {
		if len(tasks) > 1 {
			for _, t := range tasks {
				report.add(Finding{Severity: SeverityError, Kind: werr.DuplicateUID,
					Message: fmt.Sprintf("duplicate uid %s", uid), TaskID: t.ID, Path: t.Path})
			}
		}
	}
	for id, tasks := range byID {
		if len(tasks) < 2 {
			continue
		}
		distinctUID := false
		for i := 1; i < len(tasks); i++ {
			if tasks[i].UID != tasks[0].UID {
				distinctUID = true
				break
			}
		}
		if distinctUID {
			for _, t := range tasks {
				report.add(Finding{Severity: SeverityWarning, Kind: werr.DuplicateID,
					Message: fmt.Sprintf("duplicate id %s with distinct uid; rekey-apply recommended", id),
					TaskID: t.ID, Path: t.Path})
			}
		}
	}
}

// checkDanglingReferences reports every dependencies/relationships
// entry that does not resolve to a known id or uid. Dangling
// references are warning-only at validate.
func checkDanglingReferences(report *Report, all []*task.Task) {
	known := make(map[string]bool, len(all)*2)
	for _, t := range all {
		known[t.ID] = true
		known[t.UID] = true
	}
	for _, t := range all {
		refs := append([]string(nil), t.Dependencies...)
		refs = append(refs, t.Relationships.BlockedBy...)
		refs = append(refs, t.Relationships.Parent...)
		refs = append(refs, t.Relationships.Child...)
		refs = append(refs, t.Relationships.DiscoveredFrom...)
		for _, ref := range refs {
			if !known[ref] {
				report.add(Finding{Severity: SeverityWarning, Kind: werr.DanglingReference,
					Message: fmt.Sprintf("reference %q does not resolve to a known task", ref),
					TaskID: t.ID, Path: t.Path})
			}
		}
	}
}

// checkCycles reports dependency cycles as an error.
func checkCycles(report *Report, all []*task.Task) {
	seen := make(map[string]bool)
	for _, t := range all {
		key := t.ID
		if key == "" {
			key = t.UID
		}
		if seen[key] {
			continue
		}
		if cyc := DetectCycle(all, key); cyc != nil {
			for _, id := range cyc {
				seen[id] = true
			}
			report.add(Finding{Severity: SeverityError, Kind: werr.CycleDetected,
				Message: fmt.Sprintf("dependency cycle: %v", cyc), TaskID: t.ID, Path: t.Path})
		}
	}
}

// checkEpicCompletion reports an epic marked Done whose children,
// dependencies, or blockers are not all Done.
func checkEpicCompletion(report *Report, all []*task.Task) {
	for _, t := range all {
		if t.Kind == task.EpicKind && t.Status == task.StatusDone && !task.EpicComplete(t, all) {
			report.add(Finding{Severity: SeverityError, Kind: werr.InvalidTransition,
				Message: "epic is Done but a dependency, blocker, or child is not", TaskID: t.ID, Path: t.Path})
		}
	}
}

// checkExternalReferences reports, as a warning, an external map entry
// whose key names a project configured in external_projects at a path
// that does not exist. A key with no configured project is skipped:
// an unconfigured external project is a common, intentional omission.
func checkExternalReferences(fs afero.Fs, cfg config.Config, report *Report, all []*task.Task) {
	for _, t := range all {
		for key := range t.External {
			path, ok := cfg.ExternalProjects[key]
			if !ok {
				continue
			}
			if _, err := fs.Stat(path); err != nil {
				report.add(Finding{Severity: SeverityWarning, Kind: werr.NotFound,
					Message: fmt.Sprintf("external project %q configured at %q does not exist", key, path),
					TaskID: t.ID, Path: t.Path})
			}
		}
	}
}

// checkMissingPRDFiles reports a task.prd reference that does not
// exist relative to root.
func checkMissingPRDFiles(fs afero.Fs, root string, report *Report, all []*task.Task) error {
	for _, t := range all {
		if t.PRD == "" {
			continue
		}
		p := t.PRD
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		_, err := fs.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				report.add(Finding{Severity: SeverityWarning, Kind: werr.NotFound,
					Message: fmt.Sprintf("referenced PRD file %q does not exist", t.PRD), TaskID: t.ID, Path: t.Path})
				continue
			}
			return werr.Wrap(werr.IOError, err, "statting PRD reference for %s", t.ID)
		}
	}
	return nil
}

// checkTruthDrift reports Truth Ledger projection drift as an error.
func checkTruthDrift(ledger *truth.Ledger, report *Report) error {
	if ledger == nil {
		return nil
	}
	ok, err := ledger.VerifyProjection()
	if err != nil {
		return err
	}
	if !ok {
		report.add(Finding{Severity: SeverityError, Kind: werr.ProjectionDrift,
			Message: "truth current.jsonl does not match a fresh fold of events.jsonl"})
	}
	return nil
}

// checkIndexDrift reports Task Index drift as a warning (the index is
// advisory, so drift does not block confidence in the store itself).
func checkIndexDrift(idx *taskindex.Index, store *task.Store, report *Report) error {
	if idx == nil {
		return nil
	}
	divergences, err := idx.Verify(store)
	if err != nil {
		if werr.KindOf(err) == werr.NotFound {
			return nil
		}
		return err
	}
	for _, d := range divergences {
		report.add(Finding{Severity: SeverityWarning, Kind: werr.ProjectionDrift,
			Message: fmt.Sprintf("task index drift: %s (%s)", d.Path, d.Reason), Path: d.Path})
	}
	return nil
}

// DetectCycle is the validate-facing counterpart of the Task Store's
// internal cycle DFS (this package keeps its own copy, since the Task
// Store's is unexported), exposed here because validate is the only
// consumer that needs to run it against the full graph rather than a
// single proposed edge.
func DetectCycle(all []*task.Task, start string) []string {
	graph := make(map[string][]string, len(all))
	for _, t := range all {
		key := t.ID
		if key == "" {
			key = t.UID
		}
		graph[key] = append(append([]string(nil), t.Dependencies...), t.Relationships.BlockedBy...)
	}
	return detectCycleFrom(graph, start)
}

const (
	cycleUnvisited = 0
	cycleVisiting  = 1
	cycleDone      = 2
)

func detectCycleFrom(graph map[string][]string, start string) []string {
	state := make(map[string]int)
	var path []string

	var visit func(node string) []string
	visit = func(node string) []string {
		switch state[node] {
		case cycleVisiting:
			path = append(path, node)
			return append([]string(nil), path...)
		case cycleDone:
			return nil
		}
		state[node] = cycleVisiting
		path = append(path, node)
		for _, next := range graph[node] {
			if cyc := visit(next); cyc != nil {
				return cyc
			}
		}
		path = path[:len(path)-1]
		state[node] = cycleDone
		return nil
	}
	return visit(start)
}
