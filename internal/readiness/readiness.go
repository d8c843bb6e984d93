// Package readiness implements the Relationship & Readiness Engine
// (C7): the ready-work predicate, deterministic ordering, the
// blockers view, and the board view.
package readiness

import (
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/workmesh/workmesh/internal/task"
	"github.com/workmesh/workmesh/internal/wmcontext"
)

// priorityRank orders P0 (highest) before P1 before P2 before P3;
// anything else sorts last, stably by id.
var priorityRank = map[string]int{"P0": 0, "P1": 1, "P2": 2, "P3": 3}

func rankOf(priority string) int {
	if r, ok := priorityRank[priority]; ok {
		return r
	}
	return len(priorityRank)
}

// indexTasks maps every task's id and uid to the task, letting callers
// resolve a reference without a linear scan per task.
func indexTasks(all []*task.Task) map[string]*task.Task {
	byID := make(map[string]*task.Task, len(all)*2)
	for _, t := range all {
		byID[t.ID] = t
		if t.UID != "" {
			byID[t.UID] = t
		}
	}
	return byID
}

// Ready reports whether T is ready for work: status is To Do or
// In Progress (already-active work is still ready to be picked back
// up or continued; Done and other terminal statuses are not), every
// dependency/blocker resolves to a Done task (dangling references
// block), and no other owner holds an active lease as of now.
func Ready(t *task.Task, byID map[string]*task.Task, callerOwner string, now time.Time) bool {
	if t.Status != task.StatusToDo && t.Status != task.StatusInProgress {
		return false
	}
	for _, ref := range t.AllBlockingRefs() {
		dep, ok := byID[ref]
		if !ok || dep.Status != task.StatusDone {
			return false
		}
	}
	if t.Lease.Active(now) && t.Lease.Owner != callerOwner {
		return false
	}
	return true
}

// blockingCache memoizes AllBlockingRefs resolution per task id within
// a single Blockers computation, avoiding repeated map lookups across
// large graphs.
type blockingCache struct {
	cache *lru.Cache[string, []string]
}

func newBlockingCache() *blockingCache {
	c, _ := lru.New[string, []string](1024)
	return &blockingCache{cache: c}
}

func (b *blockingCache) unmetBlockers(t *task.Task, byID map[string]*task.Task) []string {
	if v, ok := b.cache.Get(t.ID); ok {
		return v
	}
	var unmet []string
	for _, ref := range t.AllBlockingRefs() {
		dep, ok := byID[ref]
		if !ok || dep.Status != task.StatusDone {
			unmet = append(unmet, ref)
		}
	}
	b.cache.Add(t.ID, unmet)
	return unmet
}

// NextTasks returns up to limit ready tasks ordered per the
// deterministic readiness ordering: Context working_set first
// (preserving its order), then active work, then priority, then id.
// limit <= 0 means unlimited.
func NextTasks(all []*task.Task, ctx wmcontext.Context, callerOwner string, now time.Time, limit int) []*task.Task {
	byID := indexTasks(all)

	var ready []*task.Task
	for _, t := range all {
		if Ready(t, byID, callerOwner, now) {
			ready = append(ready, t)
		}
	}

	workingSetPos := make(map[string]int, len(ctx.WorkingSet))
	for i, id := range ctx.WorkingSet {
		workingSetPos[id] = i
	}

	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		aPos, aIn := workingSetPos[a.ID]
		bPos, bIn := workingSetPos[b.ID]
		if aIn != bIn {
			return aIn
		}
		if aIn && bIn && aPos != bPos {
			return aPos < bPos
		}
		aActive := isActive(a, callerOwner)
		bActive := isActive(b, callerOwner)
		if aActive != bActive {
			return aActive
		}
		if rankOf(a.Priority) != rankOf(b.Priority) {
			return rankOf(a.Priority) < rankOf(b.Priority)
		}
		return a.ID < b.ID
	})

	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	return ready
}

// Next returns the single highest-priority ready task, or nil.
func Next(all []*task.Task, ctx wmcontext.Context, callerOwner string, now time.Time) *task.Task {
	results := NextTasks(all, ctx, callerOwner, now, 1)
	if len(results) == 0 {
		return nil
	}
	return results[0]
}

// Stale lists In Progress tasks last updated before now.Add(-threshold),
// sorted by id for determinism; a pure read over UpdatedDate, useful
// for surfacing work that was claimed and then abandoned.
func Stale(all []*task.Task, threshold time.Duration, now time.Time) []*task.Task {
	cutoff := now.Add(-threshold)
	var stale []*task.Task
	for _, t := range all {
		if t.Status == task.StatusInProgress && t.UpdatedDate.Before(cutoff) {
			stale = append(stale, t)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	return stale
}

func isActive(t *task.Task, callerOwner string) bool {
	if t.Status == task.StatusInProgress {
		return true
	}
	return t.Lease != nil && t.Lease.Owner == callerOwner
}

// Blocker is one entry in the blockers view: a blocked task plus its
// unmet blocking references.
type Blocker struct {
	Task          *task.Task
	UnmetBlockers []string
}

// Blockers enumerates unmet blockers for every non-Done task,
// optionally scoped to the transitive relationships.parent closure
// under scopeEpicID, sorted by the count of dependents blocked
// (descending) then by id.
func Blockers(all []*task.Task, scopeEpicID string) []Blocker {
	byID := indexTasks(all)
	cache := newBlockingCache()

	scope := all
	if scopeEpicID != "" {
		scope = subtreeOf(all, scopeEpicID)
	}

	dependentsBlocked := make(map[string]int)
	var entries []Blocker
	for _, t := range scope {
		if t.Status == task.StatusDone {
			continue
		}
		unmet := cache.unmetBlockers(t, byID)
		if len(unmet) == 0 {
			continue
		}
		entries = append(entries, Blocker{Task: t, UnmetBlockers: unmet})
		for _, ref := range unmet {
			dependentsBlocked[ref]++
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		aCount, bCount := countBlocked(a.UnmetBlockers, dependentsBlocked), countBlocked(b.UnmetBlockers, dependentsBlocked)
		if aCount != bCount {
			return aCount > bCount
		}
		return a.Task.ID < b.Task.ID
	})
	return entries
}

func countBlocked(refs []string, dependentsBlocked map[string]int) int {
	total := 0
	for _, ref := range refs {
		total += dependentsBlocked[ref]
	}
	return total
}

// subtreeOf returns epicID's task plus every task transitively
// reachable via relationships.parent pointing at it.
func subtreeOf(all []*task.Task, epicID string) []*task.Task {
	inScope := map[string]bool{epicID: true}
	changed := true
	for changed {
		changed = false
		for _, t := range all {
			if inScope[t.ID] {
				continue
			}
			for _, p := range t.Relationships.Parent {
				if inScope[p] {
					inScope[t.ID] = true
					changed = true
					break
				}
			}
		}
	}
	var out []*task.Task
	for _, t := range all {
		if inScope[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

// canonicalLaneOrder is the fixed status-lane ordering for the board
// view.
var canonicalLaneOrder = []string{"To Do", "In Progress", "Blocked", task.StatusDone, "Archived"}

// Lane is one group of tasks in the board view.
type Lane struct {
	Name  string
	Tasks []*task.Task
}

// Board groups tasks into lanes by field ("status", "phase", or
// "priority"); status lanes follow the canonical order, others are
// sorted lexicographically. Within each lane tasks sort by id. When
// ctx is non-nil, --focus restricts to the working set plus its
// epic's subtree.
func Board(all []*task.Task, field string, ctx *wmcontext.Context) []Lane {
	scope := all
	if ctx != nil {
		scope = focusScope(all, *ctx)
	}

	buckets := make(map[string][]*task.Task)
	for _, t := range scope {
		key := laneKey(t, field)
		buckets[key] = append(buckets[key], t)
	}
	for _, tasks := range buckets {
		sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	}

	var names []string
	if field == "status" || field == "" {
		for _, name := range canonicalLaneOrder {
			if _, ok := buckets[name]; ok {
				names = append(names, name)
			}
		}
		for name := range buckets {
			if !containsLane(names, name) {
				names = append(names, name)
			}
		}
	} else {
		for name := range buckets {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	lanes := make([]Lane, 0, len(names))
	for _, name := range names {
		lanes = append(lanes, Lane{Name: name, Tasks: buckets[name]})
	}
	return lanes
}

func containsLane(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func laneKey(t *task.Task, field string) string {
	switch field {
	case "phase":
		return t.Phase
	case "priority":
		return t.Priority
	default:
		return t.Status
	}
}

func focusScope(all []*task.Task, ctx wmcontext.Context) []*task.Task {
	inSet := make(map[string]bool, len(ctx.WorkingSet))
	for _, id := range ctx.WorkingSet {
		inSet[id] = true
	}
	var scope []*task.Task
	if ctx.EpicID != "" {
		scope = subtreeOf(all, ctx.EpicID)
	}
	for _, t := range all {
		if inSet[t.ID] && !containsTask(scope, t.ID) {
			scope = append(scope, t)
		}
	}
	return scope
}

func containsTask(list []*task.Task, id string) bool {
	for _, t := range list {
		if t.ID == id {
			return true
		}
	}
	return false
}
