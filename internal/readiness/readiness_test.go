package readiness_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/workmesh/workmesh/internal/readiness"
	"github.com/workmesh/workmesh/internal/task"
	"github.com/workmesh/workmesh/internal/wmcontext"
)

func mkTask(id, status, priority string, deps ...string) *task.Task {
	return &task.Task{ID: id, UID: id + "-uid", Status: status, Priority: priority, Dependencies: deps}
}

func TestNextTasksOrdering(t *testing.T) {
	now := time.Now()
	a := mkTask("task-abcd-001", task.StatusToDo, "P1")
	b := mkTask("task-abcd-002", task.StatusToDo, "P0")
	c := mkTask("task-abcd-003", task.StatusToDo, "P0")
	all := []*task.Task{a, b, c}

	ctx := wmcontext.Context{WorkingSet: []string{"task-abcd-003"}}
	results := readiness.NextTasks(all, ctx, "", now, 0)

	expected := []string{"task-abcd-003", "task-abcd-002", "task-abcd-001"}
	got := make([]string, len(results))
	for i, r := range results {
		got[i] = r.ID
	}
	assert.Equal(t, expected, got)
}

func TestReadyBlocksOnUnmetDependency(t *testing.T) {
	now := time.Now()
	dep := mkTask("task-abcd-001", task.StatusToDo, "P2")
	t2 := mkTask("task-abcd-002", task.StatusToDo, "P2", "task-abcd-001")
	all := []*task.Task{dep, t2}

	results := readiness.NextTasks(all, wmcontext.Context{}, "", now, 0)
	assert.Len(t, results, 1)
	assert.Equal(t, "task-abcd-001", results[0].ID)
}

func TestNextTasksIncludesInProgressAheadOfLowerPriorityToDo(t *testing.T) {
	now := time.Now()
	a := mkTask("task-abcd-001", task.StatusToDo, "P1", "task-abcd-002")
	b := mkTask("task-abcd-002", task.StatusDone, "P2")
	c := mkTask("task-abcd-003", task.StatusInProgress, "P0")
	d := mkTask("task-abcd-004", task.StatusToDo, "P1")
	d.Lease = &task.Lease{Owner: "alice", ExpiresAt: now.Add(time.Hour)}
	all := []*task.Task{a, b, c, d}

	results := readiness.NextTasks(all, wmcontext.Context{}, "bob", now, 10)

	got := make([]string, len(results))
	for i, r := range results {
		got[i] = r.ID
	}
	assert.Equal(t, []string{"task-abcd-003", "task-abcd-001"}, got)
}

func TestBlockersView(t *testing.T) {
	dep := mkTask("task-abcd-001", task.StatusToDo, "P2")
	t2 := mkTask("task-abcd-002", task.StatusToDo, "P2", "task-abcd-001")
	t3 := mkTask("task-abcd-003", task.StatusToDo, "P2", "task-abcd-001")
	all := []*task.Task{dep, t2, t3}

	blockers := readiness.Blockers(all, "")
	assert.Len(t, blockers, 2)
	assert.Equal(t, "task-abcd-002", blockers[0].Task.ID)
}

func TestStaleListsIdleInProgressTasks(t *testing.T) {
	now := time.Now()
	fresh := mkTask("task-abcd-001", task.StatusInProgress, "P2")
	fresh.UpdatedDate = now.Add(-1 * time.Hour)
	idle := mkTask("task-abcd-002", task.StatusInProgress, "P2")
	idle.UpdatedDate = now.Add(-48 * time.Hour)
	done := mkTask("task-abcd-003", task.StatusDone, "P2")
	done.UpdatedDate = now.Add(-72 * time.Hour)
	all := []*task.Task{fresh, idle, done}

	stale := readiness.Stale(all, 24*time.Hour, now)
	assert.Len(t, stale, 1)
	assert.Equal(t, "task-abcd-002", stale[0].ID)
}

func TestBoardGroupsByStatus(t *testing.T) {
	a := mkTask("task-abcd-001", task.StatusToDo, "P2")
	b := mkTask("task-abcd-002", task.StatusDone, "P2")
	lanes := readiness.Board([]*task.Task{a, b}, "status", nil)

	assert.Equal(t, "To Do", lanes[0].Name)
	assert.Equal(t, task.StatusDone, lanes[1].Name)
}
