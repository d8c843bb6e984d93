package task_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/workmesh/internal/clockx"
	"github.com/workmesh/workmesh/internal/task"
	"github.com/workmesh/workmesh/internal/werr"
)

func newTestStore(t *testing.T) (*task.Store, *clockx.Fixed) {
	t.Helper()
	fs := afero.NewMemMapFs()
	clock := clockx.NewFixed(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	s := task.New(fs, "/repo/workmesh/tasks", clock, nil)
	return s, clock
}

func addTask(t *testing.T, s *task.Store, id, kind, status string) *task.Task {
	t.Helper()
	tk, err := s.Add(task.AddFields{UID: id + "-uid", ID: id, Title: "Task " + id, Kind: kind, Status: status})
	require.NoError(t, err)
	return tk
}

func TestAddAndLoad(t *testing.T) {
	s, _ := newTestStore(t)
	tk, err := s.Add(task.AddFields{UID: "01ARZUID", ID: "task-abcd-001", Title: "Do the thing", Kind: "task", Labels: []string{"foo"}})
	require.NoError(t, err)
	assert.Equal(t, task.StatusToDo, tk.Status)

	loaded, err := s.Load(tk.Path)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, loaded.ID)
	assert.True(t, loaded.Labels["foo"])
}

func TestAddDuplicateID(t *testing.T) {
	s, _ := newTestStore(t)
	addTask(t, s, "task-abcd-001", "task", task.StatusToDo)
	_, err := s.Add(task.AddFields{ID: "task-abcd-001", Title: "Other"})
	require.Error(t, err)
	assert.Equal(t, werr.DuplicateID, werr.KindOf(err))
}

func TestSetStatusEpicGating(t *testing.T) {
	s, _ := newTestStore(t)
	epic := addTask(t, s, "task-abcd-001", task.EpicKind, task.StatusInProgress)
	child := addTask(t, s, "task-abcd-002", "task", task.StatusInProgress)
	_, err := s.ParentSet(child.ID, epic.ID)
	require.NoError(t, err)

	_, err = s.SetStatus(epic.ID, task.StatusDone)
	require.Error(t, err)
	assert.Equal(t, werr.InvalidTransition, werr.KindOf(err))

	_, err = s.SetStatus(child.ID, task.StatusDone)
	require.NoError(t, err)

	_, err = s.SetStatus(epic.ID, task.StatusDone)
	require.NoError(t, err)
}

func TestDepAddRejectsCycle(t *testing.T) {
	s, _ := newTestStore(t)
	a := addTask(t, s, "task-abcd-001", "task", task.StatusToDo)
	b := addTask(t, s, "task-abcd-002", "task", task.StatusToDo)

	_, err := s.DepAdd(b.ID, a.ID)
	require.NoError(t, err)

	_, err = s.DepAdd(a.ID, b.ID)
	require.Error(t, err)
	assert.Equal(t, werr.CycleDetected, werr.KindOf(err))
}

func TestResolveAmbiguous(t *testing.T) {
	s, _ := newTestStore(t)
	addTask(t, s, "task-abcd-001", "task", task.StatusToDo)
	addTask(t, s, "task-abce-001", "task", task.StatusToDo)

	_, err := s.Resolve("001")
	require.Error(t, err)
	assert.Equal(t, werr.AmbiguousReference, werr.KindOf(err))

	got, err := s.Resolve("task-abcd-001")
	require.NoError(t, err)
	assert.Equal(t, "task-abcd-001", got.ID)
}

func TestClaimAndRelease(t *testing.T) {
	s, clock := newTestStore(t)
	tk := addTask(t, s, "task-abcd-001", "task", task.StatusToDo)

	claimed, err := s.Claim(tk.ID, "alice", 30)
	require.NoError(t, err)
	assert.Equal(t, "alice", claimed.Lease.Owner)
	assert.Equal(t, task.StatusToDo, claimed.Status)

	_, err = s.Claim(tk.ID, "bob", 30)
	require.Error(t, err)
	assert.Equal(t, werr.Leased, werr.KindOf(err))

	clock.Advance(31 * time.Minute)
	reclaimed, err := s.Claim(tk.ID, "bob", 30)
	require.NoError(t, err)
	assert.Equal(t, "bob", reclaimed.Lease.Owner)

	_, err = s.Release(tk.ID, "alice")
	require.Error(t, err)
	assert.Equal(t, werr.NotOwner, werr.KindOf(err))

	released, err := s.Release(tk.ID, "bob")
	require.NoError(t, err)
	assert.Nil(t, released.Lease)
}

func TestSetStatusKeepsLeaseOnNonTerminalTransition(t *testing.T) {
	s, _ := newTestStore(t)
	tk := addTask(t, s, "task-abcd-001", "task", task.StatusToDo)

	claimed, err := s.Claim(tk.ID, "alice", 30)
	require.NoError(t, err)
	require.NotNil(t, claimed.Lease)

	inProgress, err := s.SetStatus(tk.ID, task.StatusInProgress)
	require.NoError(t, err)
	require.NotNil(t, inProgress.Lease)

	backToDo, err := s.SetStatus(tk.ID, task.StatusToDo)
	require.NoError(t, err)
	assert.NotNil(t, backToDo.Lease)
	assert.Equal(t, "alice", backToDo.Lease.Owner)

	// To Do -> Done does not leave In Progress, so the lease is kept.
	done, err := s.SetStatus(tk.ID, task.StatusDone)
	require.NoError(t, err)
	assert.NotNil(t, done.Lease)
}

func TestBulkStopsOnFirstFailure(t *testing.T) {
	s, _ := newTestStore(t)
	addTask(t, s, "task-abcd-001", "task", task.StatusToDo)

	results := task.Bulk([]string{"task-abcd-001", "task-missing-002"}, func(id string) (*task.Task, error) {
		return s.SetStatus(id, task.StatusInProgress)
	})
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
}
