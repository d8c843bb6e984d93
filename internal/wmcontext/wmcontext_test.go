package wmcontext_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/workmesh/internal/task"
	"github.com/workmesh/workmesh/internal/wmcontext"
)

func strp(s string) *string { return &s }

func TestSetAndShow(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := wmcontext.New(fs, "/repo/workmesh/context.json")

	c, err := s.Set(strp("proj-a"), strp("task-abcd-001"), strp("ship it"), []string{"task-abcd-002"})
	require.NoError(t, err)
	assert.Equal(t, "proj-a", c.ProjectID)

	shown, err := s.Show()
	require.NoError(t, err)
	assert.Equal(t, c, shown)
}

func TestClear(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := wmcontext.New(fs, "/repo/workmesh/context.json")
	_, err := s.Set(strp("proj-a"), nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Clear())

	c, err := s.Show()
	require.NoError(t, err)
	assert.Equal(t, wmcontext.Context{}, c)
}

func TestOnMutateAddsAndRemovesWorkingSet(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := wmcontext.New(fs, "/repo/workmesh/context.json")

	inProgress := &task.Task{ID: "task-abcd-001", Status: task.StatusInProgress}
	s.OnMutate(task.MutationEvent{Action: "set_status", After: inProgress}, nil)
	c, err := s.Show()
	require.NoError(t, err)
	assert.Equal(t, []string{"task-abcd-001"}, c.WorkingSet)

	done := &task.Task{ID: "task-abcd-001", Status: task.StatusDone}
	s.OnMutate(task.MutationEvent{Action: "set_status", After: done}, nil)
	c, err = s.Show()
	require.NoError(t, err)
	assert.Empty(t, c.WorkingSet)
}

func TestOnMutateClearsEpicWhenComplete(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := wmcontext.New(fs, "/repo/workmesh/context.json")
	_, err := s.Set(strp("proj-a"), strp("task-epic-001"), nil, []string{"task-abcd-002"})
	require.NoError(t, err)

	done := &task.Task{ID: "task-abcd-002", Status: task.StatusDone}
	s.OnMutate(task.MutationEvent{Action: "set_status", After: done}, func(epicID string) bool {
		return epicID == "task-epic-001"
	})

	c, err := s.Show()
	require.NoError(t, err)
	assert.Equal(t, "proj-a", c.ProjectID)
	assert.Empty(t, c.EpicID)
	assert.Empty(t, c.WorkingSet)
}
