package task_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/workmesh/internal/clockx"
	"github.com/workmesh/workmesh/internal/task"
)

func TestResolveArchiveBeforeCompact(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	cutoff, err := task.ResolveArchiveBefore("0d", now)
	require.NoError(t, err)
	assert.True(t, cutoff.Equal(now))

	cutoff, err = task.ResolveArchiveBefore("2w", now)
	require.NoError(t, err)
	assert.True(t, cutoff.Equal(now.Add(-14*24*time.Hour)))
}

func TestResolveArchiveBeforeNaturalLanguage(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	cutoff, err := task.ResolveArchiveBefore("yesterday", now)
	require.NoError(t, err)
	assert.True(t, cutoff.Before(now))
}

func TestArchiveMonthDir(t *testing.T) {
	assert.Equal(t, "2026-03", task.ArchiveMonthDir(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))
}

func TestStoreArchiveMovesDoneBeforeCutoff(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockx.NewFixed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	s := task.New(fs, "/repo/workmesh/tasks", clock, nil)
	s.SetArchiveDir("/repo/workmesh/archive")

	old, err := s.Add(task.AddFields{UID: "01", ID: "task-abcd-001", Title: "Old done", Status: task.StatusDone})
	require.NoError(t, err)
	_, err = s.Add(task.AddFields{UID: "02", ID: "task-abcd-002", Title: "Fresh todo", Status: task.StatusToDo})
	require.NoError(t, err)

	cutoff := clock.Now().Add(time.Hour)
	archived, err := s.Archive(cutoff)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, old.ID, archived[0].ID)

	remaining, _ := s.LoadAll()
	require.Len(t, remaining, 1)
	assert.Equal(t, "task-abcd-002", remaining[0].ID)
}
