package taskindex_test

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/workmesh/internal/clockx"
	"github.com/workmesh/workmesh/internal/task"
	"github.com/workmesh/workmesh/internal/taskindex"
)

func TestRebuildAndVerify(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockx.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := task.New(fs, "/repo/workmesh/tasks", clock, nil)

	_, err := store.Add(task.AddFields{UID: "01", ID: "task-abcd-001", Title: "First"})
	require.NoError(t, err)
	_, err = store.Add(task.AddFields{UID: "02", ID: "task-abcd-002", Title: "Second"})
	require.NoError(t, err)

	idx := taskindex.New(fs, "/repo/workmesh/.index", "/repo/workmesh/tasks", nil)
	require.NoError(t, idx.Rebuild(context.Background(), store))

	divergences, err := idx.Verify(store)
	require.NoError(t, err)
	assert.Empty(t, divergences)
}

func TestVerifyDetectsDrift(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockx.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := task.New(fs, "/repo/workmesh/tasks", clock, nil)
	tk, err := store.Add(task.AddFields{UID: "01", ID: "task-abcd-001", Title: "First"})
	require.NoError(t, err)

	idx := taskindex.New(fs, "/repo/workmesh/.index", "/repo/workmesh/tasks", nil)
	require.NoError(t, idx.Rebuild(context.Background(), store))

	clock.Advance(time.Minute)
	_, err = store.SetField(tk.ID, "title", "Changed", true)
	require.NoError(t, err)

	divergences, err := idx.Verify(store)
	require.NoError(t, err)
	require.Len(t, divergences, 1)
	assert.Equal(t, "content hash mismatch", divergences[0].Reason)
}

func TestRefreshRebuildsWhenMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockx.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := task.New(fs, "/repo/workmesh/tasks", clock, nil)
	_, err := store.Add(task.AddFields{UID: "01", ID: "task-abcd-001", Title: "First"})
	require.NoError(t, err)

	idx := taskindex.New(fs, "/repo/workmesh/.index", "/repo/workmesh/tasks", nil)
	require.NoError(t, idx.Refresh(store))

	divergences, err := idx.Verify(store)
	require.NoError(t, err)
	assert.Empty(t, divergences)
}
