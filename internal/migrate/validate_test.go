package migrate_test

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/workmesh/internal/clockx"
	wmconfig "github.com/workmesh/workmesh/internal/config"
	"github.com/workmesh/workmesh/internal/migrate"
	"github.com/workmesh/workmesh/internal/pathresolve"
	"github.com/workmesh/workmesh/internal/task"
	"github.com/workmesh/workmesh/internal/taskindex"
	"github.com/workmesh/workmesh/internal/truth"
	"github.com/workmesh/workmesh/internal/werr"
)

func newValidateFixture(t *testing.T) (afero.Fs, pathresolve.Layout, *task.Store) {
	t.Helper()
	fs := afero.NewMemMapFs()
	root := "/repo"
	layout := pathresolve.Resolve(fs, root)
	clock := clockx.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := task.New(fs, layout.TasksDir, clock, nil)
	store.SetArchiveDir(layout.ArchiveDir)
	return fs, layout, store
}

func TestValidateDetectsDanglingReference(t *testing.T) {
	fs, layout, store := newValidateFixture(t)

	_, err := store.Add(task.AddFields{UID: "u1", ID: "task-abcd-001", Title: "A", Kind: "task",
		Dependencies: []string{"task-abcd-999"}})
	require.NoError(t, err)

	idx := taskindex.New(fs, layout.IndexDir, layout.TasksDir, nil)
	ledger := truth.New(fs, layout.TruthDir, clockx.NewFixed(time.Now()))
	require.NoError(t, ledger.RebuildCurrent())

	report, err := migrate.Validate(fs, layout, wmconfig.Default(), store, idx, ledger)
	require.NoError(t, err)

	found := false
	for _, f := range report.Warnings() {
		if f.Kind == werr.DanglingReference {
			found = true
		}
	}
	assert.True(t, found, "expected a dangling reference warning")
}

func TestValidateDetectsDuplicateUID(t *testing.T) {
	fs, layout, store := newValidateFixture(t)
	_, err := store.Add(task.AddFields{UID: "dup-uid", ID: "task-abcd-001", Title: "A", Kind: "task"})
	require.NoError(t, err)

	dup := &task.Task{UID: "dup-uid", ID: "task-abcd-002", Title: "B", Kind: "task", Status: task.StatusToDo}
	dup.Path = layout.TasksDir + "/task-abcd-002 - b.md"
	raw, err := dup.Serialize()
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, dup.Path, raw, 0o644))

	idx := taskindex.New(fs, layout.IndexDir, layout.TasksDir, nil)
	ledger := truth.New(fs, layout.TruthDir, clockx.NewFixed(time.Now()))
	require.NoError(t, ledger.RebuildCurrent())

	report, err := migrate.Validate(fs, layout, wmconfig.Default(), store, idx, ledger)
	require.NoError(t, err)

	found := false
	for _, f := range report.Errors() {
		if f.Kind == werr.DuplicateUID {
			found = true
		}
	}
	assert.True(t, found)
	assert.False(t, report.OK())
}

func TestValidateDetectsEpicDoneWithOpenChild(t *testing.T) {
	fs, layout, store := newValidateFixture(t)
	epic, err := store.Add(task.AddFields{UID: "e1", ID: "task-abcd-001", Title: "Epic", Kind: task.EpicKind, Status: task.StatusDone})
	require.NoError(t, err)
	_, err = store.Add(task.AddFields{UID: "c1", ID: "task-abcd-002", Title: "Child", Kind: "task", Status: task.StatusToDo,
		Relationships: task.Relationships{Parent: []string{epic.ID}}})
	require.NoError(t, err)

	idx := taskindex.New(fs, layout.IndexDir, layout.TasksDir, nil)
	ledger := truth.New(fs, layout.TruthDir, clockx.NewFixed(time.Now()))
	require.NoError(t, ledger.RebuildCurrent())

	report, err := migrate.Validate(fs, layout, wmconfig.Default(), store, idx, ledger)
	require.NoError(t, err)
	assert.False(t, report.OK())
}

func TestValidateWarnsOnUnresolvedExternalProject(t *testing.T) {
	fs, layout, store := newValidateFixture(t)

	ext := &task.Task{UID: "u1", ID: "task-abcd-001", Title: "A", Kind: "task", Status: task.StatusToDo,
		External: map[string]string{"billing": "task-billing-042"}}
	ext.Path = layout.TasksDir + "/task-abcd-001 - a.md"
	raw, err := ext.Serialize()
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, ext.Path, raw, 0o644))

	idx := taskindex.New(fs, layout.IndexDir, layout.TasksDir, nil)
	ledger := truth.New(fs, layout.TruthDir, clockx.NewFixed(time.Now()))
	require.NoError(t, ledger.RebuildCurrent())

	cfg := wmconfig.Default()
	cfg.ExternalProjects = map[string]string{"billing": "/repo/../billing-repo/tasks"}
	report, err := migrate.Validate(fs, layout, cfg, store, idx, ledger)
	require.NoError(t, err)

	found := false
	for _, f := range report.Warnings() {
		if f.Kind == werr.NotFound && f.TaskID == "task-abcd-001" {
			found = true
		}
	}
	assert.True(t, found, "expected an unresolved external project warning")
}

func TestValidateCleanStoreOK(t *testing.T) {
	fs, layout, store := newValidateFixture(t)
	_, err := store.Add(task.AddFields{UID: "u1", ID: "task-abcd-001", Title: "A", Kind: "task"})
	require.NoError(t, err)

	idx := taskindex.New(fs, layout.IndexDir, layout.TasksDir, nil)
	require.NoError(t, idx.Rebuild(context.Background(), store))
	ledger := truth.New(fs, layout.TruthDir, clockx.NewFixed(time.Now()))
	require.NoError(t, ledger.RebuildCurrent())

	report, err := migrate.Validate(fs, layout, wmconfig.Default(), store, idx, ledger)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Empty(t, report.Warnings())
}
