package workmesh_test

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	workmesh "github.com/workmesh/workmesh"
	"github.com/workmesh/workmesh/internal/clockx"
	"github.com/workmesh/workmesh/internal/diag"
	"github.com/workmesh/workmesh/internal/vcs"
)

func openFixture(t *testing.T) *workmesh.Mesh {
	t.Helper()
	fs := afero.NewMemMapFs()
	clock := clockx.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m, err := workmesh.Open("/repo", workmesh.Options{
		FS: fs, Clock: clock, Sink: diag.Discard, VCS: vcs.Null{},
		SessionsDir: "/home/.workmesh/sessions",
	})
	require.NoError(t, err)
	return m
}

func TestCreateTaskAllocatesIDAndFreezesInitiative(t *testing.T) {
	m := openFixture(t)

	tsk, err := m.CreateTask("feature/login", workmesh.AddFields{Title: "Add login", Kind: "task", Status: "To Do"})
	require.NoError(t, err)
	assert.NotEmpty(t, tsk.ID)
	assert.NotEmpty(t, tsk.UID)

	second, err := m.CreateTask("feature/login", workmesh.AddFields{Title: "Add logout", Kind: "task", Status: "To Do"})
	require.NoError(t, err)
	assert.NotEqual(t, tsk.ID, second.ID)
	assert.Equal(t, m.Config.BranchInitiatives["feature/login"], tsk.ID[5:9])
}

func TestMutationFansOutToIndexAndAudit(t *testing.T) {
	m := openFixture(t)

	tsk, err := m.CreateTask("main", workmesh.AddFields{Title: "A", Kind: "task", Status: "To Do"})
	require.NoError(t, err)

	_, err = m.Store.SetStatus(tsk.ID, "In Progress")
	require.NoError(t, err)

	events, err := m.Audit.ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, events)

	divergences, err := m.Index.Verify(m.Store)
	require.NoError(t, err)
	assert.Empty(t, divergences)
}

func TestNextReturnsReadyTask(t *testing.T) {
	m := openFixture(t)

	_, err := m.CreateTask("main", workmesh.AddFields{Title: "A", Kind: "task", Status: "To Do", Priority: "P1"})
	require.NoError(t, err)

	next, err := m.Next("alice")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "A", next.Title)
}

func TestValidateCleanStore(t *testing.T) {
	m := openFixture(t)
	_, err := m.CreateTask("main", workmesh.AddFields{Title: "A", Kind: "task", Status: "To Do"})
	require.NoError(t, err)
	require.NoError(t, m.RebuildIndex(context.Background()))

	report, err := m.Validate()
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestSaveAndResumeSession(t *testing.T) {
	m := openFixture(t)
	snap, err := m.SaveSession(workmesh.SaveInput{Objective: "ship it"})
	require.NoError(t, err)
	require.NotNil(t, snap)

	plan, err := m.ResumeSession(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, plan.Snapshot.ID)
}
