package sessions_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/workmesh/internal/clockx"
	"github.com/workmesh/workmesh/internal/sessions"
)

type fakeVCS struct{}

func (fakeVCS) CurrentBranch(string) (string, bool)     { return "feature/login", true }
func (fakeVCS) HeadSHA(string) (string, bool)           { return "deadbeef", true }
func (fakeVCS) IsDirty(string) bool                     { return false }
func (fakeVCS) CreateWorktree(_, _, _, _ string) error  { return nil }

func TestSaveListShowResume(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockx.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := sessions.New(fs, "/home/.workmesh/sessions", clock, fakeVCS{})

	snap, err := s.Save(sessions.SaveInput{
		Objective: "ship login", CWD: "/repo", RepoRoot: "/repo",
		ProjectID: "proj-a", WorkingSet: []string{"task-abcd-001"},
	})
	require.NoError(t, err)
	assert.Equal(t, "feature/login", snap.Git.Branch)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, snap.ID, list[0].ID)

	shown, err := s.Show(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Objective, shown.Objective)

	plan, err := s.Resume("")
	require.NoError(t, err)
	assert.Equal(t, snap.ID, plan.Snapshot.ID)
	assert.Contains(t, plan.Commands[0], "/repo")
}
