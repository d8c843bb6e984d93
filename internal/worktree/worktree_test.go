package worktree_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/workmesh/internal/worktree"
)

type fakeVCS struct {
	branch map[string]string
}

func (f fakeVCS) CurrentBranch(dir string) (string, bool) { b, ok := f.branch[dir]; return b, ok }
func (fakeVCS) HeadSHA(string) (string, bool)             { return "", false }
func (fakeVCS) IsDirty(string) bool                       { return false }
func (fakeVCS) CreateWorktree(_, _, _, _ string) error    { return nil }

func TestCreateAttachDetach(t *testing.T) {
	fs := afero.NewMemMapFs()
	v := fakeVCS{branch: map[string]string{"/repo/wt1": "feature/login"}}
	r := worktree.New(fs, "/repo/workmesh/worktrees.json", v)

	binding, err := r.Create("/repo", "/repo/wt1", "feature/login", "")
	require.NoError(t, err)
	assert.NotEmpty(t, binding.ID)

	require.NoError(t, r.Attach("session-123", "/repo/wt1"))
	list, err := r.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "session-123", list[0].SessionID)

	require.NoError(t, r.Detach("/repo/wt1"))
	list, err = r.List()
	require.NoError(t, err)
	assert.Empty(t, list[0].SessionID)
}

func TestDoctorDetectsMissingPathAndBranchMismatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	v := fakeVCS{branch: map[string]string{"/repo/wt2": "main"}}
	r := worktree.New(fs, "/repo/workmesh/worktrees.json", v)

	_, err := r.Create("/repo", "/repo/wt2", "feature/x", "")
	require.NoError(t, err)
	require.NoError(t, fs.MkdirAll("/repo/wt2", 0o750))
	_, err = r.Create("/repo", "/repo/wt-missing", "feature/y", "")
	require.NoError(t, err)

	issues, err := r.Doctor(nil)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	// Issues follow registry order: wt2 (branch mismatch), then wt-missing.
	assert.Contains(t, issues[0].Reason, "branch mismatch")
	assert.Equal(t, "path missing", issues[1].Reason)
}
