package truth_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/workmesh/internal/clockx"
	"github.com/workmesh/workmesh/internal/truth"
	"github.com/workmesh/workmesh/internal/werr"
)

func TestProposeAcceptSupersede(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockx.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := truth.New(fs, "/repo/workmesh/truth", clock)

	id, err := l.Propose("alice", "auth", "use OAuth2 for SSO", "proj-a", "", "", "", "", nil)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	require.NoError(t, l.Accept("alice", id, "looks good"))

	current, err := l.Current()
	require.NoError(t, err)
	assert.Equal(t, truth.Accepted, current[id].State)

	clock.Advance(time.Minute)
	id2, err := l.Propose("bob", "auth", "use SAML instead", "proj-a", "", "", "", "", nil)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	require.NoError(t, l.Accept("bob", id2, ""))

	clock.Advance(time.Minute)
	require.NoError(t, l.Supersede("bob", id, id2, "switched to SAML"))

	current, err = l.Current()
	require.NoError(t, err)
	assert.Equal(t, truth.Superseded, current[id].State)
	assert.Equal(t, id2, current[id].SupersededBy)
	assert.Equal(t, id, current[id2].Supersedes)
}

func TestSupersedeAutoAcceptsProposedBy(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockx.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := truth.New(fs, "/repo/workmesh/truth", clock)

	id, err := l.Propose("alice", "auth", "use OAuth2 for SSO", "", "", "", "", "", nil)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	require.NoError(t, l.Accept("alice", id, ""))

	clock.Advance(time.Minute)
	id2, err := l.Propose("bob", "auth", "use SAML instead", "", "", "", "", "", nil)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	require.NoError(t, l.Supersede("bob", id, id2, "switched to SAML"))

	current, err := l.Current()
	require.NoError(t, err)
	assert.Equal(t, truth.Accepted, current[id2].State)
	assert.Equal(t, truth.Superseded, current[id].State)
	assert.Equal(t, id, current[id2].Supersedes)
}

func TestSupersedeRejectsUnknownBy(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockx.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := truth.New(fs, "/repo/workmesh/truth", clock)

	id, err := l.Propose("alice", "auth", "use OAuth2", "", "", "", "", "", nil)
	require.NoError(t, err)
	require.NoError(t, l.Accept("alice", id, ""))

	err = l.Supersede("alice", id, "truth-does-not-exist", "bogus")
	require.Error(t, err)
	assert.Equal(t, werr.NotFound, werr.KindOf(err))
}

func TestAcceptRejectsNonProposed(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockx.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := truth.New(fs, "/repo/workmesh/truth", clock)

	id, err := l.Propose("alice", "auth", "use OAuth2", "", "", "", "", "", nil)
	require.NoError(t, err)
	require.NoError(t, l.Accept("alice", id, ""))

	err = l.Accept("alice", id, "")
	require.Error(t, err)
	assert.Equal(t, werr.InvalidTransition, werr.KindOf(err))
}

func TestVerifyProjection(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockx.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := truth.New(fs, "/repo/workmesh/truth", clock)

	_, err := l.Propose("alice", "auth", "use OAuth2", "", "", "", "", "", nil)
	require.NoError(t, err)

	ok, err := l.VerifyProjection()
	require.NoError(t, err)
	assert.True(t, ok)
}
