package migrate_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/workmesh/internal/clockx"
	"github.com/workmesh/workmesh/internal/migrate"
	"github.com/workmesh/workmesh/internal/task"
)

func newRekeyStore(t *testing.T) *task.Store {
	t.Helper()
	fs := afero.NewMemMapFs()
	clock := clockx.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return task.New(fs, "/repo/workmesh/tasks", clock, nil)
}

func TestRekeyPromptListsGraph(t *testing.T) {
	s := newRekeyStore(t)
	_, err := s.Add(task.AddFields{UID: "u1", ID: "task-001", Title: "A", Kind: "task"})
	require.NoError(t, err)
	_, err = s.Add(task.AddFields{UID: "u2", ID: "task-002", Title: "B", Kind: "task", Dependencies: []string{"task-001"}})
	require.NoError(t, err)

	all, _ := s.LoadAll()
	payload, err := migrate.RekeyPrompt(all)
	require.NoError(t, err)
	assert.Contains(t, payload, "task-001")
	assert.Contains(t, payload, "task-002")
}

func TestRekeyApplyRewritesStructuredAndBody(t *testing.T) {
	s := newRekeyStore(t)
	_, err := s.Add(task.AddFields{UID: "u1", ID: "task-001", Title: "A", Kind: "task"})
	require.NoError(t, err)
	_, err = s.Add(task.AddFields{UID: "u2", ID: "task-002", Title: "B", Kind: "task",
		Dependencies: []string{"task-001"}, Description: "depends on task-001"})
	require.NoError(t, err)
	_, err = s.Add(task.AddFields{UID: "u3", ID: "task-003", Title: "C", Kind: "task"})
	require.NoError(t, err)

	mapping := migrate.Mapping{"task-001": "task-logi-001", "task-002": "task-logi-002"}
	findings, err := migrate.RekeyApply(s, mapping, false)
	require.NoError(t, err)
	assert.Len(t, findings, 2)
	for _, f := range findings {
		assert.True(t, f.Applied)
	}

	reloaded, _ := s.LoadAll()
	byOldID := make(map[string]*task.Task)
	for _, tk := range reloaded {
		byOldID[tk.UID] = tk
	}
	assert.Equal(t, "task-logi-001", byOldID["u1"].ID)
	assert.Equal(t, "task-logi-002", byOldID["u2"].ID)
	assert.Equal(t, []string{"task-logi-001"}, byOldID["u2"].Dependencies)
	desc, _ := byOldID["u2"].Sections.Get("Description")
	assert.Contains(t, desc, "task-logi-001")
	assert.Equal(t, "task-003", byOldID["u3"].ID)
}

func TestRekeyApplyStrictSkipsBodyRewrite(t *testing.T) {
	s := newRekeyStore(t)
	_, err := s.Add(task.AddFields{UID: "u1", ID: "task-001", Title: "A", Kind: "task"})
	require.NoError(t, err)
	_, err = s.Add(task.AddFields{UID: "u2", ID: "task-002", Title: "B", Kind: "task",
		Dependencies: []string{"task-001"}, Description: "depends on task-001"})
	require.NoError(t, err)

	mapping := migrate.Mapping{"task-001": "task-logi-001"}
	_, err = migrate.RekeyApply(s, mapping, true)
	require.NoError(t, err)

	reloaded, _ := s.LoadAll()
	var child *task.Task
	for _, tk := range reloaded {
		if tk.UID == "u2" {
			child = tk
		}
	}
	require.NotNil(t, child)
	assert.Equal(t, []string{"task-logi-001"}, child.Dependencies)
	desc, _ := child.Sections.Get("Description")
	assert.Contains(t, desc, "task-001")
}

func TestRekeyApplyIdempotent(t *testing.T) {
	s := newRekeyStore(t)
	_, err := s.Add(task.AddFields{UID: "u1", ID: "task-001", Title: "A", Kind: "task"})
	require.NoError(t, err)

	mapping := migrate.Mapping{"task-001": "task-logi-001"}
	_, err = migrate.RekeyApply(s, mapping, false)
	require.NoError(t, err)

	second, err := migrate.RekeyApply(s, mapping, false)
	require.NoError(t, err)
	assert.Empty(t, second)

	reloaded, _ := s.LoadAll()
	assert.Equal(t, "task-logi-001", reloaded[0].ID)
}
