package migrate_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	wmconfig "github.com/workmesh/workmesh/internal/config"
	"github.com/workmesh/workmesh/internal/migrate"
	"github.com/workmesh/workmesh/internal/pathresolve"
	"github.com/workmesh/workmesh/internal/wmcontext"
)

func TestAuditAndApplyLayoutMove(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/repo"
	require.NoError(t, afero.WriteFile(fs, root+"/backlog/tasks/task-abcd-001 - a.md", []byte("---\nuid: u1\nid: task-abcd-001\ntitle: A\nkind: task\nstatus: To Do\n---\n"), 0o644))
	// workmesh/tasks already exists and wins precedence, leaving
	// backlog/tasks as the legacy directory migrate should drain.
	require.NoError(t, fs.MkdirAll(root+"/workmesh/tasks", 0o750))
	layout := pathresolve.Resolve(fs, root)

	d := migrate.Deps{FS: fs, Layout: layout, Config: wmconfig.Default()}
	findings, err := migrate.Audit(d)
	require.NoError(t, err)
	require.NotEmpty(t, findings)
	assert.Equal(t, migrate.LayoutBacklogToWorkmesh, findings[0].Action)

	ops, err := migrate.Plan(d)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	_, err = migrate.Apply(d, ops, false, false)
	require.Error(t, err)

	result, err := migrate.Apply(d, ops, true, true)
	require.NoError(t, err)
	require.Len(t, result.Applied, 1)

	ok, err := afero.Exists(fs, layout.TasksDir+"/task-abcd-001 - a.md")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuditSkipsDoNotMigrate(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/repo"
	require.NoError(t, afero.WriteFile(fs, root+"/backlog/tasks/task-abcd-001 - a.md", []byte("---\nuid: u1\nid: task-abcd-001\ntitle: A\nkind: task\nstatus: To Do\n---\n"), 0o644))
	require.NoError(t, fs.MkdirAll(root+"/workmesh/tasks", 0o750))
	layout := pathresolve.Resolve(fs, root)

	cfg := wmconfig.Default()
	cfg.DoNotMigrate = []string{string(migrate.LayoutBacklogToWorkmesh)}
	d := migrate.Deps{FS: fs, Layout: layout, Config: cfg}

	findings, err := migrate.Audit(d)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestApplyFocusToContext(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/repo"
	layout := pathresolve.Resolve(fs, root)
	legacy := pathresolve.LegacyContextPath(layout)
	require.NoError(t, afero.WriteFile(fs, legacy, []byte(`{"focus":"task-abcd-001","objective":"ship it","tasks":["task-abcd-002"]}`), 0o644))

	d := migrate.Deps{FS: fs, Layout: layout, Config: wmconfig.Default()}
	ops, err := migrate.Plan(d)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, migrate.FocusToContext, ops[0].Action)

	_, err = migrate.Apply(d, ops, true, false)
	require.NoError(t, err)

	ctxStore := wmcontext.New(fs, layout.ContextPath)
	c, err := ctxStore.Show()
	require.NoError(t, err)
	assert.Equal(t, "task-abcd-001", c.EpicID)
	assert.Equal(t, "ship it", c.Objective)
	assert.Equal(t, []string{"task-abcd-002"}, c.WorkingSet)

	ok, err := afero.Exists(fs, legacy)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyConfigCleanup(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/repo"
	layout := pathresolve.Resolve(fs, root)

	cfg := wmconfig.Default()
	cfg.DoNotMigrate = []string{"a", "", "a"}
	cfg.BranchInitiatives = map[string]string{"feature/login": "logi", "": "badd"}

	d := migrate.Deps{FS: fs, Layout: layout, Config: cfg, ConfigPath: layout.ConfigPath}
	ops, err := migrate.Plan(d)
	require.NoError(t, err)
	require.NotEmpty(t, ops)

	_, err = migrate.Apply(d, ops, true, false)
	require.NoError(t, err)

	got, _, err := wmconfig.Load(fs, root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.DoNotMigrate)
	assert.Len(t, got.BranchInitiatives, 1)
}

func TestPlanRefusesNewerSchemaVersion(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/repo"
	layout := pathresolve.Resolve(fs, root)

	cfg := wmconfig.Default()
	cfg.SchemaVersion = "v99.0.0"
	d := migrate.Deps{FS: fs, Layout: layout, Config: cfg}

	_, err := migrate.Plan(d)
	require.Error(t, err)
}
