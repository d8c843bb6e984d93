package auditlog_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/workmesh/internal/auditlog"
	"github.com/workmesh/workmesh/internal/clockx"
)

func TestAppendAndReadAll(t *testing.T) {
	fs := afero.NewMemMapFs()
	clock := clockx.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	log := auditlog.New(fs, "/repo/workmesh/.audit.log", clock, nil)

	log.Append("set_status", "task-abcd-001", "01ABCDEF", "To Do", "In Progress")
	log.Append("label_add", "task-abcd-001", "01ABCDEF", "", "")

	events, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "set_status", events[0].Action)
	assert.NotEmpty(t, events[0].Diff)
	assert.Equal(t, "label_add", events[1].Action)
}

func TestReadAllMissingFileIsNotError(t *testing.T) {
	fs := afero.NewMemMapFs()
	log := auditlog.New(fs, "/repo/workmesh/.audit.log", clockx.NewFixed(time.Now()), nil)
	events, err := log.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, events)
}
