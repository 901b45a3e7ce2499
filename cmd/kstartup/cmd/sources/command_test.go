package sources

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/kstartup/internal/cmd/cmdtest"
)

func TestListSources(t *testing.T) {
	app := cmdtest.NewApp(t, cmdtest.Upstream(nil), "json")

	out, err := cmdtest.Run(t, NewCommand(app))
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "announcements", got[0]["id"])
	assert.Equal(t, "announcement", got[0]["kind"])
	assert.NotContains(t, got[0], "active_run")
}

func TestListSourcesTable(t *testing.T) {
	app := cmdtest.NewApp(t, cmdtest.Upstream(nil), "table")

	out, err := cmdtest.Run(t, NewCommand(app))
	require.NoError(t, err)
	assert.Contains(t, out, "announcements")
	assert.Contains(t, out, "announcement")
}
