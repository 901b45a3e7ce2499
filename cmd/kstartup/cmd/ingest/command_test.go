package ingest

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/kstartup/internal/cmd/cmdtest"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/records"
)

func TestIngestSource(t *testing.T) {
	app := cmdtest.NewApp(t, cmdtest.Upstream(cmdtest.Announcements), "json")

	out, err := cmdtest.Run(t, NewCommand(app), "announcements")
	require.NoError(t, err)

	var runs []records.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, records.StateCompleted, runs[0].State)
	assert.Equal(t, 2, runs[0].RecordsSeen)
	assert.Equal(t, 2, runs[0].RecordsInserted)
	assert.Equal(t, 1, runs[0].MismatchesFound)
}

func TestIngestAllSecondRunSkipsUnchanged(t *testing.T) {
	app := cmdtest.NewApp(t, cmdtest.Upstream(cmdtest.Announcements), "json")

	_, err := cmdtest.Run(t, NewCommand(app), "--all")
	require.NoError(t, err)

	out, err := cmdtest.Run(t, NewCommand(app), "--all")
	require.NoError(t, err)

	var runs []records.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, 0, runs[0].RecordsUpserted)
	assert.Equal(t, 2, runs[0].RecordsSkippedUnchanged)
}

func TestIngestFailedRunReturnsError(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	app := cmdtest.NewApp(t, upstream, "table")

	out, err := cmdtest.Run(t, NewCommand(app), "announcements")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 runs failed")
	assert.Contains(t, out, "failed")
}

func TestIngestArguments(t *testing.T) {
	app := cmdtest.NewApp(t, cmdtest.Upstream(nil), "json")

	_, err := cmdtest.Run(t, NewCommand(app))
	assert.True(t, errors.IsValidationError(err))

	_, err = cmdtest.Run(t, NewCommand(app), "--all", "announcements")
	assert.True(t, errors.IsValidationError(err))

	_, err = cmdtest.Run(t, NewCommand(app), "nope")
	assert.True(t, errors.IsNotFound(err))
}
