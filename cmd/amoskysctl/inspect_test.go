package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amoskys/amoskys/internal/envelope"
	"github.com/amoskys/amoskys/internal/queue"
)

func seedQueueFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.db")
	q, err := queue.Open(path, queue.DefaultConfig())
	require.NoError(t, err)
	env := &envelope.Envelope{
		Payload: &envelope.MetricEvent{Name: "cpu_load", Type: "gauge"},
	}
	_, err = q.Enqueue(env, "idem-1")
	require.NoError(t, err)
	require.NoError(t, q.Close())
	return path
}

func TestInspectLDQCommandDumpsRows(t *testing.T) {
	path := seedQueueFile(t)

	buf := &bytes.Buffer{}
	cmd := newInspectLDQCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())

	require.Contains(t, buf.String(), "idem-1")
	require.Contains(t, buf.String(), "1 row(s)")
}

func TestInspectWALCommandMissingFile(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := newInspectWALCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.db")})
	err := cmd.Execute()
	require.Error(t, err)
}
