package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCircuitStateCommandPrintsSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"circuit_state": "closed",
			"cycle_count":   42,
		})
	}))
	defer srv.Close()

	buf := &bytes.Buffer{}
	cmd := newCircuitStateCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--health-addr", strings.TrimPrefix(srv.URL, "http://")})
	require.NoError(t, cmd.Execute())

	require.Contains(t, buf.String(), "circuit_state")
	require.Contains(t, buf.String(), "closed")
}

func TestCircuitStateCommandUnreachable(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := newCircuitStateCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--health-addr", "127.0.0.1:1"})
	err := cmd.Execute()
	require.Error(t, err)
}
