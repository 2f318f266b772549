package webapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amoskys/amoskys/internal/fusion"
	"github.com/amoskys/amoskys/internal/logging"
)

func newTestServer(t *testing.T) (*Server, *fusion.Store) {
	t.Helper()
	store, err := fusion.OpenStore(filepath.Join(t.TempDir(), "fusion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, logging.Noop{}), store
}

func TestHandleIncidentsEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/incidents", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var incidents []*fusion.Incident
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &incidents))
	require.Empty(t, incidents)
}

func TestHandleIncidentsReturnsPersisted(t *testing.T) {
	s, store := newTestServer(t)
	inc := &fusion.Incident{
		IncidentID: "i1", DeviceID: "d1", Severity: fusion.SeverityHigh,
		RuleName: "ssh_brute_force", CreatedAt: time.Now(),
	}
	require.NoError(t, store.UpsertIncident(inc))

	req := httptest.NewRequest(http.MethodGet, "/incidents?device_id=d1", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var incidents []*fusion.Incident
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &incidents))
	require.Len(t, incidents, 1)
	require.Equal(t, "ssh_brute_force", incidents[0].RuleName)
}

func TestSwaggerDocRouteMounted(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "AMOSKYS Admin API")
}

func TestHandleDeviceRiskNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/devices/unknown/risk", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeviceRiskReturnsSnapshot(t *testing.T) {
	s, store := newTestServer(t)
	snap := &fusion.DeviceRiskSnapshot{DeviceID: "d1", Score: 42, Level: fusion.RiskMedium, UpdatedAt: time.Now()}
	require.NoError(t, store.UpsertRiskSnapshot(snap))

	req := httptest.NewRequest(http.MethodGet, "/devices/d1/risk", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got fusion.DeviceRiskSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 42, got.Score)
}
