package fusion

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amoskys/amoskys/internal/logging"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "fusion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewEngine(store, 30, logging.Noop{})
}

func TestAddEventPrunesOutsideWindow(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now()
	e.now = func() time.Time { return now }

	e.AddEvent(TelemetryEventView{EventID: "old", DeviceID: "d1", Timestamp: now.Add(-45 * time.Minute)})
	e.AddEvent(TelemetryEventView{EventID: "new", DeviceID: "d1", Timestamp: now})

	state := e.stateFor("d1")
	require.Len(t, state.events, 1)
	require.Equal(t, "new", state.events[0].EventID)
}

func TestEvaluateDeviceNoEventsReturnsCurrentSnapshot(t *testing.T) {
	e := newTestEngine(t)
	incidents, snap := e.EvaluateDevice("ghost")
	require.Empty(t, incidents)
	require.Equal(t, baseRiskScore, snap.Score)
	require.Equal(t, RiskLow, snap.Level)
}

func TestSSHBruteForceRaisesScoreAndIncident(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now()
	e.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		e.AddEvent(TelemetryEventView{
			EventID: "fail-" + string(rune('a'+i)), DeviceID: "d1", EventType: EventSecurity,
			Timestamp: now,
			Security:  &SecurityBody{Action: "SSH", Outcome: "FAILURE", SourceIP: "1.2.3.4"},
		})
	}

	incidents, snap := e.EvaluateDevice("d1")
	require.Len(t, incidents, 1)
	require.Equal(t, "ssh_brute_force", incidents[0].RuleName)
	require.Equal(t, SeverityHigh, incidents[0].Severity)
	require.Equal(t, baseRiskScore+20+20, snap.Score) // +20 ssh count cap, +20 HIGH incident
}

func TestSuspiciousSudoIsCritical(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now()
	e.now = func() time.Time { return now }

	e.AddEvent(TelemetryEventView{
		EventID: "sudo-1", DeviceID: "d1", EventType: EventSecurity, Timestamp: now,
		Security:   &SecurityBody{Action: "SUDO"},
		Attributes: map[string]string{"sudo_command": "rm -rf /"},
	})

	incidents, snap := e.EvaluateDevice("d1")
	require.Len(t, incidents, 1)
	require.Equal(t, "suspicious_sudo", incidents[0].RuleName)
	require.Equal(t, SeverityCritical, incidents[0].Severity)
	require.Equal(t, baseRiskScore+30+40, snap.Score) // +30 sudo, +40 CRITICAL incident
}

func TestScoreClampsAtUpperBound(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now()
	e.now = func() time.Time { return now }
	e.stateFor("d1").riskScore = 90

	e.AddEvent(TelemetryEventView{
		EventID: "sudo-1", DeviceID: "d1", EventType: EventSecurity, Timestamp: now,
		Security:   &SecurityBody{Action: "SUDO"},
		Attributes: map[string]string{"sudo_command": "rm -rf /"},
	})

	_, snap := e.EvaluateDevice("d1")
	require.Equal(t, 100, snap.Score)
}

func TestEvaluateAllDevicesPersistsSnapshot(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now()
	e.now = func() time.Time { return now }

	e.AddEvent(TelemetryEventView{
		EventID: "sudo-1", DeviceID: "d1", EventType: EventSecurity, Timestamp: now,
		Security:   &SecurityBody{Action: "SUDO"},
		Attributes: map[string]string{"sudo_command": "rm -rf /"},
	})

	e.EvaluateAllDevices()

	snap, err := e.store.DeviceRisk("d1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, "d1", snap.DeviceID)

	incidents, err := e.store.RecentIncidents("d1", 10)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
}

func TestEvaluateAllDevicesSuppressesDuplicateIncidents(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now()
	e.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		e.AddEvent(TelemetryEventView{
			EventID: "fail-" + string(rune('a'+i)), DeviceID: "d1", EventType: EventSecurity,
			Timestamp: now,
			Security:  &SecurityBody{Action: "SSH", Outcome: "FAILURE", SourceIP: "1.2.3.4"},
		})
	}

	e.EvaluateAllDevices()
	first, err := e.store.RecentIncidents("d1", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A persistent condition (same ongoing brute force, still inside the
	// window) re-fires the same rule on the next evaluation pass.
	e.EvaluateAllDevices()
	second, err := e.store.RecentIncidents("d1", 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, first[0].IncidentID, second[0].IncidentID)
	require.Equal(t, first[0].CreatedAt.Unix(), second[0].CreatedAt.Unix())
}

type fakeArchiver struct {
	incidents []*Incident
}

func (f *fakeArchiver) ArchiveIncident(_ context.Context, inc *Incident) error {
	f.incidents = append(f.incidents, inc)
	return nil
}

func TestEvaluateAllDevicesMirrorsToArchiver(t *testing.T) {
	e := newTestEngine(t)
	arc := &fakeArchiver{}
	e.SetArchiver(arc)

	now := time.Now()
	e.now = func() time.Time { return now }
	e.AddEvent(TelemetryEventView{
		EventID: "sudo-1", DeviceID: "d1", EventType: EventSecurity, Timestamp: now,
		Security:   &SecurityBody{Action: "SUDO"},
		Attributes: map[string]string{"sudo_command": "rm -rf /"},
	})

	e.EvaluateAllDevices()

	require.Len(t, arc.incidents, 1)
	require.Equal(t, "d1", arc.incidents[0].DeviceID)
}
