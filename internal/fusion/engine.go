package fusion

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amoskys/amoskys/internal/logging"
)

const baseRiskScore = 10

// Archiver mirrors a persisted incident into long-term storage outside
// the hot sqlite store. internal/archive.Repository implements this;
// a nil Archiver (the default) disables mirroring entirely.
type Archiver interface {
	ArchiveIncident(ctx context.Context, inc *Incident) error
}

type deviceState struct {
	events       []TelemetryEventView
	riskScore    int
	lastEval     time.Time
	knownIPs     map[string]struct{}
	incidentCount int
}

// Engine is the single-threaded, in-process Fusion Engine (C8). It
// owns all per-device buffers; callers must not share an Engine across
// goroutines without external synchronization beyond AddEvent, which
// is safe to call concurrently with evaluation.
type Engine struct {
	windowMinutes int
	logger        logging.Logger
	store         *Store
	archiver      Archiver

	mu     sync.Mutex
	states map[string]*deviceState

	now func() time.Time
}

// SetArchiver installs the long-term archive incidents are mirrored
// into as they're persisted. Safe to call any time before the first
// evaluation pass; nil
// disables mirroring.
func (e *Engine) SetArchiver(a Archiver) {
	e.archiver = a
}

// NewEngine builds an Engine backed by store, evaluating over a sliding
// window of windowMinutes (30 by default).
func NewEngine(store *Store, windowMinutes int, logger logging.Logger) *Engine {
	return &Engine{
		windowMinutes: windowMinutes,
		logger:        logger,
		store:         store,
		states:        make(map[string]*deviceState),
		now:           time.Now,
	}
}

func (e *Engine) stateFor(deviceID string) *deviceState {
	s, ok := e.states[deviceID]
	if !ok {
		s = &deviceState{riskScore: baseRiskScore, knownIPs: make(map[string]struct{})}
		e.states[deviceID] = s
	}
	return s
}

// AddEvent appends view to its device's buffer, prunes entries outside
// the correlation window, and unions any security-event source IP into
// the device's known-IP set.
func (e *Engine) AddEvent(view TelemetryEventView) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.stateFor(view.DeviceID)
	state.events = append(state.events, view)

	cutoff := e.now().Add(-time.Duration(e.windowMinutes) * time.Minute)
	kept := state.events[:0]
	for _, ev := range state.events {
		if !ev.Timestamp.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	state.events = kept

	if view.Security != nil && view.Security.SourceIP != "" {
		state.knownIPs[view.Security.SourceIP] = struct{}{}
	}
}

// EvaluateDevice runs every rule against deviceID's current window,
// recomputes its risk snapshot, and updates last-eval/incident-count
// bookkeeping. An empty buffer short-circuits to the current snapshot
// without running rules.
func (e *Engine) EvaluateDevice(deviceID string) ([]*Incident, DeviceRiskSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.stateFor(deviceID)
	if len(state.events) == 0 {
		return nil, e.currentSnapshotLocked(deviceID)
	}

	incidents := EvaluateRules(state.events, deviceID)
	snapshot := e.calculateDeviceRisk(deviceID, state, incidents)

	state.lastEval = e.now()
	state.incidentCount += len(incidents)

	return incidents, snapshot
}

func (e *Engine) currentSnapshotLocked(deviceID string) DeviceRiskSnapshot {
	state := e.stateFor(deviceID)
	return DeviceRiskSnapshot{
		DeviceID:  deviceID,
		Score:     state.riskScore,
		Level:     ScoreToLevel(state.riskScore),
		UpdatedAt: e.now(),
	}
}

// calculateDeviceRisk implements the additive, hard-clamped scoring
// model, grounded on fusion_engine.py's _calculate_device_risk.
func (e *Engine) calculateDeviceRisk(deviceID string, state *deviceState, newIncidents []*Incident) DeviceRiskSnapshot {
	score := state.riskScore
	var reasonTags []string
	var supportingEvents []string

	failedSSH := 0
	newSSHKeys := 0
	newLaunchAgents := 0
	suspiciousSudo := 0
	successfulSSHNewIP := 0

	for _, ev := range state.events {
		switch {
		case ev.EventType == EventSecurity && ev.Security != nil &&
			ev.Security.Action == "SSH" && ev.Security.Outcome == "FAILURE":
			failedSSH++
			supportingEvents = append(supportingEvents, ev.EventID)

		case ev.EventType == EventSecurity && ev.Security != nil &&
			ev.Security.Action == "SSH" && ev.Security.Outcome == "SUCCESS":
			ip := ev.Security.SourceIP
			if ip != "" && ip != "127.0.0.1" && ip != "localhost" {
				successfulSSHNewIP++
				supportingEvents = append(supportingEvents, ev.EventID)
			}

		case ev.EventType == EventAudit && ev.Audit != nil && ev.Audit.ObjectType == "SSH_KEYS":
			newSSHKeys++
			supportingEvents = append(supportingEvents, ev.EventID)

		case ev.EventType == EventAudit && ev.Audit != nil &&
			(ev.Audit.ObjectType == "LAUNCH_AGENT" || ev.Audit.ObjectType == "LAUNCH_DAEMON") &&
			strings.Contains(ev.Attributes["file_path"], "/Users/"):
			newLaunchAgents++
			supportingEvents = append(supportingEvents, ev.EventID)

		case ev.EventType == EventSecurity && ev.Security != nil && ev.Security.Action == "SUDO":
			cmd := ev.Attributes["sudo_command"]
			if containsAnyPattern(cmd, "rm -rf", "/etc/sudoers", "LaunchAgent") {
				suspiciousSudo++
				supportingEvents = append(supportingEvents, ev.EventID)
			}
		}
	}

	if failedSSH > 0 {
		points := failedSSH * 5
		if points > 20 {
			points = 20
		}
		score += points
		reasonTags = append(reasonTags, tagCount("ssh_brute_force_attempts", failedSSH))
	}
	if successfulSSHNewIP > 0 {
		score += successfulSSHNewIP * 15
		reasonTags = append(reasonTags, tagCount("ssh_logins_new_ip", successfulSSHNewIP))
	}
	if newSSHKeys > 0 {
		score += newSSHKeys * 30
		reasonTags = append(reasonTags, tagCount("new_ssh_keys", newSSHKeys))
	}
	if newLaunchAgents > 0 {
		score += newLaunchAgents * 25
		reasonTags = append(reasonTags, tagCount("new_persistence", newLaunchAgents))
	}
	if suspiciousSudo > 0 {
		score += suspiciousSudo * 30
		reasonTags = append(reasonTags, tagCount("suspicious_sudo", suspiciousSudo))
	}

	for _, inc := range newIncidents {
		switch inc.Severity {
		case SeverityCritical:
			score += 40
			reasonTags = append(reasonTags, "incident_critical_"+inc.RuleName)
		case SeverityHigh:
			score += 20
			reasonTags = append(reasonTags, "incident_high_"+inc.RuleName)
		}
		supportingEvents = append(supportingEvents, inc.EventIDs...)
	}

	if !state.lastEval.IsZero() {
		elapsed := e.now().Sub(state.lastEval).Seconds()
		decayPeriods := int(elapsed / 600)
		if decayPeriods > 0 && len(reasonTags) == 0 {
			score -= decayPeriods * 10
			reasonTags = append(reasonTags, tagCount("score_decay", decayPeriods)+"x10min")
		}
	}

	score = clampScore(score)
	state.riskScore = score

	if len(reasonTags) > maxReasonTags {
		reasonTags = reasonTags[:maxReasonTags]
	}
	if len(supportingEvents) > maxSupportingEvents {
		supportingEvents = supportingEvents[:maxSupportingEvents]
	}

	return DeviceRiskSnapshot{
		DeviceID:         deviceID,
		Score:            score,
		Level:            ScoreToLevel(score),
		ReasonTags:       reasonTags,
		SupportingEvents: supportingEvents,
		UpdatedAt:        e.now(),
	}
}

// EvaluateAllDevices runs EvaluateDevice over every device with
// buffered state and persists the results. A single device's rule
// failure is caught and logged; it does not stop the pass.
func (e *Engine) EvaluateAllDevices() {
	e.mu.Lock()
	deviceIDs := make([]string, 0, len(e.states))
	for id := range e.states {
		deviceIDs = append(deviceIDs, id)
	}
	e.mu.Unlock()

	for _, deviceID := range deviceIDs {
		e.evaluateAndPersist(deviceID)
	}
}

func (e *Engine) evaluateAndPersist(deviceID string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("fusion_device_eval_panicked", "device", deviceID, "panic", r)
		}
	}()

	incidents, snapshot := e.EvaluateDevice(deviceID)
	for _, inc := range incidents {
		if err := e.persistIncident(inc); err != nil {
			e.logger.Error("fusion_incident_persist_failed", "device", deviceID, "incident", inc.IncidentID, "error", err.Error())
		}
	}
	if err := e.store.UpsertRiskSnapshot(&snapshot); err != nil {
		e.logger.Error("fusion_risk_persist_failed", "device", deviceID, "error", err.Error())
	}
}

// persistIncident suppresses duplicate incidents from the same rule
// within the window: a rule re-firing on the same still-open condition
// (e.g. an ongoing SSH brute-force) is matched against an existing row
// by rule_name+device_id+earliest event_id and folded into it, rather
// than minting a new incident_id every evaluation pass.
func (e *Engine) persistIncident(inc *Incident) error {
	earliest := ""
	if len(inc.EventIDs) > 0 {
		earliest = inc.EventIDs[0]
	}
	existing, err := e.store.FindIncident(inc.DeviceID, inc.RuleName, earliest)
	if err != nil {
		return err
	}
	if existing != nil {
		inc.IncidentID = existing.IncidentID
		inc.CreatedAt = existing.CreatedAt
	}
	if err := e.store.UpsertIncident(inc); err != nil {
		return err
	}
	if e.archiver != nil {
		if err := e.archiver.ArchiveIncident(context.Background(), inc); err != nil {
			e.logger.Error("fusion_incident_archive_failed", "device", inc.DeviceID, "incident", inc.IncidentID, "error", err.Error())
		}
	}
	return nil
}

func tagCount(prefix string, n int) string {
	return prefix + "_" + strconv.Itoa(n)
}

func containsAnyPattern(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
