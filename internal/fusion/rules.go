package fusion

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Rule is a pure function over one device's current event buffer,
// returning at most one incident. New rules must observe this
// signature to be pluggable into EvaluateRules.
type Rule func(events []TelemetryEventView, deviceID string) *Incident

// baselineRules is the core rule set every Fusion Engine evaluation
// runs: no surviving Go-equivalent source existed for these, so they
// are ported from the correlation layer's documented behavior.
var baselineRules = []Rule{
	ruleSSHBruteForce,
	rulePersistenceAfterAuth,
	ruleSuspiciousSudo,
	ruleMultiTacticAttack,
}

// EvaluateRules runs the full baseline + advanced rule set against
// events and returns every incident that fired.
func EvaluateRules(events []TelemetryEventView, deviceID string) []*Incident {
	var incidents []*Incident
	for _, rule := range baselineRules {
		if inc := rule(events, deviceID); inc != nil {
			incidents = append(incidents, inc)
		}
	}
	incidents = append(incidents, EvaluateAdvancedRules(events, deviceID)...)
	return incidents
}

func newIncident(deviceID, ruleName string, severity Severity, tactics, techniques []string, summary string) *Incident {
	return &Incident{
		IncidentID: uuid.NewString(),
		DeviceID:   deviceID,
		Severity:   severity,
		Tactics:    tactics,
		Techniques: techniques,
		RuleName:   ruleName,
		Summary:    summary,
		Metadata:   make(map[string]string),
		CreatedAt:  time.Now(),
	}
}

const sshBruteForceThreshold = 5

// ruleSSHBruteForce fires when >= N failed SSH attempts from the same
// source IP appear in the window.
func ruleSSHBruteForce(events []TelemetryEventView, deviceID string) *Incident {
	byIP := make(map[string][]TelemetryEventView)
	for _, ev := range events {
		if ev.EventType != EventSecurity || ev.Security == nil {
			continue
		}
		if ev.Security.Action == "SSH" && ev.Security.Outcome == "FAILURE" && ev.Security.SourceIP != "" {
			byIP[ev.Security.SourceIP] = append(byIP[ev.Security.SourceIP], ev)
		}
	}

	for ip, matches := range byIP {
		if len(matches) < sshBruteForceThreshold {
			continue
		}
		inc := newIncident(deviceID, "ssh_brute_force", SeverityHigh,
			[]string{TacticInitialAccess}, []string{"T1110", "T1021.004"},
			"repeated SSH authentication failures from "+ip)
		inc.Metadata["source_ip"] = ip
		for _, ev := range matches {
			inc.AddEvent(ev.EventID, ev.Timestamp)
		}
		return inc
	}
	return nil
}

// rulePersistenceAfterAuth fires when a successful SSH login is
// followed, within the window, by an AUDIT event creating a launch
// agent or SSH key under a user directory.
func rulePersistenceAfterAuth(events []TelemetryEventView, deviceID string) *Incident {
	var logins []TelemetryEventView
	for _, ev := range events {
		if ev.EventType == EventSecurity && ev.Security != nil &&
			ev.Security.Action == "SSH" && ev.Security.Outcome == "SUCCESS" {
			logins = append(logins, ev)
		}
	}
	if len(logins) == 0 {
		return nil
	}

	for _, ev := range events {
		if ev.EventType != EventAudit || ev.Audit == nil {
			continue
		}
		if ev.Audit.Action != "CREATED" {
			continue
		}
		isPersistence := ev.Audit.ObjectType == "SSH_KEYS" ||
			ev.Audit.ObjectType == "LAUNCH_AGENT" || ev.Audit.ObjectType == "LAUNCH_DAEMON"
		if !isPersistence || !strings.Contains(ev.Attributes["file_path"], "/Users/") {
			continue
		}

		for _, login := range logins {
			if login.Timestamp.After(ev.Timestamp) {
				continue
			}
			inc := newIncident(deviceID, "persistence_after_auth", SeverityHigh,
				[]string{TacticPersistence}, nil,
				"persistence change ("+ev.Audit.ObjectType+") shortly after SSH login")
			inc.AddEvent(login.EventID, login.Timestamp)
			inc.AddEvent(ev.EventID, ev.Timestamp)
			return inc
		}
	}
	return nil
}

var suspiciousSudoPatterns = []string{"rm -rf", "/etc/sudoers", "LaunchAgent"}

// ruleSuspiciousSudo fires when a SUDO event's sudo_command attribute
// matches a dangerous-pattern set.
func ruleSuspiciousSudo(events []TelemetryEventView, deviceID string) *Incident {
	for _, ev := range events {
		if ev.EventType != EventSecurity || ev.Security == nil || ev.Security.Action != "SUDO" {
			continue
		}
		cmd := ev.Attributes["sudo_command"]
		if !containsAnyPattern(cmd, suspiciousSudoPatterns...) {
			continue
		}
		inc := newIncident(deviceID, "suspicious_sudo", SeverityCritical,
			[]string{TacticPrivEscalation}, nil,
			"suspicious sudo command: "+cmd)
		inc.Metadata["sudo_command"] = cmd
		inc.AddEvent(ev.EventID, ev.Timestamp)
		return inc
	}
	return nil
}

const multiTacticThreshold = 3

// ruleMultiTacticAttack fires when events in the window touch at
// least three distinct MITRE tactics, indicating a multi-stage attack
// chain rather than an isolated event.
func ruleMultiTacticAttack(events []TelemetryEventView, deviceID string) *Incident {
	tactics := make(map[string][]TelemetryEventView)

	for _, ev := range events {
		switch {
		case ev.EventType == EventProcess && ev.Process != nil:
			tactics[TacticExecution] = append(tactics[TacticExecution], ev)
		case ev.EventType == EventFlow && ev.Flow != nil && isUnusualFlow(ev.Flow):
			tactics[TacticCommandControl] = append(tactics[TacticCommandControl], ev)
		case ev.EventType == EventAudit && ev.Audit != nil &&
			(ev.Audit.ObjectType == "LAUNCH_AGENT" || ev.Audit.ObjectType == "LAUNCH_DAEMON" || ev.Audit.ObjectType == "SSH_KEYS"):
			tactics[TacticPersistence] = append(tactics[TacticPersistence], ev)
		case ev.EventType == EventSecurity && ev.Security != nil && ev.Security.Action == "SUDO":
			tactics[TacticPrivEscalation] = append(tactics[TacticPrivEscalation], ev)
		}
	}

	if len(tactics) < multiTacticThreshold {
		return nil
	}

	var codes []string
	inc := newIncident(deviceID, "multi_tactic_attack", SeverityCritical, nil, nil,
		"events spanning multiple MITRE tactics within one window")
	for code, matches := range tactics {
		codes = append(codes, code)
		for _, ev := range matches {
			inc.AddEvent(ev.EventID, ev.Timestamp)
		}
	}
	inc.Tactics = codes
	return inc
}

func isUnusualFlow(f *FlowBody) bool {
	return f.DstIP != "" && !strings.HasPrefix(f.DstIP, "10.") &&
		!strings.HasPrefix(f.DstIP, "192.168.") && f.DstIP != "127.0.0.1"
}
