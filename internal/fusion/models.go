// Package fusion implements the Fusion Engine (C8): per-device
// sliding-window correlation of telemetry views into incidents and a
// running risk score, grounded on the AMOSKYS intelligence layer's
// fusion_engine.py and its rule modules.
package fusion

import "time"

// Severity is an incident's severity level.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// RiskLevel is a device's categorical risk classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ScoreToLevel maps a clamped [0,100] score to its risk level.
func ScoreToLevel(score int) RiskLevel {
	switch {
	case score <= 30:
		return RiskLow
	case score <= 60:
		return RiskMedium
	case score <= 80:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// MITRE ATT&CK tactic codes referenced by the baseline and advanced rules.
const (
	TacticInitialAccess    = "TA0001"
	TacticExecution        = "TA0002"
	TacticPersistence      = "TA0003"
	TacticPrivEscalation   = "TA0004"
	TacticDefenseEvasion   = "TA0005"
	TacticCredentialAccess = "TA0006"
	TacticDiscovery        = "TA0007"
	TacticLateralMovement  = "TA0008"
	TacticCollection       = "TA0009"
	TacticExfiltration     = "TA0010"
	TacticCommandControl   = "TA0011"
	TacticImpact           = "TA0040"
)

// EventType discriminates a TelemetryEventView's typed sub-body.
type EventType string

const (
	EventSecurity EventType = "SECURITY"
	EventAudit    EventType = "AUDIT"
	EventProcess  EventType = "PROCESS"
	EventFlow     EventType = "FLOW"
	EventMetric   EventType = "METRIC"
)

// SecurityBody mirrors envelope.SecurityEvent's correlation-relevant
// fields.
type SecurityBody struct {
	Category        string
	Action          string
	Outcome         string
	User            string
	SourceIP        string
	RiskScore       uint32
	MitreTechniques []string
	Attrs           map[string]string
}

// AuditBody mirrors envelope.AuditEvent.
type AuditBody struct {
	Category   string
	Action     string
	ObjectType string
	ObjectID   string
	Before     string
	After      string
}

// ProcessBody mirrors envelope.ProcessEvent.
type ProcessBody struct {
	Pid     uint32
	Ppid    uint32
	ExePath string
	Cmdline string
	Uid     uint32
}

// FlowBody mirrors envelope.FlowEvent, plus a Direction tag
// (INBOUND|OUTBOUND) used by rules that care about exfiltration or
// lateral-movement direction.
type FlowBody struct {
	SrcIP     string
	DstIP     string
	SrcPort   uint32
	DstPort   uint32
	Protocol  string
	Direction string
}

// TelemetryEventView is the fusion engine's normalized, protobuf-free
// view of one telemetry event. At most one of the typed bodies is
// populated, selected by EventType.
type TelemetryEventView struct {
	EventID    string
	DeviceID   string
	EventType  EventType
	Severity   string
	Timestamp  time.Time
	Attributes map[string]string

	Security *SecurityBody
	Audit    *AuditBody
	Process  *ProcessBody
	Flow     *FlowBody
}

// Incident is a rule-emitted, MITRE-tagged finding spanning one or more
// events.
type Incident struct {
	IncidentID string
	DeviceID   string
	Severity   Severity
	Tactics    []string
	Techniques []string
	RuleName   string
	Summary    string
	StartTs    time.Time
	EndTs      time.Time
	EventIDs   []string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// AddEvent folds one contributing event into the incident's event list
// and time bounds, deduplicating by event ID.
func (inc *Incident) AddEvent(eventID string, ts time.Time) {
	found := false
	for _, id := range inc.EventIDs {
		if id == eventID {
			found = true
			break
		}
	}
	if !found {
		inc.EventIDs = append(inc.EventIDs, eventID)
	}
	if inc.StartTs.IsZero() || ts.Before(inc.StartTs) {
		inc.StartTs = ts
	}
	if inc.EndTs.IsZero() || ts.After(inc.EndTs) {
		inc.EndTs = ts
	}
}

// DeviceRiskSnapshot is a device's current security posture. Lifecycle
// is replace-in-place by DeviceID on every evaluation.
type DeviceRiskSnapshot struct {
	DeviceID         string
	Score            int
	Level            RiskLevel
	ReasonTags       []string
	SupportingEvents []string
	UpdatedAt        time.Time
}

const (
	maxReasonTags       = 10
	maxSupportingEvents = 50
)

// addReasonTag appends tag, capped at maxReasonTags, insertion order.
func (d *DeviceRiskSnapshot) addReasonTag(tag string) {
	if len(d.ReasonTags) >= maxReasonTags {
		return
	}
	d.ReasonTags = append(d.ReasonTags, tag)
}

// addSupportingEvent appends an event ID, capped at maxSupportingEvents.
func (d *DeviceRiskSnapshot) addSupportingEvent(eventID string) {
	if len(d.SupportingEvents) >= maxSupportingEvents {
		return
	}
	d.SupportingEvents = append(d.SupportingEvents, eventID)
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
