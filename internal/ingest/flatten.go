package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/amoskys/amoskys/internal/envelope"
	"github.com/amoskys/amoskys/internal/fusion"
)

// flattenEnvelope turns one deserialized envelope into the correlation
// view objects the Fusion Engine consumes. A DeviceTelemetry-wrapped
// envelope yields one view per nested event, tagged with the
// wrapper's device ID. A bare payload has no wrapper to supply a
// device ID, so fallbackDeviceID (the source this envelope came from)
// is used instead.
func flattenEnvelope(env *envelope.Envelope, fallbackDeviceID string) []fusion.TelemetryEventView {
	if dt, ok := env.Payload.(*envelope.DeviceTelemetry); ok {
		views := make([]fusion.TelemetryEventView, 0, len(dt.Events))
		for i, ev := range dt.Events {
			eventID := env.IdempotencyKey + "#" + strconv.Itoa(i)
			views = append(views, payloadToView(ev, dt.DeviceID, eventID, env.TsNs))
		}
		return views
	}
	if env.Payload == nil {
		return nil
	}
	return []fusion.TelemetryEventView{payloadToView(env.Payload, fallbackDeviceID, env.IdempotencyKey, env.TsNs)}
}

func payloadToView(p envelope.Payload, deviceID, eventID string, tsNs uint64) fusion.TelemetryEventView {
	view := fusion.TelemetryEventView{
		EventID:   eventID,
		DeviceID:  deviceID,
		Timestamp: time.Unix(0, int64(tsNs)),
	}

	switch v := p.(type) {
	case *envelope.SecurityEvent:
		view.EventType = fusion.EventSecurity
		view.Attributes = v.Attrs
		view.Security = &fusion.SecurityBody{
			Category:        v.Category,
			Action:          v.Action,
			Outcome:         v.Outcome,
			User:            v.User,
			SourceIP:        v.SourceIP,
			RiskScore:       v.RiskScore,
			MitreTechniques: v.MitreTechniques,
			Attrs:           v.Attrs,
		}
	case *envelope.AuditEvent:
		view.EventType = fusion.EventAudit
		view.Audit = &fusion.AuditBody{
			Category:   v.Category,
			Action:     v.Action,
			ObjectType: v.ObjectType,
			ObjectID:   v.ObjectID,
			Before:     v.Before,
			After:      v.After,
		}
	case *envelope.ProcessEvent:
		view.EventType = fusion.EventProcess
		view.Process = &fusion.ProcessBody{
			Pid:     v.Pid,
			Ppid:    v.Ppid,
			ExePath: v.ExePath,
			Cmdline: v.Cmdline,
			Uid:     v.Uid,
		}
	case *envelope.FlowEvent:
		view.EventType = fusion.EventFlow
		view.Flow = &fusion.FlowBody{
			SrcIP:     v.SrcIP,
			DstIP:     v.DstIP,
			SrcPort:   v.SrcPort,
			DstPort:   v.DstPort,
			Protocol:  v.Protocol,
			Direction: flowDirection(v.SrcIP, v.DstIP),
		}
	case *envelope.MetricEvent:
		view.EventType = fusion.EventMetric
	}

	return view
}

// flowDirection infers OUTBOUND/INBOUND from whether the flow's
// destination leaves the private address space; the wire-level
// FlowEvent carries no explicit direction field. Flows between two
// private addresses (or with no usable destination) are left blank.
func flowDirection(srcIP, dstIP string) string {
	if dstIP == "" {
		return ""
	}
	if !isPrivateIP(dstIP) {
		return "OUTBOUND"
	}
	if srcIP != "" && !isPrivateIP(srcIP) {
		return "INBOUND"
	}
	return ""
}

func isPrivateIP(ip string) bool {
	return ip == "127.0.0.1" || ip == "localhost" ||
		strings.HasPrefix(ip, "10.") ||
		strings.HasPrefix(ip, "192.168.") ||
		strings.HasPrefix(ip, "172.16.") || strings.HasPrefix(ip, "172.17.") ||
		strings.HasPrefix(ip, "172.18.") || strings.HasPrefix(ip, "172.19.") ||
		strings.HasPrefix(ip, "172.2") || strings.HasPrefix(ip, "172.3")
}
