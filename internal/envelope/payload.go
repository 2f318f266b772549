package envelope

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind discriminates the envelope payload oneof. Field
// numbers below are the wire field numbers at the Envelope level, not
// enum values — Kind and field number are kept in lock-step in envelope.go.
type Kind int

const (
	KindUnset Kind = iota
	KindFlow
	KindProcess
	KindSecurity
	KindAudit
	KindMetric
	KindDeviceTelemetry
)

func (k Kind) String() string {
	switch k {
	case KindFlow:
		return "FLOW"
	case KindProcess:
		return "PROCESS"
	case KindSecurity:
		return "SECURITY"
	case KindAudit:
		return "AUDIT"
	case KindMetric:
		return "METRIC"
	case KindDeviceTelemetry:
		return "DEVICE_TELEMETRY"
	default:
		return "UNSET"
	}
}

// Payload is the tagged-union member type. Every accessor over a Payload
// must be total: switch on Kind() and handle every case, never fall
// through to a silent empty branch (per SPEC_FULL.md §9 design notes).
type Payload interface {
	Kind() Kind
	marshal() []byte
	unmarshal(b []byte) error
}

// --- Flow -------------------------------------------------------------

type FlowEvent struct {
	SrcIP      string
	DstIP      string
	SrcPort    uint32
	DstPort    uint32
	Protocol   string
	BytesSent  uint64
	BytesRecv  uint64
	StartTsNs  uint64
	EndTsNs    uint64
}

func (*FlowEvent) Kind() Kind { return KindFlow }

func (f *FlowEvent) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, f.SrcIP)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, f.DstIP)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.SrcPort))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.DstPort))
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendString(b, f.Protocol)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, f.BytesSent)
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, f.BytesRecv)
	b = protowire.AppendTag(b, 8, protowire.VarintType)
	b = protowire.AppendVarint(b, f.StartTsNs)
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, f.EndTsNs)
	return b
}

func (f *FlowEvent) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("envelope: flow: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: flow: bad src_ip")
			}
			f.SrcIP, b = v, b[m:]
		case 2:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: flow: bad dst_ip")
			}
			f.DstIP, b = v, b[m:]
		case 3:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("envelope: flow: bad src_port")
			}
			f.SrcPort, b = uint32(v), b[m:]
		case 4:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("envelope: flow: bad dst_port")
			}
			f.DstPort, b = uint32(v), b[m:]
		case 5:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: flow: bad protocol")
			}
			f.Protocol, b = v, b[m:]
		case 6:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("envelope: flow: bad bytes_sent")
			}
			f.BytesSent, b = v, b[m:]
		case 7:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("envelope: flow: bad bytes_recv")
			}
			f.BytesRecv, b = v, b[m:]
		case 8:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("envelope: flow: bad start_ts_ns")
			}
			f.StartTsNs, b = v, b[m:]
		case 9:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("envelope: flow: bad end_ts_ns")
			}
			f.EndTsNs, b = v, b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("envelope: flow: bad unknown field %d", num)
			}
			b = b[m:]
		}
	}
	return nil
}

// --- Process ------------------------------------------------------------

type ProcessEvent struct {
	Pid     uint32
	Ppid    uint32
	ExePath string
	Argv    []string
	Uid     uint32
	Cmdline string
}

func (*ProcessEvent) Kind() Kind { return KindProcess }

func (p *ProcessEvent) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Pid))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Ppid))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, p.ExePath)
	for _, a := range p.Argv {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, a)
	}
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Uid))
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendString(b, p.Cmdline)
	return b
}

func (p *ProcessEvent) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("envelope: process: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("envelope: process: bad pid")
			}
			p.Pid, b = uint32(v), b[m:]
		case 2:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("envelope: process: bad ppid")
			}
			p.Ppid, b = uint32(v), b[m:]
		case 3:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: process: bad exe_path")
			}
			p.ExePath, b = v, b[m:]
		case 4:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: process: bad argv entry")
			}
			p.Argv, b = append(p.Argv, v), b[m:]
		case 5:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("envelope: process: bad uid")
			}
			p.Uid, b = uint32(v), b[m:]
		case 6:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: process: bad cmdline")
			}
			p.Cmdline, b = v, b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("envelope: process: bad unknown field %d", num)
			}
			b = b[m:]
		}
	}
	return nil
}

// --- Security -------------------------------------------------------------

type SecurityEvent struct {
	Category        string // AUTHENTICATION, SUDO, SSH_LOGIN, ...
	Action          string
	Outcome         string // SUCCESS | FAILURE
	User            string
	SourceIP        string
	RiskScore       uint32
	MitreTechniques []string
	// Attrs carries category-specific key/value pairs such as
	// sudo_command, used by fusion rule matching.
	Attrs map[string]string
}

func (*SecurityEvent) Kind() Kind { return KindSecurity }

func (s *SecurityEvent) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, s.Category)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, s.Action)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, s.Outcome)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, s.User)
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendString(b, s.SourceIP)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.RiskScore))
	for _, t := range s.MitreTechniques {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendString(b, t)
	}
	for _, k := range sortedKeys(s.Attrs) {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		entry := protowire.AppendString(nil, k)
		entry = protowire.AppendString(entry, s.Attrs[k])
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func (s *SecurityEvent) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("envelope: security: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: security: bad category")
			}
			s.Category, b = v, b[m:]
		case 2:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: security: bad action")
			}
			s.Action, b = v, b[m:]
		case 3:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: security: bad outcome")
			}
			s.Outcome, b = v, b[m:]
		case 4:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: security: bad user")
			}
			s.User, b = v, b[m:]
		case 5:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: security: bad source_ip")
			}
			s.SourceIP, b = v, b[m:]
		case 6:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("envelope: security: bad risk_score")
			}
			s.RiskScore, b = uint32(v), b[m:]
		case 7:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: security: bad mitre technique")
			}
			s.MitreTechniques, b = append(s.MitreTechniques, v), b[m:]
		case 8:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("envelope: security: bad attr entry")
			}
			k, kn := protowire.ConsumeString(v)
			if kn < 0 {
				return fmt.Errorf("envelope: security: bad attr key")
			}
			val, vn := protowire.ConsumeString(v[kn:])
			if vn < 0 {
				return fmt.Errorf("envelope: security: bad attr value")
			}
			if s.Attrs == nil {
				s.Attrs = make(map[string]string)
			}
			s.Attrs[k] = val
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("envelope: security: bad unknown field %d", num)
			}
			b = b[m:]
		}
	}
	return nil
}

// --- Audit ------------------------------------------------------------

type AuditEvent struct {
	Category   string // CHANGE
	Action     string // CREATED | MODIFIED | DELETED
	ObjectType string
	ObjectID   string
	Before     string
	After      string
}

func (*AuditEvent) Kind() Kind { return KindAudit }

func (a *AuditEvent) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, a.Category)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, a.Action)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, a.ObjectType)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, a.ObjectID)
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendString(b, a.Before)
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendString(b, a.After)
	return b
}

func (a *AuditEvent) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("envelope: audit: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: audit: bad category")
			}
			a.Category, b = v, b[m:]
		case 2:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: audit: bad action")
			}
			a.Action, b = v, b[m:]
		case 3:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: audit: bad object_type")
			}
			a.ObjectType, b = v, b[m:]
		case 4:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: audit: bad object_id")
			}
			a.ObjectID, b = v, b[m:]
		case 5:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: audit: bad before")
			}
			a.Before, b = v, b[m:]
		case 6:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: audit: bad after")
			}
			a.After, b = v, b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("envelope: audit: bad unknown field %d", num)
			}
			b = b[m:]
		}
	}
	return nil
}

// --- Metric -------------------------------------------------------------

type MetricEvent struct {
	Name     string
	Type     string // GAUGE | COUNTER
	NumValue float64
	StrValue string
	Unit     string
	hasNum   bool
}

func (*MetricEvent) Kind() Kind { return KindMetric }

func (me *MetricEvent) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, me.Name)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, me.Type)
	if me.hasNum || me.NumValue != 0 {
		b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, doubleBits(me.NumValue))
	}
	if me.StrValue != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, me.StrValue)
	}
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendString(b, me.Unit)
	return b
}

func (me *MetricEvent) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("envelope: metric: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: metric: bad name")
			}
			me.Name, b = v, b[m:]
		case 2:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: metric: bad type")
			}
			me.Type, b = v, b[m:]
		case 3:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return fmt.Errorf("envelope: metric: bad num_value")
			}
			me.NumValue, me.hasNum, b = bitsDouble(v), true, b[m:]
		case 4:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: metric: bad str_value")
			}
			me.StrValue, b = v, b[m:]
		case 5:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: metric: bad unit")
			}
			me.Unit, b = v, b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("envelope: metric: bad unknown field %d", num)
			}
			b = b[m:]
		}
	}
	return nil
}

// --- DeviceTelemetry ------------------------------------------------------

type DeviceTelemetry struct {
	DeviceID   string
	DeviceType string
	Protocol   string
	Meta       map[string]string // mfr, model, ip
	Events     []Payload         // ordered, batched; must not contain DeviceTelemetry
}

func (*DeviceTelemetry) Kind() Kind { return KindDeviceTelemetry }

func (d *DeviceTelemetry) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, d.DeviceID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, d.DeviceType)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, d.Protocol)
	for _, k := range sortedKeys(d.Meta) {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		entry := protowire.AppendString(nil, k)
		entry = protowire.AppendString(entry, d.Meta[k])
		b = protowire.AppendBytes(b, entry)
	}
	for _, ev := range d.Events {
		fieldNum, ok := nestedPayloadFieldNumber(ev.Kind())
		if !ok {
			continue
		}
		b = protowire.AppendTag(b, fieldNum, protowire.BytesType)
		b = protowire.AppendBytes(b, ev.marshal())
	}
	return b
}

func (d *DeviceTelemetry) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("envelope: device_telemetry: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: device_telemetry: bad device_id")
			}
			d.DeviceID, b = v, b[m:]
		case 2:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: device_telemetry: bad device_type")
			}
			d.DeviceType, b = v, b[m:]
		case 3:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: device_telemetry: bad protocol")
			}
			d.Protocol, b = v, b[m:]
		case 4:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("envelope: device_telemetry: bad meta entry")
			}
			k, kn := protowire.ConsumeString(v)
			if kn < 0 {
				return fmt.Errorf("envelope: device_telemetry: bad meta key")
			}
			val, vn := protowire.ConsumeString(v[kn:])
			if vn < 0 {
				return fmt.Errorf("envelope: device_telemetry: bad meta value")
			}
			if d.Meta == nil {
				d.Meta = make(map[string]string)
			}
			d.Meta[k] = val
			b = b[m:]
		case 5, 6, 7, 8, 9:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("envelope: device_telemetry: bad event payload")
			}
			pl, err := newPayloadForField(num)
			if err != nil {
				return err
			}
			if err := pl.unmarshal(v); err != nil {
				return err
			}
			d.Events = append(d.Events, pl)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("envelope: device_telemetry: bad unknown field %d", num)
			}
			b = b[m:]
		}
	}
	return nil
}

// nestedPayloadFieldNumber maps a Kind to its wire field number inside a
// DeviceTelemetry message's repeated events oneof. This numbering is local
// to DeviceTelemetry; envelope.go has its own numbering for the top-level
// Envelope oneof.
func nestedPayloadFieldNumber(k Kind) (protowire.Number, bool) {
	switch k {
	case KindFlow:
		return 5, true
	case KindProcess:
		return 6, true
	case KindSecurity:
		return 7, true
	case KindAudit:
		return 8, true
	case KindMetric:
		return 9, true
	default:
		return 0, false
	}
}

func newPayloadForField(num protowire.Number) (Payload, error) {
	switch num {
	case 5:
		return &FlowEvent{}, nil
	case 6:
		return &ProcessEvent{}, nil
	case 7:
		return &SecurityEvent{}, nil
	case 8:
		return &AuditEvent{}, nil
	case 9:
		return &MetricEvent{}, nil
	default:
		return nil, fmt.Errorf("envelope: unknown payload field %d", num)
	}
}
