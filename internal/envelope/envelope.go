package envelope

import (
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope is the atomic unit of transport. Exactly one of
// the payload variants is populated; Sig/PrevSig are excluded from the
// canonical byte form used for signing — see canonical.go.
type Envelope struct {
	Version        string
	TsNs           uint64
	IdempotencyKey string
	Payload        Payload
	Sig            []byte
	PrevSig        []byte
}

// NewIdempotencyKey mints a fresh, globally-unique idempotency key. Agents
// may instead derive a deterministic key from event content; this is the
// default for producers that don't need dedup across restarts by content.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

const wireVersion = "amoskys/1"

// envelopeFieldNumber is the Envelope-level oneof numbering: 1=version,
// 2=ts_ns, 3=idempotency_key, 4=flow, 5=process, 6=security, 7=audit,
// 8=metric, 9=device_telemetry, 10=sig, 11=prev_sig.
func envelopeFieldNumber(k Kind) (protowire.Number, bool) {
	switch k {
	case KindFlow:
		return 4, true
	case KindProcess:
		return 5, true
	case KindSecurity:
		return 6, true
	case KindAudit:
		return 7, true
	case KindMetric:
		return 8, true
	case KindDeviceTelemetry:
		return 9, true
	default:
		return 0, false
	}
}

func payloadForEnvelopeField(num protowire.Number) (Payload, error) {
	switch num {
	case 4:
		return &FlowEvent{}, nil
	case 5:
		return &ProcessEvent{}, nil
	case 6:
		return &SecurityEvent{}, nil
	case 7:
		return &AuditEvent{}, nil
	case 8:
		return &MetricEvent{}, nil
	case 9:
		return &DeviceTelemetry{}, nil
	default:
		return nil, fmt.Errorf("envelope: unknown payload field %d", num)
	}
}

// Marshal produces the full wire form, including Sig/PrevSig. This is what
// goes on the wire between agent and bus.
func (e *Envelope) Marshal() ([]byte, error) {
	return e.marshalWith(true)
}

func (e *Envelope) marshalWith(includeSig bool) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, e.Version)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, e.TsNs)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, e.IdempotencyKey)

	if e.Payload != nil {
		num, ok := envelopeFieldNumber(e.Payload.Kind())
		if !ok {
			return nil, fmt.Errorf("envelope: payload has no wire field: %v", e.Payload.Kind())
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Payload.marshal())
	}

	if includeSig {
		if len(e.Sig) > 0 {
			b = protowire.AppendTag(b, 10, protowire.BytesType)
			b = protowire.AppendBytes(b, e.Sig)
		}
		if len(e.PrevSig) > 0 {
			b = protowire.AppendTag(b, 11, protowire.BytesType)
			b = protowire.AppendBytes(b, e.PrevSig)
		}
	}
	return b, nil
}

// Unmarshal parses the full wire form produced by Marshal.
func (e *Envelope) Unmarshal(b []byte) error {
	*e = Envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("envelope: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: bad version")
			}
			e.Version, b = v, b[m:]
		case 2:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("envelope: bad ts_ns")
			}
			e.TsNs, b = v, b[m:]
		case 3:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("envelope: bad idempotency_key")
			}
			e.IdempotencyKey, b = v, b[m:]
		case 4, 5, 6, 7, 8, 9:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("envelope: bad payload field %d", num)
			}
			pl, err := payloadForEnvelopeField(num)
			if err != nil {
				return err
			}
			if err := pl.unmarshal(v); err != nil {
				return err
			}
			e.Payload, b = pl, b[m:]
		case 10:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("envelope: bad sig")
			}
			e.Sig, b = append([]byte(nil), v...), b[m:]
		case 11:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("envelope: bad prev_sig")
			}
			e.PrevSig, b = append([]byte(nil), v...), b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("envelope: bad unknown field %d", num)
			}
			b = b[m:]
		}
	}
	return nil
}

// Clone deep-copies an envelope, including its payload, by round-tripping
// through the wire form, so mutating the copy never affects the original.
func (e *Envelope) Clone() (*Envelope, error) {
	b, err := e.Marshal()
	if err != nil {
		return nil, err
	}
	out := &Envelope{}
	if err := out.Unmarshal(b); err != nil {
		return nil, err
	}
	return out, nil
}

// Size returns the serialized size in bytes, used by the size gate (§4.6)
// and the LDQ's max_env_bytes check (§4.3).
func (e *Envelope) Size() (int, error) {
	b, err := e.Marshal()
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
