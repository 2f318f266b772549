package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/amoskys/amoskys/internal/ack"
)

// PublishAck is the gRPC response message for EventBus.Publish:
// status ∈ {OK=0, RETRY=1, INVALID=2, ERROR=3}, reason,
// backoff_hint_ms.
type PublishAck struct {
	Status        int32
	Reason        string
	BackoffHintMs uint32
}

// FromAck converts the internal ack.Ack into the wire message.
func FromAck(a ack.Ack) *PublishAck {
	return &PublishAck{
		Status:        int32(a.Status),
		Reason:        a.Reason,
		BackoffHintMs: a.BackoffHintMs,
	}
}

// ToAck converts the wire message back into the internal ack.Ack.
func (p *PublishAck) ToAck() ack.Ack {
	return ack.Ack{
		Status:        ack.Status(p.Status),
		Reason:        p.Reason,
		BackoffHintMs: p.BackoffHintMs,
	}
}

func (p *PublishAck) Marshal() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Status))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, p.Reason)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.BackoffHintMs))
	return b, nil
}

func (p *PublishAck) Unmarshal(b []byte) error {
	*p = PublishAck{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: publish_ack: bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("wire: publish_ack: bad status")
			}
			p.Status, b = int32(v), b[m:]
		case 2:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fmt.Errorf("wire: publish_ack: bad reason")
			}
			p.Reason, b = v, b[m:]
		case 3:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("wire: publish_ack: bad backoff_hint_ms")
			}
			p.BackoffHintMs, b = uint32(v), b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("wire: publish_ack: bad unknown field %d", num)
			}
			b = b[m:]
		}
	}
	return nil
}
