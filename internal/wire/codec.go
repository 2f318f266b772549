// Package wire carries AMOSKYS's gRPC transport plumbing. No .proto
// source or codegen is available for the wire messages, so rather than
// depend on a protoc step this package hand-writes field-numbered,
// length-prefixed messages with google.golang.org/protobuf/encoding/protowire
// and wires them into gRPC through a custom encoding.Codec plus a
// hand-authored grpc.ServiceDesc.
package wire

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the content-subtype under which this codec registers itself
// ("application/grpc+amoskys" on the wire).
const Name = "amoskys"

// Message is the contract every request/response type in this package
// satisfies: Envelope (internal/envelope) and PublishAck both implement
// it directly.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("wire: %T does not implement wire.Message", v)
	}
	return m.Marshal()
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("wire: %T does not implement wire.Message", v)
	}
	return m.Unmarshal(data)
}

func (codec) Name() string { return Name }

func init() {
	encoding.RegisterCodec(codec{})
}
