package wire

import (
	"context"

	"google.golang.org/grpc"

	"github.com/amoskys/amoskys/internal/envelope"
)

// ServiceName is the gRPC full service name, equivalent to what protoc
// would derive from `service EventBus` in an `amoskys` package.
const ServiceName = "amoskys.EventBus"

// EventBusServer is the server-side contract: a single unary RPC,
// Publish(Envelope) -> PublishAck.
type EventBusServer interface {
	Publish(ctx context.Context, in *envelope.Envelope) (*PublishAck, error)
}

// EventBusClient is the client-side contract used by agents.
type EventBusClient interface {
	Publish(ctx context.Context, in *envelope.Envelope, opts ...grpc.CallOption) (*PublishAck, error)
}

type eventBusClient struct {
	cc grpc.ClientConnInterface
}

// NewEventBusClient builds a client bound to cc, using this package's
// wire codec via CallContentSubtype on every call.
func NewEventBusClient(cc grpc.ClientConnInterface) EventBusClient {
	return &eventBusClient{cc: cc}
}

func (c *eventBusClient) Publish(ctx context.Context, in *envelope.Envelope, opts ...grpc.CallOption) (*PublishAck, error) {
	out := new(PublishAck)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(Name)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Publish", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func eventBusPublishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(envelope.Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventBusServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Publish"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EventBusServer).Publish(ctx, req.(*envelope.Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

// EventBusServiceDesc is the hand-authored equivalent of what protoc-gen-go-grpc
// would emit for `service EventBus { rpc Publish(Envelope) returns (PublishAck); }`.
var EventBusServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EventBusServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: eventBusPublishHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "amoskys/eventbus.proto",
}

// RegisterEventBusServer registers srv on s under EventBusServiceDesc.
func RegisterEventBusServer(s grpc.ServiceRegistrar, srv EventBusServer) {
	s.RegisterService(&EventBusServiceDesc, srv)
}
