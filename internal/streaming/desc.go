package streaming

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Messages are google.protobuf.Struct so the service needs no generated
// code; field names match the REST JSON bodies.

const serviceName = "openwardcore.v1.WardService"

const (
	methodGetBedStatus       = "/" + serviceName + "/GetBedStatus"
	methodGetQueue           = "/" + serviceName + "/GetQueue"
	methodGetTurnoverHistory = "/" + serviceName + "/GetTurnoverHistory"
	methodStreamWardEvents   = "/" + serviceName + "/StreamWardEvents"
)

type WardServiceServer interface {
	GetBedStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetQueue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTurnoverHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamWardEvents(*structpb.Struct, WardService_StreamWardEventsServer) error
}

type WardService_StreamWardEventsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type wardServiceStreamWardEventsServer struct {
	grpc.ServerStream
}

func (x *wardServiceStreamWardEventsServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func RegisterWardServiceServer(s grpc.ServiceRegistrar, srv WardServiceServer) {
	s.RegisterService(&WardService_ServiceDesc, srv)
}

func unaryHandler(method string, call func(WardServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(WardServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(WardServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamWardEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(WardServiceServer).StreamWardEvents(m, &wardServiceStreamWardEventsServer{stream})
}

var WardService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WardServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetBedStatus",
			Handler:    unaryHandler(methodGetBedStatus, WardServiceServer.GetBedStatus),
		},
		{
			MethodName: "GetQueue",
			Handler:    unaryHandler(methodGetQueue, WardServiceServer.GetQueue),
		},
		{
			MethodName: "GetTurnoverHistory",
			Handler:    unaryHandler(methodGetTurnoverHistory, WardServiceServer.GetTurnoverHistory),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamWardEvents",
			Handler:       streamWardEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "openwardcore/v1/ward.proto",
}

// WardServiceClient is the client side of the service, used by the CLI and tests.
type WardServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewWardServiceClient(cc grpc.ClientConnInterface) *WardServiceClient {
	return &WardServiceClient{cc: cc}
}

func (c *WardServiceClient) GetBedStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetBedStatus, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WardServiceClient) GetQueue(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetQueue, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WardServiceClient) GetTurnoverHistory(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetTurnoverHistory, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamWardEvents opens the event stream. Receive with RecvMsg into a
// *structpb.Struct until it returns an error.
func (c *WardServiceClient) StreamWardEvents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &WardService_ServiceDesc.Streams[0], methodStreamWardEvents, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return stream, nil
}
