// Package rpc exposes the maintenance service over gRPC. Messages are
// google.protobuf.Struct values carrying the same JSON shapes as the REST
// API, so no generated code is needed on either side.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "openmaintenancecore.v1.MaintenanceService"

const (
	getMachineMethod   = "/" + ServiceName + "/GetMachine"
	listMachinesMethod = "/" + ServiceName + "/ListMachines"
	watchEventsMethod  = "/" + ServiceName + "/WatchEvents"
)

// MaintenanceServer is the server API for MaintenanceService.
type MaintenanceServer interface {
	// GetMachine takes {"id"} and returns one record.
	GetMachine(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ListMachines takes {"search","sector","status"} and returns a listing.
	ListMachines(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// WatchEvents takes {"types": [...]} and streams record events.
	WatchEvents(*structpb.Struct, EventStream) error
}

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MaintenanceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetMachine", Handler: getMachineHandler},
		{MethodName: "ListMachines", Handler: listMachinesHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchEvents", Handler: watchEventsHandler, ServerStreams: true},
	},
	Metadata: "openmaintenancecore/v1/maintenance.proto",
}

func RegisterMaintenanceServer(s grpc.ServiceRegistrar, srv MaintenanceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getMachineHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MaintenanceServer).GetMachine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getMachineMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MaintenanceServer).GetMachine(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listMachinesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MaintenanceServer).ListMachines(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listMachinesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MaintenanceServer).ListMachines(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MaintenanceServer).WatchEvents(in, &eventStream{stream})
}

// Client is the client API for MaintenanceService.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetMachine(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getMachineMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListMachines(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listMachinesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// EventReceiver is the client side of WatchEvents.
type EventReceiver interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type eventReceiver struct {
	grpc.ClientStream
}

func (r *eventReceiver) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := r.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Client) WatchEvents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (EventReceiver, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], watchEventsMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &eventReceiver{stream}, nil
}
