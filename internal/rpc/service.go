package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// metricsServer is the server API of hrv.v1.Metrics:
//
//	rpc Latest(google.protobuf.Empty) returns (google.protobuf.Struct);
//	rpc Watch(google.protobuf.Empty) returns (stream google.protobuf.Struct);
type metricsServer interface {
	Latest(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Watch(*emptypb.Empty, grpc.ServerStream) error
}

const (
	latestMethod = "/" + ServiceName + "/Latest"
	watchMethod  = "/" + ServiceName + "/Watch"
)

func latestHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(metricsServer).Latest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: latestMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(metricsServer).Latest(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(metricsServer).Watch(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*metricsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Latest", Handler: latestHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "hrv/v1/metrics.proto",
}

// Client calls hrv.v1.Metrics.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Latest fetches the current metrics.
func (c *Client) Latest(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, latestMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch calls fn for each metrics update until fn returns an error, the
// stream ends or ctx is done.
func (c *Client) Watch(ctx context.Context, fn func(*structpb.Struct) error, opts ...grpc.CallOption) error {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], watchMethod, opts...)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		m := new(structpb.Struct)
		if err := stream.RecvMsg(m); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
}
