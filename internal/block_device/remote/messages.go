package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	OpRead  = "read"
	OpWrite = "write"
	OpFlush = "flush"
	OpInfo  = "info"
)

const (
	serviceName = "numbfs.blockdevice.BlockService"
	callMethod  = "/" + serviceName + "/Call"
)

// Request travels JSON-encoded inside a wrapperspb.BytesValue.
type Request struct {
	Op   string `json:"op"`
	Addr uint32 `json:"addr,omitempty"`
	Data []byte `json:"data,omitempty"`
}

type Response struct {
	Data   []byte `json:"data,omitempty"`
	Blocks uint32 `json:"blocks,omitempty"`
}

type blockServiceServer interface {
	Call(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(blockServiceServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: callMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(blockServiceServer).Call(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var blockServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*blockServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "numbfs/blockdevice.proto",
}
