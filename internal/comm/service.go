package comm

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const postMessageMethod = "/harness.Communicator/PostMessage"

// CommunicatorServer is the server API of the harness.Communicator service
type CommunicatorServer interface {
	PostMessage(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// CommunicatorClient is the client API of the harness.Communicator service
type CommunicatorClient interface {
	PostMessage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type communicatorClient struct {
	cc grpc.ClientConnInterface
}

// NewCommunicatorClient creates a client of the harness.Communicator service
func NewCommunicatorClient(cc grpc.ClientConnInterface) CommunicatorClient {
	return &communicatorClient{cc}
}

func (c *communicatorClient) PostMessage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	err := c.cc.Invoke(ctx, postMessageMethod, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterCommunicatorServer registers srv on s
func RegisterCommunicatorServer(s grpc.ServiceRegistrar, srv CommunicatorServer) {
	s.RegisterService(&communicatorServiceDesc, srv)
}

func postMessageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommunicatorServer).PostMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: postMessageMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CommunicatorServer).PostMessage(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var communicatorServiceDesc = grpc.ServiceDesc{
	ServiceName: "harness.Communicator",
	HandlerType: (*CommunicatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "PostMessage",
			Handler:    postMessageHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "harness.proto",
}
