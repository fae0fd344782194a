package transfer

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	upLoadFileMethod   = "/harness.StreamService/UpLoadFile"
	downLoadFileMethod = "/harness.StreamService/DownLoadFile"

	// filenameKey is the metadata key naming the file of an upload stream
	filenameKey = "filename"
)

// StreamServiceServer is the server API of the harness.StreamService service
type StreamServiceServer interface {
	UpLoadFile(grpc.ClientStreamingServer[wrapperspb.BytesValue, emptypb.Empty]) error
	DownLoadFile(*wrapperspb.StringValue, grpc.ServerStreamingServer[wrapperspb.BytesValue]) error
}

// StreamServiceClient is the client API of the harness.StreamService service
type StreamServiceClient interface {
	UpLoadFile(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[wrapperspb.BytesValue, emptypb.Empty], error)
	DownLoadFile(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error)
}

type streamServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewStreamServiceClient creates a client of the harness.StreamService service
func NewStreamServiceClient(cc grpc.ClientConnInterface) StreamServiceClient {
	return &streamServiceClient{cc}
}

func (c *streamServiceClient) UpLoadFile(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[wrapperspb.BytesValue, emptypb.Empty], error) {
	stream, err := c.cc.NewStream(ctx, &streamServiceDesc.Streams[0], upLoadFileMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[wrapperspb.BytesValue, emptypb.Empty]{ClientStream: stream}, nil
}

func (c *streamServiceClient) DownLoadFile(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (grpc.ServerStreamingClient[wrapperspb.BytesValue], error) {
	stream, err := c.cc.NewStream(ctx, &streamServiceDesc.Streams[1], downLoadFileMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// RegisterStreamServiceServer registers srv on s
func RegisterStreamServiceServer(s grpc.ServiceRegistrar, srv StreamServiceServer) {
	s.RegisterService(&streamServiceDesc, srv)
}

func upLoadFileHandler(srv any, stream grpc.ServerStream) error {
	return srv.(StreamServiceServer).UpLoadFile(&grpc.GenericServerStream[wrapperspb.BytesValue, emptypb.Empty]{ServerStream: stream})
}

func downLoadFileHandler(srv any, stream grpc.ServerStream) error {
	m := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(StreamServiceServer).DownLoadFile(m, &grpc.GenericServerStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ServerStream: stream})
}

var streamServiceDesc = grpc.ServiceDesc{
	ServiceName: "harness.StreamService",
	HandlerType: (*StreamServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "UpLoadFile",
			Handler:       upLoadFileHandler,
			ClientStreams: true,
		},
		{
			StreamName:    "DownLoadFile",
			Handler:       downLoadFileHandler,
			ServerStreams: true,
		},
	},
	Metadata: "harness.proto",
}
