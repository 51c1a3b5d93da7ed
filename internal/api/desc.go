package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lensdm.v1.PreviewService"

// PreviewServer is the server side of PreviewService. Every message is a
// google.protobuf.Struct; field names are documented on the methods of
// PreviewService.
type PreviewServer interface {
	GetOrderedPreviews(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SelectTab(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkActive(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnsyncProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Resync(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Authenticate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Retry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBadge(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchChanges(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

type unaryCall func(PreviewServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PreviewServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(PreviewServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

func watchChangesHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PreviewServer).WatchChanges(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ServiceDesc describes PreviewService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PreviewServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetOrderedPreviews", PreviewServer.GetOrderedPreviews),
		unary("GetStatus", PreviewServer.GetStatus),
		unary("SelectTab", PreviewServer.SelectTab),
		unary("MarkActive", PreviewServer.MarkActive),
		unary("UnsyncProfile", PreviewServer.UnsyncProfile),
		unary("Resync", PreviewServer.Resync),
		unary("Authenticate", PreviewServer.Authenticate),
		unary("Retry", PreviewServer.Retry),
		unary("Logout", PreviewServer.Logout),
		unary("StartConversation", PreviewServer.StartConversation),
		unary("GetBadge", PreviewServer.GetBadge),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchChanges",
			Handler:       watchChangesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "lensdm/v1/preview.proto",
}

// RegisterPreviewServer registers srv with s.
func RegisterPreviewServer(s grpc.ServiceRegistrar, srv PreviewServer) {
	s.RegisterService(&ServiceDesc, srv)
}
