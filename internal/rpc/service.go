package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service
// ServiceName is the fully qualified gRPC service name.
const ServiceName = "adaptrehab.v1.AdaptationService"

// Method names on the wire.
const (
	MethodInitialize        = "Initialize"
	MethodComputeAdaptation = "ComputeAdaptation"
	MethodUpdateFeedback    = "UpdateFeedback"
	MethodSwapModule        = "SwapModule"
	MethodEndSession        = "EndSession"
	MethodGetMetadata       = "GetMetadata"
	MethodExplain           = "Explain"
	MethodSaveCheckpoint    = "SaveCheckpoint"
	MethodLoadCheckpoint    = "LoadCheckpoint"
	MethodGetStatus         = "GetStatus"
)

// AdaptationService is the server contract. Every message is a
// google.protobuf.Struct whose field names follow the session API.
type AdaptationService interface {
	Initialize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ComputeAdaptation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	UpdateFeedback(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SwapModule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	EndSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetMetadata(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Explain(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SaveCheckpoint(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	LoadCheckpoint(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(AdaptationService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func method(name string, call unaryCall) grpc.MethodDesc {
	full := FullMethod(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AdaptationService), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdaptationService), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes AdaptationService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdaptationService)(nil),
	Methods: []grpc.MethodDesc{
		method(MethodInitialize, AdaptationService.Initialize),
		method(MethodComputeAdaptation, AdaptationService.ComputeAdaptation),
		method(MethodUpdateFeedback, AdaptationService.UpdateFeedback),
		method(MethodSwapModule, AdaptationService.SwapModule),
		method(MethodEndSession, AdaptationService.EndSession),
		method(MethodGetMetadata, AdaptationService.GetMetadata),
		method(MethodExplain, AdaptationService.Explain),
		method(MethodSaveCheckpoint, AdaptationService.SaveCheckpoint),
		method(MethodLoadCheckpoint, AdaptationService.LoadCheckpoint),
		method(MethodGetStatus, AdaptationService.GetStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "adaptrehab/v1/adaptation.proto",
}

// RegisterAdaptationService attaches srv to a gRPC server.
func RegisterAdaptationService(s grpc.ServiceRegistrar, srv AdaptationService) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns the /service/method path used by clients.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// #endregion service
