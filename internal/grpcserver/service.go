package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "redissandbox.v1.Sandbox"

const (
	appendMethod      = "/" + serviceName + "/Append"
	saveProductMethod = "/" + serviceName + "/SaveProduct"
	findProductMethod = "/" + serviceName + "/FindProduct"
)

// SandboxServer is the server API of the sandbox service. Messages are
// protobuf well-known types so no generated code is needed.
type SandboxServer interface {
	// Append adds {"stream": string, "fields": object} to a stream and
	// returns the entry ID.
	Append(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	// SaveProduct stores {"id", "name", "price", "ttl"}.
	SaveProduct(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// FindProduct loads a product by ID.
	FindProduct(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// RegisterSandboxServer registers srv under the sandbox service name.
func RegisterSandboxServer(s grpc.ServiceRegistrar, srv SandboxServer) {
	s.RegisterService(&sandboxServiceDesc, srv)
}

var sandboxServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SandboxServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Append", Handler: appendHandler},
		{MethodName: "SaveProduct", Handler: saveProductHandler},
		{MethodName: "FindProduct", Handler: findProductHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "redissandbox/v1/sandbox.proto",
}

func appendHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SandboxServer).Append(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: appendMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SandboxServer).Append(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func saveProductHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SandboxServer).SaveProduct(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: saveProductMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SandboxServer).SaveProduct(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func findProductHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SandboxServer).FindProduct(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: findProductMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SandboxServer).FindProduct(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}
