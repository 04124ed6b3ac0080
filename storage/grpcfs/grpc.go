package grpcfs

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// FsServer is the server API for the Fs gRPC service.
//
// We intentionally use protobuf well-known types so this package does
// not require a protoc/codegen toolchain. Compound requests travel as
// structpb.Struct; int64 fields inside a Struct are decimal strings
// (structpb numbers are doubles) and file bytes are base64 strings.
//
// Proto definition: fs.proto.
type FsServer interface {
	Getattr(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	List(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	Read(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	Write(context.Context, *structpb.Struct) (*wrapperspb.Int64Value, error)
	Truncate(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Create(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Unlink(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Mkdir(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Rmdir(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	ReadOnly(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error)
}

// UnimplementedFsServer can be embedded to have forward compatible implementations.
type UnimplementedFsServer struct{}

func (UnimplementedFsServer) Getattr(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Getattr not implemented")
}
func (UnimplementedFsServer) List(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method List not implemented")
}
func (UnimplementedFsServer) Read(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Read not implemented")
}
func (UnimplementedFsServer) Write(context.Context, *structpb.Struct) (*wrapperspb.Int64Value, error) {
	return nil, status.Error(codes.Unimplemented, "method Write not implemented")
}
func (UnimplementedFsServer) Truncate(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Truncate not implemented")
}
func (UnimplementedFsServer) Create(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Create not implemented")
}
func (UnimplementedFsServer) Unlink(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Unlink not implemented")
}
func (UnimplementedFsServer) Mkdir(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Mkdir not implemented")
}
func (UnimplementedFsServer) Rmdir(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Rmdir not implemented")
}
func (UnimplementedFsServer) ReadOnly(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method ReadOnly not implemented")
}

// RegisterFsServer registers the Fs service on a gRPC server.
func RegisterFsServer(s grpc.ServiceRegistrar, srv FsServer) {
	s.RegisterService(&Fs_ServiceDesc, srv)
}

// FsClient is the client API for the Fs gRPC service.
type FsClient interface {
	Getattr(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	List(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.ListValue, error)
	Read(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Write(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error)
	Truncate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Create(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Unlink(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Mkdir(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Rmdir(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	ReadOnly(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
}

type fsClient struct{ cc grpc.ClientConnInterface }

func NewFsClient(cc grpc.ClientConnInterface) FsClient { return &fsClient{cc: cc} }

const serviceName = "/wildland.storage.grpcfs.v1.Fs/"

func (c *fsClient) Getattr(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, serviceName+"Getattr", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fsClient) List(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, serviceName+"List", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fsClient) Read(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, serviceName+"Read", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fsClient) Write(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, serviceName+"Write", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fsClient) Truncate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, serviceName+"Truncate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fsClient) Create(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, serviceName+"Create", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fsClient) Unlink(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, serviceName+"Unlink", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fsClient) Mkdir(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, serviceName+"Mkdir", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fsClient) Rmdir(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, serviceName+"Rmdir", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fsClient) ReadOnly(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, serviceName+"ReadOnly", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func unaryHandler[Req any](method string, call func(FsServer, context.Context, *Req) (any, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(FsServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Fs_ServiceDesc is the grpc.ServiceDesc for the Fs service.
var Fs_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "wildland.storage.grpcfs.v1.Fs",
	HandlerType: (*FsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Getattr", Handler: unaryHandler("Getattr", func(s FsServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.Getattr(ctx, in)
		})},
		{MethodName: "List", Handler: unaryHandler("List", func(s FsServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.List(ctx, in)
		})},
		{MethodName: "Read", Handler: unaryHandler("Read", func(s FsServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.Read(ctx, in)
		})},
		{MethodName: "Write", Handler: unaryHandler("Write", func(s FsServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.Write(ctx, in)
		})},
		{MethodName: "Truncate", Handler: unaryHandler("Truncate", func(s FsServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return s.Truncate(ctx, in)
		})},
		{MethodName: "Create", Handler: unaryHandler("Create", func(s FsServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.Create(ctx, in)
		})},
		{MethodName: "Unlink", Handler: unaryHandler("Unlink", func(s FsServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.Unlink(ctx, in)
		})},
		{MethodName: "Mkdir", Handler: unaryHandler("Mkdir", func(s FsServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.Mkdir(ctx, in)
		})},
		{MethodName: "Rmdir", Handler: unaryHandler("Rmdir", func(s FsServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.Rmdir(ctx, in)
		})},
		{MethodName: "ReadOnly", Handler: unaryHandler("ReadOnly", func(s FsServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return s.ReadOnly(ctx, in)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fs.proto",
}
