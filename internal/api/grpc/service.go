// Package grpc provides the gRPC ingestion surface for uuidvault.
//
// The service is declared by hand over well-known protobuf types, so no
// generated code is needed:
//
//	service IngestService {
//	  rpc Submit(google.protobuf.Struct) returns (google.protobuf.Empty);
//	}
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "uuidvault.v1.IngestService"

	// SubmitMethod is the full method path of Submit.
	SubmitMethod = "/" + ServiceName + "/Submit"

	// APIKeyMetadata is the metadata key carrying the shared secret.
	APIKeyMetadata = "x-api-key"
)

// IngestServiceServer is the server API for IngestService.
type IngestServiceServer interface {
	Submit(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

func submitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServiceServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SubmitMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IngestServiceServer).Submit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// IngestServiceDesc describes IngestService for grpc.Server registration.
var IngestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Submit",
			Handler:    submitHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "uuidvault/v1/ingest.proto",
}

// RegisterIngestServiceServer registers srv on s.
func RegisterIngestServiceServer(s grpc.ServiceRegistrar, srv IngestServiceServer) {
	s.RegisterService(&IngestServiceDesc, srv)
}

// IngestClient calls IngestService.
type IngestClient struct {
	cc grpc.ClientConnInterface
}

// NewIngestClient creates a client over cc.
func NewIngestClient(cc grpc.ClientConnInterface) *IngestClient {
	return &IngestClient{cc: cc}
}

// Submit sends one record.
func (c *IngestClient) Submit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, SubmitMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
