// Package transport carries batches from tracker devices to the collector
// over gRPC. Messages are google.protobuf.Struct values so the service can
// be described without generated stubs.
package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "servicetracker.v1.Collector"

	PingMethod   = "/" + ServiceName + "/Ping"
	IngestMethod = "/" + ServiceName + "/Ingest"
)

// Request and reply field names.
const (
	fieldStatus         = "status"
	fieldFile           = "file"
	fieldPayload        = "payload"
	fieldID             = "id"
	fieldAccepted       = "accepted"
	fieldDuplicates     = "duplicates"
	fieldRejected       = "rejected"
	fieldDecodeFailures = "decode_failures"

	statusOK = "OK"
)

// CollectorServer is the server side of the Collector service.
type CollectorServer interface {
	Ping(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	Ingest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PingMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServer).Ping(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func ingestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).Ingest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: IngestMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServer).Ingest(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var collectorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CollectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: pingHandler},
		{MethodName: "Ingest", Handler: ingestHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "servicetracker/v1/collector.proto",
}

// RegisterCollectorServer registers srv on s.
func RegisterCollectorServer(s grpc.ServiceRegistrar, srv CollectorServer) {
	s.RegisterService(&collectorServiceDesc, srv)
}
