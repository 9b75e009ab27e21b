package transport

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/dmitrijs2005/servicetracker/internal/common"
	"github.com/dmitrijs2005/servicetracker/internal/logging"
	"github.com/dmitrijs2005/servicetracker/internal/merge"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Ingester merges one received batch file.
type Ingester interface {
	Ingest(ctx context.Context, src merge.Source, data []byte) (merge.Result, error)
}

type Server struct {
	address   string
	ingester  Ingester
	logger    logging.Logger
	jwtSecret []byte
}

func NewServer(address string, l logging.Logger, ing Ingester, secretKey string) *Server {
	return &Server{
		address:   address,
		ingester:  ing,
		logger:    l.With("module", "grpc_server"),
		jwtSecret: []byte(secretKey),
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	RegisterCollectorServer(srv, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) Ping(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{fieldStatus: statusOK})
}

// Ingest merges the batch file carried in the payload field. The batch
// source is the authenticated device id.
func (s *Server) Ingest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	payload := fields[fieldPayload].GetStringValue()
	if strings.TrimSpace(payload) == "" {
		return nil, status.Error(codes.InvalidArgument, "empty payload")
	}

	deviceID, _ := DeviceIDFromContext(ctx)
	src := merge.Source{Name: deviceID, File: fields[fieldFile].GetStringValue()}

	res, err := s.ingester.Ingest(ctx, src, []byte(payload))
	if err != nil {
		s.logger.Error(ctx, "ingest failed", "device", deviceID, "error", err)
		return nil, mapError(err)
	}

	return structpb.NewStruct(map[string]any{
		fieldID:             res.BatchID,
		fieldAccepted:       res.Accepted,
		fieldDuplicates:     res.Duplicates,
		fieldRejected:       res.Rejected,
		fieldDecodeFailures: res.DecodeFailures,
		fieldStatus:         "success",
	})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, common.ErrMalformedBatch), errors.Is(err, common.ErrMalformedPayload):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrStorageUnavailable):
		return status.Error(codes.Unavailable, "storage unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
