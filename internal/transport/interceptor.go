package transport

import (
	"context"

	"github.com/dmitrijs2005/servicetracker/internal/auth"
	"github.com/dmitrijs2005/servicetracker/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

// DeviceIDKey holds the authenticated device id in a request context.
const DeviceIDKey ctxKey = "deviceID"

// DeviceIDFromContext returns the device id set by the access token check.
func DeviceIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(DeviceIDKey).(string)
	return v, ok && v != ""
}

func (s *Server) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if info.FullMethod != IngestMethod {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.AccessTokenHeaderName); len(values) > 0 {
			accessToken = values[0]
		}
	}
	if accessToken == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	deviceID, err := auth.DeviceIDFromToken(accessToken, s.jwtSecret)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}

	return handler(context.WithValue(ctx, DeviceIDKey, deviceID), req)
}
