package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/servicetracker/internal/auth"
	"github.com/dmitrijs2005/servicetracker/internal/common"
	"github.com/dmitrijs2005/servicetracker/internal/logging"
	"github.com/dmitrijs2005/servicetracker/internal/merge"
	"github.com/dmitrijs2005/servicetracker/internal/records"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type nopLogger struct{}

func (n nopLogger) Debug(context.Context, string, ...any) {}
func (n nopLogger) Info(context.Context, string, ...any)  {}
func (n nopLogger) Warn(context.Context, string, ...any)  {}
func (n nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger            { return n }

type fakeIngester struct {
	mu   sync.Mutex
	src  merge.Source
	data []byte
	res  merge.Result
	err  error
}

func (f *fakeIngester) Ingest(_ context.Context, src merge.Source, data []byte) (merge.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.src, f.data = src, data
	return f.res, f.err
}

const secret = "test-secret"

func startServer(t *testing.T, ing Ingester) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer("bufnet", nopLogger{}, ing, secret)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return lis
}

func dial(t *testing.T, lis *bufconn.Listener, token string) *Client {
	t.Helper()
	c, err := NewClient("passthrough:///bufnet", token,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func deviceToken(t *testing.T, device string) string {
	t.Helper()
	tok, err := auth.GenerateToken(device, []byte(secret), time.Hour)
	require.NoError(t, err)
	return tok
}

func TestPing_NoTokenNeeded(t *testing.T) {
	lis := startServer(t, &fakeIngester{})
	c := dial(t, lis, "")

	require.NoError(t, c.Ping(context.Background()))
}

func TestIngest_PassesDeviceAndFile(t *testing.T) {
	ing := &fakeIngester{res: merge.Result{BatchID: "b1", Accepted: 2, Duplicates: 1, Rejected: 1}}
	lis := startServer(t, ing)
	c := dial(t, lis, deviceToken(t, "tablet-7"))

	reply, err := c.Ingest(context.Background(), "export.csv", []byte("payload-bytes"))
	require.NoError(t, err)

	assert.Equal(t, IngestReply{ID: "b1", Accepted: 2, Duplicates: 1, Rejected: 1, Status: "success"}, reply)
	assert.Equal(t, merge.Source{Name: "tablet-7", File: "export.csv"}, ing.src)
	assert.Equal(t, []byte("payload-bytes"), ing.data)
}

func TestIngest_Unauthenticated(t *testing.T) {
	ing := &fakeIngester{}
	lis := startServer(t, ing)

	_, err := dial(t, lis, "").Ingest(context.Background(), "f.csv", []byte("x"))
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = dial(t, lis, "not-a-jwt").Ingest(context.Background(), "f.csv", []byte("x"))
	require.ErrorIs(t, err, ErrUnauthorized)

	assert.Nil(t, ing.data, "ingester must not be reached")
}

func TestIngest_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"malformed", common.ErrMalformedBatch, ErrRejected},
		{"storage", common.ErrStorageUnavailable, ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lis := startServer(t, &fakeIngester{err: tc.err})
			_, err := dial(t, lis, deviceToken(t, "d")).Ingest(context.Background(), "f.csv", []byte("x"))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestIngest_EmptyPayload(t *testing.T) {
	lis := startServer(t, &fakeIngester{})
	_, err := dial(t, lis, deviceToken(t, "d")).Ingest(context.Background(), "f.csv", nil)
	require.ErrorIs(t, err, ErrRejected)
}

func TestSender_WritesBatchFile(t *testing.T) {
	ing := &fakeIngester{res: merge.Result{BatchID: "b"}}
	lis := startServer(t, ing)
	c := dial(t, lis, deviceToken(t, "d"))

	d := 30.0
	recs := []records.Record{{ID: 1, Timestamp: "2025-01-01 10:00:00", Student: "A", Service: "OT", Duration: &d, DeviceID: "d"}}
	require.NoError(t, c.Sender("out.csv").Send(context.Background(), recs))

	b, err := records.ParseBatch(bytes.NewReader(ing.data))
	require.NoError(t, err)
	require.Len(t, b.Rows, 1)
	assert.Equal(t, "A", b.Rows[0].Student)
	assert.Equal(t, "out.csv", ing.src.File)
}

func TestSender_FailureSurfaces(t *testing.T) {
	lis := startServer(t, &fakeIngester{err: errors.New("boom")})
	c := dial(t, lis, deviceToken(t, "d"))

	err := c.Sender("out.csv").Send(context.Background(), []records.Record{{Timestamp: "2025-01-01 10:00:00", Student: "A"}})
	require.Error(t, err)
}

func TestInterceptor_OtherMethodsPassThrough(t *testing.T) {
	s := NewServer("", nopLogger{}, &fakeIngester{}, secret)
	called := false
	h := func(ctx context.Context, req any) (any, error) {
		called = true
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: PingMethod}, h)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "ok", resp)
}

func TestInterceptor_ExpiredToken(t *testing.T) {
	s := NewServer("", nopLogger{}, &fakeIngester{}, secret)
	past := time.Now().Add(-time.Hour)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(past)},
		DeviceID:         "d",
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(common.AccessTokenHeaderName, tok))
	_, err = s.accessTokenInterceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: IngestMethod},
		func(context.Context, any) (any, error) { t.Fatal("handler called"); return nil, nil })

	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestInterceptor_SetsDeviceID(t *testing.T) {
	s := NewServer("", nopLogger{}, &fakeIngester{}, secret)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(common.AccessTokenHeaderName, deviceToken(t, "dev-1")))

	var got string
	_, err := s.accessTokenInterceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: IngestMethod},
		func(ctx context.Context, _ any) (any, error) {
			got, _ = DeviceIDFromContext(ctx)
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "dev-1", got)
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	s := NewServer("127.0.0.1:99999", nopLogger{}, &fakeIngester{}, secret)
	require.Error(t, s.Run(context.Background()))
}
