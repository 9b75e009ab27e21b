package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/servicetracker/internal/common"
	"github.com/dmitrijs2005/servicetracker/internal/records"
	"github.com/dmitrijs2005/servicetracker/internal/syncstate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	ErrUnavailable  = errors.New("collector unavailable")
	ErrUnauthorized = errors.New("collector rejected the access token")
	ErrRejected     = errors.New("collector rejected the batch")
)

// IngestReply is the collector's acknowledgement of one batch.
type IngestReply struct {
	ID         string
	Accepted   int
	Duplicates int
	Rejected   int
	Status     string
}

type Client struct {
	conn        *grpc.ClientConn
	accessToken string
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if c.accessToken != "" {
		ctx = withAccessToken(ctx, c.accessToken)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// NewClient prepares a connection to the collector at target. No traffic
// is sent until the first call.
func NewClient(target, accessToken string, opts ...grpc.DialOption) (*Client, error) {
	c := &Client{accessToken: accessToken}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, PingMethod, &emptypb.Empty{}, resp); err != nil {
		return mapClientError(err)
	}
	if resp.GetFields()[fieldStatus].GetStringValue() != statusOK {
		return ErrUnavailable
	}
	return nil
}

// Ingest uploads one batch file.
func (c *Client) Ingest(ctx context.Context, file string, payload []byte) (IngestReply, error) {
	req, err := structpb.NewStruct(map[string]any{
		fieldFile:    file,
		fieldPayload: string(payload),
	})
	if err != nil {
		return IngestReply{}, err
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, IngestMethod, req, resp); err != nil {
		return IngestReply{}, mapClientError(err)
	}

	f := resp.GetFields()
	return IngestReply{
		ID:         f[fieldID].GetStringValue(),
		Accepted:   int(f[fieldAccepted].GetNumberValue()),
		Duplicates: int(f[fieldDuplicates].GetNumberValue()),
		Rejected:   int(f[fieldRejected].GetNumberValue()),
		Status:     f[fieldStatus].GetStringValue(),
	}, nil
}

// Sender returns a syncstate.Sender that uploads records as a batch file
// named file. Send succeeds only once the collector has committed the batch.
func (c *Client) Sender(file string) syncstate.Sender {
	return syncstate.SenderFunc(func(ctx context.Context, recs []records.Record) error {
		var buf bytes.Buffer
		if err := records.WriteBatch(&buf, recs); err != nil {
			return err
		}
		reply, err := c.Ingest(ctx, file, buf.Bytes())
		if err != nil {
			return err
		}
		if reply.Status != "success" {
			return fmt.Errorf("%w: status %q", ErrRejected, reply.Status)
		}
		return nil
	})
}

func mapClientError(err error) error {
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrRejected, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
