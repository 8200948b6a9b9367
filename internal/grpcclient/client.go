// Package grpcclient provides a gRPC client for the evaluation service.
package grpcclient

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	pb "github.com/ricesearch/rice-eval/api/proto/evalpb"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// Config holds the client configuration.
type Config struct {
	// ServerAddress is the server address, e.g. "localhost:50051".
	ServerAddress string

	// Timeout bounds each call that has no deadline of its own.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ServerAddress: "localhost:50051",
		Timeout:       10 * time.Second,
	}
}

// Client is a gRPC client for the evaluation service.
type Client struct {
	cfg    Config
	conn   *grpc.ClientConn
	client pb.EvaluationServiceClient
}

// New creates a client. The connection is established lazily on first use.
// Extra dial options are appended after the defaults.
func New(cfg Config, opts ...grpc.DialOption) (*Client, error) {
	if cfg.ServerAddress == "" {
		cfg.ServerAddress = DefaultConfig().ServerAddress
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(16*1024*1024),
			grpc.MaxCallSendMsgSize(16*1024*1024),
		),
	}, opts...)

	conn, err := grpc.NewClient(cfg.ServerAddress, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.ServerAddress, err)
	}

	return &Client{
		cfg:    cfg,
		conn:   conn,
		client: pb.NewEvaluationServiceClient(conn),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Evaluate submits one batch and returns the recorded snapshot.
func (c *Client) Evaluate(ctx context.Context, req evaluation.EvaluateRequest) (evaluation.MetricSnapshot, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	in, err := pb.ToStruct(req)
	if err != nil {
		return evaluation.MetricSnapshot{}, err
	}

	out, err := c.client.Evaluate(ctx, in)
	if err != nil {
		return evaluation.MetricSnapshot{}, fromStatus(err)
	}

	var snapshot evaluation.MetricSnapshot
	if err := pb.FromStruct(out, &snapshot); err != nil {
		return evaluation.MetricSnapshot{}, err
	}
	return snapshot, nil
}

// History returns every snapshot recorded by the server.
func (c *Client) History(ctx context.Context) ([]evaluation.MetricSnapshot, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	out, err := c.client.History(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fromStatus(err)
	}

	var resp evaluation.HistoryResponse
	if err := pb.FromStruct(out, &resp); err != nil {
		return nil, err
	}
	if resp.Snapshots == nil {
		resp.Snapshots = []evaluation.MetricSnapshot{}
	}
	return resp.Snapshots, nil
}

// callContext applies the default timeout and forwards the request ID.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if id, ok := logger.RequestIDFromContext(ctx); ok {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", id)
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// fromStatus converts a gRPC status back into an application error.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return apperrors.Wrap(apperrors.CodeInternal, "gRPC call failed", err)
	}

	switch st.Code() {
	case codes.InvalidArgument:
		return apperrors.ValidationError(st.Message())
	case codes.NotFound:
		return apperrors.New(apperrors.CodeNotFound, st.Message())
	case codes.ResourceExhausted:
		return apperrors.New(apperrors.CodeRateLimited, st.Message())
	case codes.Unavailable:
		return apperrors.Wrap(apperrors.CodeUnavailable, "evaluation server unavailable", err)
	case codes.DeadlineExceeded:
		return apperrors.Wrap(apperrors.CodeTimeout, "evaluation call timed out", err)
	default:
		return apperrors.Wrap(apperrors.CodeInternal, st.Message(), err)
	}
}
