// Package grpcserver serves the evaluation service over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	pb "github.com/ricesearch/rice-eval/api/proto/evalpb"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// requestIDMetadataKey carries the caller's request ID.
const requestIDMetadataKey = "x-request-id"

// Config holds the gRPC server configuration.
type Config struct {
	// TCPAddr is the TCP address to listen on (e.g., ":50051").
	TCPAddr string

	// MaxRecvMsgSize is the maximum message size in bytes (default: 16MB).
	MaxRecvMsgSize int

	// MaxSendMsgSize is the maximum message size in bytes (default: 16MB).
	MaxSendMsgSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TCPAddr:        ":50051",
		MaxRecvMsgSize: 16 * 1024 * 1024,
		MaxSendMsgSize: 16 * 1024 * 1024,
	}
}

// Server implements riceeval.v1.EvaluationService.
type Server struct {
	cfg        Config
	log        *logger.Logger
	svc        *evaluation.Service
	grpcServer *grpc.Server
}

// New creates a gRPC server backed by svc.
func New(cfg Config, log *logger.Logger, svc *evaluation.Service) *Server {
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = DefaultConfig().TCPAddr
	}
	if cfg.MaxRecvMsgSize == 0 {
		cfg.MaxRecvMsgSize = DefaultConfig().MaxRecvMsgSize
	}
	if cfg.MaxSendMsgSize == 0 {
		cfg.MaxSendMsgSize = DefaultConfig().MaxSendMsgSize
	}
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		cfg: cfg,
		log: log,
		svc: svc,
	}

	s.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.MaxSendMsgSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Second,
			Time:                  10 * time.Second,
			Timeout:               3 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(s.loggingInterceptor),
	)
	pb.RegisterEvaluationServiceServer(s.grpcServer, s)

	return s
}

// Start listens on the configured TCP address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.TCPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on TCP %s: %w", s.cfg.TCPAddr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln. A graceful stop returns nil.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("gRPC server listening", "addr", ln.Addr().String())
	if err := s.grpcServer.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	s.log.Info("Stopping gRPC server...")
	s.grpcServer.GracefulStop()
}

// Evaluate scores a batch and records the snapshot.
func (s *Server) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req evaluation.EvaluateRequest
	if err := pb.FromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := req.Validate(); err != nil {
		return nil, toStatus(err)
	}

	snapshot, err := s.svc.Evaluate(ctx, evaluation.Request(req))
	if err != nil {
		return nil, toStatus(err)
	}

	out, err := pb.ToStruct(snapshot)
	if err != nil {
		return nil, toStatus(apperrors.InternalError("encode snapshot", err))
	}
	return out, nil
}

// History returns every recorded snapshot.
func (s *Server) History(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snapshots := s.svc.History()
	out, err := pb.ToStruct(evaluation.HistoryResponse{
		Count:     len(snapshots),
		Snapshots: snapshots,
	})
	if err != nil {
		return nil, toStatus(apperrors.InternalError("encode history", err))
	}
	return out, nil
}

// loggingInterceptor propagates x-request-id into the context and logs
// each call.
func (s *Server) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(requestIDMetadataKey); len(ids) > 0 && ids[0] != "" {
			ctx = logger.ContextWithRequestID(ctx, ids[0])
		}
	}

	start := time.Now()
	resp, err := handler(ctx, req)

	log := s.log.WithContext(ctx)
	code := status.Code(err)
	if code == codes.Internal || code == codes.Unknown {
		log.Warn("gRPC call failed", "method", info.FullMethod, "code", code.String(), "duration", time.Since(start))
	} else {
		log.Debug("gRPC call", "method", info.FullMethod, "code", code.String(), "duration", time.Since(start))
	}
	return resp, err
}

// toStatus maps application errors onto gRPC status codes. Validation
// details travel as "key=value" pairs appended to the message.
func toStatus(err error) error {
	appErr, ok := apperrors.As(err)
	if !ok {
		return status.Error(codes.Internal, "internal error")
	}

	var code codes.Code
	switch appErr.Code {
	case apperrors.CodeValidation, apperrors.CodeInvalidRequest:
		code = codes.InvalidArgument
	case apperrors.CodeNotFound:
		code = codes.NotFound
	case apperrors.CodeRateLimited:
		code = codes.ResourceExhausted
	case apperrors.CodeUnavailable, apperrors.CodeBusError:
		code = codes.Unavailable
	case apperrors.CodeTimeout:
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}

	msg := appErr.Code + ": " + appErr.Message
	for _, k := range slices.Sorted(maps.Keys(appErr.Details)) {
		msg += fmt.Sprintf(" %s=%s", k, appErr.Details[k])
	}
	return status.Error(code, msg)
}
