package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"quantdesk/internal/domain"
	"quantdesk/internal/engine"
	"quantdesk/internal/store"
	"quantdesk/internal/strategy"
	"quantdesk/internal/trace"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "quantdesk.Backtest"

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// GetRunRequest identifies a stored run.
type GetRunRequest struct {
	ID string `json:"id"`
}

// ListRunsRequest pages through stored runs.
type ListRunsRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ListRunsResponse is a page of stored runs without results.
type ListRunsResponse struct {
	Runs []domain.BacktestRun `json:"runs"`
}

// ListStrategiesRequest is empty.
type ListStrategiesRequest struct{}

// ListStrategiesResponse carries the strategy catalog.
type ListStrategiesResponse struct {
	Strategies []strategy.Definition `json:"strategies"`
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// BacktestServer is the server API of the quantdesk.Backtest service.
type BacktestServer interface {
	RunBacktest(ctx context.Context, req *engine.Request) (*domain.BacktestRun, error)
	GetRun(ctx context.Context, req *GetRunRequest) (*domain.BacktestRun, error)
	ListRuns(ctx context.Context, req *ListRunsRequest) (*ListRunsResponse, error)
	ListStrategies(ctx context.Context, req *ListStrategiesRequest) (*ListStrategiesResponse, error)
}

// Runner is the engine functionality the gRPC service exposes.
// *engine.Engine implements it.
type Runner interface {
	RunBacktest(ctx context.Context, req engine.Request) (*domain.BacktestRun, error)
	GetRun(ctx context.Context, id string) (*domain.BacktestRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]domain.BacktestRun, error)
	Strategies() []strategy.Definition
}

var _ Runner = (*engine.Engine)(nil)

// BacktestService implements BacktestServer on top of a Runner.
type BacktestService struct {
	runner Runner
}

// NewBacktestService creates a BacktestService backed by the given runner.
func NewBacktestService(runner Runner) *BacktestService {
	return &BacktestService{runner: runner}
}

// RunBacktest executes and stores a backtest.
func (s *BacktestService) RunBacktest(ctx context.Context, req *engine.Request) (*domain.BacktestRun, error) {
	run, err := s.runner.RunBacktest(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return run, nil
}

// GetRun returns a stored run.
func (s *BacktestService) GetRun(ctx context.Context, req *GetRunRequest) (*domain.BacktestRun, error) {
	run, err := s.runner.GetRun(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return run, nil
}

// ListRuns returns a page of stored runs.
func (s *BacktestService) ListRuns(ctx context.Context, req *ListRunsRequest) (*ListRunsResponse, error) {
	runs, err := s.runner.ListRuns(ctx, req.Limit, req.Offset)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListRunsResponse{Runs: runs}, nil
}

// ListStrategies returns the strategy catalog.
func (s *BacktestService) ListStrategies(_ context.Context, _ *ListStrategiesRequest) (*ListStrategiesResponse, error) {
	return &ListStrategiesResponse{Strategies: s.runner.Strategies()}, nil
}

// toStatus maps engine errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, strategy.ErrUnknownStrategy),
		errors.Is(err, strategy.ErrInvalidParameter),
		errors.Is(err, strategy.ErrInvalidConfig):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

// RegisterBacktestServer registers srv on the given gRPC server instance.
func RegisterBacktestServer(gs grpc.ServiceRegistrar, srv BacktestServer) {
	gs.RegisterService(&backtestServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](
	method string,
	call func(BacktestServer, context.Context, *Req) (Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BacktestServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BacktestServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var backtestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("RunBacktest", BacktestServer.RunBacktest),
		unaryHandler("GetRun", BacktestServer.GetRun),
		unaryHandler("ListRuns", BacktestServer.ListRuns),
		unaryHandler("ListStrategies", BacktestServer.ListStrategies),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quantdesk/backtest",
}

// LoggingInterceptor logs and traces every unary call.
func LoggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, span := trace.StartSpan(ctx, "grpc"+info.FullMethod,
			attribute.String("rpc.method", info.FullMethod))
		defer span.End()

		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		log.Debug("grpc call", "method", info.FullMethod, "code", code.String(), "elapsed", time.Since(start))
		if err != nil && code == codes.Internal {
			span.RecordError(err)
			log.Error("grpc call failed", "method", info.FullMethod, "error", err)
		}
		return resp, err
	}
}
