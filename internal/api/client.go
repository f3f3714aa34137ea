package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"quantdesk/internal/domain"
	"quantdesk/internal/engine"
	"quantdesk/internal/strategy"
)

// Client is a gRPC client for the quantdesk.Backtest service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for the server at addr. Extra options are appended
// after the insecure transport and JSON codec defaults.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out)
}

// RunBacktest executes a backtest on the server and returns the stored run.
func (c *Client) RunBacktest(ctx context.Context, req engine.Request) (*domain.BacktestRun, error) {
	out := new(domain.BacktestRun)
	if err := c.invoke(ctx, "RunBacktest", &req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRun fetches a stored run by ID.
func (c *Client) GetRun(ctx context.Context, id string) (*domain.BacktestRun, error) {
	out := new(domain.BacktestRun)
	if err := c.invoke(ctx, "GetRun", &GetRunRequest{ID: id}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListRuns returns a page of stored runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit, offset int) ([]domain.BacktestRun, error) {
	out := new(ListRunsResponse)
	if err := c.invoke(ctx, "ListRuns", &ListRunsRequest{Limit: limit, Offset: offset}, out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// ListStrategies returns the server's strategy catalog.
func (c *Client) ListStrategies(ctx context.Context) ([]strategy.Definition, error) {
	out := new(ListStrategiesResponse)
	if err := c.invoke(ctx, "ListStrategies", &ListStrategiesRequest{}, out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}
