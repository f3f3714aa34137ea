// Package api hosts the quantdesk network surfaces: the REST handler built by
// httpapi and the quantdesk.Backtest gRPC service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"quantdesk/internal/config"
)

// shutdownTimeout bounds the graceful stop once the serve context ends.
const shutdownTimeout = 10 * time.Second

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	httpAddr string
	grpcAddr string
	http     *http.Server
	grpc     *grpc.Server
	log      *slog.Logger

	mu        sync.Mutex
	listeners []net.Listener
}

// NewServer creates a Server listening on the addresses in cfg. handler
// serves REST traffic and svc backs the gRPC service.
func NewServer(cfg config.Server, handler http.Handler, svc BacktestServer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "api")

	gs := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(log)))
	RegisterBacktestServer(gs, svc)

	return &Server{
		httpAddr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		grpcAddr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.GRPCPort)),
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpc: gs,
		log:  log,
	}
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	grpcLn, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve runs both servers on the given listeners until ctx is cancelled or
// either server fails, then shuts both down.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	s.mu.Lock()
	s.listeners = []net.Listener{httpLn, grpcLn}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("http listening", "addr", httpLn.Addr().String())
		if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.log.Info("grpc listening", "addr", grpcLn.Addr().String())
		if err := s.grpc.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	err := s.http.Shutdown(ctx)

	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
	}
	s.log.Info("api stopped")
	return err
}

// Addrs returns the bound HTTP and gRPC addresses once Serve has started.
func (s *Server) Addrs() (httpAddr, grpcAddr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) != 2 {
		return s.httpAddr, s.grpcAddr
	}
	return s.listeners[0].Addr().String(), s.listeners[1].Addr().String()
}
