package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"quantdesk/internal/api"
	"quantdesk/internal/config"
	"quantdesk/internal/engine"
	"quantdesk/internal/gather/us"
	"quantdesk/internal/httpapi"
	"quantdesk/internal/store"
	"quantdesk/internal/strategy"
	"quantdesk/internal/strategy/builtins"
	"quantdesk/internal/trace"
	"quantdesk/internal/util"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(config.Path("config/quantdesk.yaml"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format).With("service", "quantdesk-server")
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tp, err := trace.Init(ctx, trace.Options{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
	})
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.WithoutCancel(ctx))

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	sizer, err := engine.NewSizer(cfg.Backtest.Sizing, cfg.Backtest.TradeSize, cfg.Backtest.MaxPositionPct)
	if err != nil {
		return err
	}
	bt := strategy.NewBacktester(bars, builtins.NewRegistry(), strategy.Options{
		CommissionRate: cfg.Backtest.CommissionRate,
		Sizer:          sizer,
		Logger:         logger,
	})
	eng := engine.NewEngine(bt, bars, db, db, engine.Options{
		InitialCapital: cfg.Backtest.InitialCapital,
		Logger:         logger,
	})

	rest := httpapi.NewServer(eng, logger)
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		g, err := us.FromConfig(cfg, bars, db, logger)
		if err != nil {
			return err
		}
		rest.WithDownloader(g)
	} else {
		logger.Warn("alpaca credentials not set, bar download disabled")
	}
	srv := api.NewServer(cfg.Server, rest.Handler(), api.NewBacktestService(eng), logger)

	logger.Info("quantdesk-server starting",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"grpc_port", cfg.Server.GRPCPort,
		"data_dir", cfg.Storage.DataDir,
		"sizing", cfg.Backtest.Sizing,
	)
	return srv.ListenAndServe(ctx)
}
