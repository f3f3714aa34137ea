package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"quantdesk/internal/config"
	"quantdesk/internal/gather"
	"quantdesk/internal/gather/us"
	"quantdesk/internal/store"
	"quantdesk/internal/util"
)

func main() {
	once := flag.Bool("once", false, "run a single pass and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(config.Path("config/quantdesk.yaml"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		log.Fatal("alpaca credentials are required (APCA_API_KEY_ID / APCA_API_SECRET_KEY)")
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format).With("service", "quantdesk-gather")
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *once, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("gatherer exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, once bool, logger *slog.Logger) error {
	interval, err := time.ParseDuration(cfg.Gather.Interval)
	if err != nil {
		return err
	}
	if once {
		interval = 0
	}

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	g, err := us.FromConfig(cfg, store.NewParquetStore(cfg.Storage.DataDir), db, logger)
	if err != nil {
		return err
	}

	logger.Info("starting gatherer", "exchange", cfg.Gather.Exchange, "start", cfg.Gather.StartDate, "interval", interval)
	return gather.RunEvery(ctx, g, interval, logger)
}
