package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lanternfi/lantern-keeper/config"
	"github.com/lanternfi/lantern-keeper/internal/adapters/cetus"
	"github.com/lanternfi/lantern-keeper/internal/adapters/notify"
	"github.com/lanternfi/lantern-keeper/internal/adapters/storage"
	"github.com/lanternfi/lantern-keeper/internal/adapters/sui"
	"github.com/lanternfi/lantern-keeper/internal/api"
	"github.com/lanternfi/lantern-keeper/internal/keeper"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print executed trades as a full table")
	withAPI := flag.Bool("api", false, "serve the query API (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *withAPI {
		cfg.API.Enabled = true
	}
	setupLogger(cfg.Log)

	slog.Info("lantern keeper starting",
		"config", *configPath,
		"poll_interval", cfg.PollInterval(),
		"dispatch_interval", cfg.DispatchInterval(),
		"api", cfg.API.Enabled,
	)

	ledger, err := sui.NewClient(sui.Config{
		RPCURL:    cfg.Ledger.RPCURL,
		WSURL:     cfg.Ledger.WSURL,
		PackageID: cfg.Ledger.PackageID,
		DCAModule: cfg.Ledger.DCAModule,
		KeeperKey: cfg.Ledger.KeeperKey,
		GasBudget: cfg.Ledger.GasBudget,
	})
	if err != nil {
		slog.Error("failed to init ledger client", "err", err)
		os.Exit(1)
	}

	venue := cetus.NewClient(cfg.Venue.RPCURL, venuePairs(cfg.Venue.Pairs))

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	notifier := notify.NewConsole(*table)

	keeperCfg := keeper.DefaultConfig()
	keeperCfg.MaxRetries = cfg.Keeper.MaxRetries
	keeperCfg.RetryDelay = cfg.RetryDelay()
	keeperCfg.PollInterval = cfg.PollInterval()
	keeperCfg.StepPollInterval = cfg.StepPollInterval()
	keeperCfg.DispatchInterval = cfg.DispatchInterval()
	keeperCfg.BatchSize = cfg.Keeper.BatchSize
	keeperCfg.ConfirmationTimeout = cfg.ConfirmationTimeout()
	keeperCfg.EventPageSize = cfg.Keeper.EventPageSize

	k := keeper.New(keeperCfg, ledger, venue, store, notifier)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.API.Enabled {
		srv := api.New(cfg.API.Addr, store, venue, cfg.Venue.StableCoin)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				slog.Error("api server error", "err", err)
			}
		}()
	}

	if err := k.Run(ctx); err != nil {
		slog.Error("keeper exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("lantern keeper stopped cleanly")
}

// venuePairs mapea los pares del YAML al tipo del adapter.
func venuePairs(pairs []config.Pair) []cetus.Pair {
	out := make([]cetus.Pair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, cetus.Pair{
			Name:          p.Name,
			PoolID:        p.PoolID,
			Base:          p.Base,
			BaseDecimals:  p.BaseDecimals,
			Quote:         p.Quote,
			QuoteDecimals: p.QuoteDecimals,
		})
	}
	return out
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
