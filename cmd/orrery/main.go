package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/star/orrery/internal/api"
	"github.com/star/orrery/internal/bodies"
	"github.com/star/orrery/internal/config"
	"github.com/star/orrery/internal/ephemeris"
	"github.com/star/orrery/internal/logging"
	"github.com/star/orrery/internal/metrics"
	"github.com/star/orrery/internal/stream"
	"github.com/star/orrery/internal/supervisor"
	"github.com/star/orrery/internal/view"
	"github.com/star/orrery/web"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: $ORRERY_CONFIG or ./orrery.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orrery: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LoggingConfig())
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("orrery stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("orrery stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	registry := bodies.DefaultRegistry()

	var cache *ephemeris.Cache
	if cfg.Cache.Enabled {
		c, err := ephemeris.OpenCache(cfg.Cache.Dir, cfg.Cache.MaxAge, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := c.Close(); err != nil {
				logger.Warn("closing ephemeris cache", "error", err)
			}
		}()
		cache = c
		logger.Info("ephemeris cache opened",
			"dir", cfg.Cache.Dir,
			"in_memory", cfg.Cache.Dir == "",
			"entries", c.Len(),
			"max_age", cfg.Cache.MaxAge.String(),
		)
	}

	fetcher := ephemeris.NewFetcher(cfg.FetcherConfig(), logger)
	client := ephemeris.NewClient(fetcher, cache, cfg.ClientConfig(), logger)

	viewCfg, err := cfg.ViewConfig()
	if err != nil {
		return err
	}
	hub := stream.NewHub()
	store := ephemeris.NewStore()
	controller := view.New(viewCfg, registry, client, hub, store, logger)

	frames := stream.NewHandler(hub, registry, cfg.StreamConfig(), logger)
	srv := api.NewServer(cfg.APIConfig(), api.Deps{
		Controller: controller,
		Registry:   registry,
		Store:      store,
		Frames:     frames.HandleFrames,
		Web:        web.Content,
	}, logger)

	tree := supervisor.New(logger, supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddEngineService(controller)
	if cache != nil {
		tree.AddEngineService(&ephemeris.GCService{Cache: cache, Interval: cfg.Cache.GCInterval})
	}
	tree.AddAPIService(srv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reportAge(ctx, store)

	logger.Info("starting orrery",
		"addr", cfg.Server.Addr,
		"horizons", fetcher.BaseURL(),
		"bodies", registry.Len(),
		"auth_enabled", cfg.Auth.Enabled,
		"default_range", viewCfg.InitialRange.Key(),
	)

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logger.Warn("services did not stop in time", "services", fmt.Sprint(report))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// reportAge keeps the ephemeris age gauge current.
func reportAge(ctx context.Context, store *ephemeris.Store) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if age := store.AgeSeconds(); age >= 0 {
				metrics.SetEphemerisAge(age)
			}
		case <-ctx.Done():
			return
		}
	}
}
