// Command p2pwatch connects to the P2P地震情報 realtime feed and prints
// received reports. It is both the reference integration of the client
// and a useful terminal watcher.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/otiai10/p2pws"
	"github.com/otiai10/p2pws/cache"
	"github.com/otiai10/p2pws/internal/config"
	"github.com/otiai10/p2pws/internal/version"
	"github.com/otiai10/p2pws/quake"
	"github.com/otiai10/p2pws/store"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	sandbox := flag.Bool("sandbox", false, "Connect to the sandbox endpoint")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Load .env.localdev if it exists (for local development).
	// Silently ignore if it doesn't (production uses real env vars).
	_ = godotenv.Load(".env.localdev")

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *sandbox {
		cfg.Client.Sandbox = true
	}
	if *debug {
		cfg.Client.Debug = true
	}

	level := zerolog.InfoLevel
	if cfg.Client.Debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := p2pws.Options{
		Debug:   cfg.Client.Debug,
		Sandbox: cfg.Client.Sandbox,
		Backoff: cfg.Client.Backoff(),
		Logger:  &logger,
	}
	if cfg.Client.Endpoint != "" {
		opts.Endpoint = p2pws.StaticEndpoint(cfg.Client.Endpoint)
	}
	switch {
	case cfg.Client.MaxAttempts < 0:
		opts.Retry = p2pws.Unbounded()
	case cfg.Client.MaxAttempts > 0:
		opts.Retry = p2pws.MaxAttempts(uint(cfg.Client.MaxAttempts))
	}

	if cfg.Store != nil {
		archive, err := store.NewArchive(ctx, store.Config{
			ProjectID:   cfg.Store.ProjectID,
			Database:    cfg.Store.Database,
			Credentials: cfg.Store.Credentials,
			Collection:  cfg.Store.Collection,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create firestore archive")
		}
		defer archive.Close()
		opts.Cache = archive
		logger.Info().Str("project", cfg.Store.ProjectID).Msg("archiving messages to firestore")
	} else if cfg.Client.CacheSize > 0 {
		lru, err := cache.NewLRU(cfg.Client.CacheSize)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create message cache")
		}
		opts.Cache = lru
	}

	client, err := p2pws.New(opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create client")
	}

	client.OnReady(func(ctx context.Context) error {
		logger.Info().Msg("connected to the realtime feed")
		return nil
	})
	client.OnEarthquake(func(ctx context.Context, report *quake.EarthquakeReport) error {
		event := logger.Info().Str("time", report.Time)
		if eq := report.Earthquake; eq != nil {
			event = event.
				Str("hypocenter", eq.Hypocenter.Name).
				Float64("magnitude", eq.Hypocenter.Magnitude).
				Str("maxScale", quake.ScaleToString(eq.MaxScale))
		}
		event.Msg("earthquake report")
		return nil
	})
	client.OnTsunami(func(ctx context.Context, tsunami *quake.Tsunami) error {
		if tsunami.Cancelled {
			logger.Info().Str("time", tsunami.Time).Msg("tsunami forecast cancelled")
			return nil
		}
		for _, area := range tsunami.Areas {
			logger.Warn().
				Str("area", area.Name).
				Str("grade", area.Grade).
				Bool("immediate", area.Immediate).
				Msg("tsunami forecast")
		}
		return nil
	})
	client.OnEEW(func(ctx context.Context, eew *quake.EEW) error {
		if eew.Test {
			return nil
		}
		event := logger.Warn().Str("time", eew.Time)
		if eq := eew.Earthquake; eq != nil {
			event = event.Str("hypocenter", eq.Hypocenter.Name)
		}
		event.Msg("earthquake early warning")
		return nil
	})
	client.OnClosed(func(ctx context.Context) error {
		logger.Info().Msg("disconnected")
		return nil
	})
	client.OnError(func(ctx context.Context, cause error) error {
		logger.Error().Err(cause).Msg("connection error")
		return nil
	})

	logger.Info().
		Str("commit", version.CommitHash).
		Bool("sandbox", cfg.Client.Sandbox).
		Msg("starting p2pwatch")

	if err := client.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("shutting down")
			return
		}
		logger.Fatal().Err(err).Msg("client stopped")
	}
}
