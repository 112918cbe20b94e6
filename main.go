package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pythagoras/config"
	"pythagoras/internal/metrics"
	"pythagoras/logger"
	"pythagoras/processor"
	"pythagoras/reader/okx"
	"pythagoras/writer"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.Logger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		return 1
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		return 1
	}

	mainLog := log.WithComponent("main")
	for _, key := range cfg.Defaulted {
		mainLog.WithFields(logger.Fields{"key": key}).Warn("environment variable not set, using default")
	}
	mainLog.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
		"instruments": cfg.Feed.Instruments,
	}).Info("starting pythagoras")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Address, log); err != nil {
				mainLog.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	dial := func(ctx context.Context) (processor.Feed, error) {
		f, err := okx.Connect(ctx, cfg.Feed.URL, okx.Options{
			Channel:          cfg.Feed.Channel,
			HandshakeTimeout: cfg.Feed.HandshakeTimeout,
			SubscribeRate:    cfg.Feed.SubscribeRate,
			UserAgent:        cfg.App.Name + "/" + cfg.App.Version,
		}, log)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	feed, err := dial(ctx)
	if err != nil {
		mainLog.WithError(err).Error("failed to connect to feed")
		return 1
	}

	mainLog.WithFields(logger.Fields{"endpoint": feed.Endpoint()}).Info("feed connected")

	sinks, err := writer.Open(ctx, cfg, log)
	if err != nil {
		_ = feed.Close()
		mainLog.WithError(err).Error("failed to open sinks")
		return 1
	}
	if cfg.Dispatch.Mode == config.DispatchBuffered {
		sinks = writer.WrapBuffered(sinks, cfg.Dispatch.Buffer, m, log)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		writer.CloseAll(closeCtx, sinks, log)
	}()

	opts := processor.Options{
		Instruments:          cfg.Feed.Instruments,
		MaxConsecutiveErrors: cfg.Feed.MaxConsecutiveErrors,
	}

	if rc := cfg.Feed.Reconnect; rc.Enabled {
		err = processor.NewSupervisor(dial, sinks, opts, processor.NewBackoff(rc), rc.MaxAttempts, m, log).Run(ctx, feed)
	} else {
		err = processor.NewDispatcher(feed, sinks, opts, m, log).Run(ctx)
		_ = feed.Close()
	}

	var fatal *processor.FatalError
	switch {
	case errors.As(err, &fatal):
		mainLog.WithError(fatal).Error("terminating")
		return 1
	case errors.Is(err, context.Canceled):
		mainLog.Info("shutdown signal received")
		return 0
	case err != nil:
		mainLog.WithError(err).Error("dispatcher stopped")
		return 1
	}
	return 0
}
