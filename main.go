package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"depthwatch/config"
	"depthwatch/internal/book"
	"depthwatch/internal/engine"
	"depthwatch/internal/feed"
	"depthwatch/internal/feed/bybit"
	"depthwatch/internal/feed/mexc"
	"depthwatch/internal/models"
	"depthwatch/internal/server"
	"depthwatch/internal/span"
	"depthwatch/internal/store"
	"depthwatch/logger"
)

// runnable is the shared feed/engine lifecycle.
type runnable interface {
	Start(ctx context.Context) error
	Stop()
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present. Existing
	// environment values are never overridden.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to optional YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"symbols":         cfg.Monitor.Symbols,
		"depth":           cfg.Monitor.Depth,
		"live_monitoring": cfg.Monitor.LiveMonitoring,
	}).Info("starting depthwatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.StartReport(ctx, log, time.Duration(cfg.Monitor.LogIntervalMs)*time.Millisecond)

	stores, err := store.Open(cfg.Store)
	if err != nil {
		log.WithError(err).Error("failed to open stores")
		os.Exit(1)
	}
	defer stores.Close()

	tracker := span.NewTracker(stores, cfg.Monitor.SpanTradeProximityBps)
	broadcaster := server.NewBroadcaster()
	registry := book.NewRegistry()

	sinks := &feed.Sinks{
		OnTrade: func(t models.Trade) {
			if err := stores.Trades.Append(t); err != nil {
				log.WithError(err).Fatal("trade store write failed")
			}
			tracker.OnTrade(t)
			broadcaster.Broadcast("trade", t)
		},
		OnLiquidation: func(l models.Liquidation) {
			if err := stores.Liquidations.Append(l); err != nil {
				log.WithError(err).Fatal("liquidation store write failed")
			}
			broadcaster.Broadcast("liquidation", l)
		},
		OnOiFunding: func(o models.OiFunding) {
			if err := stores.OiFunding.Append(o); err != nil {
				log.WithError(err).Fatal("oi/funding store write failed")
			}
			broadcaster.Broadcast("oiFunding", o)
		},
	}

	metricsEngine := engine.NewEngine(cfg, registry, tracker, stores, broadcaster)

	var components []runnable
	if cfg.Monitor.LiveMonitoring {
		components = append(components,
			bybit.NewDepthReader(cfg, registry),
			bybit.NewTradeReader(cfg, sinks),
			bybit.NewLiquidationReader(cfg, sinks),
			bybit.NewTickerReader(cfg, sinks),
			mexc.NewDepthReader(cfg, registry),
			mexc.NewDepthPoller(cfg, registry),
			mexc.NewDealReader(cfg, sinks),
			mexc.NewLiquidationReader(cfg, sinks),
			metricsEngine,
		)
	} else {
		log.WithComponent("main").Info("live monitoring disabled; serving stores only")
	}

	for _, c := range components {
		if err := c.Start(ctx); err != nil {
			log.WithError(err).Warn("component failed to start")
		}
	}

	srv := server.NewServer(cfg, stores, broadcaster, tracker)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Run(ctx)
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("http server failed")
		}
	}

	log.Info("starting graceful shutdown")
	cancel()

	for i := len(components) - 1; i >= 0; i-- {
		components[i].Stop()
	}

	select {
	case <-serverErr:
	case <-time.After(10 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("depthwatch stopped")
}
