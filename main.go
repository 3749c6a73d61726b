package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradeflow/broker"
	"tradeflow/config"
	"tradeflow/engine"
	"tradeflow/indicator"
	"tradeflow/internal/channel"
	"tradeflow/internal/clock"
	"tradeflow/logger"
	"tradeflow/processor"
	"tradeflow/reader"
	"tradeflow/server"
	"tradeflow/strategy"
	"tradeflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	backfillWindow := flag.Duration("backfill", 48*time.Hour, "How far back to seed historical bars")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Tradeflow.Name,
		"version": cfg.Tradeflow.Version,
	}).Info("starting tradeflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Logging.CloudWatch.Region, cfg.Logging.CloudWatch.Namespace, cfg.Logging.CloudWatch.Dashboard)
		logger.CreateDefaultDashboard(ctx)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(
		cfg.Channels.RawBuffer,
		cfg.Channels.TickBuffer,
		cfg.Channels.IndexBuffer,
		cfg.Channels.BarBuffer,
	)
	defer channels.Close()

	var store writer.Store = writer.NopStore{}
	if cfg.Storage.Postgres.Enabled {
		pg, err := writer.NewPostgresStore(cfg.Storage.Postgres.DSN)
		if err != nil {
			log.WithError(err).Error("failed to connect to postgres")
			os.Exit(1)
		}
		store = pg
	} else {
		log.WithComponent("main").Info("postgres storage disabled; trades are not persisted")
	}
	defer store.Close()

	var archiver *writer.Archiver
	if cfg.Storage.S3.Enabled {
		archiver, err = writer.NewArchiver(cfg, channels)
		if err != nil {
			log.WithError(err).Error("failed to create S3 archiver")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping bar archival")
	}

	var srv *server.Server
	var broadcaster engine.Broadcaster
	if cfg.Server.Enabled {
		srv = server.NewServer(cfg)
		broadcaster = srv
	}

	var orders engine.OrderPlacer
	if cfg.Broker.URL != "" {
		orders = broker.NewClient(cfg)
	}

	feed := reader.NewFeed(cfg, channels)
	decoder := reader.NewDecoder(cfg, channels)
	aggregator := processor.NewAggregator(cfg, channels, time.Local)
	indicators := indicator.NewEngine(cfg.Indicator)

	orchestrator := engine.NewOrchestrator(cfg, channels, aggregator, clock.System{}, store, broadcaster, orders)
	for _, sc := range cfg.Strategies {
		strat, err := strategy.New(sc, indicators, clock.System{})
		if err != nil {
			log.WithError(err).Error("failed to build strategy")
			os.Exit(1)
		}
		if err := orchestrator.Register(strat); err != nil {
			log.WithError(err).Error("failed to register strategy")
			os.Exit(1)
		}
		if err := orchestrator.StartSimulation(strat.ID()); err != nil {
			log.WithError(err).Error("failed to start simulation")
			os.Exit(1)
		}
	}

	if cfg.History.URL != "" {
		history := reader.NewHistory(cfg)
		now := time.Now()
		orchestrator.Backfill(ctx, history, now.Add(-*backfillWindow), now)
	} else if cfg.Storage.Postgres.Enabled {
		orchestrator.BackfillFromStore(ctx, store, cfg.Aggregator.WindowSize)
	}

	if srv != nil {
		if err := srv.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start websocket server")
			os.Exit(1)
		}
	}
	if archiver != nil {
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start S3 archiver")
			os.Exit(1)
		}
	}
	if err := orchestrator.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start orchestrator")
		os.Exit(1)
	}
	if err := decoder.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start decoder")
		os.Exit(1)
	}
	if err := feed.Start(ctx); err != nil {
		log.WithError(err).Error("failed to connect to market feed")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-feed.Fatal():
		log.WithError(err).Error("market feed lost")
		orchestrator.EmergencyStop("market feed unavailable", "feed-monitor")
	}

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping market feed")
	feed.Stop()

	log.Info("stopping decoder")
	decoder.Stop()

	log.Info("stopping orchestrator")
	orchestrator.Stop()

	if archiver != nil {
		log.Info("stopping S3 archiver")
		archiver.Stop()
	}
	if srv != nil {
		log.Info("stopping websocket server")
		srv.Stop()
	}

	log.Info("tradeflow shutdown complete")
}
