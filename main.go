package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"predflow/cluster"
	appconfig "predflow/config"
	"predflow/internal/channel"
	"predflow/logger"
	"predflow/models"
	"predflow/processor"
	"predflow/reader"
	"predflow/reader/kalshi"
	"predflow/reader/polymarket"
	"predflow/writer"
)

func main() {
	log := logger.GetLogger()

	// .env files are a development convenience only
	appEnv := appconfig.AppEnvironment()
	if !appconfig.IsProductionLike(appEnv) {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warn("Error loading .env file")
		}
	}

	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := appconfig.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Predflow.Name,
		"version":     cfg.Predflow.Version,
		"environment": appEnv,
	}).Info("starting predflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Report.CloudWatch {
		logger.InitCloudWatch("", cfg.Predflow.Name, cfg.Logging.DashboardName)
	}
	if cfg.Report.Interval > 0 {
		logger.StartReport(ctx, log, cfg.Report.Interval)
	}

	channels := channel.NewChannels(
		cfg.Channels.TradeBuffer,
		cfg.Channels.ListingBuffer,
		cfg.Channels.RecordBuffer,
	)
	defer channels.Close()

	var streams []reader.Stream

	if cfg.Venues.Polymarket.Enabled {
		vc := cfg.Venues.Polymarket
		if vc.Streams.RestPoll {
			streams = append(streams, polymarket.NewPoller(vc, channels))
		}
		if vc.Streams.TradePush {
			streams = append(streams, polymarket.NewTradeStream(vc, channels))
		}
		if vc.Streams.BookPush {
			streams = append(streams, polymarket.NewBookStream(vc, channels))
		}
	}

	if cfg.Venues.Kalshi.Enabled {
		vc := cfg.Venues.Kalshi
		if vc.Streams.RestPoll {
			streams = append(streams, kalshi.NewPoller(vc, channels))
		}
		if vc.Streams.TradePush {
			streams = append(streams, kalshi.NewTradeStream(vc, channels))
		}
		if vc.Streams.BookPush {
			streams = append(streams, kalshi.NewTickerStream(vc, channels))
		}
	}

	registry := cluster.NewRegistry(cfg.Cluster.Threshold)
	orchestrator := processor.NewOrchestrator(cfg, channels, registry)

	var sinkRecords <-chan models.TradeRecord = channels.Records
	var archive *writer.Archive

	if cfg.Archive.Enabled {
		storeCh := make(chan models.TradeRecord, cfg.Channels.RecordBuffer)
		archiveCh := make(chan models.TradeRecord, cfg.Channels.RecordBuffer)
		go channel.TeeRecords(ctx, channels.Records, storeCh, archiveCh)
		sinkRecords = storeCh

		archive, err = writer.NewArchive(cfg, archiveCh)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
	}

	store, err := writer.NewStore(cfg, sinkRecords)
	if err != nil {
		log.WithError(err).Error("failed to create store")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	for _, s := range streams {
		wg.Add(1)
		go func(s reader.Stream) {
			defer wg.Done()
			if err := s.Start(ctx); err != nil {
				log.WithError(err).Warn("stream failed to start")
			}
		}(s)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := orchestrator.Start(ctx); err != nil {
			log.WithError(err).Warn("orchestrator failed to start")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := store.Start(ctx); err != nil {
			log.WithError(err).Warn("store failed to start")
		}
	}()

	if archive != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := archive.Start(ctx); err != nil {
				log.WithError(err).Warn("archive writer failed to start")
			}
		}()
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping streams")
	for _, s := range streams {
		s.Stop()
	}

	log.Info("stopping orchestrator")
	orchestrator.Stop()

	log.Info("stopping store")
	store.Stop()

	if archive != nil {
		log.Info("stopping archive writer")
		archive.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("predflow stopped")
}
