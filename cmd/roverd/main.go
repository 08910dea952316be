// Command roverd hosts the rescue rover decision core: it ingests telemetry
// and sensor readings, runs one mission controller per rover and fans the
// chosen actions out to the configured sinks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rescuerover/internal/api"
	"rescuerover/internal/config"
	"rescuerover/internal/engine"
	"rescuerover/internal/events"
	"rescuerover/internal/hub"
	"rescuerover/internal/ingest"
	"rescuerover/internal/logging"
	"rescuerover/internal/model"
	"rescuerover/internal/reports"
	"rescuerover/internal/roverapi"
	"rescuerover/internal/storage"
)

var version = "dev"

func main() {
	var configPath string
	flag.StringVar(&configPath, "c", "roverd.yaml", "Path to the configuration file")
	flag.Parse()

	cfgManager, err := config.NewManager(config.ResolvePath(configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration file %s: %v\n", configPath, err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()
	logger := logging.NewLoggerWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgManager, logger); err != nil {
		logger.Error(err.Error())
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgManager *config.Manager, logger *slog.Logger) error {
	cfg := cfgManager.Get()
	logger.Info("starting roverd", "version", version, "config", cfgManager.Path())

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("storage init: %w", err)
		}
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	reportsStore := reports.NewStore(cfg.Reports.StoreLimit)
	eventsStore := events.NewStore(cfg.Events.StoreLimit)
	eng := engine.NewEngine(cfg, logger, reportsStore, eventsStore, store)

	liveHub := hub.New(logger)
	go liveHub.Run(ctx)
	eng.AddSink(liveHub)
	eng.AddPublisher(liveHub)

	if cfg.Actions.Kafka.Enabled {
		sink := engine.NewKafkaSink(cfg.Actions.Kafka)
		defer sink.Close()
		eng.AddSink(sink)
		logger.Info("kafka action sink enabled", "brokers", cfg.Actions.Kafka.Brokers, "topic", cfg.Actions.Kafka.Topic)
	}

	var roverClient *roverapi.Client
	if cfg.Actions.RoverAPI || cfg.RoverAPI.Poll {
		roverClient, err = roverapi.New(cfg.RoverAPI, cfg.Power, logger)
		if err != nil {
			return fmt.Errorf("rover api: %w", err)
		}
	}
	if cfg.Actions.RoverAPI {
		eng.AddSink(roverClient)
		logger.Info("rover api action sink enabled", "base_url", cfg.RoverAPI.BaseURL)
	}

	in := make(chan model.Event, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, in)

	ingest.StartREST(ctx, cfgManager, in, logger)
	ingest.StartSyslog(ctx, cfgManager, in, logger)
	ingest.StartTCPStream(ctx, cfgManager, in, logger)
	ingest.StartFileTail(ctx, cfgManager, in, logger)
	ingest.StartKafka(ctx, cfgManager, in, logger)
	if roverClient != nil {
		ingest.StartRoverAPIPoller(ctx, cfgManager, roverClient, in, logger)
	}

	api.Start(ctx, cfgManager, reportsStore, eventsStore, eng, liveHub.ServeWS, logger, version)

	stop := make(chan struct{})
	go cfgManager.Watch(3*time.Second, func(next *config.Config) {
		eng.UpdateConfig(next)
		logger.Info("config reloaded", "path", cfgManager.Path())
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, stop)

	<-ctx.Done()
	close(stop)
	logger.Info("shutting down")
	return nil
}
