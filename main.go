package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"sales-forecasting-platform/alerts"
	"sales-forecasting-platform/api"
	"sales-forecasting-platform/cache"
	"sales-forecasting-platform/config"
	"sales-forecasting-platform/forecast"
	"sales-forecasting-platform/ingestion"
	"sales-forecasting-platform/registry"
	"sales-forecasting-platform/scheduler"
	"sales-forecasting-platform/store"
)

func main() {
	configPath := flag.String("config", "config.json", "path to configuration file")
	flag.Parse()

	// .env is optional; real deployments set environment variables directly.
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	if level, err := logrus.ParseLevel(os.Getenv("SFP_LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}

	log.Info("starting sales forecasting platform")

	configManager, err := config.NewConfigManager(*configPath)
	if err != nil {
		log.WithError(err).Fatal("configuration failed")
	}
	cfg := configManager.GetConfig()

	st, err := store.Open(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("database failed")
	}
	defer st.Close()
	log.WithFields(logrus.Fields{
		"dsn_set": cfg.Database.DSN != "",
		"path":    cfg.Database.Path,
	}).Info("database ready")

	engine := forecast.NewEngine(forecast.Config{
		SeasonalPeriod:  cfg.Forecasting.SeasonalPeriod,
		MinTrainPoints:  cfg.Forecasting.MinTrainPoints,
		MaxTrainPoints:  cfg.Forecasting.MaxTrainPoints,
		EnabledModels:   cfg.Forecasting.EnabledModels,
		EnsembleMethod:  cfg.Forecasting.EnsembleMethod,
		ValidationSplit: cfg.Forecasting.ValidationSplit,
		ConfidenceLevel: cfg.Forecasting.ConfidenceLevel,
	})

	artifacts, err := registry.NewArtifactStore(cfg.Forecasting.ArtifactPath)
	if err != nil {
		log.WithError(err).Fatal("artifact store failed")
	}
	reg := registry.New(st, engine, artifacts, cfg.Forecasting, log)

	forecastCache := cache.New(cfg.Redis, log)
	defer forecastCache.Close()
	if cfg.Redis.Enabled {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := forecastCache.Ping(pingCtx); err != nil {
			log.WithError(err).Warn("redis unreachable, forecasts will be recomputed")
		}
		cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processor := ingestion.NewProcessor(st, cfg.Ingestion, log)
	if err := processor.Start(ctx); err != nil {
		log.WithError(err).Fatal("ingestion failed to start")
	}

	broker := alerts.NewBroker()
	defer broker.Close()

	var publisher *alerts.AMQPPublisher
	if cfg.Alerts.AMQPEnabled {
		publisher = alerts.NewAMQPPublisher(cfg.Alerts.AMQPURL, cfg.Alerts.AMQPExchange, log)
		defer publisher.Close()

		alertCh, unsubscribe := broker.Subscribe()
		defer unsubscribe()
		go publisher.Run(ctx, alertCh)
		log.WithField("exchange", cfg.Alerts.AMQPExchange).Info("amqp alert publisher enabled")
	}

	evaluator := alerts.NewEvaluator(st, reg, engine, broker, cfg.Alerts, log)

	sched := scheduler.New(st, reg, engine, evaluator, forecastCache, cfg.Scheduler, cfg.Forecasting, log)
	if err := sched.Start(ctx); err != nil {
		log.WithError(err).Fatal("scheduler failed to start")
	}

	apiServer := api.NewServer(st, processor, reg, engine, forecastCache, sched, cfg, log)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	go func() {
		log.WithField("addr", cfg.Server.Port).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	// Stop producers first so the final flush lands in the store, then the
	// HTTP server, then wait for any in-flight training.
	sched.Stop()
	processor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server forced shutdown")
	}

	reg.Wait()
	log.Info("stopped")
}
