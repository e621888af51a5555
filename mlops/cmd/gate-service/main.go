package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ILLUVRSE/mlops/mlops/internal/cloud"
	"github.com/ILLUVRSE/mlops/mlops/internal/config"
	"github.com/ILLUVRSE/mlops/mlops/internal/events"
	"github.com/ILLUVRSE/mlops/mlops/internal/gate"
	"github.com/ILLUVRSE/mlops/mlops/internal/httpserver"
	"github.com/ILLUVRSE/mlops/mlops/internal/logging"
	"github.com/ILLUVRSE/mlops/mlops/internal/store"
)

func main() {
	cfg, err := config.LoadService()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	logger, err := logging.New("gate-service", cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	var st store.Store = store.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pg, db, err := store.OpenPG(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalw("decision ledger init", "error", err)
		}
		defer db.Close()
		st = pg
	} else {
		logger.Warnw("DATABASE_URL not set, decisions are kept in memory")
	}

	clients, err := cloud.NewClients(ctx, cfg.Region, cfg.MaxAttempts)
	if err != nil {
		logger.Fatalw("aws clients init", "error", err)
	}
	pcfg := gate.PollerConfig{
		PipelineName: cfg.PipelineName,
		ModelName:    cfg.ModelName,
		Threshold:    cfg.Threshold,
		Logger:       logger,
		Recorder:     st,
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := events.NewKafkaPublisher(events.KafkaPublisherConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			logger.Fatalw("kafka publisher init", "error", err)
		}
		defer pub.Close()
		pcfg.Publisher = pub
	}
	poller := gate.NewPoller(pcfg, clients.Pipeline, clients.Processing, clients.Objects, clients.Scheduler)

	server := httpserver.New(cfg, poller, st, logger)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infow("gate service listening", "addr", cfg.Addr, "pipeline", cfg.PipelineName, "model", cfg.ModelName)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, logger.Infow)
}

func waitForShutdown(srv *http.Server, logf func(string, ...interface{})) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logf("graceful shutdown failed", "error", err)
	}
}
