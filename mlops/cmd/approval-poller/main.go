package main

import (
	"context"
	"errors"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/ILLUVRSE/mlops/mlops/internal/cloud"
	"github.com/ILLUVRSE/mlops/mlops/internal/config"
	mlevents "github.com/ILLUVRSE/mlops/mlops/internal/events"
	"github.com/ILLUVRSE/mlops/mlops/internal/gate"
	"github.com/ILLUVRSE/mlops/mlops/internal/logging"
	"github.com/ILLUVRSE/mlops/mlops/internal/store"
)

func main() {
	cfg, err := config.LoadGate()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	logger, err := logging.New("approval-poller", cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	clients, err := cloud.NewClients(ctx, cfg.Region, cfg.MaxAttempts)
	if err != nil {
		logger.Fatalw("aws clients init", "error", err)
	}

	pcfg := gate.PollerConfig{
		PipelineName: cfg.PipelineName,
		ModelName:    cfg.ModelName,
		Threshold:    cfg.Threshold,
		Logger:       logger,
	}
	if cfg.DatabaseURL != "" {
		st, db, err := store.OpenPG(ctx, cfg.DatabaseURL)
		if err != nil {
			// the ledger is optional for a tick; decide without it
			logger.Errorw("decision ledger unavailable", "error", err)
		} else {
			defer db.Close()
			pcfg.Recorder = st
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := mlevents.NewKafkaPublisher(mlevents.KafkaPublisherConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			logger.Fatalw("kafka publisher init", "error", err)
		}
		defer pub.Close()
		pcfg.Publisher = pub
	}

	poller := gate.NewPoller(pcfg, clients.Pipeline, clients.Processing, clients.Objects, clients.Scheduler)
	lambda.Start(handler(poller, logger))
}

func handler(p *gate.Poller, logger *zap.SugaredLogger) func(context.Context, events.CloudWatchEvent) (string, error) {
	return func(ctx context.Context, ev events.CloudWatchEvent) (string, error) {
		out, err := p.Poll(ctx)
		if errors.Is(err, gate.ErrNoPendingApproval) {
			// a tick racing a resolved approval; nothing to do
			logger.Warnw("no pending approval", "rule", ev.Resources, "error", err)
			return err.Error(), nil
		}
		if err != nil {
			return "", err
		}
		return out.Message(), nil
	}
}
