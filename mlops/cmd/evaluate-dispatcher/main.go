package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.uber.org/zap"

	"github.com/ILLUVRSE/mlops/mlops/internal/cloud"
	"github.com/ILLUVRSE/mlops/mlops/internal/config"
	"github.com/ILLUVRSE/mlops/mlops/internal/gate"
	"github.com/ILLUVRSE/mlops/mlops/internal/logging"
	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

func main() {
	cfg, err := config.LoadGate()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	logger, err := logging.New("evaluate-dispatcher", cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	clients, err := cloud.NewClients(context.Background(), cfg.Region, cfg.MaxAttempts)
	if err != nil {
		logger.Fatalw("aws clients init", "error", err)
	}
	dispatcher := gate.NewDispatcher(gate.DispatcherConfig{
		PipelineName: cfg.PipelineName,
		ModelName:    cfg.ModelName,
		Bucket:       cfg.Bucket,
		Region:       cfg.Region,
		Logger:       logger,
	}, clients.Pipeline, clients.Processing, clients.Objects, clients.Scheduler)

	lambda.Start(handler(dispatcher, logger))
}

// handler fails the invocation only when the outcome could not be reported;
// reported failures are already visible on the pipeline job.
func handler(d *gate.Dispatcher, logger *zap.SugaredLogger) func(context.Context, models.PipelineJobEvent) (string, error) {
	return func(ctx context.Context, ev models.PipelineJobEvent) (string, error) {
		var requestID string
		if lc, ok := lambdacontext.FromContext(ctx); ok {
			requestID = lc.AwsRequestID
		}
		if ev.Job.ID == "" {
			return "", fmt.Errorf("%w: event carries no CodePipeline job id", gate.ErrConfiguration)
		}
		if _, err := d.Dispatch(ctx, ev.Job, requestID); err != nil {
			if errors.Is(err, gate.ErrReport) {
				return "", err
			}
			logger.Warnw("dispatch reported as job failure", "jobId", ev.Job.ID, "requestId", requestID)
		}
		return "Done", nil
	}
}
