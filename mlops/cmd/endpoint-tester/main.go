package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/ILLUVRSE/mlops/mlops/internal/cloud"
	"github.com/ILLUVRSE/mlops/mlops/internal/config"
	"github.com/ILLUVRSE/mlops/mlops/internal/endpointtest"
	"github.com/ILLUVRSE/mlops/mlops/internal/gate"
	"github.com/ILLUVRSE/mlops/mlops/internal/logging"
	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

type response struct {
	StatusCode      int                 `json:"statusCode"`
	AvgResponseTime string              `json:"AvgResponseTime,omitempty"`
	Result          endpointtest.Result `json:"result"`
}

func main() {
	cfg, err := config.LoadEndpointTest()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	logger, err := logging.New("endpoint-tester", cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	clients, err := cloud.NewClients(context.Background(), cfg.Region, cfg.MaxAttempts)
	if err != nil {
		logger.Fatalw("aws clients init", "error", err)
	}
	tester := endpointtest.New(endpointtest.Config{
		PipelineName:  cfg.PipelineName,
		Bucket:        cfg.Bucket,
		Endpoint:      cfg.Endpoint,
		TestData:      cfg.TestData,
		Mode:          cfg.Mode,
		ResultsPrefix: cfg.ResultsPrefix,
		Logger:        logger,
	}, clients.Pipeline, clients.Processing, clients.Objects, clients.Endpoint)

	lambda.Start(func(ctx context.Context, ev models.PipelineJobEvent) (response, error) {
		var requestID string
		if lc, ok := lambdacontext.FromContext(ctx); ok {
			requestID = lc.AwsRequestID
		}
		if ev.Job.ID == "" {
			return response{}, fmt.Errorf("%w: event carries no CodePipeline job id", gate.ErrConfiguration)
		}
		res, err := tester.Run(ctx, ev.Job.ID, requestID)
		if err != nil {
			if errors.Is(err, gate.ErrReport) {
				return response{}, err
			}
			return response{StatusCode: 500}, nil
		}
		return response{StatusCode: 200, AvgResponseTime: res.AvgResponseTime(), Result: res}, nil
	})
}
