package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/ILLUVRSE/mlops/mlops/internal/cloud"
	"github.com/ILLUVRSE/mlops/mlops/internal/config"
	"github.com/ILLUVRSE/mlops/mlops/internal/logging"
	"github.com/ILLUVRSE/mlops/mlops/internal/staging"
)

func main() {
	cfg, err := config.LoadStaging()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	logger, err := logging.New("resource-staging", cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	clients, err := cloud.NewClients(context.Background(), cfg.Region, cfg.MaxAttempts)
	if err != nil {
		logger.Fatalw("aws clients init", "error", err)
	}
	lambda.Start(cfn.LambdaWrap(staging.New(clients.Objects, logger).Handle))
}
