package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/ILLUVRSE/mlops/mlops/internal/cloud"
	"github.com/ILLUVRSE/mlops/mlops/internal/config"
	"github.com/ILLUVRSE/mlops/mlops/internal/logging"
	"github.com/ILLUVRSE/mlops/mlops/internal/models"
	"github.com/ILLUVRSE/mlops/mlops/internal/registry"
)

func main() {
	cfg, err := config.LoadRegistry()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	logger, err := logging.New("model-registry-hook", cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	clients, err := cloud.NewClients(context.Background(), cfg.Region, cfg.MaxAttempts)
	if err != nil {
		logger.Fatalw("aws clients init", "error", err)
	}
	hook := registry.NewHook(cfg.ModelPackageParameter, clients.Params, logger)

	lambda.Start(func(ctx context.Context, ev events.CloudWatchEvent) (string, error) {
		var detail models.ModelPackageEvent
		if err := json.Unmarshal(ev.Detail, &detail); err != nil {
			return "", fmt.Errorf("decode event detail: %w", err)
		}
		return hook.Handle(ctx, detail)
	})
}
