package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ILLUVRSE/mlops/mlops/internal/cloud"
	"github.com/ILLUVRSE/mlops/mlops/internal/config"
	"github.com/ILLUVRSE/mlops/mlops/internal/logging"
	"github.com/ILLUVRSE/mlops/mlops/internal/stageconfig"
)

func main() {
	cfg, err := config.LoadStageConfig()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	defImport, defExport := stageconfig.DefaultPaths(cfg.SourceDir, cfg.Stage)

	opts := stageconfig.Options{
		Stage:                 cfg.Stage,
		ModelPackageParameter: cfg.ModelPackageParameter,
	}
	flag.StringVar(&opts.PipelineName, "pipeline-name", cfg.PipelineName, "pipeline name")
	flag.StringVar(&opts.ModelName, "model-name", cfg.ModelName, "model name")
	flag.StringVar(&opts.ImageTag, "image-tag", cfg.ImageTag, "model image tag (Dev)")
	flag.StringVar(&opts.ModelGroup, "model-package-group-name", cfg.ModelGroup, "model package group (Dev)")
	flag.StringVar(&opts.ContainerRegistryURI, "container-registry-uri", cfg.ContainerRegistryURI, "model image repository (Dev)")
	flag.StringVar(&opts.Bucket, "pipeline-bucket", cfg.Bucket, "pipeline artifact bucket (Dev)")
	flag.StringVar(&opts.ImportPath, "import-config", defImport, "stage config to read")
	flag.StringVar(&opts.ExportPath, "export-config", defExport, "stage config to write")
	flag.Parse()

	logger, err := logging.New("stage-config", cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()
	opts.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := cloud.NewClients(ctx, cfg.Region, cfg.MaxAttempts)
	if err != nil {
		logger.Fatalw("aws clients init", "error", err)
	}
	w := stageconfig.NewWriter(opts, clients.Pipeline, clients.Processing, clients.Params)
	if _, err := w.Run(ctx); err != nil {
		logger.Fatalw("stage config", "stage", cfg.Stage, "error", err)
	}
}
