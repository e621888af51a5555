// Package stageconfig writes the deployment parameters of one pipeline stage.
// Dev registers a fresh model package for the current execution, QA and Prd
// deploy the package recorded in the parameter store.
package stageconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ILLUVRSE/mlops/mlops/internal/cloud"
	"github.com/ILLUVRSE/mlops/mlops/internal/gate"
	"github.com/ILLUVRSE/mlops/mlops/internal/logging"
	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

const (
	StageDev = "Dev"
	StageQA  = "QA"
	StagePrd = "Prd"

	devStage  = "DeployDev"
	devAction = "BuildDevDeployment"
)

var ErrUnknownStage = errors.New("'STAGE' Environment Variable not configured")

type Pipeline interface {
	GetState(ctx context.Context, name string) (models.PipelineState, error)
}

type Registry interface {
	CreateModelPackage(ctx context.Context, r cloud.ModelPackageRequest) (string, error)
}

type Params interface {
	Get(ctx context.Context, name string) (string, error)
}

type Options struct {
	Stage                 string
	PipelineName          string
	ModelName             string
	ModelPackageParameter string
	ImageTag              string
	ModelGroup            string
	ContainerRegistryURI  string
	Bucket                string
	ImportPath            string
	ExportPath            string
	Logger                *zap.SugaredLogger
}

// DefaultPaths returns the import and export config paths of stage under srcDir.
// Dev configs live under assets/.
func DefaultPaths(srcDir, stage string) (string, string) {
	dir := filepath.Join(srcDir, stage)
	if stage == StageDev {
		dir = filepath.Join(srcDir, "assets", stage)
	}
	return filepath.Join(dir, stage+"-config.json"), filepath.Join(dir, stage+"-config-export.json")
}

type Writer struct {
	opts     Options
	pipeline Pipeline
	registry Registry
	params   Params
	log      *zap.SugaredLogger
}

func NewWriter(opts Options, pipeline Pipeline, registry Registry, params Params) *Writer {
	return &Writer{opts: opts, pipeline: pipeline, registry: registry, params: params, log: logging.OrNop(opts.Logger)}
}

// StageConfig is the exported file content.
type StageConfig struct {
	Parameters map[string]interface{} `json:"Parameters"`
}

// Run reads the stage config, extends its parameters and writes the export file.
func (w *Writer) Run(ctx context.Context) (StageConfig, error) {
	switch w.opts.Stage {
	case StageDev, StageQA, StagePrd:
	default:
		return StageConfig{}, fmt.Errorf("%w: %q", ErrUnknownStage, w.opts.Stage)
	}
	in, err := readConfig(w.opts.ImportPath)
	if err != nil {
		return StageConfig{}, err
	}
	packageName, err := w.modelPackage(ctx)
	if err != nil {
		return StageConfig{}, err
	}
	in.Parameters["ModelName"] = w.opts.ModelName
	in.Parameters["ModelPackageName"] = packageName

	body, err := json.MarshalIndent(in, "", "    ")
	if err != nil {
		return StageConfig{}, err
	}
	if err := os.WriteFile(w.opts.ExportPath, body, 0o644); err != nil {
		return StageConfig{}, fmt.Errorf("write %s: %w", w.opts.ExportPath, err)
	}
	w.log.Infow("stage config written", "stage", w.opts.Stage, "path", w.opts.ExportPath, "modelPackage", packageName)
	w.log.Debugw("stage config", "config", string(body))
	return in, nil
}

func readConfig(p string) (StageConfig, error) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return StageConfig{}, fmt.Errorf("read %s: %w", p, err)
	}
	var cfg StageConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return StageConfig{}, fmt.Errorf("decode %s: %w", p, err)
	}
	if cfg.Parameters == nil {
		return StageConfig{}, fmt.Errorf("%w: configuration file must include Parameters", gate.ErrConfiguration)
	}
	return cfg, nil
}

func (w *Writer) modelPackage(ctx context.Context) (string, error) {
	if w.opts.Stage != StageDev {
		if w.opts.ModelPackageParameter == "" {
			return "", fmt.Errorf("%w: MODEL_PACKAGE_NAME required for stage %s", gate.ErrConfiguration, w.opts.Stage)
		}
		return w.params.Get(ctx, w.opts.ModelPackageParameter)
	}

	state, err := w.pipeline.GetState(ctx, w.opts.PipelineName)
	if err != nil {
		return "", err
	}
	stage, _, ok := state.Action(devStage, devAction)
	if !ok || stage.LatestExecutionID == "" {
		return "", fmt.Errorf("%w: no execution found for %s/%s in pipeline %s", gate.ErrConfiguration, devStage, devAction, w.opts.PipelineName)
	}
	id := stage.LatestExecutionID
	return w.registry.CreateModelPackage(ctx, cloud.ModelPackageRequest{
		GroupName:     w.opts.ModelGroup,
		Description:   fmt.Sprintf("%s production model", w.opts.ModelName),
		ImageURI:      fmt.Sprintf("%s:%s", w.opts.ContainerRegistryURI, w.opts.ImageTag),
		ModelDataURL:  cloud.S3URI(w.opts.Bucket, id, gate.JobName(w.opts.ModelName, id), "output/model.tar.gz"),
		MetricsS3URI:  cloud.S3URI(w.opts.Bucket, id, "output/evaluation/evaluation.json"),
		ProjectID:     id,
		ContentTypes:  []string{"text/csv"},
		RealtimeTypes: []string{"ml.t2.large", "ml.c5.large", "ml.c5.xlarge"},
		TransformType: []string{"ml.c5.xlarge"},
	})
}
