package stageconfig

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ILLUVRSE/mlops/mlops/internal/cloud"
	"github.com/ILLUVRSE/mlops/mlops/internal/gate"
	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

type fakePipeline struct{ state models.PipelineState }

func (f fakePipeline) GetState(ctx context.Context, name string) (models.PipelineState, error) {
	return f.state, nil
}

type fakeRegistry struct{ requests []cloud.ModelPackageRequest }

func (f *fakeRegistry) CreateModelPackage(ctx context.Context, r cloud.ModelPackageRequest) (string, error) {
	f.requests = append(f.requests, r)
	return "arn:aws:sagemaker:us-east-1:123456789012:model-package/abalone/7", nil
}

type fakeParams map[string]string

func (f fakeParams) Get(ctx context.Context, name string) (string, error) {
	return f[name], nil
}

func writeConfig(t *testing.T, srcDir, stage, body string) (string, string) {
	t.Helper()
	in, out := DefaultPaths(srcDir, stage)
	require.NoError(t, os.MkdirAll(filepath.Dir(in), 0o755))
	require.NoError(t, os.WriteFile(in, []byte(body), 0o644))
	return in, out
}

func readExport(t *testing.T, p string) map[string]map[string]interface{} {
	t.Helper()
	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	var out map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestDefaultPaths(t *testing.T) {
	in, out := DefaultPaths("/src", "Dev")
	assert.Equal(t, "/src/assets/Dev/Dev-config.json", in)
	assert.Equal(t, "/src/assets/Dev/Dev-config-export.json", out)
	in, _ = DefaultPaths("/src", "QA")
	assert.Equal(t, "/src/QA/QA-config.json", in)
}

func TestDevRegistersModelPackage(t *testing.T) {
	dir := t.TempDir()
	in, out := writeConfig(t, dir, StageDev, `{"Parameters": {"InstanceType": "ml.c5.large"}}`)
	registry := &fakeRegistry{}
	w := NewWriter(Options{
		Stage:                StageDev,
		PipelineName:         "abalone-pipeline",
		ModelName:            "abalone",
		ImageTag:             "v12",
		ModelGroup:           "abalone-group",
		ContainerRegistryURI: "123456789012.dkr.ecr.us-east-1.amazonaws.com/abalone",
		Bucket:               "pipeline-bucket",
		ImportPath:           in,
		ExportPath:           out,
		Logger:               zaptest.NewLogger(t).Sugar(),
	}, fakePipeline{state: models.PipelineState{Stages: []models.StageState{
		{Name: "DeployDev", LatestExecutionID: "e5", Actions: []models.ActionState{{Name: "BuildDevDeployment"}}},
	}}}, registry, fakeParams{})

	_, err := w.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, registry.requests, 1)
	req := registry.requests[0]
	assert.Equal(t, "abalone-group", req.GroupName)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/abalone:v12", req.ImageURI)
	assert.Equal(t, "s3://pipeline-bucket/e5/mlops-abalone-e5/output/model.tar.gz", req.ModelDataURL)
	assert.Equal(t, "s3://pipeline-bucket/e5/output/evaluation/evaluation.json", req.MetricsS3URI)
	assert.Equal(t, "e5", req.ProjectID)

	params := readExport(t, out)["Parameters"]
	assert.Equal(t, "ml.c5.large", params["InstanceType"])
	assert.Equal(t, "abalone", params["ModelName"])
	assert.Equal(t, "arn:aws:sagemaker:us-east-1:123456789012:model-package/abalone/7", params["ModelPackageName"])
}

func TestQAAndPrdReadParameter(t *testing.T) {
	for _, stage := range []string{StageQA, StagePrd} {
		dir := t.TempDir()
		in, out := writeConfig(t, dir, stage, `{"Parameters": {"ModelName": "stale"}}`)
		registry := &fakeRegistry{}
		w := NewWriter(Options{
			Stage:                 stage,
			ModelName:             "abalone",
			ModelPackageParameter: "/mlops/abalone/model-package",
			ImportPath:            in,
			ExportPath:            out,
		}, fakePipeline{}, registry, fakeParams{"/mlops/abalone/model-package": "arn:pkg/3"})

		_, err := w.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, registry.requests)
		params := readExport(t, out)["Parameters"]
		assert.Equal(t, "abalone", params["ModelName"])
		assert.Equal(t, "arn:pkg/3", params["ModelPackageName"])
	}
}

func TestRejectsUnknownStage(t *testing.T) {
	w := NewWriter(Options{Stage: "Staging"}, fakePipeline{}, &fakeRegistry{}, fakeParams{})
	_, err := w.Run(context.Background())
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestRequiresParameters(t *testing.T) {
	dir := t.TempDir()
	in, out := writeConfig(t, dir, StageQA, `{"Tags": {}}`)
	w := NewWriter(Options{Stage: StageQA, ModelPackageParameter: "p", ImportPath: in, ExportPath: out}, fakePipeline{}, &fakeRegistry{}, fakeParams{})

	_, err := w.Run(context.Background())
	assert.ErrorIs(t, err, gate.ErrConfiguration)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDevMissingExecution(t *testing.T) {
	dir := t.TempDir()
	in, out := writeConfig(t, dir, StageDev, `{"Parameters": {}}`)
	registry := &fakeRegistry{}
	w := NewWriter(Options{Stage: StageDev, ImportPath: in, ExportPath: out}, fakePipeline{}, registry, fakeParams{})

	_, err := w.Run(context.Background())
	assert.ErrorIs(t, err, gate.ErrConfiguration)
	assert.Empty(t, registry.requests)
}
