// Package endpointtest scores a deployed endpoint against the held-out test
// split and reports the result to the pipeline job that invoked it.
package endpointtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"go.uber.org/zap"

	"github.com/ILLUVRSE/mlops/mlops/internal/cloud"
	"github.com/ILLUVRSE/mlops/mlops/internal/gate"
	"github.com/ILLUVRSE/mlops/mlops/internal/logging"
	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

const (
	ModeDev      = "dev"
	ModePipeline = "pipeline"

	devStage          = "DeployDev"
	devAction         = "DeployDevModel"
	pipelineStage     = "PipelineExecution"
	pipelineAction    = "SubmitPipeline"
	executionArnVar   = "PipelineExecutionArn"
	etlStep           = "ETL"
	testOutput        = "test"
	payloadType       = "text/csv"
	resultContentType = "application/json"
)

type Pipeline interface {
	GetState(ctx context.Context, name string) (models.PipelineState, error)
	ActionOutputVariables(ctx context.Context, pipelineName, executionID, actionName string) (map[string]string, error)
	PutJobSuccess(ctx context.Context, jobID string) error
	PutJobFailure(ctx context.Context, jobID string, f models.FailureDetails) error
}

type Processing interface {
	StepProcessingJobArn(ctx context.Context, pipelineExecutionArn, stepName string) (string, error)
	DescribeProcessingJob(ctx context.Context, name string) (models.ProcessingJob, error)
}

type Objects interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

type Endpoint interface {
	Invoke(ctx context.Context, endpointName, contentType string, body []byte) ([]byte, error)
}

type Config struct {
	PipelineName  string
	Bucket        string
	Endpoint      string
	TestData      string
	Mode          string
	ResultsPrefix string
	Logger        *zap.SugaredLogger
}

type Tester struct {
	cfg        Config
	pipeline   Pipeline
	processing Processing
	objects    Objects
	endpoint   Endpoint
	log        *zap.SugaredLogger
	now        func() time.Time
}

func New(cfg Config, pipeline Pipeline, processing Processing, objects Objects, endpoint Endpoint) *Tester {
	if cfg.Mode == "" {
		cfg.Mode = ModeDev
	}
	return &Tester{
		cfg:        cfg,
		pipeline:   pipeline,
		processing: processing,
		objects:    objects,
		endpoint:   endpoint,
		log:        logging.OrNop(cfg.Logger),
		now:        time.Now,
	}
}

// Result summarizes one endpoint test run.
type Result struct {
	ExecutionID       string  `json:"executionId"`
	Endpoint          string  `json:"endpoint"`
	DataURI           string  `json:"dataUri"`
	Count             int     `json:"count"`
	AvgLatencySeconds float64 `json:"avgLatencySeconds"`
	RMSE              float64 `json:"rmse"`
	ResultsURI        string  `json:"resultsUri,omitempty"`
}

func (r Result) AvgResponseTime() string {
	return fmt.Sprintf("%.2f seconds", r.AvgLatencySeconds)
}

// Run tests the endpoint for the execution of jobID and reports the outcome.
// Failures are reported as ConfigurationError with requestID as the external
// execution id, and returned; a failed report also wraps gate.ErrReport.
func (t *Tester) Run(ctx context.Context, jobID, requestID string) (Result, error) {
	res, err := t.run(ctx)
	if err == nil {
		if err = t.pipeline.PutJobSuccess(ctx, jobID); err == nil {
			t.log.Infow("endpoint test passed",
				"endpoint", res.Endpoint, "executionId", res.ExecutionID,
				"count", res.Count, "avgResponseTime", res.AvgResponseTime(), "rmse", res.RMSE)
			return res, nil
		}
	}
	t.log.Errorw("endpoint test failed", "jobId", jobID, "endpoint", t.cfg.Endpoint, "error", err)
	reportErr := t.pipeline.PutJobFailure(ctx, jobID, models.FailureDetails{
		Type:                models.FailureConfiguration,
		Message:             err.Error(),
		ExternalExecutionID: requestID,
	})
	if reportErr != nil {
		return Result{}, errors.Join(err, fmt.Errorf("%w: %w", gate.ErrReport, reportErr))
	}
	return Result{}, err
}

func (t *Tester) run(ctx context.Context) (Result, error) {
	executionID, bucket, key, err := t.locate(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{ExecutionID: executionID, Endpoint: t.cfg.Endpoint, DataURI: cloud.S3URI(bucket, key)}
	t.log.Infow("evaluating endpoint", "endpoint", t.cfg.Endpoint, "data", res.DataURI)

	raw, err := t.objects.Get(ctx, bucket, key)
	if err != nil {
		return Result{}, err
	}
	rows, err := ParseTestData(raw)
	if err != nil {
		return Result{}, err
	}
	if err := t.score(ctx, rows, &res); err != nil {
		return Result{}, err
	}

	if t.cfg.ResultsPrefix != "" {
		body, err := json.Marshal(res)
		if err != nil {
			return Result{}, err
		}
		resultKey := path.Join(t.cfg.ResultsPrefix, executionID, t.cfg.Endpoint+".json")
		if err := t.objects.Put(ctx, t.cfg.Bucket, resultKey, body, resultContentType); err != nil {
			return Result{}, err
		}
		res.ResultsURI = cloud.S3URI(t.cfg.Bucket, resultKey)
	}
	return res, nil
}

// locate returns the execution under test and where its test split lives.
func (t *Tester) locate(ctx context.Context) (executionID, bucket, key string, err error) {
	switch t.cfg.Mode {
	case ModeDev:
		executionID, err = t.execution(ctx, devStage, devAction)
		if err != nil {
			return "", "", "", err
		}
		return executionID, t.cfg.Bucket, path.Join(executionID, t.cfg.TestData), nil
	case ModePipeline:
		executionID, err = t.execution(ctx, pipelineStage, pipelineAction)
		if err != nil {
			return "", "", "", err
		}
		bucket, prefix, err := t.etlTestOutput(ctx, executionID)
		if err != nil {
			return "", "", "", err
		}
		return executionID, bucket, path.Join(prefix, t.cfg.TestData), nil
	default:
		return "", "", "", fmt.Errorf("%w: unknown endpoint test mode %q", gate.ErrConfiguration, t.cfg.Mode)
	}
}

func (t *Tester) execution(ctx context.Context, stage, action string) (string, error) {
	state, err := t.pipeline.GetState(ctx, t.cfg.PipelineName)
	if err != nil {
		return "", err
	}
	st, _, ok := state.Action(stage, action)
	if !ok || st.LatestExecutionID == "" {
		return "", fmt.Errorf("%w: no execution found for %s/%s in pipeline %s", gate.ErrConfiguration, stage, action, t.cfg.PipelineName)
	}
	return st.LatestExecutionID, nil
}

// etlTestOutput follows the submitted ML pipeline execution to its ETL
// processing job and returns the location of the job's test output.
func (t *Tester) etlTestOutput(ctx context.Context, executionID string) (string, string, error) {
	vars, err := t.pipeline.ActionOutputVariables(ctx, t.cfg.PipelineName, executionID, pipelineAction)
	if err != nil {
		return "", "", err
	}
	mlExecution := vars[executionArnVar]
	if mlExecution == "" {
		return "", "", fmt.Errorf("%w: action %s has no output variable %s", gate.ErrConfiguration, pipelineAction, executionArnVar)
	}
	jobArn, err := t.processing.StepProcessingJobArn(ctx, mlExecution, etlStep)
	if err != nil {
		return "", "", err
	}
	jobName, err := ProcessingJobName(jobArn)
	if err != nil {
		return "", "", err
	}
	job, err := t.processing.DescribeProcessingJob(ctx, jobName)
	if err != nil {
		return "", "", err
	}
	out, ok := job.Output(testOutput)
	if !ok {
		return "", "", fmt.Errorf("%w: processing job %s declares no '%s' output", gate.ErrArtifactNotFound, jobName, testOutput)
	}
	return cloud.ParseS3URI(out.S3URI)
}

// ProcessingJobName extracts the job name from a processing job ARN.
func ProcessingJobName(jobArn string) (string, error) {
	parsed, err := arn.Parse(jobArn)
	if err != nil {
		return "", fmt.Errorf("%w: %w", gate.ErrConfiguration, err)
	}
	resource := parsed.Resource
	for i := 0; i < len(resource); i++ {
		if resource[i] == '/' || resource[i] == ':' {
			return resource[i+1:], nil
		}
	}
	return resource, nil
}

func (t *Tester) score(ctx context.Context, rows []Row, res *Result) error {
	var (
		latency  time.Duration
		sqErrSum float64
	)
	for i, row := range rows {
		start := t.now()
		body, err := t.endpoint.Invoke(ctx, t.cfg.Endpoint, payloadType, row.Payload())
		if err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
		latency += t.now().Sub(start)
		pred, err := ParsePrediction(body)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
		diff := pred - row.Label
		sqErrSum += diff * diff
	}
	res.Count = len(rows)
	res.AvgLatencySeconds = latency.Seconds() / float64(len(rows))
	res.RMSE = rmse(sqErrSum, len(rows))
	return nil
}
