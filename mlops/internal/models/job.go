package models

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// PipelineJobEvent is the payload the orchestrator sends to a job worker.
type PipelineJobEvent struct {
	Job PipelineJob `json:"CodePipeline.job" validate:"required"`
}

type PipelineJob struct {
	ID        string          `json:"id" validate:"required"`
	AccountID string          `json:"accountId" validate:"required"`
	Data      PipelineJobData `json:"data"`
}

type PipelineJobData struct {
	InputArtifacts []InputArtifact `json:"inputArtifacts" validate:"dive"`
}

type InputArtifact struct {
	Name     string           `json:"name" validate:"required"`
	Location ArtifactLocation `json:"location"`
}

type ArtifactLocation struct {
	Type       string     `json:"type"`
	S3Location S3Location `json:"s3Location"`
}

type S3Location struct {
	BucketName string `json:"bucketName" validate:"required"`
	ObjectKey  string `json:"objectKey" validate:"required"`
}

// Validate checks the fields the handlers rely on.
func (e PipelineJobEvent) Validate() error {
	if err := validatorInstance().Struct(e); err != nil {
		return fmt.Errorf("invalid pipeline job event: %w", err)
	}
	return nil
}

// InputArtifact returns the declared input artifact with the given name.
func (j PipelineJob) InputArtifact(name string) (InputArtifact, bool) {
	for _, a := range j.Data.InputArtifacts {
		if a.Name == name {
			return a, true
		}
	}
	return InputArtifact{}, false
}

// ModelPackageEvent is the detail of a model package state change.
type ModelPackageEvent struct {
	ModelPackageArn       string `json:"ModelPackageArn" validate:"required"`
	ModelPackageGroupName string `json:"ModelPackageGroupName"`
	ModelApprovalStatus   string `json:"ModelApprovalStatus"`
}

func (e ModelPackageEvent) Validate() error {
	if err := validatorInstance().Struct(e); err != nil {
		return fmt.Errorf("invalid model package event: %w", err)
	}
	return nil
}

// StagingRequest is the property set of the resource staging custom resource.
type StagingRequest struct {
	SourceBucket string `json:"SourceBucket" validate:"required"`
	SourceKey    string `json:"SourceKey" validate:"required"`
	TargetBucket string `json:"TargetBucket" validate:"required"`
	TargetKey    string `json:"TargetKey" validate:"required"`
}

func (r StagingRequest) Validate() error {
	if err := validatorInstance().Struct(r); err != nil {
		return fmt.Errorf("invalid staging properties: %w", err)
	}
	return nil
}

// EvaluationReport is the metrics artifact written by the evaluation job.
type EvaluationReport struct {
	RegressionMetrics *RegressionMetrics `json:"regression_metrics"`
}

type RegressionMetrics struct {
	RMSE              *Metric `json:"rmse"`
	MSE               *Metric `json:"mse"`
	StandardDeviation *Metric `json:"standard_deviation"`
}

type Metric struct {
	Value *float64 `json:"value"`
}

// ParseEvaluationReport decodes the report and returns its rmse value.
func ParseEvaluationReport(raw []byte) (EvaluationReport, float64, error) {
	var report EvaluationReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return EvaluationReport{}, 0, fmt.Errorf("decode evaluation report: %w", err)
	}
	if report.RegressionMetrics == nil {
		return report, 0, fmt.Errorf("evaluation report missing key 'regression_metrics'")
	}
	if report.RegressionMetrics.RMSE == nil || report.RegressionMetrics.RMSE.Value == nil {
		return report, 0, fmt.Errorf("evaluation report missing key 'rmse'")
	}
	return report, *report.RegressionMetrics.RMSE.Value, nil
}
