// Package gate implements the model approval gate: the evaluation dispatcher
// that submits the processing job and arms the poller, and the approval poller
// that resolves the pending approval once the job finishes.
package gate

import (
	"context"
	"fmt"

	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

const (
	EvaluateStage        = "Evaluate"
	EvaluateAction       = "EvaluateModel"
	ApproveAction        = "ApproveModel"
	ModelSourceArtifact  = "ModelSourceOutput"
	JobDescriptorFile    = "evaluationJob.json"
	EvaluationOutput     = "evaluation"
	EvaluationReportFile = "evaluation.json"

	jobNamePrefix  = "mlops"
	rulePrefix     = "training-model-approval"
	testingInput   = "testing"
	modelInput     = "model"
	correlationTag = "jobid"
)

// Pipeline is the orchestrator: execution state, approvals and job results.
type Pipeline interface {
	GetState(ctx context.Context, name string) (models.PipelineState, error)
	PutApprovalResult(ctx context.Context, r models.ApprovalResolution) error
	PutJobSuccess(ctx context.Context, jobID string) error
	PutJobFailure(ctx context.Context, jobID string, f models.FailureDetails) error
}

type Processing interface {
	CreateProcessingJob(ctx context.Context, d models.JobDescriptor) (string, error)
	DescribeProcessingJob(ctx context.Context, name string) (models.ProcessingJob, error)
}

type Objects interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Scheduler toggles the rule that re-invokes the poller. Both operations must
// be safe to repeat.
type Scheduler interface {
	EnableRule(ctx context.Context, name string) error
	DisableRule(ctx context.Context, name string) error
}

// Recorder persists resolved decisions. Failures are logged, never fatal.
type Recorder interface {
	RecordDecision(ctx context.Context, d models.Decision) (models.Decision, error)
}

// Publisher emits resolved decisions to downstream consumers.
type Publisher interface {
	PublishDecision(ctx context.Context, d models.Decision) error
}

// JobName is the deterministic processing job name for one execution.
func JobName(model, executionID string) string {
	return fmt.Sprintf("%s-%s-%s", jobNamePrefix, model, executionID)
}

// RuleName is the scheduled rule that drives the poller for a model.
func RuleName(model string) string {
	return fmt.Sprintf("%s-%s", rulePrefix, model)
}

// ImageURI is the evaluation container built for the model in the account's registry.
func ImageURI(accountID, region, model string) string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/%s:latest", accountID, region, model)
}
