package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
	"go.uber.org/zap"

	"github.com/ILLUVRSE/mlops/mlops/internal/cloud"
	"github.com/ILLUVRSE/mlops/mlops/internal/logging"
	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

type DispatcherConfig struct {
	PipelineName string
	ModelName    string
	Bucket       string
	Region       string
	Logger       *zap.SugaredLogger
}

// Dispatcher submits the evaluation processing job for the current execution
// and arms the approval poller.
type Dispatcher struct {
	cfg        DispatcherConfig
	pipeline   Pipeline
	processing Processing
	objects    Objects
	scheduler  Scheduler
	log        *zap.SugaredLogger
}

func NewDispatcher(cfg DispatcherConfig, pipeline Pipeline, processing Processing, objects Objects, scheduler Scheduler) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		pipeline:   pipeline,
		processing: processing,
		objects:    objects,
		scheduler:  scheduler,
		log:        logging.OrNop(cfg.Logger),
	}
}

// Submission describes a successfully dispatched evaluation.
type Submission struct {
	ExecutionID string
	JobName     string
	JobArn      string
	RuleName    string
	Descriptor  models.JobDescriptor
}

// Dispatch runs one evaluation dispatch for job. requestID identifies this
// invocation and is reported as the external execution id on failure.
//
// Every failure is reported to the orchestrator as a ConfigurationError and
// returned. If reporting itself fails the returned error also wraps ErrReport.
func (d *Dispatcher) Dispatch(ctx context.Context, job models.PipelineJob, requestID string) (Submission, error) {
	sub, err := d.dispatch(ctx, job)
	if err == nil {
		if err = d.pipeline.PutJobSuccess(ctx, job.ID); err == nil {
			d.log.Infow("evaluation dispatched", "jobId", job.ID, "executionId", sub.ExecutionID, "processingJob", sub.JobName)
			return sub, nil
		}
	}
	d.log.Errorw("evaluation dispatch failed", "jobId", job.ID, "error", err)
	reportErr := d.pipeline.PutJobFailure(ctx, job.ID, models.FailureDetails{
		Type:                models.FailureConfiguration,
		Message:             err.Error(),
		ExternalExecutionID: requestID,
	})
	if reportErr != nil {
		d.log.Errorw("report job failure", "jobId", job.ID, "error", reportErr)
		return Submission{}, errors.Join(err, fmt.Errorf("%w: %w", ErrReport, reportErr))
	}
	return Submission{}, err
}

func (d *Dispatcher) dispatch(ctx context.Context, job models.PipelineJob) (Submission, error) {
	if err := (models.PipelineJobEvent{Job: job}).Validate(); err != nil {
		return Submission{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	executionID, err := d.resolveExecution(ctx)
	if err != nil {
		return Submission{}, err
	}
	d.log.Infow("start evaluation processing job", "jobId", job.ID, "executionId", executionID)

	descriptor, err := d.loadDescriptor(ctx, job)
	if err != nil {
		return Submission{}, err
	}
	jobName := JobName(d.cfg.ModelName, executionID)
	if err := d.patch(&descriptor, job, executionID, jobName); err != nil {
		return Submission{}, err
	}

	arn, err := d.processing.CreateProcessingJob(ctx, descriptor)
	if err != nil {
		return Submission{}, err
	}
	d.log.Debugw("processing job submitted", "descriptor", descriptor)

	rule := RuleName(d.cfg.ModelName)
	if err := d.scheduler.EnableRule(ctx, rule); err != nil {
		return Submission{}, err
	}
	return Submission{
		ExecutionID: executionID,
		JobName:     jobName,
		JobArn:      arn,
		RuleName:    rule,
		Descriptor:  descriptor,
	}, nil
}

func (d *Dispatcher) resolveExecution(ctx context.Context) (string, error) {
	state, err := d.pipeline.GetState(ctx, d.cfg.PipelineName)
	if err != nil {
		return "", err
	}
	stage, _, ok := state.Action(EvaluateStage, EvaluateAction)
	if !ok || stage.LatestExecutionID == "" {
		return "", fmt.Errorf("%w: no execution found for %s/%s in pipeline %s", ErrConfiguration, EvaluateStage, EvaluateAction, d.cfg.PipelineName)
	}
	return stage.LatestExecutionID, nil
}

func (d *Dispatcher) loadDescriptor(ctx context.Context, job models.PipelineJob) (models.JobDescriptor, error) {
	artifact, ok := job.InputArtifact(ModelSourceArtifact)
	if !ok {
		return models.JobDescriptor{}, fmt.Errorf("%w: input artifact '%s' not declared", ErrArtifactNotFound, ModelSourceArtifact)
	}
	loc := artifact.Location.S3Location
	archive, err := d.objects.Get(ctx, loc.BucketName, loc.ObjectKey)
	if err != nil {
		return models.JobDescriptor{}, err
	}
	raw, err := cloud.ReadZipEntry(archive, JobDescriptorFile)
	if errors.Is(err, cloud.ErrEntryNotFound) {
		return models.JobDescriptor{}, fmt.Errorf("%w: %w", ErrArtifactNotFound, err)
	}
	if err != nil {
		return models.JobDescriptor{}, err
	}
	descriptor, err := models.ParseJobDescriptor(raw)
	if err != nil {
		return models.JobDescriptor{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return descriptor, nil
}

// patch fills the execution specific slots of the template. Inputs and the
// output are matched by name when the template names them. Unnamed inputs fall
// back to position (test data first, trained model second) without displacing
// a named one.
func (d *Dispatcher) patch(desc *models.JobDescriptor, job models.PipelineJob, executionID, jobName string) error {
	image := ImageURI(job.AccountID, d.cfg.Region, d.cfg.ModelName)
	if _, err := name.ParseReference(image, name.StrictValidation); err != nil {
		return fmt.Errorf("%w: invalid image uri %s: %w", ErrConfiguration, image, err)
	}
	desc.ProcessingJobName = jobName
	desc.AppSpecification.ImageURI = image

	out := desc.OutputIndex(EvaluationOutput, 0)
	desc.ProcessingOutputConfig.Outputs[out].S3Output.S3URI = cloud.S3URI(d.cfg.Bucket, executionID, "output/evaluation")

	testIdx, modelIdx := desc.InputPair(testingInput, modelInput)
	desc.ProcessingInputs[testIdx].S3Input.S3URI = cloud.S3URI(d.cfg.Bucket, executionID, "input/testing")
	desc.ProcessingInputs[modelIdx].S3Input.S3URI = cloud.S3URI(d.cfg.Bucket, executionID, jobName, "output/model.tar.gz")

	desc.Tags = append(desc.Tags, models.Tag{Key: correlationTag, Value: job.ID})
	return nil
}
