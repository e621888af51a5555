package gate

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/ILLUVRSE/mlops/mlops/internal/cloud"
	"github.com/ILLUVRSE/mlops/mlops/internal/logging"
	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

const disableTimeout = 10 * time.Second

type PollerConfig struct {
	PipelineName string
	ModelName    string
	Threshold    float64
	Logger       *zap.SugaredLogger

	// Recorder and Publisher are optional sinks for resolved decisions.
	Recorder  Recorder
	Publisher Publisher
	Now       func() time.Time
}

// Poller is invoked on every scheduler tick while an approval is outstanding.
type Poller struct {
	cfg        PollerConfig
	pipeline   Pipeline
	processing Processing
	objects    Objects
	scheduler  Scheduler
	log        *zap.SugaredLogger
}

func NewPoller(cfg PollerConfig, pipeline Pipeline, processing Processing, objects Objects, scheduler Scheduler) *Poller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Poller{
		cfg:        cfg,
		pipeline:   pipeline,
		processing: processing,
		objects:    objects,
		scheduler:  scheduler,
		log:        logging.OrNop(cfg.Logger),
	}
}

// Outcome is the result of one poller tick.
type Outcome struct {
	ExecutionID string                  `json:"executionId"`
	JobName     string                  `json:"jobName"`
	JobStatus   models.ProcessingStatus `json:"jobStatus,omitempty"`
	// Pending is true while the job is still running; nothing was resolved.
	Pending bool                  `json:"pending"`
	Result  models.ApprovalResult `json:"result"`
	RMSE    *float64              `json:"rmse,omitempty"`
}

func (o Outcome) Message() string {
	if o.Pending {
		return fmt.Sprintf("Processing Job (%s) in progress", o.ExecutionID)
	}
	return "Done!"
}

type pendingApproval struct {
	executionID string
	token       string
}

// Poll runs one tick. While the processing job is running it returns a pending
// outcome and changes nothing. Otherwise it resolves the approval as Approved
// or Rejected and disables the scheduler rule, even when resolving fails.
//
// When no approval is awaiting a decision Poll returns ErrNoPendingApproval
// and touches neither the approval nor the rule.
func (p *Poller) Poll(ctx context.Context) (Outcome, error) {
	pending, err := p.pendingApproval(ctx)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{
		ExecutionID: pending.executionID,
		JobName:     JobName(p.cfg.ModelName, pending.executionID),
	}

	job, describeErr := p.processing.DescribeProcessingJob(ctx, out.JobName)
	if describeErr == nil {
		out.JobStatus = job.Status
		p.log.Infow("processing job status", "processingJob", out.JobName, "status", job.Status)
		if job.Status == models.ProcessingInProgress || job.Status == models.ProcessingSubmitted {
			out.Pending = true
			return out, nil
		}
	}

	out.Result, out.RMSE = p.decide(ctx, job, describeErr)
	resolveErr := p.pipeline.PutApprovalResult(ctx, models.ApprovalResolution{
		PipelineName: p.cfg.PipelineName,
		StageName:    EvaluateStage,
		ActionName:   ApproveAction,
		Result:       out.Result,
		Token:        pending.token,
	})
	if resolveErr != nil {
		p.log.Errorw("resolve approval", "executionId", out.ExecutionID, "error", resolveErr)
	} else {
		p.log.Infow("approval resolved", "executionId", out.ExecutionID, "status", out.Result.Status, "summary", out.Result.Summary)
		p.emit(ctx, out)
	}

	disableErr := p.disable(ctx)
	return out, errors.Join(resolveErr, disableErr)
}

func (p *Poller) pendingApproval(ctx context.Context) (pendingApproval, error) {
	state, err := p.pipeline.GetState(ctx, p.cfg.PipelineName)
	if err != nil {
		return pendingApproval{}, err
	}
	stage, action, ok := state.Action(EvaluateStage, ApproveAction)
	if !ok {
		return pendingApproval{}, fmt.Errorf("%w: action %s/%s not found in pipeline %s", ErrNoPendingApproval, EvaluateStage, ApproveAction, p.cfg.PipelineName)
	}
	if action.Status != models.ActionStatusInProgress {
		return pendingApproval{}, fmt.Errorf("%w: model is not awaiting approval: %s", ErrNoPendingApproval, action.Status)
	}
	if action.Token == "" {
		return pendingApproval{}, fmt.Errorf("%w: action token wasn't found", ErrNoPendingApproval)
	}
	if stage.LatestExecutionID == "" {
		return pendingApproval{}, fmt.Errorf("%w: %w: stage %s has no execution id", ErrNoPendingApproval, ErrConfiguration, EvaluateStage)
	}
	return pendingApproval{executionID: stage.LatestExecutionID, token: action.Token}, nil
}

// decide maps a finished job to an approval result. Errors become a Rejected
// result carrying the error text.
func (p *Poller) decide(ctx context.Context, job models.ProcessingJob, describeErr error) (models.ApprovalResult, *float64) {
	if describeErr != nil {
		return rejected(describeErr.Error()), nil
	}
	if job.Status != models.ProcessingCompleted {
		summary := fmt.Sprintf("Processing job %s finished with status %s", job.Name, job.Status)
		if job.FailureReason != "" {
			summary += ": " + job.FailureReason
		}
		return rejected(summary), nil
	}
	rmse, err := p.readRMSE(ctx, job)
	if err != nil {
		return rejected(err.Error()), nil
	}
	if rmse <= p.cfg.Threshold {
		return models.ApprovalResult{
			Summary: fmt.Sprintf("Model trained successfully, rmse: %v", rmse),
			Status:  models.ApprovalApproved,
		}, &rmse
	}
	return rejected(fmt.Sprintf("Model Quality does not meet threshold, rmse: %v, baseline: %v", rmse, p.cfg.Threshold)), &rmse
}

func (p *Poller) readRMSE(ctx context.Context, job models.ProcessingJob) (float64, error) {
	output, ok := job.Output(EvaluationOutput)
	if !ok {
		return 0, fmt.Errorf("%w: processing job %s declares no '%s' output", ErrMissingEvaluationOutput, job.Name, EvaluationOutput)
	}
	bucket, prefix, err := cloud.ParseS3URI(output.S3URI)
	if err != nil {
		return 0, err
	}
	raw, err := p.objects.Get(ctx, bucket, path.Join(prefix, EvaluationReportFile))
	if err != nil {
		return 0, err
	}
	_, rmse, err := models.ParseEvaluationReport(raw)
	if err != nil {
		return 0, err
	}
	return rmse, nil
}

// disable turns the rule off on a context detached from ctx so an expiring
// invocation still releases the timer.
func (p *Poller) disable(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disableTimeout)
	defer cancel()
	rule := RuleName(p.cfg.ModelName)
	if err := p.scheduler.DisableRule(dctx, rule); err != nil {
		p.log.Errorw("disable scheduler rule", "rule", rule, "error", err)
		return err
	}
	p.log.Infow("scheduler rule disabled", "rule", rule)
	return nil
}

func (p *Poller) emit(ctx context.Context, out Outcome) {
	d := models.Decision{
		PipelineName: p.cfg.PipelineName,
		ModelName:    p.cfg.ModelName,
		ExecutionID:  out.ExecutionID,
		JobName:      out.JobName,
		JobStatus:    out.JobStatus,
		Status:       out.Result.Status,
		Summary:      out.Result.Summary,
		RMSE:         out.RMSE,
		Threshold:    p.cfg.Threshold,
		DecidedAt:    p.cfg.Now().UTC(),
	}
	if p.cfg.Recorder != nil {
		recorded, err := p.cfg.Recorder.RecordDecision(ctx, d)
		if err != nil {
			p.log.Warnw("record decision", "executionId", d.ExecutionID, "error", err)
		} else {
			d = recorded
		}
	}
	if p.cfg.Publisher != nil {
		if err := p.cfg.Publisher.PublishDecision(ctx, d); err != nil {
			p.log.Warnw("publish decision", "executionId", d.ExecutionID, "error", err)
		}
	}
}

func rejected(summary string) models.ApprovalResult {
	return models.ApprovalResult{Summary: summary, Status: models.ApprovalRejected}
}
