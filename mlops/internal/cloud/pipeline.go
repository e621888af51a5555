package cloud

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	cptypes "github.com/aws/aws-sdk-go-v2/service/codepipeline/types"

	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

type CodePipelineAPI interface {
	GetPipelineState(ctx context.Context, params *codepipeline.GetPipelineStateInput, optFns ...func(*codepipeline.Options)) (*codepipeline.GetPipelineStateOutput, error)
	PutApprovalResult(ctx context.Context, params *codepipeline.PutApprovalResultInput, optFns ...func(*codepipeline.Options)) (*codepipeline.PutApprovalResultOutput, error)
	PutJobSuccessResult(ctx context.Context, params *codepipeline.PutJobSuccessResultInput, optFns ...func(*codepipeline.Options)) (*codepipeline.PutJobSuccessResultOutput, error)
	PutJobFailureResult(ctx context.Context, params *codepipeline.PutJobFailureResultInput, optFns ...func(*codepipeline.Options)) (*codepipeline.PutJobFailureResultOutput, error)
	ListActionExecutions(ctx context.Context, params *codepipeline.ListActionExecutionsInput, optFns ...func(*codepipeline.Options)) (*codepipeline.ListActionExecutionsOutput, error)
}

// Pipeline is the orchestrator adapter: execution state, approvals and job results.
type Pipeline struct {
	client CodePipelineAPI
}

func NewPipeline(client CodePipelineAPI) *Pipeline {
	return &Pipeline{client: client}
}

func (p *Pipeline) GetState(ctx context.Context, name string) (models.PipelineState, error) {
	out, err := p.client.GetPipelineState(ctx, &codepipeline.GetPipelineStateInput{Name: aws.String(name)})
	if err != nil {
		return models.PipelineState{}, fmt.Errorf("get pipeline state %s: %w", name, err)
	}
	state := models.PipelineState{PipelineName: aws.ToString(out.PipelineName)}
	for _, st := range out.StageStates {
		stage := models.StageState{Name: aws.ToString(st.StageName)}
		if st.LatestExecution != nil {
			stage.LatestExecutionID = aws.ToString(st.LatestExecution.PipelineExecutionId)
		}
		for _, as := range st.ActionStates {
			action := models.ActionState{Name: aws.ToString(as.ActionName)}
			if as.LatestExecution != nil {
				action.Status = string(as.LatestExecution.Status)
				action.Token = aws.ToString(as.LatestExecution.Token)
				action.ExecutionID = aws.ToString(as.LatestExecution.ActionExecutionId)
			}
			stage.Actions = append(stage.Actions, action)
		}
		state.Stages = append(state.Stages, stage)
	}
	return state, nil
}

func (p *Pipeline) PutApprovalResult(ctx context.Context, r models.ApprovalResolution) error {
	_, err := p.client.PutApprovalResult(ctx, &codepipeline.PutApprovalResultInput{
		PipelineName: aws.String(r.PipelineName),
		StageName:    aws.String(r.StageName),
		ActionName:   aws.String(r.ActionName),
		Token:        aws.String(r.Token),
		Result: &cptypes.ApprovalResult{
			Summary: aws.String(r.Result.Summary),
			Status:  cptypes.ApprovalStatus(r.Result.Status),
		},
	})
	if err != nil {
		return fmt.Errorf("put approval result %s/%s/%s: %w", r.PipelineName, r.StageName, r.ActionName, err)
	}
	return nil
}

func (p *Pipeline) PutJobSuccess(ctx context.Context, jobID string) error {
	if _, err := p.client.PutJobSuccessResult(ctx, &codepipeline.PutJobSuccessResultInput{JobId: aws.String(jobID)}); err != nil {
		return fmt.Errorf("put job success %s: %w", jobID, err)
	}
	return nil
}

func (p *Pipeline) PutJobFailure(ctx context.Context, jobID string, f models.FailureDetails) error {
	details := &cptypes.FailureDetails{
		Type:    cptypes.FailureType(f.Type),
		Message: aws.String(truncate(f.Message, 5000)),
	}
	if f.ExternalExecutionID != "" {
		details.ExternalExecutionId = aws.String(f.ExternalExecutionID)
	}
	if _, err := p.client.PutJobFailureResult(ctx, &codepipeline.PutJobFailureResultInput{
		JobId:          aws.String(jobID),
		FailureDetails: details,
	}); err != nil {
		return fmt.Errorf("put job failure %s: %w", jobID, err)
	}
	return nil
}

// ActionOutputVariables returns the output variables of the named action within
// one pipeline execution.
func (p *Pipeline) ActionOutputVariables(ctx context.Context, pipelineName, executionID, actionName string) (map[string]string, error) {
	in := &codepipeline.ListActionExecutionsInput{
		PipelineName: aws.String(pipelineName),
		Filter:       &cptypes.ActionExecutionFilter{PipelineExecutionId: aws.String(executionID)},
	}
	for {
		out, err := p.client.ListActionExecutions(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("list action executions %s/%s: %w", pipelineName, executionID, err)
		}
		for _, d := range out.ActionExecutionDetails {
			if aws.ToString(d.ActionName) != actionName || d.Output == nil {
				continue
			}
			return d.Output.OutputVariables, nil
		}
		if aws.ToString(out.NextToken) == "" {
			break
		}
		in.NextToken = out.NextToken
	}
	return nil, fmt.Errorf("action %s has no recorded output in execution %s", actionName, executionID)
}

// truncate caps s at n bytes without splitting a rune; the orchestrator caps
// failure messages at 5000.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
