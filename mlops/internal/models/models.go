package models

import (
	"time"

	"github.com/google/uuid"
)

// StageState is one stage of a pipeline execution as reported by the orchestrator.
type StageState struct {
	Name              string        `json:"stageName"`
	LatestExecutionID string        `json:"pipelineExecutionId"`
	Actions           []ActionState `json:"actionStates"`
}

// ActionState is the latest execution of a single action within a stage.
type ActionState struct {
	Name        string `json:"actionName"`
	Status      string `json:"status"`
	Token       string `json:"token,omitempty"`
	ExecutionID string `json:"actionExecutionId,omitempty"`
}

type PipelineState struct {
	PipelineName string       `json:"pipelineName"`
	Stages       []StageState `json:"stageStates"`
}

// Action finds the named action inside the named stage.
func (p PipelineState) Action(stage, action string) (StageState, ActionState, bool) {
	for _, st := range p.Stages {
		if st.Name != stage {
			continue
		}
		for _, a := range st.Actions {
			if a.Name == action {
				return st, a, true
			}
		}
	}
	return StageState{}, ActionState{}, false
}

const ActionStatusInProgress = "InProgress"

type ProcessingStatus string

const (
	ProcessingSubmitted  ProcessingStatus = "Submitted"
	ProcessingInProgress ProcessingStatus = "InProgress"
	ProcessingCompleted  ProcessingStatus = "Completed"
	ProcessingFailed     ProcessingStatus = "Failed"
	ProcessingStopping   ProcessingStatus = "Stopping"
	ProcessingStopped    ProcessingStatus = "Stopped"
)

type ProcessingOutput struct {
	Name  string
	S3URI string
}

// ProcessingJob is the observed state of an evaluation job.
type ProcessingJob struct {
	Name          string
	Status        ProcessingStatus
	FailureReason string
	Outputs       []ProcessingOutput
}

// Output returns the declared output with the given name.
func (j ProcessingJob) Output(name string) (ProcessingOutput, bool) {
	for _, o := range j.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return ProcessingOutput{}, false
}

type ApprovalStatus string

const (
	ApprovalApproved ApprovalStatus = "Approved"
	ApprovalRejected ApprovalStatus = "Rejected"
)

type ApprovalResult struct {
	Summary string         `json:"summary"`
	Status  ApprovalStatus `json:"status"`
}

// ApprovalResolution carries everything needed to resolve a pending manual approval.
type ApprovalResolution struct {
	PipelineName string
	StageName    string
	ActionName   string
	Result       ApprovalResult
	Token        string
}

type FailureType string

const (
	FailureConfiguration FailureType = "ConfigurationError"
)

type FailureDetails struct {
	Type                FailureType
	Message             string
	ExternalExecutionID string
}

// Decision is a ledger record of one resolved approval gate.
type Decision struct {
	ID           uuid.UUID        `json:"id"`
	PipelineName string           `json:"pipelineName"`
	ModelName    string           `json:"modelName"`
	ExecutionID  string           `json:"executionId"`
	JobName      string           `json:"jobName"`
	JobStatus    ProcessingStatus `json:"jobStatus"`
	Status       ApprovalStatus   `json:"status"`
	Summary      string           `json:"summary"`
	RMSE         *float64         `json:"rmse,omitempty"`
	Threshold    float64          `json:"threshold"`
	DecidedAt    time.Time        `json:"decidedAt"`
}
