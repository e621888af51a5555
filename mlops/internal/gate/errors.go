package gate

import "errors"

var (
	// ErrConfiguration marks missing pipeline state, stages, actions or event fields.
	ErrConfiguration = errors.New("configuration error")
	// ErrArtifactNotFound marks an expected artifact or archive entry that is absent.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrNoPendingApproval means the approval action is not awaiting a decision.
	ErrNoPendingApproval = errors.New("no pending approval")
	// ErrMissingEvaluationOutput means a completed job declares no "evaluation" output.
	ErrMissingEvaluationOutput = errors.New("missing evaluation output")
	// ErrReport wraps failures to report a job outcome back to the orchestrator.
	ErrReport = errors.New("report to pipeline")
)
