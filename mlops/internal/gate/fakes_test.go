package gate

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

type fakePipeline struct {
	mu         sync.Mutex
	state      models.PipelineState
	stateErr   error
	approvals  []models.ApprovalResolution
	approveErr error
	successes  []string
	failures   []models.FailureDetails
	failureErr error
}

func (f *fakePipeline) GetState(ctx context.Context, name string) (models.PipelineState, error) {
	return f.state, f.stateErr
}

func (f *fakePipeline) PutApprovalResult(ctx context.Context, r models.ApprovalResolution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.approveErr != nil {
		return f.approveErr
	}
	f.approvals = append(f.approvals, r)
	// a resolved approval no longer awaits a decision
	for i, st := range f.state.Stages {
		for j, a := range st.Actions {
			if st.Name == r.StageName && a.Name == r.ActionName {
				f.state.Stages[i].Actions[j].Status = "Succeeded"
				f.state.Stages[i].Actions[j].Token = ""
			}
		}
	}
	return nil
}

func (f *fakePipeline) PutJobSuccess(ctx context.Context, jobID string) error {
	f.successes = append(f.successes, jobID)
	return nil
}

func (f *fakePipeline) PutJobFailure(ctx context.Context, jobID string, d models.FailureDetails) error {
	if f.failureErr != nil {
		return f.failureErr
	}
	f.failures = append(f.failures, d)
	return nil
}

type fakeProcessing struct {
	created     []models.JobDescriptor
	createErr   error
	job         models.ProcessingJob
	describeErr error
}

func (f *fakeProcessing) CreateProcessingJob(ctx context.Context, d models.JobDescriptor) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, d)
	return "arn:aws:sagemaker:us-east-1:123456789012:processing-job/" + d.ProcessingJobName, nil
}

func (f *fakeProcessing) DescribeProcessingJob(ctx context.Context, name string) (models.ProcessingJob, error) {
	if f.describeErr != nil {
		return models.ProcessingJob{}, f.describeErr
	}
	job := f.job
	job.Name = name
	return job, nil
}

type fakeObjects struct {
	objects map[string][]byte
	gets    []string
}

func (f *fakeObjects) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	f.gets = append(f.gets, bucket+"/"+key)
	body, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey: " + bucket + "/" + key)
	}
	return body, nil
}

// fakeScheduler models a single on/off rule; repeated calls are harmless.
type fakeScheduler struct {
	mu         sync.Mutex
	enabled    map[string]bool
	enables    int
	disables   int
	disableErr error
}

func (f *fakeScheduler) EnableRule(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enabled == nil {
		f.enabled = map[string]bool{}
	}
	f.enabled[name] = true
	f.enables++
	return nil
}

func (f *fakeScheduler) DisableRule(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disables++
	if f.disableErr != nil {
		return f.disableErr
	}
	if f.enabled == nil {
		f.enabled = map[string]bool{}
	}
	f.enabled[name] = false
	return nil
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func pipelineState(executionID string, actions ...models.ActionState) models.PipelineState {
	return models.PipelineState{
		PipelineName: "abalone-pipeline",
		Stages: []models.StageState{
			{Name: "Source", LatestExecutionID: executionID, Actions: []models.ActionState{{Name: "ModelSource", Status: "Succeeded"}}},
			{Name: EvaluateStage, LatestExecutionID: executionID, Actions: actions},
		},
	}
}
