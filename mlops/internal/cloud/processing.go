package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"

	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

type SageMakerAPI interface {
	CreateProcessingJob(ctx context.Context, params *sagemaker.CreateProcessingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateProcessingJobOutput, error)
	DescribeProcessingJob(ctx context.Context, params *sagemaker.DescribeProcessingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeProcessingJobOutput, error)
	ListPipelineExecutionSteps(ctx context.Context, params *sagemaker.ListPipelineExecutionStepsInput, optFns ...func(*sagemaker.Options)) (*sagemaker.ListPipelineExecutionStepsOutput, error)
	CreateModelPackage(ctx context.Context, params *sagemaker.CreateModelPackageInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateModelPackageOutput, error)
}

// Processing submits and observes evaluation processing jobs and registers
// model packages.
type Processing struct {
	client SageMakerAPI
}

func NewProcessing(client SageMakerAPI) *Processing {
	return &Processing{client: client}
}

// CreateProcessingJob submits d and returns the job ARN.
func (p *Processing) CreateProcessingJob(ctx context.Context, d models.JobDescriptor) (string, error) {
	out, err := p.client.CreateProcessingJob(ctx, processingJobInput(d))
	if err != nil {
		return "", fmt.Errorf("create processing job %s: %w", d.ProcessingJobName, err)
	}
	return aws.ToString(out.ProcessingJobArn), nil
}

func (p *Processing) DescribeProcessingJob(ctx context.Context, name string) (models.ProcessingJob, error) {
	out, err := p.client.DescribeProcessingJob(ctx, &sagemaker.DescribeProcessingJobInput{ProcessingJobName: aws.String(name)})
	if err != nil {
		return models.ProcessingJob{}, fmt.Errorf("describe processing job %s: %w", name, err)
	}
	job := models.ProcessingJob{
		Name:          aws.ToString(out.ProcessingJobName),
		Status:        models.ProcessingStatus(out.ProcessingJobStatus),
		FailureReason: aws.ToString(out.FailureReason),
	}
	if job.Name == "" {
		job.Name = name
	}
	if out.ProcessingOutputConfig != nil {
		for _, o := range out.ProcessingOutputConfig.Outputs {
			po := models.ProcessingOutput{Name: aws.ToString(o.OutputName)}
			if o.S3Output != nil {
				po.S3URI = aws.ToString(o.S3Output.S3Uri)
			}
			job.Outputs = append(job.Outputs, po)
		}
	}
	return job, nil
}

// StepProcessingJobArn returns the processing job ARN behind a named step of an
// ML pipeline execution.
func (p *Processing) StepProcessingJobArn(ctx context.Context, pipelineExecutionArn, stepName string) (string, error) {
	in := &sagemaker.ListPipelineExecutionStepsInput{PipelineExecutionArn: aws.String(pipelineExecutionArn)}
	for {
		out, err := p.client.ListPipelineExecutionSteps(ctx, in)
		if err != nil {
			return "", fmt.Errorf("list pipeline execution steps %s: %w", pipelineExecutionArn, err)
		}
		for _, step := range out.PipelineExecutionSteps {
			if aws.ToString(step.StepName) != stepName {
				continue
			}
			if step.Metadata == nil || step.Metadata.ProcessingJob == nil {
				return "", fmt.Errorf("step %s is not a processing step", stepName)
			}
			return aws.ToString(step.Metadata.ProcessingJob.Arn), nil
		}
		if aws.ToString(out.NextToken) == "" {
			break
		}
		in.NextToken = out.NextToken
	}
	return "", fmt.Errorf("step %s not found in %s", stepName, pipelineExecutionArn)
}

// ModelPackageRequest describes an approved model package version.
type ModelPackageRequest struct {
	GroupName     string
	Description   string
	ImageURI      string
	ModelDataURL  string
	MetricsS3URI  string
	ProjectID     string
	ContentTypes  []string
	RealtimeTypes []string
	TransformType []string
}

func (p *Processing) CreateModelPackage(ctx context.Context, r ModelPackageRequest) (string, error) {
	realtime := make([]smtypes.ProductionVariantInstanceType, 0, len(r.RealtimeTypes))
	for _, t := range r.RealtimeTypes {
		realtime = append(realtime, smtypes.ProductionVariantInstanceType(t))
	}
	transform := make([]smtypes.TransformInstanceType, 0, len(r.TransformType))
	for _, t := range r.TransformType {
		transform = append(transform, smtypes.TransformInstanceType(t))
	}
	out, err := p.client.CreateModelPackage(ctx, &sagemaker.CreateModelPackageInput{
		ModelPackageGroupName:   aws.String(r.GroupName),
		ModelPackageDescription: aws.String(r.Description),
		ModelApprovalStatus:     smtypes.ModelApprovalStatusApproved,
		InferenceSpecification: &smtypes.InferenceSpecification{
			Containers: []smtypes.ModelPackageContainerDefinition{{
				Image:        aws.String(r.ImageURI),
				ModelDataUrl: aws.String(r.ModelDataURL),
			}},
			SupportedContentTypes:                   r.ContentTypes,
			SupportedResponseMIMETypes:              r.ContentTypes,
			SupportedRealtimeInferenceInstanceTypes: realtime,
			SupportedTransformInstanceTypes:         transform,
		},
		MetadataProperties: &smtypes.MetadataProperties{ProjectId: aws.String(r.ProjectID)},
		ModelMetrics: &smtypes.ModelMetrics{
			ModelQuality: &smtypes.ModelQuality{
				Statistics: &smtypes.MetricsSource{
					ContentType: aws.String("application/json"),
					S3Uri:       aws.String(r.MetricsS3URI),
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create model package in %s: %w", r.GroupName, err)
	}
	return aws.ToString(out.ModelPackageArn), nil
}

func processingJobInput(d models.JobDescriptor) *sagemaker.CreateProcessingJobInput {
	in := &sagemaker.CreateProcessingJobInput{
		ProcessingJobName: aws.String(d.ProcessingJobName),
		AppSpecification: &smtypes.AppSpecification{
			ImageUri:            aws.String(d.AppSpecification.ImageURI),
			ContainerEntrypoint: d.AppSpecification.ContainerEntrypoint,
			ContainerArguments:  d.AppSpecification.ContainerArguments,
		},
		ProcessingResources: &smtypes.ProcessingResources{
			ClusterConfig: &smtypes.ProcessingClusterConfig{
				InstanceCount:  aws.Int32(d.ProcessingResources.ClusterConfig.InstanceCount),
				InstanceType:   smtypes.ProcessingInstanceType(d.ProcessingResources.ClusterConfig.InstanceType),
				VolumeSizeInGB: aws.Int32(d.ProcessingResources.ClusterConfig.VolumeSizeInGB),
				VolumeKmsKeyId: optString(d.ProcessingResources.ClusterConfig.VolumeKmsKeyID),
			},
		},
		RoleArn:     optString(d.RoleArn),
		Environment: d.Environment,
	}
	for _, input := range d.ProcessingInputs {
		in.ProcessingInputs = append(in.ProcessingInputs, smtypes.ProcessingInput{
			InputName: aws.String(input.InputName),
			S3Input: &smtypes.ProcessingS3Input{
				S3Uri:                  aws.String(input.S3Input.S3URI),
				LocalPath:              optString(input.S3Input.LocalPath),
				S3DataType:             smtypes.ProcessingS3DataType(input.S3Input.S3DataType),
				S3InputMode:            smtypes.ProcessingS3InputMode(input.S3Input.S3InputMode),
				S3DataDistributionType: smtypes.ProcessingS3DataDistributionType(input.S3Input.S3DataDistributionType),
				S3CompressionType:      smtypes.ProcessingS3CompressionType(input.S3Input.S3CompressionType),
			},
		})
	}
	outputs := &smtypes.ProcessingOutputConfig{KmsKeyId: optString(d.ProcessingOutputConfig.KmsKeyID)}
	for _, output := range d.ProcessingOutputConfig.Outputs {
		outputs.Outputs = append(outputs.Outputs, smtypes.ProcessingOutput{
			OutputName: aws.String(output.OutputName),
			S3Output: &smtypes.ProcessingS3Output{
				S3Uri:        aws.String(output.S3Output.S3URI),
				LocalPath:    optString(output.S3Output.LocalPath),
				S3UploadMode: smtypes.ProcessingS3UploadMode(output.S3Output.S3UploadMode),
			},
		})
	}
	in.ProcessingOutputConfig = outputs
	if d.StoppingCondition != nil {
		in.StoppingCondition = &smtypes.ProcessingStoppingCondition{
			MaxRuntimeInSeconds: aws.Int32(d.StoppingCondition.MaxRuntimeInSeconds),
		}
	}
	if d.NetworkConfig != nil {
		in.NetworkConfig = &smtypes.NetworkConfig{EnableNetworkIsolation: d.NetworkConfig.EnableNetworkIsolation}
	}
	for _, t := range d.Tags {
		in.Tags = append(in.Tags, smtypes.Tag{Key: aws.String(t.Key), Value: aws.String(t.Value)})
	}
	return in
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
