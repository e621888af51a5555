// Package cloud adapts the AWS service clients to the narrow, domain-typed
// interfaces the mlops handlers consume.
package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Clients holds one adapter per managed service. They are built once per
// process and shared by every invocation the process serves.
type Clients struct {
	Objects    *Objects
	Pipeline   *Pipeline
	Processing *Processing
	Scheduler  *Scheduler
	Params     *Params
	Endpoint   *Endpoint
}

// LoadAWSConfig resolves region and credentials the usual way (environment,
// shared config, role) and installs a standard retryer bounded to maxAttempts.
func LoadAWSConfig(ctx context.Context, region string, maxAttempts int) (aws.Config, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	opts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), maxAttempts)
		}),
	}
	if region != "" {
		opts = append(opts, awsConfig.WithRegion(region))
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

func NewClients(ctx context.Context, region string, maxAttempts int) (*Clients, error) {
	cfg, err := LoadAWSConfig(ctx, region, maxAttempts)
	if err != nil {
		return nil, err
	}
	return NewClientsFromConfig(cfg), nil
}

func NewClientsFromConfig(cfg aws.Config) *Clients {
	return &Clients{
		Objects:    NewObjects(s3.NewFromConfig(cfg)),
		Pipeline:   NewPipeline(codepipeline.NewFromConfig(cfg)),
		Processing: NewProcessing(sagemaker.NewFromConfig(cfg)),
		Scheduler:  NewScheduler(eventbridge.NewFromConfig(cfg)),
		Params:     NewParams(ssm.NewFromConfig(cfg)),
		Endpoint:   NewEndpoint(sagemakerruntime.NewFromConfig(cfg)),
	}
}
