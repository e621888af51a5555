package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
)

type SageMakerRuntimeAPI interface {
	InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// Endpoint invokes hosted model endpoints.
type Endpoint struct {
	client SageMakerRuntimeAPI
}

func NewEndpoint(client SageMakerRuntimeAPI) *Endpoint {
	return &Endpoint{client: client}
}

func (e *Endpoint) Invoke(ctx context.Context, endpointName, contentType string, body []byte) ([]byte, error) {
	out, err := e.client.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(endpointName),
		ContentType:  aws.String(contentType),
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke endpoint %s: %w", endpointName, err)
	}
	return out.Body, nil
}
