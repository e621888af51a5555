// Package staging implements the custom resource that copies a seed object
// into the pipeline bucket when the stack is created and removes it again on
// stack deletion.
package staging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/cfn"
	"go.uber.org/zap"

	"github.com/ILLUVRSE/mlops/mlops/internal/cloud"
	"github.com/ILLUVRSE/mlops/mlops/internal/logging"
	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

type Objects interface {
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
	Delete(ctx context.Context, bucket, key string) error
}

type Stager struct {
	objects Objects
	log     *zap.SugaredLogger
}

func New(objects Objects, log *zap.SugaredLogger) *Stager {
	return &Stager{objects: objects, log: logging.OrNop(log)}
}

// Handle is a cfn.CustomResourceFunction. Wrap it with cfn.LambdaWrap to get
// the response sent to the stack.
func (s *Stager) Handle(ctx context.Context, ev cfn.Event) (string, map[string]interface{}, error) {
	req, err := parseRequest(ev.ResourceProperties)
	if err != nil {
		if ev.RequestType == cfn.RequestDelete {
			// nothing was ever staged for a resource that failed validation
			s.log.Warnw("delete with invalid properties", "physicalResourceId", ev.PhysicalResourceID, "error", err)
			return ev.PhysicalResourceID, nil, nil
		}
		return "", nil, err
	}
	id := cloud.S3URI(req.TargetBucket, req.TargetKey)
	log := s.log.With("requestType", ev.RequestType, "target", id)

	switch ev.RequestType {
	case cfn.RequestCreate, cfn.RequestUpdate:
		log.Infow("copying object", "source", cloud.S3URI(req.SourceBucket, req.SourceKey))
		if err := s.objects.Copy(ctx, req.SourceBucket, req.SourceKey, req.TargetBucket, req.TargetKey); err != nil {
			log.Errorw("copy failed", "error", err)
			return id, nil, err
		}
		log.Infow("object created")
	case cfn.RequestDelete:
		if err := s.objects.Delete(ctx, req.TargetBucket, req.TargetKey); err != nil {
			log.Errorw("delete failed", "error", err)
			return id, nil, err
		}
		log.Infow("object deleted")
	default:
		return id, nil, fmt.Errorf("unsupported request type %q", ev.RequestType)
	}
	return id, map[string]interface{}{"Uri": id}, nil
}

func parseRequest(props map[string]interface{}) (models.StagingRequest, error) {
	raw, err := json.Marshal(props)
	if err != nil {
		return models.StagingRequest{}, fmt.Errorf("encode resource properties: %w", err)
	}
	var req models.StagingRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return models.StagingRequest{}, fmt.Errorf("decode resource properties: %w", err)
	}
	if err := req.Validate(); err != nil {
		return models.StagingRequest{}, err
	}
	return req, nil
}
