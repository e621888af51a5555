// Package registry mirrors newly registered model packages into the
// parameter store so later deploy stages can resolve them.
package registry

import (
	"context"

	"go.uber.org/zap"

	"github.com/ILLUVRSE/mlops/mlops/internal/logging"
	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

type Params interface {
	Put(ctx context.Context, name, value string) (int64, error)
}

type Hook struct {
	parameter string
	params    Params
	log       *zap.SugaredLogger
}

// NewHook writes to the parameter named parameter.
func NewHook(parameter string, params Params, log *zap.SugaredLogger) *Hook {
	return &Hook{parameter: parameter, params: params, log: logging.OrNop(log)}
}

// Handle stores the model package ARN of ev, overwriting the previous value.
func (h *Hook) Handle(ctx context.Context, ev models.ModelPackageEvent) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	version, err := h.params.Put(ctx, h.parameter, ev.ModelPackageArn)
	if err != nil {
		h.log.Errorw("put model package parameter", "parameter", h.parameter, "error", err)
		return "", err
	}
	h.log.Infow("model package recorded",
		"parameter", h.parameter,
		"version", version,
		"modelPackageArn", ev.ModelPackageArn,
		"group", ev.ModelPackageGroupName,
		"approval", ev.ModelApprovalStatus,
	)
	return "Done", nil
}
