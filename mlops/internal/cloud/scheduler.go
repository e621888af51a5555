package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
)

type EventBridgeAPI interface {
	EnableRule(ctx context.Context, params *eventbridge.EnableRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.EnableRuleOutput, error)
	DisableRule(ctx context.Context, params *eventbridge.DisableRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DisableRuleOutput, error)
}

// Scheduler toggles the scheduled rule that drives the approval poller.
// Enabling an enabled rule and disabling a disabled rule are both no-ops.
type Scheduler struct {
	client EventBridgeAPI
}

func NewScheduler(client EventBridgeAPI) *Scheduler {
	return &Scheduler{client: client}
}

func (s *Scheduler) EnableRule(ctx context.Context, name string) error {
	if _, err := s.client.EnableRule(ctx, &eventbridge.EnableRuleInput{Name: aws.String(name)}); err != nil {
		return fmt.Errorf("enable rule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) DisableRule(ctx context.Context, name string) error {
	if _, err := s.client.DisableRule(ctx, &eventbridge.DisableRuleInput{Name: aws.String(name)}); err != nil {
		return fmt.Errorf("disable rule %s: %w", name, err)
	}
	return nil
}
