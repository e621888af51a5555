// Package events publishes resolved gate decisions to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

type KafkaPublisherConfig struct {
	Brokers []string
	Topic   string

	// MaxAttempts defaults to 3 if <= 0.
	MaxAttempts int
	// WriteTimeout bounds a single attempt. Defaults to 5s.
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per decision, keyed by execution id so
// every decision for an execution lands on the same partition.
type KafkaPublisher struct {
	writer       messageWriter
	topic        string
	maxAttempts  int
	writeTimeout time.Duration
	backoff      time.Duration
}

func NewKafkaPublisher(cfg KafkaPublisherConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
	})
	return newKafkaPublisher(w, cfg), nil
}

func newKafkaPublisher(w messageWriter, cfg KafkaPublisherConfig) *KafkaPublisher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &KafkaPublisher{
		writer:       w,
		topic:        cfg.Topic,
		maxAttempts:  cfg.MaxAttempts,
		writeTimeout: cfg.WriteTimeout,
		backoff:      100 * time.Millisecond,
	}
}

// DecisionEvent is the message value published for each decision.
type DecisionEvent struct {
	Type     string          `json:"type"`
	Decision models.Decision `json:"decision"`
}

const decisionEventType = "gate.decision"

func (p *KafkaPublisher) PublishDecision(ctx context.Context, d models.Decision) error {
	value, err := json.Marshal(DecisionEvent{Type: decisionEventType, Decision: d})
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(d.ExecutionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "pipeline", Value: []byte(d.PipelineName)},
			{Key: "status", Value: []byte(d.Status)},
		},
	}

	var lastErr error
	backoff := p.backoff
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		msg.Time = time.Now().UTC()
		actx, cancel := context.WithTimeout(ctx, p.writeTimeout)
		err := p.writer.WriteMessages(actx, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("publish decision: %w", ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("publish decision to %s failed after %d attempts: %w", p.topic, p.maxAttempts, lastErr)
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
