package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/mlops/mlops/internal/models"
)

type MemoryStore struct {
	mu        sync.RWMutex
	decisions map[string]models.Decision
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{decisions: map[string]models.Decision{}}
}

func (m *MemoryStore) RecordDecision(ctx context.Context, d models.Decision) (models.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.decisions[d.ExecutionID]; ok {
		d.ID = prev.ID
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.RMSE != nil {
		v := *d.RMSE
		d.RMSE = &v
	}
	d.DecidedAt = d.DecidedAt.UTC()
	m.decisions[d.ExecutionID] = d
	return d, nil
}

func (m *MemoryStore) ListDecisions(ctx context.Context, filter ListDecisionsFilter) ([]models.Decision, error) {
	m.mu.RLock()
	out := make([]models.Decision, 0, len(m.decisions))
	for _, d := range m.decisions {
		if filter.PipelineName != "" && d.PipelineName != filter.PipelineName {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, d)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DecidedAt.Equal(out[j].DecidedAt) {
			return out[i].ExecutionID < out[j].ExecutionID
		}
		return out[i].DecidedAt.After(out[j].DecidedAt)
	})
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []models.Decision{}, nil
	}
	out = out[offset:]
	if limit := normalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetDecisionByExecution(ctx context.Context, executionID string) (models.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.decisions[executionID]
	if !ok {
		return models.Decision{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
