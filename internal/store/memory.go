// Package store provides the persistence implementations behind the
// agreement service: Postgres for the server, in-memory for tests.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/polycentric-game/signet/pkg/domain"
)

// Memory is a mutex-guarded in-memory store with by-value semantics:
// records are deep-copied on both read and write, so callers never share
// state with the store. Save is last-write-wins upsert-by-id.
type Memory struct {
	mu         sync.RWMutex
	founders   map[string]*domain.Founder
	agreements map[string]*domain.Agreement
}

func NewMemory() *Memory {
	return &Memory{
		founders:   map[string]*domain.Founder{},
		agreements: map[string]*domain.Agreement{},
	}
}

func (m *Memory) GetAgreement(_ context.Context, id string) (*domain.Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ag, ok := m.agreements[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return ag.Clone(), nil
}

func (m *Memory) ListAgreementsByFounder(_ context.Context, founderID string) ([]*domain.Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Agreement
	for _, ag := range m.agreements {
		if ag.FounderAID == founderID || ag.FounderBID == founderID {
			out = append(out, ag.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) SaveAgreement(_ context.Context, ag *domain.Agreement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agreements[ag.ID] = ag.Clone()
	return nil
}

func (m *Memory) GetFounder(_ context.Context, id string) (*domain.Founder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.founders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return f.Clone(), nil
}

func (m *Memory) SaveFounder(_ context.Context, f *domain.Founder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.founders[f.ID] = f.Clone()
	return nil
}
