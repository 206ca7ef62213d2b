package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"Consilium/internal/domain/models"
	domrepo "Consilium/internal/domain/repository"
	xerrors "Consilium/pkg/errors"
)

// MemoryStore keeps results in process. Used by the CLI and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.ConsensusResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.ConsensusResult)}
}

var _ domrepo.ConsensusStore = (*MemoryStore)(nil)

func (s *MemoryStore) Init(context.Context) error { return nil }

func (s *MemoryStore) Save(_ context.Context, r *models.ConsensusResult) (string, error) {
	if r == nil {
		return "", fmt.Errorf("result is nil")
	}
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	cp := *r
	cp.ID = id
	s.mu.Lock()
	s.records[id] = cp
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*models.ConsensusResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", id, xerrors.ErrNotFound)
	}
	return &r, nil
}

// LoadHistory returns matching results newest first.
func (s *MemoryStore) LoadHistory(_ context.Context, f models.HistoryFilter) ([]models.ConsensusResult, error) {
	s.mu.RLock()
	out := make([]models.ConsensusResult, 0, len(s.records))
	for _, r := range s.records {
		if matches(r, f) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(r models.ConsensusResult, f models.HistoryFilter) bool {
	if f.Ticker != "" && !strings.EqualFold(r.Ticker, f.Ticker) {
		return false
	}
	if f.Signal != "" && r.Signal != f.Signal {
		return false
	}
	if !f.From.IsZero() && r.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.CreatedAt.After(f.To) {
		return false
	}
	return true
}

func (s *MemoryStore) Health(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
