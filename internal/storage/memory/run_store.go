package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// RunStore keeps run history in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]sourcing.RunRecord
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]sourcing.RunRecord)}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run sourcing.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// FinishRun records the terminal state of a run.
func (s *RunStore) FinishRun(_ context.Context, run sourcing.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.runs[run.ID]
	if !ok {
		return sourcing.ErrNotFound
	}
	current.Status = run.Status
	current.FinishedAt = pointerTime(run.FinishedAt)
	current.Created = run.Created
	current.Updated = run.Updated
	current.ErrorText = run.ErrorText
	if run.Category != "" {
		current.Category = run.Category
	}
	s.runs[run.ID] = current
	return nil
}

// GetRun fetches a run by id.
func (s *RunStore) GetRun(_ context.Context, id string) (sourcing.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return sourcing.RunRecord{}, sourcing.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, limit, offset int) ([]sourcing.RunRecord, error) {
	s.mu.RLock()
	runs := make([]sourcing.RunRecord, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(runs) {
		return []sourcing.RunRecord{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

func pointerTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := *t
	return &ts
}
