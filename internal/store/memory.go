package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DefaultHistory is the number of runs a MemoryStore keeps.
const DefaultHistory = 100

// MemoryStore keeps the most recent runs in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	limit  int
	order  []string
	runs   map[string]*BuildRun
	closed bool
}

// NewMemoryStore creates a store holding up to limit runs; older runs are
// evicted first. A non-positive limit means DefaultHistory.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return &MemoryStore{
		limit: limit,
		runs:  make(map[string]*BuildRun),
	}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

func (s *MemoryStore) SaveBuildRun(ctx context.Context, run *BuildRun) error {
	if run.RunID == "" {
		return fmt.Errorf("save build run: empty run id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("save build run: store closed")
	}

	if _, exists := s.runs[run.RunID]; !exists {
		s.order = append(s.order, run.RunID)
	}
	s.runs[run.RunID] = run.Copy()

	for len(s.order) > s.limit {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *MemoryStore) GetBuildRun(ctx context.Context, runID string) (*BuildRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run.Copy(), nil
}

func (s *MemoryStore) ListBuildRuns(ctx context.Context, opts ListOptions) ([]*BuildRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*BuildRun
	skipped := 0
	for i := len(s.order) - 1; i >= 0; i-- {
		run := s.runs[s.order[i]]
		if opts.Target != "" && run.Target != opts.Target {
			continue
		}
		if opts.State != "" && run.State != opts.State {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, run.Copy())
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
