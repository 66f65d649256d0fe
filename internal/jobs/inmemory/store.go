package inmemory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dvloznov/bill-parser/internal/jobs"
)

const defaultMaxJobs = 10000

// Store keeps job records in memory. It holds copies, so callers may keep
// mutating the jobs they save. Once more than maxJobs records exist the
// oldest finished ones are evicted.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*jobs.ParseStatementJob
	maxJobs int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxJobs caps the number of retained records. Pending, running and
// retrying jobs are never evicted.
func WithMaxJobs(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxJobs = n
		}
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		byID:    make(map[string]*jobs.ParseStatementJob),
		maxJobs: defaultMaxJobs,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) SaveJob(_ context.Context, job *jobs.ParseStatementJob) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job ID is required")
	}

	rec := *job
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[job.JobID] = &rec
	if len(s.byID) > s.maxJobs {
		s.evictLocked()
	}
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (*jobs.ParseStatementJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	out := *rec
	return &out, nil
}

// ListJobs returns the jobs matching filter, newest first.
func (s *Store) ListJobs(_ context.Context, filter jobs.JobFilter) ([]*jobs.ParseStatementJob, error) {
	s.mu.RLock()
	matched := make([]*jobs.ParseStatementJob, 0, len(s.byID))
	for _, rec := range s.byID {
		if filter.Matches(rec) {
			out := *rec
			matched = append(matched, &out)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, newestFirst)

	offset := max(filter.Offset, 0)
	if offset >= len(matched) {
		return []*jobs.ParseStatementJob{}, nil
	}
	matched = matched[offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// evictLocked drops the oldest finished jobs until the store is back
// under maxJobs. Callers hold s.mu.
func (s *Store) evictLocked() {
	finished := make([]*jobs.ParseStatementJob, 0, len(s.byID))
	for _, rec := range s.byID {
		if rec.Status.Finished() {
			finished = append(finished, rec)
		}
	}
	slices.SortFunc(finished, newestFirst)

	for i := len(finished) - 1; i >= 0 && len(s.byID) > s.maxJobs; i-- {
		delete(s.byID, finished[i].JobID)
	}
}

// newestFirst orders by creation time, then by ID so listings are stable.
func newestFirst(a, b *jobs.ParseStatementJob) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	if a.JobID < b.JobID {
		return -1
	}
	if a.JobID > b.JobID {
		return 1
	}
	return 0
}

var _ jobs.JobStore = (*Store)(nil)
