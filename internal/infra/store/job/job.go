package jobstore

import (
	"sync"
	"time"

	"github.com/you-humble/imgpress/internal/domain"
)

type memoryJobStore struct {
	grace time.Duration
	now   func() time.Time

	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

type Option func(*memoryJobStore)

func WithClock(now func() time.Time) Option {
	return func(s *memoryJobStore) { s.now = now }
}

// NewMemoryJobStore keeps terminal jobs readable for grace before they are
// collected.
func NewMemoryJobStore(grace time.Duration, opts ...Option) *memoryJobStore {
	s := &memoryJobStore{
		grace: grace,
		now:   time.Now,
		jobs:  make(map[string]*domain.Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *memoryJobStore) Create(job domain.Job) domain.Job {
	job.Phase = domain.PhaseQueued
	job.Progress = domain.PhaseQueued.Progress()
	job.CreatedAt = s.now()

	s.mu.Lock()
	s.jobs[job.ID] = &job
	s.mu.Unlock()

	return snapshot(&job)
}

// Get returns a copy without the source bytes. Terminal jobs past their grace
// period are collected and reported missing.
func (s *memoryJobStore) Get(id string) (domain.Job, bool) {
	now := s.now()

	s.mu.RLock()
	j, ok := s.jobs[id]
	if ok && !s.collectable(j, now) {
		out := snapshot(j)
		s.mu.RUnlock()
		return out, true
	}
	s.mu.RUnlock()
	if !ok {
		return domain.Job{}, false
	}

	s.mu.Lock()
	if j, ok := s.jobs[id]; ok && s.collectable(j, now) {
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	return domain.Job{}, false
}

// GetMany keeps the order of ids; the bool slice marks which were found.
func (s *memoryJobStore) GetMany(ids []string) ([]domain.Job, []bool) {
	jobs := make([]domain.Job, len(ids))
	found := make([]bool, len(ids))
	for i, id := range ids {
		jobs[i], found[i] = s.Get(id)
	}
	return jobs, found
}

// Update applies fn to the stored job while it is not terminal. Reaching a
// terminal phase stamps FinishedAt and releases the source bytes.
func (s *memoryJobStore) Update(id string, fn func(j *domain.Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Phase.Terminal() {
		return false
	}

	fn(j)
	if j.Phase.Terminal() {
		j.FinishedAt = s.now()
		j.Source = nil
	}
	return true
}

func (s *memoryJobStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, j := range s.jobs {
		if s.collectable(j, now) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

func (s *memoryJobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *memoryJobStore) collectable(j *domain.Job, now time.Time) bool {
	return j.Phase.Terminal() && now.Sub(j.FinishedAt) >= s.grace
}

func snapshot(j *domain.Job) domain.Job {
	out := *j
	out.Source = nil
	if j.Err != nil {
		e := *j.Err
		out.Err = &e
	}
	return out
}
