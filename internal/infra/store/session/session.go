package sessionstore

import (
	"sync"
	"time"

	"github.com/you-humble/imgpress/internal/domain"
)

type memorySessionStore struct {
	budget int64
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*domain.UploadSession
	reserved int64
}

type Option func(*memorySessionStore)

func WithClock(now func() time.Time) Option {
	return func(s *memorySessionStore) { s.now = now }
}

// NewMemorySessionStore reserves each session's declared size against budget
// for as long as the session is open.
func NewMemorySessionStore(budget int64, ttl time.Duration, opts ...Option) *memorySessionStore {
	s := &memorySessionStore{
		budget:   budget,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*domain.UploadSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *memorySessionStore) Create(sess domain.UploadSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reserved+sess.Size > s.budget {
		return domain.ErrServerBusy
	}

	now := s.now()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	sess.ReceivedBytes = 0
	sess.Chunks = make(map[int][]byte, sess.ChunkCount)

	s.sessions[sess.ID] = &sess
	s.reserved += sess.Size
	return nil
}

// Find returns the id of the first open session accepted by match.
func (s *memorySessionStore) Find(match func(sess *domain.UploadSession) bool) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if match(sess) {
			return id, true
		}
	}
	return "", false
}

// WithSession runs fn on the live session under the store lock. When fn
// reports remove the session is dropped and its reservation returned, even if
// fn also returned an error. Only a newly stored chunk counts as activity for
// the idle TTL. fn must not block.
func (s *memorySessionStore) WithSession(id string, fn func(sess *domain.UploadSession) (remove bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrUploadNotFound
	}

	chunks := len(sess.Chunks)
	remove, err := fn(sess)
	if len(sess.Chunks) > chunks {
		sess.UpdatedAt = s.now()
	}
	if remove {
		s.remove(id, sess)
	}
	return err
}

func (s *memorySessionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if ok {
		s.remove(id, sess)
	}
	return ok
}

// Sweep drops sessions idle for longer than the TTL.
func (s *memorySessionStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.UpdatedAt) > s.ttl {
			s.remove(id, sess)
			removed++
		}
	}
	return removed
}

func (s *memorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *memorySessionStore) Reserved() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserved
}

func (s *memorySessionStore) remove(id string, sess *domain.UploadSession) {
	delete(s.sessions, id)
	s.reserved -= sess.Size
}
