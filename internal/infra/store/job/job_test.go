package jobstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you-humble/imgpress/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newStore(t *testing.T) (*memoryJobStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	return NewMemoryJobStore(2*time.Minute, WithClock(clock.Now)), clock
}

func TestCreate_StartsQueued(t *testing.T) {
	s, clock := newStore(t)

	j := s.Create(domain.Job{ID: "j1", Source: []byte("src"), Quality: 80})
	assert.Equal(t, domain.PhaseQueued, j.Phase)
	assert.Zero(t, j.Progress)
	assert.Equal(t, clock.Now(), j.CreatedAt)
	assert.Nil(t, j.Source)

	got, ok := s.Get("j1")
	require.True(t, ok)
	assert.Equal(t, 80, got.Quality)
}

func TestUpdate_TerminalReleasesSourceAndFreezes(t *testing.T) {
	s, _ := newStore(t)
	s.Create(domain.Job{ID: "j1", Source: []byte("src")})

	require.True(t, s.Update("j1", func(j *domain.Job) {
		assert.Equal(t, []byte("src"), j.Source)
		j.Phase = domain.PhaseDone
		j.Progress = 1
	}))

	s.mu.RLock()
	assert.Nil(t, s.jobs["j1"].Source)
	assert.False(t, s.jobs["j1"].FinishedAt.IsZero())
	s.mu.RUnlock()

	assert.False(t, s.Update("j1", func(j *domain.Job) { j.Phase = domain.PhaseError }))
	got, _ := s.Get("j1")
	assert.Equal(t, domain.PhaseDone, got.Phase)
}

func TestGet_CollectsTerminalJobAfterGrace(t *testing.T) {
	s, clock := newStore(t)
	s.Create(domain.Job{ID: "j1"})
	s.Update("j1", func(j *domain.Job) { j.Phase = domain.PhaseError; j.Err = domain.ErrTimeout })

	clock.Advance(time.Minute)
	_, ok := s.Get("j1")
	require.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = s.Get("j1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestGet_LiveJobNeverCollected(t *testing.T) {
	s, clock := newStore(t)
	s.Create(domain.Job{ID: "j1"})
	s.Update("j1", func(j *domain.Job) { j.Phase = domain.PhaseEncoding })

	clock.Advance(time.Hour)
	_, ok := s.Get("j1")
	assert.True(t, ok)
	assert.Equal(t, 0, s.Sweep())
}

func TestGetMany_ReportsMissing(t *testing.T) {
	s, _ := newStore(t)
	s.Create(domain.Job{ID: "a"})
	s.Create(domain.Job{ID: "b"})

	jobs, found := s.GetMany([]string{"b", "nope", "a"})
	assert.Equal(t, []bool{true, false, true}, found)
	assert.Equal(t, "b", jobs[0].ID)
	assert.Equal(t, "a", jobs[2].ID)
}

func TestSweep_RemovesOnlyExpiredTerminal(t *testing.T) {
	s, clock := newStore(t)
	s.Create(domain.Job{ID: "done"})
	s.Create(domain.Job{ID: "running"})
	s.Update("done", func(j *domain.Job) { j.Phase = domain.PhaseDone })

	clock.Advance(3 * time.Minute)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestGet_ReturnsIndependentCopy(t *testing.T) {
	s, _ := newStore(t)
	s.Create(domain.Job{ID: "j1"})
	s.Update("j1", func(j *domain.Job) {
		j.Phase = domain.PhaseError
		j.Err = domain.Errorf(domain.CodeCodecFailure, "boom")
	})

	got, _ := s.Get("j1")
	got.Err.Message = "changed"

	again, _ := s.Get("j1")
	assert.Equal(t, "boom", again.Err.Message)
}
