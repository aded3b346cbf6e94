package sessionstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you-humble/imgpress/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newStore(budget int64) (*memorySessionStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	return NewMemorySessionStore(budget, 15*time.Minute, WithClock(clock.Now)), clock
}

func TestCreate_EnforcesBudget(t *testing.T) {
	s, _ := newStore(100)

	require.NoError(t, s.Create(domain.UploadSession{ID: "a", Size: 60}))
	err := s.Create(domain.UploadSession{ID: "b", Size: 41})
	require.ErrorIs(t, err, domain.ErrServerBusy)

	require.NoError(t, s.Create(domain.UploadSession{ID: "c", Size: 40}))
	assert.Equal(t, int64(100), s.Reserved())
}

func TestDelete_ReleasesBudget(t *testing.T) {
	s, _ := newStore(100)
	require.NoError(t, s.Create(domain.UploadSession{ID: "a", Size: 100}))

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
	assert.Zero(t, s.Reserved())
	require.NoError(t, s.Create(domain.UploadSession{ID: "b", Size: 100}))
}

func TestWithSession_UnknownID(t *testing.T) {
	s, _ := newStore(100)
	err := s.WithSession("ghost", func(*domain.UploadSession) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, domain.ErrUploadNotFound)
}

func TestWithSession_RemoveAndError(t *testing.T) {
	s, _ := newStore(100)
	require.NoError(t, s.Create(domain.UploadSession{ID: "a", Size: 10}))

	boom := errors.New("boom")
	err := s.WithSession("a", func(sess *domain.UploadSession) (bool, error) {
		return true, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, s.Len())
	assert.Zero(t, s.Reserved())
}

func TestSweep_IdleSessionsOnly(t *testing.T) {
	s, clock := newStore(1000)
	require.NoError(t, s.Create(domain.UploadSession{ID: "idle", Size: 1}))
	require.NoError(t, s.Create(domain.UploadSession{ID: "busy", Size: 1}))

	clock.Advance(10 * time.Minute)
	require.NoError(t, s.WithSession("busy", func(sess *domain.UploadSession) (bool, error) {
		sess.Chunks[0] = []byte("x")
		return false, nil
	}))

	clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, s.Sweep())

	_, ok := s.Find(func(sess *domain.UploadSession) bool { return sess.ID == "busy" })
	assert.True(t, ok)
	_, ok = s.Find(func(sess *domain.UploadSession) bool { return sess.ID == "idle" })
	assert.False(t, ok)
}

func TestCreate_InitialisesChunkState(t *testing.T) {
	s, clock := newStore(1000)
	require.NoError(t, s.Create(domain.UploadSession{ID: "a", Size: 10, ChunkCount: 2, ReceivedBytes: 99}))

	require.NoError(t, s.WithSession("a", func(sess *domain.UploadSession) (bool, error) {
		assert.NotNil(t, sess.Chunks)
		assert.Zero(t, sess.ReceivedBytes)
		assert.Equal(t, clock.Now(), sess.CreatedAt)
		return false, nil
	}))
}

func TestWithSession_ReadsDoNotKeepSessionAlive(t *testing.T) {
	s, clock := newStore(1000)
	require.NoError(t, s.Create(domain.UploadSession{ID: "a", Size: 10, ChunkCount: 2}))

	// status polls and rejected chunks touch the session without storing data
	for range 4 {
		clock.Advance(5 * time.Minute)
		_ = s.WithSession("a", func(sess *domain.UploadSession) (bool, error) {
			return false, domain.Errorf(domain.CodeBadChunkIndex, "index 7 outside [0, 2)")
		})
		require.NoError(t, s.WithSession("a", func(*domain.UploadSession) (bool, error) { return false, nil }))
	}

	assert.Equal(t, 1, s.Sweep())
	assert.Zero(t, s.Len())
}
