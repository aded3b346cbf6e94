package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you-humble/imgpress/internal/domain"
	"github.com/you-humble/imgpress/internal/engine"
	"github.com/you-humble/imgpress/internal/infra/codec"
	dedupstore "github.com/you-humble/imgpress/internal/infra/store/dedup"
	jobstore "github.com/you-humble/imgpress/internal/infra/store/job"
	resultstore "github.com/you-humble/imgpress/internal/infra/store/result"
	sessionstore "github.com/you-humble/imgpress/internal/infra/store/session"
	"github.com/you-humble/imgpress/internal/limiter"

	"github.com/zeebo/blake3"
)

type halvingCodec struct {
	calls atomic.Int64
}

func (c *halvingCodec) Probe(ctx context.Context, data []byte) (codec.Info, error) {
	return codec.Info{Width: 2000, Height: 1500, Format: codec.FormatJPEG}, nil
}

func (c *halvingCodec) Transcode(ctx context.Context, data []byte, o codec.Options) ([]byte, error) {
	c.calls.Add(1)
	return data[:len(data)/2], nil
}

type harness struct {
	m      *manager
	codec  *halvingCodec
	jobs   interface{ Get(string) (domain.Job, bool) }
	engine interface{ Wait() }
	store  interface{ Len() int }
}

func newHarness(t *testing.T, budget int64) harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := &halvingCodec{}
	results := resultstore.NewMemoryCache(64<<20, 100, time.Hour)
	dedup := dedupstore.NewMemoryIndex(results)
	jobs := jobstore.NewMemoryJobStore(time.Minute)
	sessions := sessionstore.NewMemorySessionStore(budget, 15*time.Minute)
	eng := engine.New(context.Background(), engine.Config{
		HardPixelLimit: 268402689,
		SoftPixelLimit: 50_000_000,
		EncodeTimeout:  time.Second,
	}, c, limiter.New(2), jobs, results, dedup, logger)

	m := NewManager(Limits{MaxFileBytes: 50 << 20, MaxChunkBytes: 8 << 20}, sessions, dedup, results, eng, logger)
	return harness{m: m, codec: c, jobs: jobs, engine: eng, store: sessions}
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 31)
	}
	return b
}

func sha(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func initReq(data []byte, chunks int) domain.InitUploadRequest {
	return domain.InitUploadRequest{
		Filename:   "big.jpg",
		MimeType:   "image/jpeg",
		Size:       int64(len(data)),
		ChunkCount: chunks,
		Quality:    80,
	}
}

func split(data []byte, chunkSize int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := min(chunkSize, len(data))
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

func TestScenario_TenChunkUpload(t *testing.T) {
	h := newHarness(t, 1<<30)
	const mb = 1 << 20
	data := payload(10 * mb)
	chunks := split(data, mb)
	require.Len(t, chunks, 10)

	resp, err := h.m.Init(initReq(data, 10))
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)
	assert.Equal(t, int64(mb), resp.ChunkSize)
	assert.False(t, resp.Instant)
	assert.False(t, resp.Resume)

	for i := 0; i < 9; i++ {
		_, err := h.m.PutChunk(resp.SessionID, i, chunks[i])
		require.NoError(t, err)
	}

	_, err = h.m.Complete(resp.SessionID)
	require.Error(t, err)
	assert.Equal(t, domain.CodeIncompleteUpload, domain.CodeOf(err))

	last, err := h.m.PutChunk(resp.SessionID, 9, chunks[9])
	require.NoError(t, err)
	assert.True(t, last.Done)
	assert.Equal(t, int64(10*mb), last.ReceivedBytes)

	done, err := h.m.Complete(resp.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, done.JobID)
	assert.Zero(t, h.store.Len())

	h.engine.Wait()
	job, ok := h.jobs.Get(done.JobID)
	require.True(t, ok)
	assert.Equal(t, domain.PhaseDone, job.Phase)
	assert.Less(t, job.Size, int64(10*mb))
}

func TestPutChunk_DuplicateIsIdempotent(t *testing.T) {
	h := newHarness(t, 1<<30)
	data := payload(30)
	resp, err := h.m.Init(initReq(data, 3))
	require.NoError(t, err)

	first, err := h.m.PutChunk(resp.SessionID, 1, data[10:20])
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, int64(10), first.ReceivedBytes)

	again, err := h.m.PutChunk(resp.SessionID, 1, data[10:20])
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, int64(10), again.ReceivedBytes)
	assert.Equal(t, int64(30), again.TotalBytes)
}

func TestResume_CompletesWithMissingIndicesOnly(t *testing.T) {
	h := newHarness(t, 1<<30)
	data := payload(40)
	chunks := split(data, 10)
	hash := sha(data)

	req := initReq(data, 4)
	req.Hash = hash
	first, err := h.m.Init(req)
	require.NoError(t, err)

	for _, i := range []int{3, 0} {
		_, err := h.m.PutChunk(first.SessionID, i, chunks[i])
		require.NoError(t, err)
	}

	req.Quality = 55
	req.CorrelationID = "again"
	resumed, err := h.m.Init(req)
	require.NoError(t, err)
	assert.True(t, resumed.Resume)
	assert.Equal(t, first.SessionID, resumed.SessionID)
	assert.Equal(t, []int{0, 3}, resumed.ReceivedChunkIndices)
	assert.Equal(t, int64(20), resumed.ReceivedBytes)

	for _, i := range []int{2, 1} {
		_, err := h.m.PutChunk(resumed.SessionID, i, chunks[i])
		require.NoError(t, err)
	}
	status, err := h.m.Status(resumed.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), status.ReceivedBytes)
	assert.Equal(t, []int{0, 1, 2, 3}, status.ReceivedChunkIndices)

	done, err := h.m.Complete(resumed.SessionID)
	require.NoError(t, err)
	h.engine.Wait()

	job, ok := h.jobs.Get(done.JobID)
	require.True(t, ok)
	assert.Equal(t, 55, job.Quality)
	assert.Equal(t, "again", job.CorrelationID)
	assert.Equal(t, domain.PhaseDone, job.Phase)
}

func TestInit_InstantAfterFirstUploadCompleted(t *testing.T) {
	h := newHarness(t, 1<<30)
	data := payload(20)
	req := initReq(data, 1)
	req.Hash = "sha256:" + sha(data)

	first, err := h.m.Init(req)
	require.NoError(t, err)
	_, err = h.m.PutChunk(first.SessionID, 0, data)
	require.NoError(t, err)
	done, err := h.m.Complete(first.SessionID)
	require.NoError(t, err)
	h.engine.Wait()
	job, _ := h.jobs.Get(done.JobID)
	require.Equal(t, domain.PhaseDone, job.Phase)
	require.Equal(t, int64(1), h.codec.calls.Load())

	second, err := h.m.Init(req)
	require.NoError(t, err)
	require.True(t, second.Instant)
	require.NotNil(t, second.Result)
	assert.Equal(t, job.ResultID, second.Result.ResultID)
	assert.Equal(t, job.Size, second.Result.Size)
	assert.Empty(t, second.SessionID)
	assert.Equal(t, int64(1), h.codec.calls.Load())

	// a different quality is a different result
	req.Quality = 40
	third, err := h.m.Init(req)
	require.NoError(t, err)
	assert.False(t, third.Instant)
}

func TestComplete_InstantWhenContentAlreadyKnown(t *testing.T) {
	h := newHarness(t, 1<<30)
	data := payload(20)
	hash := sha(data)

	a := initReq(data, 1)
	a.Hash = hash
	a.Filename = "a.jpg"
	b := a
	b.Filename = "b.jpg"

	sa, err := h.m.Init(a)
	require.NoError(t, err)
	sb, err := h.m.Init(b)
	require.NoError(t, err)
	require.NotEqual(t, sa.SessionID, sb.SessionID)

	_, err = h.m.PutChunk(sa.SessionID, 0, data)
	require.NoError(t, err)
	_, err = h.m.PutChunk(sb.SessionID, 0, data)
	require.NoError(t, err)

	_, err = h.m.Complete(sa.SessionID)
	require.NoError(t, err)
	h.engine.Wait()

	res, err := h.m.Complete(sb.SessionID)
	require.NoError(t, err)
	require.NotNil(t, res.Result)
	assert.Empty(t, res.JobID)
	assert.Equal(t, int64(1), h.codec.calls.Load())
}

func TestComplete_HashMismatchDropsHash(t *testing.T) {
	h := newHarness(t, 1<<30)
	data := payload(20)
	req := initReq(data, 1)
	req.Hash = sha([]byte("something else"))

	s, err := h.m.Init(req)
	require.NoError(t, err)
	_, err = h.m.PutChunk(s.SessionID, 0, data)
	require.NoError(t, err)
	done, err := h.m.Complete(s.SessionID)
	require.NoError(t, err)
	h.engine.Wait()

	job, _ := h.jobs.Get(done.JobID)
	assert.Empty(t, job.Hash)
	assert.Equal(t, domain.PhaseDone, job.Phase)

	again, err := h.m.Init(req)
	require.NoError(t, err)
	assert.False(t, again.Instant)
}

func TestComplete_MissingChunk(t *testing.T) {
	h := newHarness(t, 1<<30)
	data := payload(10)
	s, err := h.m.Init(initReq(data, 2))
	require.NoError(t, err)

	// one oversized chunk covers all bytes but leaves index 1 empty
	_, err = h.m.PutChunk(s.SessionID, 0, data)
	require.NoError(t, err)

	_, err = h.m.Complete(s.SessionID)
	assert.Equal(t, domain.CodeMissingChunk, domain.CodeOf(err))

	_, err = h.m.Status(s.SessionID)
	assert.NoError(t, err, "session stays open for retry")
}

func TestPutChunk_Errors(t *testing.T) {
	h := newHarness(t, 1<<30)
	data := payload(10)
	s, err := h.m.Init(initReq(data, 2))
	require.NoError(t, err)

	_, err = h.m.PutChunk(s.SessionID, 2, data[:5])
	assert.Equal(t, domain.CodeBadChunkIndex, domain.CodeOf(err))
	_, err = h.m.PutChunk(s.SessionID, -1, data[:5])
	assert.Equal(t, domain.CodeBadChunkIndex, domain.CodeOf(err))

	_, err = h.m.PutChunk(s.SessionID, 0, nil)
	assert.Equal(t, domain.CodeBadRequest, domain.CodeOf(err))

	_, err = h.m.PutChunk("nope", 0, data[:5])
	assert.ErrorIs(t, err, domain.ErrUploadNotFound)
}

func TestPutChunk_OverflowDestroysSession(t *testing.T) {
	h := newHarness(t, 1<<30)
	data := payload(10)
	s, err := h.m.Init(initReq(data, 2))
	require.NoError(t, err)

	_, err = h.m.PutChunk(s.SessionID, 0, data[:6])
	require.NoError(t, err)
	_, err = h.m.PutChunk(s.SessionID, 1, data[:6])
	assert.Equal(t, domain.CodeUploadSizeMismatch, domain.CodeOf(err))

	_, err = h.m.PutChunk(s.SessionID, 1, data[:4])
	assert.ErrorIs(t, err, domain.ErrUploadNotFound)
	assert.Zero(t, h.store.Len())
}

func TestInit_Validation(t *testing.T) {
	h := newHarness(t, 1<<30)
	base := domain.InitUploadRequest{Filename: "a.png", MimeType: "image/png", Size: 100, ChunkCount: 2, Quality: 80}

	tests := []struct {
		name   string
		mutate func(r *domain.InitUploadRequest)
		code   domain.Code
	}{
		{"empty filename", func(r *domain.InitUploadRequest) { r.Filename = " " }, domain.CodeBadRequest},
		{"bad mime", func(r *domain.InitUploadRequest) { r.MimeType = "application/pdf" }, domain.CodeUnsupportedType},
		{"zero size", func(r *domain.InitUploadRequest) { r.Size = 0 }, domain.CodeBadRequest},
		{"too large", func(r *domain.InitUploadRequest) { r.Size = 51 << 20; r.ChunkCount = 10 }, domain.CodeFileTooLarge},
		{"zero chunks", func(r *domain.InitUploadRequest) { r.ChunkCount = 0 }, domain.CodeBadRequest},
		{"more chunks than bytes", func(r *domain.InitUploadRequest) { r.ChunkCount = 101 }, domain.CodeBadRequest},
		{"chunk too big", func(r *domain.InitUploadRequest) { r.Size = 20 << 20; r.ChunkCount = 2 }, domain.CodeBadRequest},
		{"quality low", func(r *domain.InitUploadRequest) { r.Quality = 0 }, domain.CodeBadRequest},
		{"quality high", func(r *domain.InitUploadRequest) { r.Quality = 101 }, domain.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := h.m.Init(req)
			assert.Equal(t, tt.code, domain.CodeOf(err))
		})
	}
}

func TestInit_BudgetExhausted(t *testing.T) {
	h := newHarness(t, 100)

	_, err := h.m.Init(domain.InitUploadRequest{Filename: "a.png", MimeType: "image/png", Size: 80, ChunkCount: 1, Quality: 80})
	require.NoError(t, err)
	_, err = h.m.Init(domain.InitUploadRequest{Filename: "b.png", MimeType: "image/png", Size: 30, ChunkCount: 1, Quality: 80})
	assert.ErrorIs(t, err, domain.ErrServerBusy)
}

func TestAbort(t *testing.T) {
	h := newHarness(t, 1<<30)
	data := payload(10)
	s, err := h.m.Init(initReq(data, 1))
	require.NoError(t, err)

	require.NoError(t, h.m.Abort(s.SessionID))
	assert.ErrorIs(t, h.m.Abort(s.SessionID), domain.ErrUploadNotFound)

	_, err = h.m.PutChunk(s.SessionID, 0, data)
	assert.ErrorIs(t, err, domain.ErrUploadNotFound)
}

func TestVerifyDigest(t *testing.T) {
	data := []byte("hello imgpress")
	b3 := blake3.Sum256(data)

	assert.True(t, VerifyDigest(data, sha(data)))
	assert.True(t, VerifyDigest(data, "SHA256:"+sha(data)))
	assert.True(t, VerifyDigest(data, "blake3:"+hex.EncodeToString(b3[:])))
	assert.False(t, VerifyDigest(data, "blake3:"+sha(data)))
	assert.False(t, VerifyDigest(data, "zz"))
	assert.False(t, VerifyDigest(data, ""))
	assert.Equal(t, sha(data), Digest(data))
	assert.False(t, VerifyDigest(bytes.ToUpper(data), sha(data)))
}
