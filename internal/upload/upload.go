// Package upload implements the resumable chunked upload protocol. A session
// collects chunks in any order; completing it reassembles the file and hands
// it to the engine, or answers from the dedup index when the content is
// already known.
package upload

import (
	"log/slog"
	"strings"

	"github.com/you-humble/imgpress/internal/domain"
	"github.com/you-humble/imgpress/internal/infra/codec"
	dedupstore "github.com/you-humble/imgpress/internal/infra/store/dedup"
	resultstore "github.com/you-humble/imgpress/internal/infra/store/result"

	"github.com/google/uuid"
)

type Engine interface {
	Submit(req domain.CompressRequest) domain.Job
}

type DedupIndex interface {
	Lookup(hash string, quality int) (string, bool)
}

type ResultCache interface {
	Get(key string) (resultstore.Entry, bool)
}

type SessionStore interface {
	Create(sess domain.UploadSession) error
	Find(match func(sess *domain.UploadSession) bool) (string, bool)
	WithSession(id string, fn func(sess *domain.UploadSession) (remove bool, err error)) error
	Delete(id string) bool
	Sweep() int
}

type Limits struct {
	MaxFileBytes  int64
	MaxChunkBytes int64
}

type manager struct {
	limits   Limits
	sessions SessionStore
	dedup    DedupIndex
	results  ResultCache
	engine   Engine
	logger   *slog.Logger
}

func NewManager(
	limits Limits,
	sessions SessionStore,
	dedup DedupIndex,
	results ResultCache,
	engine Engine,
	logger *slog.Logger,
) *manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &manager{
		limits:   limits,
		sessions: sessions,
		dedup:    dedup,
		results:  results,
		engine:   engine,
		logger:   logger,
	}
}

func (m *manager) Init(req domain.InitUploadRequest) (domain.InitUploadResponse, error) {
	if err := m.validateInit(req); err != nil {
		return domain.InitUploadResponse{}, err
	}
	hash := dedupstore.NormalizeHash(req.Hash)

	if res, ok := m.instant(hash, req.Quality); ok {
		m.logger.Info("upload init: instant result",
			slog.String("file_name", req.Filename),
			slog.String("result_id", res.ResultID),
		)
		return domain.InitUploadResponse{Instant: true, Result: &res}, nil
	}

	if resp, ok := m.resume(req, hash); ok {
		return resp, nil
	}

	sess := domain.UploadSession{
		ID:            uuid.NewString(),
		Filename:      req.Filename,
		MimeType:      req.MimeType,
		Size:          req.Size,
		ChunkCount:    req.ChunkCount,
		Quality:       req.Quality,
		Hash:          hash,
		CorrelationID: req.CorrelationID,
		ResultID:      req.ResultID,
	}
	if err := m.sessions.Create(sess); err != nil {
		return domain.InitUploadResponse{}, err
	}

	m.logger.Info("upload session opened",
		slog.String("session_id", sess.ID),
		slog.String("file_name", sess.Filename),
		slog.Int64("size", sess.Size),
		slog.Int("chunk_count", sess.ChunkCount),
	)
	return domain.InitUploadResponse{
		SessionID: sess.ID,
		ChunkSize: chunkSize(sess.Size, sess.ChunkCount),
	}, nil
}

func (m *manager) validateInit(req domain.InitUploadRequest) error {
	if strings.TrimSpace(req.Filename) == "" {
		return domain.Errorf(domain.CodeBadRequest, "filename is required")
	}
	if _, ok := codec.FormatFromContentType(req.MimeType); !ok {
		return domain.Errorf(domain.CodeUnsupportedType, "unsupported mime type %q", req.MimeType)
	}
	if req.Size <= 0 {
		return domain.Errorf(domain.CodeBadRequest, "size must be positive")
	}
	if req.Size > m.limits.MaxFileBytes {
		return domain.Errorf(domain.CodeFileTooLarge, "size %d exceeds the %d byte limit", req.Size, m.limits.MaxFileBytes)
	}
	if req.ChunkCount < 1 || int64(req.ChunkCount) > req.Size {
		return domain.Errorf(domain.CodeBadRequest, "chunk_count must be between 1 and size")
	}
	if cs := chunkSize(req.Size, req.ChunkCount); cs > m.limits.MaxChunkBytes {
		return domain.Errorf(domain.CodeBadRequest, "chunk size %d exceeds the %d byte limit", cs, m.limits.MaxChunkBytes)
	}
	if req.Quality < 1 || req.Quality > 100 {
		return domain.Errorf(domain.CodeBadRequest, "quality must be between 1 and 100")
	}
	return nil
}

func (m *manager) instant(hash string, quality int) (domain.InstantResult, bool) {
	if hash == "" {
		return domain.InstantResult{}, false
	}
	id, ok := m.dedup.Lookup(hash, quality)
	if !ok {
		return domain.InstantResult{}, false
	}
	e, ok := m.results.Get(id)
	if !ok {
		return domain.InstantResult{}, false
	}
	return domain.InstantResult{
		ResultID:    id,
		Filename:    e.Name,
		ContentType: e.ContentType,
		Size:        e.Size,
	}, true
}

func (m *manager) resume(req domain.InitUploadRequest, hash string) (domain.InitUploadResponse, bool) {
	id, ok := m.sessions.Find(func(s *domain.UploadSession) bool {
		return s.Filename == req.Filename &&
			s.Size == req.Size &&
			s.MimeType == req.MimeType &&
			s.Hash == hash
	})
	if !ok {
		return domain.InitUploadResponse{}, false
	}

	var resp domain.InitUploadResponse
	err := m.sessions.WithSession(id, func(s *domain.UploadSession) (bool, error) {
		s.Quality = req.Quality
		s.CorrelationID = req.CorrelationID
		resp = domain.InitUploadResponse{
			SessionID:            s.ID,
			ChunkSize:            chunkSize(s.Size, s.ChunkCount),
			Resume:               true,
			ReceivedChunkIndices: s.ReceivedIndices(),
			ReceivedBytes:        s.ReceivedBytes,
		}
		return false, nil
	})
	if err != nil {
		// swept between Find and WithSession
		return domain.InitUploadResponse{}, false
	}

	m.logger.Info("upload session resumed",
		slog.String("session_id", id),
		slog.Int("received_chunks", len(resp.ReceivedChunkIndices)),
	)
	return resp, true
}

// PutChunk stores chunk index of session id. data must not be modified by
// the caller afterwards.
func (m *manager) PutChunk(id string, index int, data []byte) (domain.ChunkResponse, error) {
	if len(data) == 0 {
		return domain.ChunkResponse{}, domain.Errorf(domain.CodeBadRequest, "empty chunk")
	}
	if int64(len(data)) > m.limits.MaxChunkBytes {
		return domain.ChunkResponse{}, domain.Errorf(domain.CodeBadRequest, "chunk exceeds the %d byte limit", m.limits.MaxChunkBytes)
	}

	var resp domain.ChunkResponse
	err := m.sessions.WithSession(id, func(s *domain.UploadSession) (bool, error) {
		if index < 0 || index >= s.ChunkCount {
			return false, domain.Errorf(domain.CodeBadChunkIndex, "index %d outside [0, %d)", index, s.ChunkCount)
		}

		resp.TotalBytes = s.Size
		if _, ok := s.Chunks[index]; ok {
			resp.ReceivedBytes = s.ReceivedBytes
			resp.Done = s.ReceivedBytes == s.Size
			resp.Duplicate = true
			return false, nil
		}

		if s.ReceivedBytes+int64(len(data)) > s.Size {
			return true, domain.Errorf(domain.CodeUploadSizeMismatch,
				"chunk %d would bring the upload to %d of %d declared bytes", index, s.ReceivedBytes+int64(len(data)), s.Size)
		}

		s.Chunks[index] = data
		s.ReceivedBytes += int64(len(data))
		resp.ReceivedBytes = s.ReceivedBytes
		resp.Done = s.ReceivedBytes == s.Size
		return false, nil
	})
	if domain.CodeOf(err) == domain.CodeUploadSizeMismatch {
		m.logger.Warn("upload session destroyed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
	}
	return resp, err
}

func (m *manager) Complete(id string) (domain.CompleteUploadResponse, error) {
	var sess *domain.UploadSession
	err := m.sessions.WithSession(id, func(s *domain.UploadSession) (bool, error) {
		if s.ReceivedBytes != s.Size {
			return false, domain.Errorf(domain.CodeIncompleteUpload, "received %d of %d bytes", s.ReceivedBytes, s.Size)
		}
		if missing := s.MissingIndices(); len(missing) > 0 {
			return false, domain.Errorf(domain.CodeMissingChunk, "missing chunks %v", missing)
		}
		sess = s
		return true, nil
	})
	if err != nil {
		return domain.CompleteUploadResponse{}, err
	}

	// sess is detached from the store now
	data := make([]byte, 0, sess.Size)
	for i := range sess.ChunkCount {
		data = append(data, sess.Chunks[i]...)
	}
	sess.Chunks = nil

	logger := m.logger.With(slog.String("session_id", id))

	hash := sess.Hash
	if hash != "" && !VerifyDigest(data, hash) {
		logger.Warn("upload hash mismatch, ignoring client hash", slog.String("hash", hash))
		hash = ""
	}

	if res, ok := m.instant(hash, sess.Quality); ok {
		logger.Info("upload complete: instant result", slog.String("result_id", res.ResultID))
		return domain.CompleteUploadResponse{Result: &res}, nil
	}

	job := m.engine.Submit(domain.CompressRequest{
		Data:          data,
		Filename:      sess.Filename,
		ContentType:   sess.MimeType,
		Quality:       sess.Quality,
		CorrelationID: sess.CorrelationID,
		ResultID:      sess.ResultID,
		Hash:          hash,
	})
	logger.Info("upload complete: job submitted",
		slog.String("job_id", job.ID),
		slog.Int64("size", sess.Size),
	)
	return domain.CompleteUploadResponse{JobID: job.ID}, nil
}

func (m *manager) Abort(id string) error {
	if !m.sessions.Delete(id) {
		return domain.ErrUploadNotFound
	}
	m.logger.Info("upload session aborted", slog.String("session_id", id))
	return nil
}

func (m *manager) Status(id string) (domain.UploadStatusResponse, error) {
	var resp domain.UploadStatusResponse
	err := m.sessions.WithSession(id, func(s *domain.UploadSession) (bool, error) {
		resp = domain.UploadStatusResponse{
			SessionID:            s.ID,
			Filename:             s.Filename,
			ReceivedChunkIndices: s.ReceivedIndices(),
			ReceivedBytes:        s.ReceivedBytes,
			TotalBytes:           s.Size,
			ChunkCount:           s.ChunkCount,
		}
		return false, nil
	})
	return resp, err
}

func (m *manager) Sweep() int {
	return m.sessions.Sweep()
}

func chunkSize(size int64, count int) int64 {
	n := int64(count)
	return (size + n - 1) / n
}
