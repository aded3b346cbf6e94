package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/you-humble/imgpress/internal/domain"
	"github.com/you-humble/imgpress/internal/infra/codec"
	resultstore "github.com/you-humble/imgpress/internal/infra/store/result"
	"github.com/you-humble/imgpress/internal/upload"

	"golang.org/x/sync/errgroup"
)

type Engine interface {
	Submit(req domain.CompressRequest) domain.Job
	Compress(ctx context.Context, req domain.CompressRequest) (domain.Outcome, error)
}

type JobStore interface {
	Get(id string) (domain.Job, bool)
	GetMany(ids []string) ([]domain.Job, []bool)
	Len() int
}

type ResultCache interface {
	Get(key string) (resultstore.Entry, bool)
	Stats() resultstore.Stats
}

type Gauges interface {
	Size() int
	Running() int
	Waiting() int
}

type SessionCounter interface {
	Len() int
	Reserved() int64
}

type Limits struct {
	MaxFileBytes  int64
	MaxBatchFiles int
	MaxBatchBytes int64
}

type usecase struct {
	limits   Limits
	engine   Engine
	jobs     JobStore
	results  ResultCache
	limiter  Gauges
	sessions SessionCounter
	logger   *slog.Logger
}

func New(
	limits Limits,
	engine Engine,
	jobs JobStore,
	results ResultCache,
	limiter Gauges,
	sessions SessionCounter,
	logger *slog.Logger,
) *usecase {
	if logger == nil {
		logger = slog.Default()
	}
	return &usecase{
		limits:   limits,
		engine:   engine,
		jobs:     jobs,
		results:  results,
		limiter:  limiter,
		sessions: sessions,
		logger:   logger,
	}
}

// Compress validates the batch as a whole, then each file on its own. A file
// that fails validation or processing gets an error item and never affects
// its siblings.
func (uc *usecase) Compress(ctx context.Context, files []domain.SourceFile, quality int, async bool) ([]domain.SubmitResponse, error) {
	if err := uc.validateBatch(files, quality); err != nil {
		return nil, err
	}

	out := make([]domain.SubmitResponse, len(files))
	reqs := make([]*domain.CompressRequest, len(files))
	for i, f := range files {
		out[i] = domain.SubmitResponse{CorrelationID: f.CorrelationID, ResultID: f.ResultID}
		req, err := uc.prepare(f, quality)
		if err != nil {
			out[i].Error = domain.AsError(err).Body()
			continue
		}
		reqs[i] = &req
	}

	if async {
		for i, req := range reqs {
			if req == nil {
				continue
			}
			job := uc.engine.Submit(*req)
			out[i].JobID = job.ID
			out[i].ResultID = job.ResultID
		}
		return out, nil
	}

	var g errgroup.Group
	for i, req := range reqs {
		if req == nil {
			continue
		}
		g.Go(func() error {
			res, err := uc.compressOne(ctx, *req)
			if err != nil {
				uc.logger.Warn("compress failed",
					slog.String("file_name", req.Filename),
					slog.String("error", err.Error()),
				)
				out[i].Error = domain.AsError(err).Body()
				return nil
			}
			out[i].ResultID = res.ResultID
			out[i].Filename = res.Filename
			out[i].Size = res.Size
			out[i].OriginalSize = res.OriginalSize
			out[i].Resized = res.Resized
			out[i].DownloadURL = resultURL(res.ResultID)
			return nil
		})
	}
	_ = g.Wait()

	return out, nil
}

// compressOne turns a panic in the codec path into an internal error for this
// file only. The fan-out goroutines sit outside the HTTP recover middleware.
func (uc *usecase) compressOne(ctx context.Context, req domain.CompressRequest) (out domain.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			uc.logger.Error("compress panicked",
				slog.String("file_name", req.Filename),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			err = domain.Errorf(domain.CodeInternal, "internal error")
		}
	}()
	return uc.engine.Compress(ctx, req)
}

func (uc *usecase) validateBatch(files []domain.SourceFile, quality int) error {
	if len(files) == 0 {
		return domain.Errorf(domain.CodeBadRequest, "at least one file is required")
	}
	if len(files) > uc.limits.MaxBatchFiles {
		return domain.Errorf(domain.CodeTooManyFiles, "%d files in one request, limit is %d", len(files), uc.limits.MaxBatchFiles)
	}
	var total int64
	for _, f := range files {
		total += int64(len(f.Data))
	}
	if total > uc.limits.MaxBatchBytes {
		return domain.Errorf(domain.CodeTotalSizeExceeded, "request carries %d bytes, limit is %d", total, uc.limits.MaxBatchBytes)
	}
	if quality < 1 || quality > 100 {
		return domain.Errorf(domain.CodeBadRequest, "quality must be between 1 and 100")
	}
	return nil
}

func (uc *usecase) prepare(f domain.SourceFile, quality int) (domain.CompressRequest, error) {
	if len(f.Data) == 0 {
		return domain.CompressRequest{}, domain.Errorf(domain.CodeBadRequest, "%s is empty", f.Filename)
	}
	if int64(len(f.Data)) > uc.limits.MaxFileBytes {
		return domain.CompressRequest{}, domain.Errorf(domain.CodeFileTooLarge,
			"%s is %d bytes, limit is %d", f.Filename, len(f.Data), uc.limits.MaxFileBytes)
	}
	format, err := codec.Detect(f.Data)
	if err != nil {
		return domain.CompressRequest{}, domain.Errorf(domain.CodeUnsupportedType, "%s is not a supported image", f.Filename)
	}

	return domain.CompressRequest{
		Data:          f.Data,
		Filename:      f.Filename,
		ContentType:   format.ContentType(),
		Quality:       quality,
		CorrelationID: f.CorrelationID,
		ResultID:      f.ResultID,
		Hash:          upload.Digest(f.Data),
	}, nil
}

func (uc *usecase) Job(id string) (domain.JobStatusResponse, error) {
	j, ok := uc.jobs.Get(id)
	if !ok {
		return domain.JobStatusResponse{}, domain.ErrJobNotFound
	}
	return jobStatus(j), nil
}

func (uc *usecase) Jobs(ids []string) []domain.JobStatusResponse {
	jobs, found := uc.jobs.GetMany(ids)
	out := make([]domain.JobStatusResponse, len(ids))
	for i, id := range ids {
		if !found[i] {
			out[i] = domain.JobStatusResponse{JobID: id, Missing: true}
			continue
		}
		out[i] = jobStatus(jobs[i])
	}
	return out
}

func (uc *usecase) Result(id string) (domain.ResultFile, error) {
	e, ok := uc.results.Get(id)
	if !ok {
		return domain.ResultFile{}, domain.ErrResultNotFound
	}
	return domain.ResultFile{Filename: e.Name, ContentType: e.ContentType, Data: e.Data}, nil
}

func (uc *usecase) Health() domain.HealthResponse {
	st := uc.results.Stats()
	return domain.HealthResponse{
		Status: "ok",
		Limiter: domain.LimiterStats{
			Size:    uc.limiter.Size(),
			Running: uc.limiter.Running(),
			Waiting: uc.limiter.Waiting(),
		},
		Cache: domain.CacheStats{
			Items:    st.Items,
			Bytes:    st.Bytes,
			MaxItems: st.MaxItems,
			MaxBytes: st.MaxBytes,
		},
		Jobs: uc.jobs.Len(),
		Sessions: domain.SessionStats{
			Open:          uc.sessions.Len(),
			ReservedBytes: uc.sessions.Reserved(),
		},
	}
}

func jobStatus(j domain.Job) domain.JobStatusResponse {
	resp := domain.JobStatusResponse{
		JobID:         j.ID,
		CorrelationID: j.CorrelationID,
		Phase:         j.Phase,
		Progress:      j.Progress,
		ResultID:      j.ResultID,
	}
	switch j.Phase {
	case domain.PhaseDone:
		resp.Size = j.Size
		resp.OriginalSize = j.OriginalSize
		resp.Resized = j.Resized
		resp.DownloadURL = resultURL(j.ResultID)
	case domain.PhaseError:
		if j.Err != nil {
			resp.Error = j.Err.Body()
		}
	}
	return resp
}

func resultURL(id string) string {
	return fmt.Sprintf("/results/%s", id)
}
