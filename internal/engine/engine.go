package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/you-humble/imgpress/internal/domain"
	"github.com/you-humble/imgpress/internal/infra/codec"
	resultstore "github.com/you-humble/imgpress/internal/infra/store/result"

	"github.com/google/uuid"
)

type Codec interface {
	Probe(ctx context.Context, data []byte) (codec.Info, error)
	Transcode(ctx context.Context, data []byte, o codec.Options) ([]byte, error)
}

type Limiter interface {
	Run(ctx context.Context, task func(ctx context.Context) error) error
}

type JobStore interface {
	Create(job domain.Job) domain.Job
	Update(id string, fn func(j *domain.Job)) bool
}

type ResultCache interface {
	Admit(e resultstore.Entry) bool
}

type DedupIndex interface {
	Record(hash string, quality int, resultID string)
}

type Config struct {
	HardPixelLimit int64
	SoftPixelLimit int64
	EncodeTimeout  time.Duration
	// OutputFormat forces every result into one format; empty keeps the
	// source format.
	OutputFormat codec.Format
}

type engine struct {
	cfg     Config
	codec   Codec
	limiter Limiter
	jobs    JobStore
	results ResultCache
	dedup   DedupIndex
	logger  *slog.Logger

	base context.Context
	wg   sync.WaitGroup
}

// New binds async jobs to ctx: once it is cancelled, queued jobs fail instead
// of waiting for a slot.
func New(
	ctx context.Context,
	cfg Config,
	c Codec,
	limiter Limiter,
	jobs JobStore,
	results ResultCache,
	dedup DedupIndex,
	logger *slog.Logger,
) *engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &engine{
		cfg:     cfg,
		codec:   c,
		limiter: limiter,
		jobs:    jobs,
		results: results,
		dedup:   dedup,
		logger:  logger,
		base:    ctx,
	}
}

// Submit registers a tracked job and starts it in its own goroutine.
func (e *engine) Submit(req domain.CompressRequest) domain.Job {
	if req.ResultID == "" {
		req.ResultID = uuid.NewString()
	}

	job := e.jobs.Create(domain.Job{
		ID:            uuid.NewString(),
		CorrelationID: req.CorrelationID,
		ResultID:      req.ResultID,
		Source:        req.Data,
		Filename:      req.Filename,
		ContentType:   req.ContentType,
		Quality:       req.Quality,
		Hash:          req.Hash,
		OriginalSize:  int64(len(req.Data)),
	})

	e.wg.Add(1)
	go e.execute(job.ID, req)

	return job
}

// Compress runs the pipeline in the caller's goroutine without a job record.
func (e *engine) Compress(ctx context.Context, req domain.CompressRequest) (domain.Outcome, error) {
	if req.ResultID == "" {
		req.ResultID = uuid.NewString()
	}
	return e.process(ctx, req, func(domain.Phase) {})
}

// Wait blocks until every submitted job has reached a terminal phase.
func (e *engine) Wait() {
	e.wg.Wait()
}

func (e *engine) execute(jobID string, req domain.CompressRequest) {
	defer e.wg.Done()

	logger := e.logger.With(
		slog.String("job_id", jobID),
		slog.String("result_id", req.ResultID),
	)
	start := time.Now()

	report := func(p domain.Phase) {
		e.jobs.Update(jobID, func(j *domain.Job) {
			j.Phase = p
			j.Progress = math.Max(j.Progress, p.Progress())
		})
	}

	out, err := func() (out domain.Outcome, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("job panicked",
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("job panicked: %v", rec)
			}
		}()
		return e.process(e.base, req, report)
	}()

	if err != nil {
		coded := domain.AsError(err)
		logger.Warn("job failed",
			slog.String("code", string(coded.Code)),
			slog.String("error", err.Error()),
		)
		e.jobs.Update(jobID, func(j *domain.Job) {
			j.Phase = domain.PhaseError
			j.Err = coded
		})
		return
	}

	e.jobs.Update(jobID, func(j *domain.Job) {
		j.Phase = domain.PhaseDone
		j.Progress = domain.PhaseDone.Progress()
		j.ResultID = out.ResultID
		j.Size = out.Size
		j.OriginalSize = out.OriginalSize
		j.Resized = out.Resized
	})
	logger.Info("job done",
		slog.Int64("original_size", out.OriginalSize),
		slog.Int64("size", out.Size),
		slog.Bool("resized", out.Resized),
		slog.Duration("duration", time.Since(start)),
	)
}

func (e *engine) process(ctx context.Context, req domain.CompressRequest, report func(domain.Phase)) (domain.Outcome, error) {
	report(domain.PhaseDecoding)
	info, err := e.probe(ctx, req.Data)
	if err != nil {
		return domain.Outcome{}, err
	}

	pixels := info.Pixels()
	if pixels > e.cfg.HardPixelLimit {
		return domain.Outcome{}, domain.Errorf(domain.CodeDimensionsTooLarge,
			"image is %dx%d (%d pixels), limit is %d", info.Width, info.Height, pixels, e.cfg.HardPixelLimit)
	}

	opts := codec.Options{Format: info.Format, Quality: req.Quality}
	if e.cfg.OutputFormat != "" {
		opts.Format = e.cfg.OutputFormat
	}

	resized := false
	if pixels > e.cfg.SoftPixelLimit {
		report(domain.PhaseResizing)
		opts.Width, opts.Height = FitWithin(info.Width, info.Height, e.cfg.SoftPixelLimit)
		resized = true
	}

	report(domain.PhaseEncoding)
	encoded, err := e.transcode(ctx, req.Data, opts)
	if err != nil {
		return domain.Outcome{}, err
	}

	report(domain.PhaseFinalizing)
	data, format := encoded, opts.Format
	if !resized && len(encoded) >= len(req.Data) {
		data, format = req.Data, info.Format
	}

	out := domain.Outcome{
		ResultID:     req.ResultID,
		ContentType:  format.ContentType(),
		Filename:     ResultName(req.Filename, format),
		Size:         int64(len(data)),
		OriginalSize: int64(len(req.Data)),
		Resized:      resized,
	}

	if !e.results.Admit(resultstore.Entry{
		Key:         out.ResultID,
		Data:        data,
		ContentType: out.ContentType,
		Name:        out.Filename,
		Hash:        req.Hash,
		Quality:     req.Quality,
	}) {
		return domain.Outcome{}, domain.ErrCacheOverflow
	}

	if req.Hash != "" {
		e.dedup.Record(req.Hash, req.Quality, out.ResultID)
	}

	return out, nil
}

func (e *engine) probe(ctx context.Context, data []byte) (codec.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EncodeTimeout)
	defer cancel()

	info, err := e.codec.Probe(ctx, data)
	if err != nil {
		if errors.Is(err, codec.ErrUnknownFormat) {
			return codec.Info{}, domain.Errorf(domain.CodeUnsupportedType, "unrecognised image data")
		}
		return codec.Info{}, codecError("probe", err)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return codec.Info{}, domain.Errorf(domain.CodeCodecFailure, "probe reported %dx%d", info.Width, info.Height)
	}
	return info, nil
}

// transcode holds a limiter slot for the codec call. The encode timeout
// starts once the slot is granted.
func (e *engine) transcode(ctx context.Context, data []byte, opts codec.Options) ([]byte, error) {
	var out []byte
	err := e.limiter.Run(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, e.cfg.EncodeTimeout)
		defer cancel()

		b, err := e.codec.Transcode(ctx, data, opts)
		if err != nil {
			return codecError("transcode", err)
		}
		out = b
		return nil
	})
	if err != nil {
		var coded *domain.Error
		if errors.As(err, &coded) {
			return nil, coded
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.Errorf(domain.CodeInternal, "job abandoned while queued")
		}
		return nil, domain.Errorf(domain.CodeCodecFailure, "%v", err)
	}
	return out, nil
}

func codecError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Errorf(domain.CodeTimeout, "%s exceeded the encode timeout", op)
	}
	return domain.Errorf(domain.CodeCodecFailure, "%s: %v", op, err)
}

// FitWithin scales w x h by sqrt(limit/pixels) so the result holds at most
// limit pixels. Each side is at least 1.
func FitWithin(w, h int, limit int64) (int, int) {
	pixels := int64(w) * int64(h)
	if pixels <= limit || limit <= 0 {
		return w, h
	}
	f := math.Sqrt(float64(limit) / float64(pixels))
	return max(1, int(math.Floor(float64(w)*f))), max(1, int(math.Floor(float64(h)*f)))
}

// ResultName swaps the extension of the uploaded name for the output format.
func ResultName(filename string, f codec.Format) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." || name == "/" {
		name = "image"
	}
	return name + f.Ext()
}
