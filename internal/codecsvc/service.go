package codecsvc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/you-humble/imgpress/internal/infra/codec"
	"github.com/you-humble/imgpress/internal/limiter"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Codec interface {
	Probe(ctx context.Context, data []byte) (codec.Info, error)
	Transcode(ctx context.Context, data []byte, o codec.Options) ([]byte, error)
}

type codecService struct {
	codec   Codec
	limiter *limiter.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewCodecService bounds local transcodes with l. A zero timeout leaves the
// caller's deadline as the only bound.
func NewCodecService(c Codec, l *limiter.Limiter, timeout time.Duration, logger *slog.Logger) *codecService {
	if logger == nil {
		logger = slog.Default()
	}
	return &codecService{codec: c, limiter: l, timeout: timeout, logger: logger}
}

func (s *codecService) Probe(ctx context.Context, req *ProbeRequest) (*ProbeResponse, error) {
	info, err := s.codec.Probe(ctx, req.Data)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ProbeResponse{Info: info}, nil
}

func (s *codecService) Transcode(ctx context.Context, req *TranscodeRequest) (*TranscodeResponse, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := limiter.Do(ctx, s.limiter, func(ctx context.Context) ([]byte, error) {
		return s.codec.Transcode(ctx, req.Data, req.Options)
	})
	if err != nil {
		s.logger.Error("transcode failed",
			slog.String("format", string(req.Options.Format)),
			slog.Int("input_size", len(req.Data)),
			slog.String("error", err.Error()),
		)
		return nil, toStatus(err)
	}

	s.logger.Info("transcode success",
		slog.String("format", string(req.Options.Format)),
		slog.Int("input_size", len(req.Data)),
		slog.Int("output_size", len(out)),
	)
	return &TranscodeResponse{Data: out}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, codec.ErrUnknownFormat):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
