package codecsvc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

func UnaryLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		attrs := []any{
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			logger.Warn("grpc request", append(attrs, slog.String("error", err.Error()))...)
		} else {
			logger.Info("grpc request", attrs...)
		}
		return resp, err
	}
}

// RecoveryUnaryInterceptor turns a handler panic into a status. A panic
// carrying a context error keeps its deadline or cancel code.
func RecoveryUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			perr, ok := r.(error)
			if !ok {
				perr = fmt.Errorf("panic: %v", r)
			}
			err = toStatus(perr)
			resp = nil
			logger.Error("codec handler panicked",
				slog.String("method", info.FullMethod),
				slog.String("code", status.Code(err).String()),
				slog.Int("request_bytes", requestBytes(req)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}()

		return handler(ctx, req)
	}
}

func requestBytes(req any) int {
	switch r := req.(type) {
	case *ProbeRequest:
		return len(r.Data)
	case *TranscodeRequest:
		return len(r.Data)
	default:
		return 0
	}
}
