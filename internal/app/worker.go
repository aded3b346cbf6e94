package app

import (
	"context"
	"fmt"
	"net"

	"github.com/you-humble/imgpress/internal/codecsvc"
	"github.com/you-humble/imgpress/internal/infra/codec"

	"google.golang.org/grpc"
)

type worker struct {
	di   *dependencyInjector
	addr string
	srv  *grpc.Server
}

// NewWorker serves the local codec over gRPC. It always transcodes with the
// local binary, whatever backend the config names.
func NewWorker(ctx context.Context) *worker {
	di := newDI()
	l := di.Logger()
	cfg := di.Config()

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			codecsvc.RecoveryUnaryInterceptor(l),
			codecsvc.UnaryLoggingInterceptor(l),
		),
		grpc.MaxRecvMsgSize(cfg.Codec.MaxMessage),
		grpc.MaxSendMsgSize(cfg.Codec.MaxMessage),
	)
	codecsvc.RegisterCodecServer(grpcServer, codecsvc.NewCodecService(
		codec.NewMagick(cfg.Codec.Binary),
		di.Limiter(),
		cfg.Jobs.EncodeTimeout,
		l,
	))

	return &worker{
		di:   di,
		addr: cfg.Codec.ListenAddr,
		srv:  grpcServer,
	}
}

func (w *worker) Run(ctx context.Context) error {
	l := w.di.Logger()

	lis, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("codec gRPC service listening", "addr", w.addr)
		if err := w.srv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("failed to serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		l.Info("shutdown signal received, starting graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), w.di.Config().ShutdownTimeout)
		defer cancel()

		if err := w.shutdown(shutdownCtx); err != nil {
			l.Error("graceful shutdown failed", "err", err)
		} else {
			l.Info("graceful shutdown completed")
		}

	case err := <-errCh:
		l.Error("server exited with error", "err", err)
		return err
	}

	return nil
}

func (w *worker) shutdown(ctx context.Context) error {
	l := w.di.Logger()
	done := make(chan struct{})

	go func() {
		l.Info("stopping gRPC server gracefully...")
		w.srv.GracefulStop()
		close(done)
	}()

	select {
	case <-ctx.Done():
		l.Warn("graceful stop timed out, forcing stop")
		w.srv.Stop()
		return fmt.Errorf("shutdown timeout exceeded: %w", ctx.Err())
	case <-done:
		l.Info("gRPC server stopped")
		return nil
	}
}
