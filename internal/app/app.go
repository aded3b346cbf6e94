package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/you-humble/imgpress/internal/janitor"
	"github.com/you-humble/imgpress/internal/transport"

	"golang.org/x/sync/errgroup"
)

type app struct {
	di  *dependencyInjector
	srv *http.Server

	engineCtx    context.Context
	cancelEngine context.CancelFunc
}

func New(ctx context.Context) *app {
	di := newDI()
	di.Logger()

	// async jobs outlive request contexts but not the process
	engineCtx, cancel := context.WithCancel(context.Background())

	mux := http.NewServeMux()
	return &app{
		di: di,
		srv: &http.Server{
			Addr: di.Config().Addr,
			Handler: transport.WithRecover(
				transport.LogMiddleware(
					di.Router(engineCtx).MountRoutes(mux),
				),
			),
		},
		engineCtx:    engineCtx,
		cancelEngine: cancel,
	}
}

func (a *app) Run(ctx context.Context) error {
	defer a.closeCodec()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", slog.String("addr", a.srv.Addr))
		if e := a.srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", e.Error()))
			return e
		}
		return nil
	})

	g.Go(func() error {
		return janitor.Run(gctx, a.di.Logger(), a.di.JanitorTasks(a.engineCtx)...)
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func (a *app) shutdown() error {
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		a.di.Config().ShutdownTimeout,
	)
	defer cancel()

	err := a.srv.Shutdown(shutdownCtx)
	if err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	a.cancelEngine()
	a.di.Engine(a.engineCtx).Wait()
	slog.Info("server gracefully stopped")
	return err
}

func (a *app) closeCodec() {
	if a.di.grpcConn == nil {
		return
	}
	if err := a.di.grpcConn.Close(); err != nil {
		slog.Warn("close codec connection", slog.String("error", err.Error()))
	}
}
