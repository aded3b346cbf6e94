package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/you-humble/imgpress/internal/codecsvc"
	"github.com/you-humble/imgpress/internal/engine"
	"github.com/you-humble/imgpress/internal/infra/codec"
	"github.com/you-humble/imgpress/internal/infra/config"
	dedupstore "github.com/you-humble/imgpress/internal/infra/store/dedup"
	jobstore "github.com/you-humble/imgpress/internal/infra/store/job"
	resultstore "github.com/you-humble/imgpress/internal/infra/store/result"
	sessionstore "github.com/you-humble/imgpress/internal/infra/store/session"
	"github.com/you-humble/imgpress/internal/janitor"
	"github.com/you-humble/imgpress/internal/limiter"
	"github.com/you-humble/imgpress/internal/transport"
	"github.com/you-humble/imgpress/internal/upload"
	"github.com/you-humble/imgpress/internal/usecase"

	"google.golang.org/grpc"
)

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

type Engine interface {
	upload.Engine
	usecase.Engine
	Wait()
}

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	limiter *limiter.Limiter

	grpcConn *grpc.ClientConn
	codec    engine.Codec

	results  resultCache
	jobs     jobStore
	sessions sessionStore
	dedup    dedupIndex

	engine  Engine
	uploads uploadManager
	usecase transport.Usecase
	handler transport.Handler
	router  Router
}

type resultCache interface {
	engine.ResultCache
	usecase.ResultCache
	upload.ResultCache
	dedupstore.Results
	Sweep() int
}

type jobStore interface {
	engine.JobStore
	usecase.JobStore
	Sweep() int
}

type sessionStore interface {
	upload.SessionStore
	usecase.SessionCounter
}

type dedupIndex interface {
	upload.DedupIndex
	engine.DedupIndex
}

type uploadManager interface {
	transport.Uploads
	Sweep() int
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad()
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		cfg := di.Config().Log

		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = slog.LevelInfo
		}
		opts := &slog.HandlerOptions{Level: level}

		if strings.EqualFold(cfg.Format, "json") {
			di.logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
		} else {
			di.logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
		}
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) Limiter() *limiter.Limiter {
	if di.limiter == nil {
		di.limiter = limiter.New(di.Config().Jobs.Concurrency)
		di.Logger().Info("codec limiter", slog.Int("size", di.limiter.Size()))
	}
	return di.limiter
}

func (di *dependencyInjector) GRPCConnect() *grpc.ClientConn {
	if di.grpcConn == nil {
		cfg := di.Config().Codec
		conn, err := codecsvc.NewConnection(cfg.RemoteAddr, cfg.MaxMessage)
		if err != nil {
			log.Fatalf("GRPCConnect: %+v", err)
		}
		di.grpcConn = conn
		di.Logger().Info("remote codec", slog.String("addr", cfg.RemoteAddr))
	}
	return di.grpcConn
}

func (di *dependencyInjector) Codec() engine.Codec {
	if di.codec == nil {
		cfg := di.Config().Codec
		switch cfg.Backend {
		case "remote":
			di.codec = codecsvc.NewClient(di.GRPCConnect())
		default:
			di.codec = codec.NewMagick(cfg.Binary)
			di.Logger().Info("local codec", slog.String("binary", cfg.Binary))
		}
	}
	return di.codec
}

func (di *dependencyInjector) ResultCache() resultCache {
	if di.results == nil {
		cfg := di.Config().Cache
		di.results = resultstore.NewMemoryCache(cfg.MaxBytes, cfg.MaxItems, cfg.TTL)
		di.Logger().Info("result cache",
			slog.Int64("max_bytes", cfg.MaxBytes),
			slog.Int("max_items", cfg.MaxItems),
			slog.Duration("ttl", cfg.TTL),
		)
	}
	return di.results
}

func (di *dependencyInjector) JobStore() jobStore {
	if di.jobs == nil {
		di.jobs = jobstore.NewMemoryJobStore(di.Config().Jobs.Grace)
	}
	return di.jobs
}

func (di *dependencyInjector) SessionStore() sessionStore {
	if di.sessions == nil {
		cfg := di.Config().Sessions
		di.sessions = sessionstore.NewMemorySessionStore(cfg.Budget, cfg.TTL)
	}
	return di.sessions
}

func (di *dependencyInjector) DedupIndex() dedupIndex {
	if di.dedup == nil {
		di.dedup = dedupstore.NewMemoryIndex(di.ResultCache())
	}
	return di.dedup
}

// Engine binds async jobs to ctx.
func (di *dependencyInjector) Engine(ctx context.Context) Engine {
	if di.engine == nil {
		cfg := di.Config()
		out, _ := codec.ParseFormat(cfg.Codec.OutputFormat)
		di.engine = engine.New(
			ctx,
			engine.Config{
				HardPixelLimit: cfg.Limits.HardPixels,
				SoftPixelLimit: cfg.Limits.SoftPixels,
				EncodeTimeout:  cfg.Jobs.EncodeTimeout,
				OutputFormat:   out,
			},
			di.Codec(),
			di.Limiter(),
			di.JobStore(),
			di.ResultCache(),
			di.DedupIndex(),
			di.Logger(),
		)
	}
	return di.engine
}

func (di *dependencyInjector) Uploads(ctx context.Context) uploadManager {
	if di.uploads == nil {
		cfg := di.Config().Limits
		di.uploads = upload.NewManager(
			upload.Limits{
				MaxFileBytes:  cfg.MaxFileBytes,
				MaxChunkBytes: cfg.MaxChunkBytes,
			},
			di.SessionStore(),
			di.DedupIndex(),
			di.ResultCache(),
			di.Engine(ctx),
			di.Logger(),
		)
	}
	return di.uploads
}

func (di *dependencyInjector) Usecase(ctx context.Context) transport.Usecase {
	if di.usecase == nil {
		cfg := di.Config().Limits
		di.usecase = usecase.New(
			usecase.Limits{
				MaxFileBytes:  cfg.MaxFileBytes,
				MaxBatchFiles: cfg.MaxBatchFiles,
				MaxBatchBytes: cfg.MaxBatchBytes,
			},
			di.Engine(ctx),
			di.JobStore(),
			di.ResultCache(),
			di.Limiter(),
			di.SessionStore(),
			di.Logger(),
		)
	}
	return di.usecase
}

func (di *dependencyInjector) Handler(ctx context.Context) transport.Handler {
	if di.handler == nil {
		cfg := di.Config().Limits
		di.handler = transport.NewHandler(
			transport.Limits{
				MaxFileBytes:   cfg.MaxFileBytes,
				MaxBatchBytes:  cfg.MaxBatchBytes,
				MaxChunkBytes:  cfg.MaxChunkBytes,
				DefaultQuality: cfg.DefaultQuality,
			},
			di.Usecase(ctx),
			di.Uploads(ctx),
		)
	}
	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		rl := di.Config().RateLimit
		di.router = transport.NewRouter(di.Handler(ctx), transport.RateLimit(rl.RPS, rl.Burst))
	}
	return di.router
}

func (di *dependencyInjector) JanitorTasks(ctx context.Context) []janitor.Task {
	cfg := di.Config()
	return []janitor.Task{
		{Name: "results", Interval: cfg.Cache.SweepInterval, Sweep: di.ResultCache().Sweep},
		{Name: "jobs", Interval: cfg.Jobs.SweepInterval, Sweep: di.JobStore().Sweep},
		{Name: "uploads", Interval: cfg.Sessions.SweepInterval, Sweep: di.Uploads(ctx).Sweep},
	}
}
