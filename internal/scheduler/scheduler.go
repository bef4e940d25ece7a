package scheduler

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/0xb-s/fuzzer/config"
	"github.com/0xb-s/fuzzer/internal/corpus"
	"github.com/0xb-s/fuzzer/internal/distributed"
	"github.com/0xb-s/fuzzer/internal/fuzz"
	"github.com/0xb-s/fuzzer/internal/target"
	"github.com/0xb-s/fuzzer/internal/types"
	"github.com/0xb-s/fuzzer/pkg/watchdog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler runs one session when the app starts: the local engine, or the
// coordinator when workers are configured. The app is shut down once it ends.
type Scheduler struct {
	logger      *zap.Logger
	appConfig   *config.AppConfig
	config      *config.FuzzerConfig
	fuzzer      *fuzz.Fuzzer
	coordinator *distributed.Coordinator
	watcher     *corpus.Watcher
	shutdowner  fx.Shutdowner

	done chan struct{}
}

type SchedulerParams struct {
	fx.In

	Lc              fx.Lifecycle
	Logger          *zap.Logger
	AppConfig       *config.AppConfig
	Config          *config.FuzzerConfig
	Fuzzer          *fuzz.Fuzzer
	Coordinator     *distributed.Coordinator `optional:"true"`
	Targets         []*target.Target
	WatchDogFactory *watchdog.WatchDogFactory
	Shutdowner      fx.Shutdowner
}

func NewScheduler(params SchedulerParams) *Scheduler {
	for _, t := range params.Targets {
		params.Fuzzer.AddTarget(t)
	}

	var watcher *corpus.Watcher
	if dir := params.Config.CorpusDirectory; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			watcher = corpus.NewWatcher(params.Logger, params.WatchDogFactory, dir)
		}
	}

	scheduler := &Scheduler{
		params.Logger.Named("scheduler"),
		params.AppConfig,
		params.Config,
		params.Fuzzer,
		params.Coordinator,
		watcher,
		params.Shutdowner,
		make(chan struct{}),
	}

	schedulerCtx, cancel := context.WithCancel(context.Background())

	params.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go scheduler.start(schedulerCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			<-scheduler.done
			return nil
		},
	})
	return scheduler
}

func (s *Scheduler) start(ctx context.Context) {
	defer close(s.done)

	source := s.fuzzer.Stats
	if s.coordinator != nil {
		source = s.coordinator.Stats
	}
	if s.appConfig.MetricsAddr != "" {
		stopMetrics := s.serveMetrics(s.appConfig.MetricsAddr, source)
		defer stopMetrics()
	}

	if s.coordinator != nil {
		if err := s.coordinator.Run(ctx); err != nil {
			s.logger.Error("distributed session failed", zap.Error(err))
		}
	} else {
		s.runLocal(ctx)
	}

	if ctx.Err() == nil {
		s.logger.Info("session over, shutting down")
		if err := s.shutdowner.Shutdown(); err != nil {
			s.logger.Error("failed to shut down", zap.Error(err))
		}
	}
}

func (s *Scheduler) runLocal(ctx context.Context) {
	watchCtx, stopWatching := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	if s.watcher != nil {
		go func() {
			defer close(watchDone)
			if err := s.watcher.Watch(watchCtx, s.fuzzer); err != nil {
				s.logger.Warn("corpus watcher stopped", zap.Error(err))
			}
		}()
	} else {
		close(watchDone)
	}

	if err := s.fuzzer.Run(ctx); err != nil {
		s.logger.Error("fuzzing session failed", zap.Error(err))
	}
	stopWatching()
	<-watchDone
}

// serveMetrics exposes the session counters on /metrics until the returned func is called
func (s *Scheduler) serveMetrics(addr string, source func() types.StatsSnapshot) func() {
	registry := prometheus.NewRegistry()
	if err := fuzz.RegisterMetrics(registry, source); err != nil {
		s.logger.Error("failed to register metrics", zap.Error(err))
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		s.logger.Info("serving metrics", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
}
