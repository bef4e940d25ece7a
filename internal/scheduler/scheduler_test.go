package scheduler

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/0xb-s/fuzzer/config"
	"github.com/0xb-s/fuzzer/internal/distributed"
	"github.com/0xb-s/fuzzer/internal/fuzz"
	"github.com/0xb-s/fuzzer/internal/target"
	"github.com/0xb-s/fuzzer/pkg/watchdog"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

type shutdownRecorder struct {
	called chan struct{}
}

func (s *shutdownRecorder) Shutdown(...fx.ShutdownOption) error {
	close(s.called)
	return nil
}

func newParams(t *testing.T, cfg *config.FuzzerConfig, targets ...*target.Target) (SchedulerParams, *fxtest.Lifecycle, *shutdownRecorder) {
	t.Helper()
	f, err := fuzz.New(fuzz.Params{Config: cfg, Logger: zap.NewNop()})
	if err != nil {
		t.Fatal(err)
	}
	lc := fxtest.NewLifecycle(t)
	shutdowner := &shutdownRecorder{make(chan struct{})}
	return SchedulerParams{
		Lc:              lc,
		Logger:          zap.NewNop(),
		AppConfig:       &config.AppConfig{},
		Config:          cfg,
		Fuzzer:          f,
		Targets:         targets,
		WatchDogFactory: watchdog.NewWatchDogFactory(zap.NewNop()),
		Shutdowner:      shutdowner,
	}, lc, shutdowner
}

func waitShutdown(t *testing.T, s *shutdownRecorder) {
	t.Helper()
	select {
	case <-s.called:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not shut the app down")
	}
}

func TestLocalSessionShutsDown(t *testing.T) {
	var runs atomic.Int32
	cfg := config.NewBuilder().Seed(1).MaxIterations(5).Build()
	params, lc, shutdowner := newParams(t, cfg, target.NewSync("count", func([]byte) error {
		runs.Add(1)
		return nil
	}))
	NewScheduler(params)

	lc.RequireStart()
	waitShutdown(t, shutdowner)
	lc.RequireStop()

	if runs.Load() != 5 || params.Fuzzer.State() != fuzz.StateTerminated {
		t.Errorf("runs %d, state %s", runs.Load(), params.Fuzzer.State())
	}
}

func TestStopInterruptsSession(t *testing.T) {
	cfg := config.NewBuilder().MaxIterations(1 << 40).Build()
	params, lc, shutdowner := newParams(t, cfg, target.NewSync("ok", func([]byte) error { return nil }))
	NewScheduler(params)

	lc.RequireStart()
	time.Sleep(20 * time.Millisecond)
	lc.RequireStop()

	if params.Fuzzer.StopReason() != fuzz.StopCancelled {
		t.Errorf("stop reason = %q", params.Fuzzer.StopReason())
	}
	select {
	case <-shutdowner.called:
		t.Error("a stopped app should not be shut down again")
	default:
	}
}

func TestWatcherFeedsRunningSession(t *testing.T) {
	dir := t.TempDir()
	seen := make(chan struct{})
	var once atomic.Bool
	cfg := config.NewBuilder().
		MaxIterations(1 << 40).
		CorpusDirectory(dir).
		UseCorpus(true).
		CorpusSamplingRate(1).
		Build()
	params, lc, _ := newParams(t, cfg, target.NewSync("watch", func(b []byte) error {
		if string(b) == "dropped-in" && once.CompareAndSwap(false, true) {
			close(seen)
		}
		return nil
	}))
	NewScheduler(params)
	lc.RequireStart()
	defer lc.RequireStop()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	tmp := filepath.Join(dir, ".seed")
	if err := os.WriteFile(tmp, []byte("dropped-in"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "seed")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-seen:
	case <-time.After(5 * time.Second):
		t.Fatal("dropped seed never reached the target")
	}
}

func TestCoordinatorSession(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	worker := distributed.NewWorker(zap.NewNop(), []*target.Target{target.NewSync("ok", func([]byte) error { return nil })}, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Serve(ctx, l)

	cfg := config.NewBuilder().MaxIterations(10).Build()
	coordinator, err := distributed.NewCoordinator(distributed.Params{Config: cfg, Logger: zap.NewNop()})
	if err != nil {
		t.Fatal(err)
	}
	coordinator.AddWorker(l.Addr().String())

	params, lc, shutdowner := newParams(t, cfg)
	params.Coordinator = coordinator
	NewScheduler(params)
	lc.RequireStart()
	waitShutdown(t, shutdowner)
	lc.RequireStop()

	if coordinator.Stats().TotalRuns != 10 {
		t.Errorf("total runs = %d", coordinator.Stats().TotalRuns)
	}
	if params.Fuzzer.State() != fuzz.StateIdle {
		t.Errorf("local engine ran alongside the coordinator")
	}
}
