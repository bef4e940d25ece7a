package distributed

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/0xb-s/fuzzer/config"
	"github.com/0xb-s/fuzzer/internal/coverage"
	"github.com/0xb-s/fuzzer/internal/target"
	"github.com/0xb-s/fuzzer/internal/types"
	"go.uber.org/zap"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// startWorker serves targets until the test ends
func startWorker(t *testing.T, targets ...*target.Target) (*Worker, string) {
	t.Helper()
	l := listen(t)
	w := NewWorker(zap.NewNop(), targets, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return w, l.Addr().String()
}

func newCoordinator(t *testing.T, cfg *config.FuzzerConfig, addrs ...string) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(Params{Config: cfg, Logger: zap.NewNop()})
	if err != nil {
		t.Fatal(err)
	}
	for _, addr := range addrs {
		c.AddWorker(addr)
	}
	return c
}

func succeed(name string) *target.Target {
	return target.NewSync(name, func([]byte) error { return nil })
}

func TestTwoWorkersShareTaskBudget(t *testing.T) {
	_, addrA := startWorker(t, succeed("a"))
	_, addrB := startWorker(t, succeed("b"))
	c := newCoordinator(t, config.NewBuilder().Seed(7).MaxIterations(40).Build(), addrA, addrB)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	stats := c.Stats()
	served := c.Served()
	if stats.TotalRuns != 40 || served[0]+served[1] != stats.TotalRuns {
		t.Errorf("total runs %d, served %v", stats.TotalRuns, served)
	}
	if stats.SuccessfulRuns != 40 || stats.InputsTested != 40 {
		t.Errorf("stats = %+v", stats)
	}
	if c.Coverage().Len() != 0 || stats.CoveredBlocks != 0 {
		t.Errorf("coverage recorded without any attached")
	}
	for _, info := range c.Workers() {
		if info.Status != types.WorkerOffline {
			t.Errorf("%s status = %s after run", info.Address, info.Status)
		}
	}

	if err := c.Run(context.Background()); err == nil {
		t.Error("expected error on a second Run")
	}
}

func TestRemoteCoverageAndCrashes(t *testing.T) {
	crashy := target.NewAsync("crashy", func(ctx context.Context, b []byte) error {
		coverage.FromContext(ctx).Record(42)
		if len(b) > 0 && b[0]%2 == 0 {
			return errors.New("even first byte")
		}
		return nil
	})
	_, addr := startWorker(t, crashy)
	c := newCoordinator(t, config.NewBuilder().Seed(11).MaxIterations(30).Build(), addr)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	stats := c.Stats()
	if stats.TotalRuns != 30 || stats.TotalCrashes+stats.SuccessfulRuns != 30 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TotalCrashes > 0 && stats.UniqueCrashes["even first byte"] != stats.TotalCrashes {
		t.Errorf("unique crashes = %v", stats.UniqueCrashes)
	}
	if got := c.Coverage().HitCount(42); got != 30 {
		t.Errorf("block 42 hits = %d, want 30", got)
	}
}

func TestWorkerOutcomePrecedence(t *testing.T) {
	hang := target.NewAsync("hang", func(ctx context.Context, _ []byte) error {
		<-ctx.Done()
		return ctx.Err()
	})
	crashy := target.NewSync("crashy", func([]byte) error { return errors.New("first") })
	other := target.NewSync("other", func([]byte) error { return errors.New("second") })

	w := NewWorker(zap.NewNop(), []*target.Target{succeed("ok"), hang, crashy, other}, 10*time.Millisecond, nil)
	res := w.execute(context.Background(), []byte("x"))
	if res.Result != types.Crash("first") {
		t.Errorf("result = %v, want the first crash", res.Result)
	}
	if res.Coverage != nil {
		t.Errorf("coverage attached without any recorded block")
	}

	w = NewWorker(zap.NewNop(), []*target.Target{succeed("ok"), hang}, 10*time.Millisecond, nil)
	if res := w.execute(context.Background(), nil); !res.Result.IsTimeout() {
		t.Errorf("result = %v, want timeout", res.Result)
	}
}

func TestWorkerClosingEndsOnlyItsTask(t *testing.T) {
	_, good := startWorker(t, succeed("ok"))

	// accepts one connection, reads one task, then hangs up
	l := listen(t)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		ReadMessage(conn)
		conn.Close()
	}()

	c := newCoordinator(t, config.NewBuilder().MaxIterations(25).Build(), l.Addr().String(), good)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	served := c.Served()
	if served[0] != 0 {
		t.Errorf("closed worker served %d", served[0])
	}
	// the task claimed by the closed worker is lost
	if stats := c.Stats(); stats.TotalRuns != served[1] || stats.TotalRuns < 24 {
		t.Errorf("total runs %d, served %v", stats.TotalRuns, served)
	}
}

func TestUnreachableAndMisbehavingWorkers(t *testing.T) {
	dead := listen(t)
	deadAddr := dead.Addr().String()
	dead.Close()

	// answers every task with a task
	l := listen(t)
	defer l.Close()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := ReadMessage(conn); err == nil {
			WriteMessage(conn, types.NewTaskMessage([]byte("nope")))
		}
	}()

	c := newCoordinator(t, config.NewBuilder().MaxIterations(5).Build(), deadAddr, l.Addr().String())
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wg.Wait()
	if stats := c.Stats(); stats.TotalRuns != 0 {
		t.Errorf("total runs = %d", stats.TotalRuns)
	}
}

func TestCoordinatorCancel(t *testing.T) {
	_, addr := startWorker(t, target.NewSync("slow", func([]byte) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}))
	c := newCoordinator(t, config.NewBuilder().MaxIterations(1<<40).Build(), addr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	// a result dropped on cancellation is not counted as served
	if served, runs := c.Served()[0], c.Stats().TotalRuns; served != runs {
		t.Errorf("served %d, recorded %d", served, runs)
	}
}

func TestCoordinatorMaxTotalTime(t *testing.T) {
	_, addr := startWorker(t, succeed("ok"))
	cfg := config.NewBuilder().MaxIterations(1 << 40).MaxTotalTime(50 * time.Millisecond).Build()
	c := newCoordinator(t, cfg, addr)

	start := time.Now()
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("run took %v", elapsed)
	}
	if c.Stats().TotalRuns == 0 {
		t.Error("no tasks completed")
	}
}

func TestCoordinatorRequiresWorkers(t *testing.T) {
	c := newCoordinator(t, config.NewBuilder().Build())
	if err := c.Run(context.Background()); err == nil {
		t.Error("expected error without workers")
	}
}

func TestWorkersFromAppConfig(t *testing.T) {
	app := &config.AppConfig{WorkerConfig: config.WorkerConfig{Addrs: []string{"10.0.0.1:9000", "10.0.0.2:9000"}}}
	c, err := NewCoordinator(Params{Config: config.NewBuilder().Build(), Logger: zap.NewNop(), AppConfig: app})
	if err != nil {
		t.Fatal(err)
	}
	workers := c.Workers()
	if len(workers) != 2 || workers[1].Address != "10.0.0.2:9000" || workers[0].Status != types.WorkerIdle {
		t.Errorf("workers = %+v", workers)
	}
}

func TestWorkerServeRequiresTargets(t *testing.T) {
	l := listen(t)
	defer l.Close()
	if err := NewWorker(zap.NewNop(), nil, time.Second, nil).Serve(context.Background(), l); err == nil {
		t.Error("expected error without targets")
	}
}
