package distributed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xb-s/fuzzer/config"
	"github.com/0xb-s/fuzzer/internal/coverage"
	"github.com/0xb-s/fuzzer/internal/crash"
	"github.com/0xb-s/fuzzer/internal/dict"
	"github.com/0xb-s/fuzzer/internal/fuzz"
	"github.com/0xb-s/fuzzer/internal/input"
	"github.com/0xb-s/fuzzer/internal/mutator"
	"github.com/0xb-s/fuzzer/internal/report"
	"github.com/0xb-s/fuzzer/internal/types"
	"github.com/0xb-s/fuzzer/pkg/telemetry"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultResultBuffer = 100
	defaultDialTimeout  = 10 * time.Second
)

// Coordinator generates inputs locally, ships them to remote workers and aggregates
// their results. Each worker connection is driven by its own task.
type Coordinator struct {
	logger        *zap.Logger
	config        *config.FuzzerConfig
	generator     *input.Generator
	mutator       *mutator.Mutator
	coverage      *coverage.Tracker
	stats         *fuzz.Stats
	reporter      report.Reporter
	crashes       *crash.Manager
	ownsCrashes   bool
	tracerFactory *telemetry.TracerFactory
	coverageStore *coverage.RedisStore
	coverageBase  *coverage.Data
	dialTimeout   time.Duration
	resultBuffer  int

	workersMu sync.Mutex
	workers   []*workerState

	dispatched atomic.Uint64
	ran        atomic.Bool
}

type workerState struct {
	address string
	status  atomic.Int32
	served  atomic.Uint64
}

type Params struct {
	fx.In

	Config        *config.FuzzerConfig
	Logger        *zap.Logger
	AppConfig     *config.AppConfig        `optional:"true"`
	Reporter      report.Reporter          `optional:"true"`
	Crashes       *crash.Manager           `optional:"true"`
	TracerFactory *telemetry.TracerFactory `optional:"true"`
	CoverageStore *coverage.RedisStore     `optional:"true"`
}

func NewCoordinator(p Params) (*Coordinator, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fuzzer config: %w", err)
	}

	generator := input.New(p.Config)
	seed := generator.Seed()
	mut := mutator.New(p.Config.MutatorOptions, &seed)
	if p.Config.DictionaryFile != "" {
		words, err := dict.Load(p.Config.DictionaryFile)
		if err != nil {
			return nil, err
		}
		mut.AddDictionary(words)
	}
	for _, in := range p.Config.InitialInputs {
		mut.AddToCorpus(in)
	}
	tracker := coverage.NewTracker()
	mut.SetCoverageTracker(tracker)

	reporter := p.Reporter
	if reporter == nil {
		reporter = report.NewLogReporter(p.Logger)
	}

	crashes, ownsCrashes := p.Crashes, false
	if crashes == nil {
		dir := ""
		if p.Config.SaveCrashes {
			dir = p.Config.CrashDirectory
			if dir == "" {
				dir = "crashes"
			}
		}
		crashes, ownsCrashes = crash.New(dir, p.Logger), true
	}

	dialTimeout, resultBuffer := defaultDialTimeout, defaultResultBuffer
	if p.AppConfig != nil {
		if p.AppConfig.WorkerConfig.DialTimeout > 0 {
			dialTimeout = p.AppConfig.WorkerConfig.DialTimeout
		}
		if p.AppConfig.WorkerConfig.ResultBuffer > 0 {
			resultBuffer = p.AppConfig.WorkerConfig.ResultBuffer
		}
	}

	c := &Coordinator{
		logger:        p.Logger.Named("coordinator"),
		config:        p.Config,
		generator:     generator,
		mutator:       mut,
		coverage:      tracker,
		stats:         fuzz.NewStats(),
		reporter:      reporter,
		crashes:       crashes,
		ownsCrashes:   ownsCrashes,
		tracerFactory: p.TracerFactory,
		coverageStore: p.CoverageStore,
		dialTimeout:   dialTimeout,
		resultBuffer:  resultBuffer,
	}
	if p.AppConfig != nil {
		for _, addr := range p.AppConfig.WorkerConfig.Addrs {
			c.AddWorker(addr)
		}
	}
	return c, nil
}

// AddWorker registers a worker address. Workers added after Run starts are ignored by that run.
func (c *Coordinator) AddWorker(address string) {
	c.workersMu.Lock()
	c.workers = append(c.workers, &workerState{address: address})
	c.workersMu.Unlock()
}

func (c *Coordinator) Workers() []types.WorkerInfo {
	c.workersMu.Lock()
	defer c.workersMu.Unlock()

	infos := make([]types.WorkerInfo, len(c.workers))
	for i, w := range c.workers {
		infos[i] = types.WorkerInfo{Address: w.address, Status: types.WorkerStatus(w.status.Load())}
	}
	return infos
}

// Served returns how many results each worker has returned, indexed like Workers
func (c *Coordinator) Served() []uint64 {
	c.workersMu.Lock()
	defer c.workersMu.Unlock()

	served := make([]uint64, len(c.workers))
	for i, w := range c.workers {
		served[i] = w.served.Load()
	}
	return served
}

func (c *Coordinator) Stats() types.StatsSnapshot {
	snap := c.stats.Snapshot()
	snap.CoveredBlocks = c.coverage.Len()
	return snap
}

func (c *Coordinator) Coverage() *coverage.Data { return c.coverage.GetCoverage() }

func (c *Coordinator) Seed() uint64 { return c.generator.Seed() }

func (c *Coordinator) SessionID() string { return c.crashes.SessionID() }

// Run dispatches tasks until the task budget, the time budget or ctx runs out, and
// returns once every worker task has finished. Worker failures end only that worker.
func (c *Coordinator) Run(ctx context.Context) error {
	c.workersMu.Lock()
	workers := append([]*workerState(nil), c.workers...)
	c.workersMu.Unlock()
	if len(workers) == 0 {
		return errors.New("no workers registered")
	}
	if !c.ran.CompareAndSwap(false, true) {
		return errors.New("coordinator already ran")
	}

	tracer := c.tracerFactory.NewTracer(ctx, "distributed fuzzing").
		WithAttributes(
			telemetry.NewSpanAttributes(telemetry.Fuzzing).
				WithSessionID(c.SessionID()).
				WithExtraAttribute("fuzz.seed", c.Seed()).
				WithExtraAttribute("fuzz.workers", len(workers)),
		)
	tracer.Start()
	defer tracer.End()

	c.prepare(ctx)

	var deadline time.Time
	if c.config.MaxTotalTime > 0 {
		deadline = time.Now().Add(c.config.MaxTotalTime)
	}

	c.logger.Info("distributed fuzzing started",
		zap.String("session_id", c.SessionID()),
		zap.Uint64("seed", c.Seed()),
		zap.Int("workers", len(workers)),
		zap.Uint64("max_iterations", c.config.MaxIterations))
	c.stats.Start()

	results := make(chan *types.FuzzResult, c.resultBuffer)
	var g errgroup.Group
	for i, w := range workers {
		g.Go(func() error {
			workerTracer := tracer.Spawn("fuzzing worker").
				WithAttributes(telemetry.EmptySpanAttributes().WithWorkerAddress(w.address))
			workerTracer.Start()
			defer workerTracer.End()

			logger := c.logger.With(zap.String("worker", w.address))
			err := c.runWorker(ctx, uint64(i), w, deadline, workerTracer.Export(), results, logger)
			w.status.Store(int32(types.WorkerOffline))
			if err != nil {
				logger.Warn("worker task ended", zap.Uint64("served", w.served.Load()), zap.Error(err))
				workerTracer.SetStatus(codes.Error, err.Error())
				return nil
			}
			logger.Info("worker task finished", zap.Uint64("served", w.served.Load()))
			workerTracer.SetStatus(codes.Ok, "finished")
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	var recorded uint64
	for result := range results {
		c.record(ctx, result)
		recorded++
		if c.config.StatsInterval > 0 && recorded%uint64(c.config.StatsInterval) == 0 {
			c.reporter.ReportStats(c.Stats())
		}
	}
	c.stats.Stop()
	c.finish(ctx, tracer, c.stopReason(ctx, deadline))
	return nil
}

func (c *Coordinator) stopReason(ctx context.Context, deadline time.Time) fuzz.StopReason {
	switch {
	case ctx.Err() != nil:
		return fuzz.StopCancelled
	case !deadline.IsZero() && !time.Now().Before(deadline):
		return fuzz.StopMaxTime
	}
	return fuzz.StopMaxIterations
}

func (c *Coordinator) coveragePath() string {
	if !c.config.CoverageEnabled || c.config.CoverageDirectory == "" {
		return ""
	}
	return filepath.Join(c.config.CoverageDirectory, fuzz.CoverageFileName)
}

// prepare restores coverage from the coverage file and the shared store
func (c *Coordinator) prepare(ctx context.Context) {
	if path := c.coveragePath(); path != "" {
		if err := c.coverage.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("failed to restore coverage", zap.String("path", path), zap.Error(err))
		}
	}
	if c.coverageStore != nil {
		shared, err := c.coverageStore.Pull(ctx)
		if err != nil {
			c.logger.Warn("failed to pull shared coverage", zap.Error(err))
		} else {
			c.coverage.MergeData(shared)
		}
	}
	c.coverageBase = c.coverage.GetCoverage()
}

// finish hands the summary to the reporter and persists what the session covered
func (c *Coordinator) finish(ctx context.Context, tracer telemetry.Tracer, reason fuzz.StopReason) {
	if c.ownsCrashes {
		c.crashes.Close()
	}
	stats := c.Stats()

	summary := report.Summary{
		SessionID:  c.SessionID(),
		Seed:       c.Seed(),
		StopReason: string(reason),
		Targets:    c.workerAddresses(),
		Stats:      stats,
		Coverage:   c.coverage.GetCoverage(),
		Crashes:    c.crashes.Analysis().Crashes(),
	}
	if err := c.reporter.Summary(summary); err != nil {
		c.logger.Error("failed to write summary", zap.Error(err))
	}

	if path := c.coveragePath(); path != "" {
		if err := os.MkdirAll(c.config.CoverageDirectory, 0755); err != nil {
			c.logger.Error("failed to create coverage directory", zap.Error(err))
		} else if err := c.coverage.Save(path); err != nil {
			c.logger.Error("failed to save coverage", zap.String("path", path), zap.Error(err))
		}
	}
	if c.coverageStore != nil {
		// the session context may already be cancelled
		pushCtx := context.WithoutCancel(ctx)
		if err := c.coverageStore.Push(pushCtx, summary.Coverage.Delta(c.coverageBase)); err != nil {
			c.logger.Error("failed to push coverage", zap.Error(err))
		}
	}

	tracer.WithAttributes(
		telemetry.EmptySpanAttributes().
			WithCoveredBlocks(stats.CoveredBlocks).
			WithCrashCount(len(stats.UniqueCrashes)).
			WithExtraAttribute("fuzz.total_runs", stats.TotalRuns).
			WithExtraAttribute("fuzz.stop_reason", string(reason)),
	)
	c.logger.Info("distributed fuzzing finished",
		zap.String("stop_reason", string(reason)),
		zap.Uint64("total_runs", stats.TotalRuns),
		zap.Uint64("total_crashes", stats.TotalCrashes),
		zap.Int("covered_blocks", stats.CoveredBlocks),
		zap.Duration("elapsed", stats.ElapsedTime))
}

// workerAddresses names the workers in the summary, which has no local targets
func (c *Coordinator) workerAddresses() []string {
	infos := c.Workers()
	addrs := make([]string, len(infos))
	for i, info := range infos {
		addrs[i] = info.Address
	}
	return addrs
}

// claim reserves one task from the shared budget
func (c *Coordinator) claim(deadline time.Time) bool {
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return false
	}
	return c.dispatched.Add(1) <= c.config.MaxIterations
}

// runWorker drives one worker connection. trace is the exported worker span, handed to the
// worker with every task so its spans join the session trace.
func (c *Coordinator) runWorker(ctx context.Context, index uint64, w *workerState, deadline time.Time,
	trace string, results chan<- *types.FuzzResult, logger *zap.Logger) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", w.address)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()
	// cancellation unblocks a pending read or write
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	generator := c.generator.Derive(index)
	mut := c.mutator.Derive(index)

	for ctx.Err() == nil && c.claim(deadline) {
		in, err := c.nextInput(generator, mut)
		if err != nil {
			logger.Error("skipping task", zap.Error(err))
			continue
		}

		w.status.Store(int32(types.WorkerBusy))
		task := types.NewTaskMessage(in)
		task.Task.Trace = trace
		if err := WriteMessage(conn, task); err != nil {
			return err
		}
		msg, err := ReadMessage(conn)
		if errors.Is(err, io.EOF) {
			// the worker closed the connection
			return nil
		}
		if err != nil {
			return err
		}
		if msg.Type != types.MessageResult {
			return fmt.Errorf("unexpected %s message from worker", msg.Type)
		}
		w.status.Store(int32(types.WorkerIdle))

		select {
		case results <- msg.Result:
			w.served.Add(1)
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (c *Coordinator) nextInput(generator *input.Generator, mut *mutator.Mutator) ([]byte, error) {
	in, err := generator.Generate()
	if err != nil {
		return nil, err
	}
	switch c.config.FuzzMode {
	case config.ModeMutation:
		return mut.Mutate(in)
	case config.ModeHybrid:
		return mut.MutateWithFeedback(in)
	}
	return in, nil
}

// record is only called from the collecting loop
func (c *Coordinator) record(ctx context.Context, result *types.FuzzResult) {
	c.stats.AddInputTested()
	c.stats.Record(result.Result)
	if result.Coverage != nil {
		if fresh := c.coverage.MergeData(result.Coverage); fresh > 0 {
			c.mutator.AddToCorpus(result.Input)
		}
	}
	if !result.Result.IsCrash() {
		return
	}
	if _, err := c.crashes.Save(ctx, types.CrashMessage{
		Target:      "remote",
		Input:       result.Input,
		Description: result.Result.Description,
	}); err != nil {
		c.logger.Error("failed to save crash", zap.Error(err))
	}
}
