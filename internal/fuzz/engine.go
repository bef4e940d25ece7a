package fuzz

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/0xb-s/fuzzer/config"
	"github.com/0xb-s/fuzzer/internal/corpus"
	"github.com/0xb-s/fuzzer/internal/coverage"
	"github.com/0xb-s/fuzzer/internal/crash"
	"github.com/0xb-s/fuzzer/internal/dict"
	"github.com/0xb-s/fuzzer/internal/input"
	"github.com/0xb-s/fuzzer/internal/mutator"
	"github.com/0xb-s/fuzzer/internal/report"
	"github.com/0xb-s/fuzzer/internal/target"
	"github.com/0xb-s/fuzzer/internal/types"
	"github.com/0xb-s/fuzzer/pkg/telemetry"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CoverageFileName is the snapshot kept in the coverage directory
const CoverageFileName = "coverage.json"

type State int

const (
	StateIdle State = iota
	StateRunning
	StateReporting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateReporting:
		return "reporting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type StopReason string

const (
	StopNone          StopReason = ""
	StopMaxIterations StopReason = "max_iterations"
	StopMaxTime       StopReason = "max_time"
	StopFirstCrash    StopReason = "first_crash"
	StopCancelled     StopReason = "cancelled"
)

// Fuzzer drives the generate, mutate, execute and record loop over a set of targets
type Fuzzer struct {
	logger        *zap.Logger
	config        *config.FuzzerConfig
	generator     *input.Generator
	mutator       *mutator.Mutator
	coverage      *coverage.Tracker
	stats         *Stats
	reporter      report.Reporter
	crashes       *crash.Manager
	ownsCrashes   bool
	tracerFactory *telemetry.TracerFactory
	coverageStore *coverage.RedisStore
	corpus        *corpus.Collector
	dicts         *dict.Grabber

	targets []*target.Target

	// entries queued by AddToCorpus, folded in between iterations
	pendingMu sync.Mutex
	pending   [][]byte

	stateMu      sync.Mutex
	state        State
	stopReason   StopReason
	coverageBase *coverage.Data
	firstCrash   sync.Once
}

type Params struct {
	fx.In

	Config        *config.FuzzerConfig
	Logger        *zap.Logger
	Reporter      report.Reporter          `optional:"true"`
	Crashes       *crash.Manager           `optional:"true"`
	TracerFactory *telemetry.TracerFactory `optional:"true"`
	CoverageStore *coverage.RedisStore     `optional:"true"`
	Corpus        *corpus.Collector        `optional:"true"`
	Dicts         *dict.Grabber            `optional:"true"`
}

func New(p Params) (*Fuzzer, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fuzzer config: %w", err)
	}
	logger := p.Logger.Named("fuzzer")

	generator := input.New(p.Config)
	seed := generator.Seed()
	mut := mutator.New(p.Config.MutatorOptions, &seed)
	if p.Config.DictionaryFile != "" {
		words, err := dict.Load(p.Config.DictionaryFile)
		if err != nil {
			return nil, err
		}
		mut.AddDictionary(words)
		logger.Info("loaded dictionary", zap.String("path", p.Config.DictionaryFile), zap.Int("words", len(words)))
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

	collector := p.Corpus
	if collector == nil && p.Config.CorpusDirectory != "" {
		collector = corpus.NewCollectorFrom(p.Logger, corpus.ForPath(p.Config.CorpusDirectory))
	}

	return &Fuzzer{
		logger:        logger,
		config:        p.Config,
		generator:     generator,
		mutator:       mut,
		coverage:      tracker,
		stats:         NewStats(),
		reporter:      reporter,
		crashes:       crashes,
		ownsCrashes:   ownsCrashes,
		tracerFactory: p.TracerFactory,
		coverageStore: p.CoverageStore,
		corpus:        collector,
		dicts:         p.Dicts,
	}, nil
}

func (f *Fuzzer) AddTarget(t *target.Target) {
	f.targets = append(f.targets, t)
}

func (f *Fuzzer) Targets() []string {
	names := make([]string, len(f.targets))
	for i, t := range f.targets {
		names[i] = t.Name()
	}
	return names
}

// AddToCorpus queues data for both the generator seeds and the mutator corpus.
// It is safe to call while Run is in progress.
func (f *Fuzzer) AddToCorpus(data []byte) {
	f.pendingMu.Lock()
	f.pending = append(f.pending, data)
	f.pendingMu.Unlock()
}

func (f *Fuzzer) drainPending() {
	f.pendingMu.Lock()
	pending := f.pending
	f.pending = nil
	f.pendingMu.Unlock()

	for _, data := range pending {
		f.generator.AddSeed(data)
		f.mutator.AddToCorpus(data)
	}
}

func (f *Fuzzer) SessionID() string { return f.crashes.SessionID() }

// Seed replays the session when set as the config seed
func (f *Fuzzer) Seed() uint64 { return f.generator.Seed() }

func (f *Fuzzer) Generator() *input.Generator { return f.generator }

func (f *Fuzzer) Mutator() *mutator.Mutator { return f.mutator }

func (f *Fuzzer) CoverageTracker() *coverage.Tracker { return f.coverage }

// Stats returns a snapshot including the current covered block count
func (f *Fuzzer) Stats() types.StatsSnapshot {
	snap := f.stats.Snapshot()
	snap.CoveredBlocks = f.coverage.Len()
	return snap
}

func (f *Fuzzer) State() State {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.state
}

func (f *Fuzzer) StopReason() StopReason {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.stopReason
}

func (f *Fuzzer) setState(state State) {
	f.stateMu.Lock()
	f.state = state
	f.stateMu.Unlock()
}

// Run fuzzes until a stop condition holds, then reports. It can be called once.
// Only setup failures are returned; partial failures show up in the stats and the log.
func (f *Fuzzer) Run(ctx context.Context) error {
	if len(f.targets) == 0 {
		return errors.New("no targets registered")
	}
	f.stateMu.Lock()
	if f.state != StateIdle {
		f.stateMu.Unlock()
		return fmt.Errorf("fuzzer is %s", f.state)
	}
	f.state = StateRunning
	f.stateMu.Unlock()

	fuzzTracer := f.tracerFactory.NewTracer(ctx, "fuzzing session").
		WithAttributes(
			telemetry.NewSpanAttributes(telemetry.Fuzzing).
				WithSessionID(f.SessionID()).
				WithTargetNames(f.Targets()).
				WithExtraAttribute("fuzz.seed", f.Seed()),
		)
	fuzzTracer.Start()
	defer fuzzTracer.End()
	ctx = context.WithValue(ctx, telemetry.TracerKey{}, fuzzTracer)

	f.logger.Info("fuzzing started",
		zap.String("session_id", f.SessionID()),
		zap.Uint64("seed", f.Seed()),
		zap.Strings("targets", f.Targets()),
		zap.String("mode", string(f.config.FuzzMode)),
		zap.String("format", string(f.config.InputFormat)),
		zap.Bool("sanitizers", f.config.SanitizerEnabled))

	f.prepare(ctx)

	f.stats.Start()
	reason := f.loop(ctx)
	f.stats.Stop()

	f.stateMu.Lock()
	f.state = StateReporting
	f.stopReason = reason
	f.stateMu.Unlock()

	// the summary is written even when ctx was cancelled
	f.finish(context.WithoutCancel(ctx), fuzzTracer, reason)
	f.setState(StateTerminated)
	return nil
}

// prepare restores coverage and pulls corpus and dictionary sources
func (f *Fuzzer) prepare(ctx context.Context) {
	if path := f.coveragePath(); path != "" {
		if err := f.coverage.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("failed to restore coverage", zap.String("path", path), zap.Error(err))
		}
	}
	if f.coverageStore != nil {
		shared, err := f.coverageStore.Pull(ctx)
		if err != nil {
			f.logger.Warn("failed to pull shared coverage", zap.Error(err))
		} else {
			f.coverage.MergeData(shared)
		}
	}
	f.coverageBase = f.coverage.GetCoverage()

	if f.dicts != nil {
		words, err := f.dicts.Grab(ctx)
		if err != nil {
			f.logger.Warn("failed to grab dictionaries", zap.Error(err))
		} else {
			f.mutator.AddDictionary(words)
		}
	}
	if f.corpus != nil {
		for _, seed := range f.corpus.Collect(ctx) {
			f.AddToCorpus(seed)
		}
	}
	f.drainPending()

	f.logger.Info("session prepared",
		zap.Int("covered_blocks", f.coverage.Len()),
		zap.Int("corpus_size", f.mutator.CorpusLen()),
		zap.Int("dictionary_words", len(f.mutator.Options().Dictionary)))
}

func (f *Fuzzer) coveragePath() string {
	if !f.config.CoverageEnabled || f.config.CoverageDirectory == "" {
		return ""
	}
	return filepath.Join(f.config.CoverageDirectory, CoverageFileName)
}

func (f *Fuzzer) loop(ctx context.Context) StopReason {
	var deadline time.Time
	if f.config.MaxTotalTime > 0 {
		deadline = time.Now().Add(f.config.MaxTotalTime)
	}

	for iteration := uint64(0); ; {
		if iteration >= f.config.MaxIterations {
			return StopMaxIterations
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return StopMaxTime
		}
		if ctx.Err() != nil {
			return StopCancelled
		}
		f.drainPending()
		iteration++

		in, err := f.nextInput()
		if err != nil {
			f.logger.Error("skipping iteration", zap.Uint64("iteration", iteration), zap.Error(err))
			continue
		}
		f.stats.AddInputTested()
		f.runIteration(ctx, in)

		if f.config.StatsInterval > 0 && iteration%uint64(f.config.StatsInterval) == 0 {
			f.reporter.ReportStats(f.Stats())
		}
		if f.config.StopOnFirstCrash && f.stats.TotalCrashes() > 0 {
			f.logger.Info("crash detected, stopping", zap.Uint64("iteration", iteration))
			return StopFirstCrash
		}
	}
}

func (f *Fuzzer) nextInput() ([]byte, error) {
	in, err := f.generator.Generate()
	if err != nil {
		return nil, err
	}
	switch f.config.FuzzMode {
	case config.ModeMutation:
		return f.mutator.Mutate(in)
	case config.ModeHybrid:
		return f.mutator.MutateWithFeedback(in)
	}
	return in, nil
}

// runIteration executes every target on in and returns once all of them have finished
func (f *Fuzzer) runIteration(ctx context.Context, in []byte) {
	var g errgroup.Group
	if f.config.ThreadCount > 0 {
		g.SetLimit(f.config.ThreadCount)
	}
	for _, t := range f.targets {
		g.Go(func() error {
			f.executeAndRecord(ctx, t, in)
			return nil
		})
	}
	g.Wait()
}

func (f *Fuzzer) executeAndRecord(ctx context.Context, t *target.Target, in []byte) {
	execTracker := coverage.NewTracker()
	result := f.execute(coverage.WithTracker(ctx, execTracker), t, in)
	f.stats.Record(result)

	if f.config.EnableLogging {
		f.logger.Info("target executed", zap.String("target", t.Name()), zap.Stringer("result", result))
	} else {
		f.logger.Debug("target executed", zap.String("target", t.Name()), zap.Stringer("result", result))
	}

	if fresh := f.coverage.MergeData(execTracker.GetCoverage()); fresh > 0 {
		// inputs reaching new blocks join the corpus before the next iteration
		f.AddToCorpus(in)
		f.logger.Debug("new coverage", zap.String("target", t.Name()), zap.Int("new_blocks", fresh))
	}

	if !result.IsCrash() {
		return
	}
	f.firstCrash.Do(func() {
		tracer := telemetry.FromContext(ctx)
		tracer.AddEvent("first_crash_found", telemetry.NewEventAttributes(map[string]string{
			"fuzz.target":      t.Name(),
			"fuzz.description": result.Description,
		}))
	})
	if _, err := f.crashes.Save(ctx, types.CrashMessage{
		Target:      t.Name(),
		Input:       in,
		Description: result.Description,
	}); err != nil {
		f.logger.Error("failed to save crash", zap.String("target", t.Name()), zap.Error(err))
	}
}

// execute re-runs timed out executions when RetryOnTimeout is set; only the last outcome counts
func (f *Fuzzer) execute(ctx context.Context, t *target.Target, in []byte) types.ExecutionResult {
	result := ExecuteTarget(ctx, t, in, f.config.Timeout)
	if !f.config.RetryOnTimeout {
		return result
	}
	for attempt := 0; result.IsTimeout() && attempt < f.config.MaxRetries && ctx.Err() == nil; attempt++ {
		f.stats.AddRetry()
		f.logger.Debug("retrying after timeout", zap.String("target", t.Name()), zap.Int("attempt", attempt+1))
		result = ExecuteTarget(ctx, t, in, f.config.Timeout)
	}
	return result
}

// Close releases the crash manager the fuzzer created for itself. Run calls it before reporting.
func (f *Fuzzer) Close() {
	if f.ownsCrashes {
		f.crashes.Close()
	}
}

func (f *Fuzzer) finish(ctx context.Context, tracer telemetry.Tracer, reason StopReason) {
	f.Close()
	stats := f.Stats()

	summary := report.Summary{
		SessionID:  f.SessionID(),
		Seed:       f.Seed(),
		StopReason: string(reason),
		Targets:    f.Targets(),
		Stats:      stats,
		Coverage:   f.coverage.GetCoverage(),
		Crashes:    f.crashes.Analysis().Crashes(),
	}
	if err := f.reporter.Summary(summary); err != nil {
		f.logger.Error("failed to write summary", zap.Error(err))
	}

	if path := f.coveragePath(); path != "" {
		if err := os.MkdirAll(f.config.CoverageDirectory, 0755); err != nil {
			f.logger.Error("failed to create coverage directory", zap.Error(err))
		} else if err := f.coverage.Save(path); err != nil {
			f.logger.Error("failed to save coverage", zap.String("path", path), zap.Error(err))
		}
	}
	if f.coverageStore != nil {
		delta := summary.Coverage.Delta(f.coverageBase)
		if err := f.coverageStore.Push(ctx, delta); err != nil {
			f.logger.Error("failed to push coverage", zap.Error(err))
		}
	}

	tracer.WithAttributes(
		telemetry.EmptySpanAttributes().
			WithCoveredBlocks(stats.CoveredBlocks).
			WithCrashCount(len(stats.UniqueCrashes)).
			WithExtraAttribute("fuzz.total_runs", stats.TotalRuns).
			WithExtraAttribute("fuzz.stop_reason", string(reason)),
	)
	if stats.TotalCrashes > 0 {
		tracer.SetStatus(codes.Error, fmt.Sprintf("%d crashes", stats.TotalCrashes))
	} else {
		tracer.SetStatus(codes.Ok, "no crashes")
	}

	f.logger.Info("fuzzing finished",
		zap.String("stop_reason", string(reason)),
		zap.Uint64("total_runs", stats.TotalRuns),
		zap.Uint64("total_crashes", stats.TotalCrashes),
		zap.Int("covered_blocks", stats.CoveredBlocks),
		zap.Duration("elapsed", stats.ElapsedTime))
}
