package distributed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xb-s/fuzzer/internal/coverage"
	"github.com/0xb-s/fuzzer/internal/fuzz"
	"github.com/0xb-s/fuzzer/internal/target"
	"github.com/0xb-s/fuzzer/internal/types"
	"github.com/0xb-s/fuzzer/pkg/telemetry"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Worker executes tasks from coordinators against its local targets
type Worker struct {
	logger        *zap.Logger
	targets       []*target.Target
	timeout       time.Duration
	tracerFactory *telemetry.TracerFactory
	served        atomic.Uint64
}

// NewWorker runs every task on targets, each bounded by timeout. tracerFactory may be nil.
func NewWorker(logger *zap.Logger, targets []*target.Target, timeout time.Duration, tracerFactory *telemetry.TracerFactory) *Worker {
	return &Worker{
		logger:        logger.Named("worker"),
		targets:       targets,
		timeout:       timeout,
		tracerFactory: tracerFactory,
	}
}

// Served is the number of results sent over all connections
func (w *Worker) Served() uint64 { return w.served.Load() }

// Serve accepts coordinator connections until ctx is done, then waits for open connections to finish
func (w *Worker) Serve(ctx context.Context, listener net.Listener) error {
	if len(w.targets) == 0 {
		return errors.New("no targets registered")
	}
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	w.logger.Info("worker listening", zap.String("address", listener.Addr().String()), zap.Int("targets", len(w.targets)))

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.handle(ctx, conn)
		}()
	}
}

func (w *Worker) handle(ctx context.Context, conn net.Conn) {
	logger := w.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	logger.Info("coordinator connected")
	for {
		msg, err := ReadMessage(conn)
		if errors.Is(err, io.EOF) {
			logger.Info("coordinator disconnected")
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("dropping connection", zap.Error(err))
			}
			return
		}
		if msg.Type != types.MessageTask {
			logger.Warn("unexpected message, dropping connection", zap.String("type", string(msg.Type)))
			return
		}

		result := w.runTask(ctx, msg.Task)
		if err := WriteMessage(conn, types.NewResultMessage(result)); err != nil {
			if ctx.Err() == nil {
				logger.Warn("failed to send result", zap.Error(err))
			}
			return
		}
		w.served.Add(1)
	}
}

// runTask executes the task under a span continuing the coordinator's trace, if it sent one.
// The span is ended before the result goes out.
func (w *Worker) runTask(ctx context.Context, task *types.FuzzTask) *types.FuzzResult {
	if task.Trace == "" {
		return w.execute(ctx, task.Input)
	}
	tracer := w.tracerFactory.NewTracerSpawnedFrom(ctx, task.Trace, "executing task").
		WithAttributes(telemetry.NewSpanAttributes(telemetry.Fuzzing).
			WithExtraAttribute("fuzz.input_size", len(task.Input)))
	tracer.Start()
	defer tracer.End()

	result := w.execute(ctx, task.Input)
	if result.Result.IsCrash() {
		tracer.SetStatus(codes.Error, result.Result.Description)
	} else {
		tracer.SetStatus(codes.Ok, string(result.Result.Kind))
	}
	return result
}

// execute runs every target on in concurrently and waits for all of them. The reported
// outcome is the first crash in target order, else a timeout if any target timed out,
// else success. Coverage is the union over targets.
func (w *Worker) execute(ctx context.Context, in []byte) *types.FuzzResult {
	tracker := coverage.NewTracker()
	execCtx := coverage.WithTracker(ctx, tracker)

	results := make([]types.ExecutionResult, len(w.targets))
	var g errgroup.Group
	for i, t := range w.targets {
		g.Go(func() error {
			results[i] = fuzz.ExecuteTarget(execCtx, t, in, w.timeout)
			w.logger.Debug("target executed", zap.String("target", t.Name()), zap.Stringer("result", results[i]))
			return nil
		})
	}
	g.Wait()

	outcome := types.Success()
	for _, result := range results {
		switch {
		case result.IsCrash():
			if !outcome.IsCrash() {
				outcome = result
			}
		case result.IsTimeout():
			if outcome.IsSuccess() {
				outcome = result
			}
		}
	}

	res := &types.FuzzResult{Input: in, Result: outcome}
	if tracker.Len() > 0 {
		res.Coverage = tracker.GetCoverage()
	}
	return res
}
