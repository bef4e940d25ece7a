package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/0xb-s/fuzzer/config"
	"github.com/0xb-s/fuzzer/internal/distributed"
	"github.com/0xb-s/fuzzer/internal/target"
	"github.com/0xb-s/fuzzer/pkg/logger"
	"github.com/0xb-s/fuzzer/pkg/telemetry"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const defaultListenAddr = ":7070"

type workerParams struct {
	fx.In

	Lc            fx.Lifecycle
	Logger        *zap.Logger
	AppConfig     *config.AppConfig
	Config        *config.FuzzerConfig
	Targets       []*target.Target
	TracerFactory *telemetry.TracerFactory
	Shutdowner    fx.Shutdowner
}

// serve listens for coordinators once the app starts
func serve(p workerParams) {
	worker := distributed.NewWorker(p.Logger, p.Targets, p.Config.Timeout, p.TracerFactory)
	addr := p.AppConfig.WorkerConfig.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}
			go func() {
				defer close(done)
				if err := worker.Serve(serveCtx, listener); err != nil {
					p.Logger.Error("worker stopped", zap.Error(err))
					p.Shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			p.Logger.Info("worker stopped", zap.Uint64("served", worker.Served()))
			return nil
		},
	})
}

func main() {
	help := flag.Bool("help", false, "Show help message")
	flag.Parse()

	if *help {
		fmt.Println("Usage: worker [options]")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		fmt.Println("\nThe target and listen address come from TARGET_BINARY, TARGET_ARGS and WORKER_LISTEN_ADDR")
		os.Exit(0)
	}

	app := fx.New(
		fx.Provide(
			config.LoadConfig,          // inject config
			config.NewFuzzerConfig,     // inject session config
			telemetry.NewTelemetry,     // inject telemetry
			telemetry.NewTracerFactory, // inject telemetry tracer factory
			logger.NewLogger,           // inject logger
			target.Configured,          // inject targets
		),
		fx.Invoke(serve),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
