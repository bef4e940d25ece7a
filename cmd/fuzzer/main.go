package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/0xb-s/fuzzer/config"
	"github.com/0xb-s/fuzzer/internal/corpus"
	"github.com/0xb-s/fuzzer/internal/coverage"
	"github.com/0xb-s/fuzzer/internal/crash"
	"github.com/0xb-s/fuzzer/internal/dict"
	"github.com/0xb-s/fuzzer/internal/distributed"
	"github.com/0xb-s/fuzzer/internal/fuzz"
	"github.com/0xb-s/fuzzer/internal/report"
	"github.com/0xb-s/fuzzer/internal/scheduler"
	"github.com/0xb-s/fuzzer/internal/target"
	"github.com/0xb-s/fuzzer/pkg/database"
	"github.com/0xb-s/fuzzer/pkg/logger"
	"github.com/0xb-s/fuzzer/pkg/mq"
	"github.com/0xb-s/fuzzer/pkg/telemetry"
	"github.com/0xb-s/fuzzer/pkg/watchdog"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// newCoordinator returns nil unless WORKER_ADDRS lists at least one worker
func newCoordinator(p distributed.Params) (*distributed.Coordinator, error) {
	if p.AppConfig == nil || len(p.AppConfig.WorkerConfig.Addrs) == 0 {
		return nil, nil
	}
	return distributed.NewCoordinator(p)
}

type reproduceParams struct {
	fx.In

	Logger     *zap.Logger
	Config     *config.FuzzerConfig
	Targets    []*target.Target
	Shutdowner fx.Shutdowner
}

// reproduce replays one crash artifact against every configured target, then stops the app
func reproduce(path string) func(p reproduceParams) error {
	return func(p reproduceParams) error {
		defer p.Shutdowner.Shutdown()
		for _, t := range p.Targets {
			result, same, err := fuzz.ReproduceFile(context.Background(), t, path, p.Config.Timeout)
			if err != nil {
				p.Logger.Warn("crash not reproduced", zap.String("target", t.Name()), zap.String("path", path), zap.Error(err))
				continue
			}
			p.Logger.Info("crash reproduced",
				zap.String("target", t.Name()),
				zap.String("path", path),
				zap.Stringer("result", result),
				zap.Bool("same_description", same))
		}
		return nil
	}
}

func main() {
	help := flag.Bool("help", false, "Show help message")
	reproducePath := flag.String("reproduce", "", "Replay a crash artifact instead of fuzzing")
	flag.Parse()

	if *help {
		fmt.Println("Usage: fuzzer [options]")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		fmt.Println("\nEverything else is configured through the environment, see .env.example")
		os.Exit(0)
	}

	invoke := fx.Invoke(scheduler.NewScheduler)
	if *reproducePath != "" {
		invoke = fx.Invoke(reproduce(*reproducePath))
	}

	app := fx.New(
		fx.Provide(
			config.LoadConfig,                // inject config
			config.NewFuzzerConfig,           // inject session config
			database.NewDBConnection,         // inject db connection
			database.NewRedisClient,          // inject redis client
			logger.NewLogger,                 // inject logger
			mq.NewRabbitMQ,                   // inject rabbitmq service
			telemetry.NewTelemetry,           // inject telemetry
			telemetry.NewTracerFactory,       // inject telemetry tracer factory
			crash.NewManager,                 // inject crash manager
			dict.NewGrabber,                  // inject dict grabber
			coverage.NewConfiguredRedisStore, // inject shared coverage store
			watchdog.NewWatchDogFactory,      // inject watchdog factory
			report.NewConfiguredReporter,     // inject reporters
			target.Configured,                // inject targets
			fuzz.New,                         // inject fuzzing engine
			newCoordinator,                   // inject coordinator, when workers are configured
			fx.Annotate(crash.NewDBSink, fx.ResultTags(`group:"crash_sinks"`)),
			fx.Annotate(crash.NewMQSink, fx.ResultTags(`group:"crash_sinks"`)),
			fx.Annotate(crash.NotificationQueue, fx.ResultTags(`group:"mq_queues"`)),
		),
		corpus.Module, // inject corpus grabbers
		invoke,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
