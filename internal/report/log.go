package report

import (
	"github.com/0xb-s/fuzzer/internal/types"
	"go.uber.org/zap"
)

type LogReporter struct {
	logger *zap.Logger
}

func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger.Named("report")}
}

func statsFields(s types.StatsSnapshot) []zap.Field {
	return []zap.Field{
		zap.Uint64("total_runs", s.TotalRuns),
		zap.Uint64("successful_runs", s.SuccessfulRuns),
		zap.Uint64("errors", s.Errors),
		zap.Uint64("timeouts", s.Timeouts),
		zap.Int("unique_crashes", len(s.UniqueCrashes)),
		zap.Uint64("total_crashes", s.TotalCrashes),
		zap.Uint64("inputs_tested", s.InputsTested),
		zap.Int("covered_blocks", s.CoveredBlocks),
		zap.Float64("execs_per_sec", s.ExecsPerSecond()),
		zap.Duration("elapsed", s.ElapsedTime),
	}
}

func (r *LogReporter) ReportStats(s types.StatsSnapshot) {
	r.logger.Info("fuzzing stats", statsFields(s)...)
}

func (r *LogReporter) Summary(summary Summary) error {
	fields := append(statsFields(summary.Stats),
		zap.String("session", summary.SessionID),
		zap.Uint64("seed", summary.Seed),
		zap.String("stop_reason", summary.StopReason),
		zap.Strings("targets", summary.Targets))
	r.logger.Info("fuzzing finished", fields...)

	for _, desc := range summary.Stats.CrashDescriptions() {
		r.logger.Info("unique crash",
			zap.String("description", desc),
			zap.Uint64("count", summary.Stats.UniqueCrashes[desc]))
	}
	return nil
}
