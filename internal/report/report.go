package report

import (
	"errors"
	"os"

	"github.com/0xb-s/fuzzer/config"
	"github.com/0xb-s/fuzzer/internal/coverage"
	"github.com/0xb-s/fuzzer/internal/crash"
	"github.com/0xb-s/fuzzer/internal/types"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Summary is produced once when the loop exits
type Summary struct {
	SessionID  string              `json:"session_id"`
	Seed       uint64              `json:"seed"`
	StopReason string              `json:"stop_reason"`
	Targets    []string            `json:"targets"`
	Stats      types.StatsSnapshot `json:"stats"`
	Coverage   *coverage.Data      `json:"coverage,omitempty"`
	Crashes    []crash.Info        `json:"crashes,omitempty"`
}

// Reporter receives periodic stats and the final summary
type Reporter interface {
	ReportStats(stats types.StatsSnapshot)
	Summary(summary Summary) error
}

type multi []Reporter

// Multi fans out to every non-nil reporter
func Multi(reporters ...Reporter) Reporter {
	var m multi
	for _, r := range reporters {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m multi) ReportStats(stats types.StatsSnapshot) {
	for _, r := range m {
		r.ReportStats(stats)
	}
}

func (m multi) Summary(summary Summary) error {
	var errs []error
	for _, r := range m {
		if err := r.Summary(summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type ReporterParams struct {
	fx.In

	Config *config.FuzzerConfig
	Logger *zap.Logger
}

// NewConfiguredReporter logs every report, prints the stats table on stdout and
// writes the log file and report directory when they are configured
func NewConfiguredReporter(p ReporterParams) Reporter {
	return Multi(
		NewLogReporter(p.Logger),
		NewTableReporter(os.Stdout),
		NewFileReporter(p.Config.LogFile, p.Config.ReportDirectory, p.Logger),
	)
}
