package fuzz

import (
	"github.com/0xb-s/fuzzer/internal/types"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics exposes the counters of source as gauges read at scrape time
func RegisterMetrics(reg prometheus.Registerer, source func() types.StatsSnapshot) error {
	gauge := func(name, help string, value func(types.StatsSnapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return value(source())
		})
	}

	collectors := []prometheus.Collector{
		gauge("fuzzer_total_runs", "Target executions finished.",
			func(s types.StatsSnapshot) float64 { return float64(s.TotalRuns) }),
		gauge("fuzzer_successful_runs", "Executions that returned success.",
			func(s types.StatsSnapshot) float64 { return float64(s.SuccessfulRuns) }),
		gauge("fuzzer_crashes_total", "Executions that reported a failure.",
			func(s types.StatsSnapshot) float64 { return float64(s.TotalCrashes) }),
		gauge("fuzzer_unique_crashes", "Distinct failure descriptions.",
			func(s types.StatsSnapshot) float64 { return float64(len(s.UniqueCrashes)) }),
		gauge("fuzzer_timeouts", "Executions that exceeded the timeout.",
			func(s types.StatsSnapshot) float64 { return float64(s.Timeouts) }),
		gauge("fuzzer_inputs_tested", "Inputs generated and dispatched.",
			func(s types.StatsSnapshot) float64 { return float64(s.InputsTested) }),
		gauge("fuzzer_covered_blocks", "Coverage blocks seen so far.",
			func(s types.StatsSnapshot) float64 { return float64(s.CoveredBlocks) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
