package types

import (
	"maps"
	"slices"
	"time"
)

// StatsSnapshot is a point-in-time copy of the session counters
type StatsSnapshot struct {
	TotalRuns      uint64            `json:"total_runs"`
	SuccessfulRuns uint64            `json:"successful_runs"`
	Errors         uint64            `json:"errors"`
	Timeouts       uint64            `json:"timeouts"`
	UniqueCrashes  map[string]uint64 `json:"unique_crashes"`
	TotalCrashes   uint64            `json:"total_crashes"`
	Retries        uint64            `json:"retries"`
	InputsTested   uint64            `json:"inputs_tested"`
	ElapsedTime    time.Duration     `json:"elapsed_time"`
	CoveredBlocks  int               `json:"covered_blocks"`
}

// CrashDescriptions returns the unique crash descriptions in sorted order
func (s StatsSnapshot) CrashDescriptions() []string {
	return slices.Sorted(maps.Keys(s.UniqueCrashes))
}

// ExecsPerSecond is TotalRuns over ElapsedTime, or 0 before any time has passed
func (s StatsSnapshot) ExecsPerSecond() float64 {
	if s.ElapsedTime <= 0 {
		return 0
	}
	return float64(s.TotalRuns) / s.ElapsedTime.Seconds()
}
