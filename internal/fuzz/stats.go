package fuzz

import (
	"maps"
	"sync"
	"time"

	"github.com/0xb-s/fuzzer/internal/types"
)

// Stats holds the session counters behind one lock. Counters never decrease.
type Stats struct {
	mu    sync.Mutex
	snap  types.StatsSnapshot
	start time.Time
	end   time.Time
}

func NewStats() *Stats {
	return &Stats{
		snap:  types.StatsSnapshot{UniqueCrashes: make(map[string]uint64)},
		start: time.Now(),
	}
}

// Start resets the clock used for ElapsedTime
func (s *Stats) Start() {
	s.mu.Lock()
	s.start = time.Now()
	s.end = time.Time{}
	s.mu.Unlock()
}

// Stop freezes ElapsedTime
func (s *Stats) Stop() {
	s.mu.Lock()
	if s.end.IsZero() {
		s.end = time.Now()
	}
	s.mu.Unlock()
}

// Record counts one finished execution. A crash also counts as an error.
func (s *Stats) Record(result types.ExecutionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.TotalRuns++
	switch result.Kind {
	case types.ResultSuccess:
		s.snap.SuccessfulRuns++
	case types.ResultCrash:
		s.snap.Errors++
		s.snap.TotalCrashes++
		s.snap.UniqueCrashes[result.Description]++
	case types.ResultTimeout:
		s.snap.Timeouts++
	}
}

func (s *Stats) AddInputTested() {
	s.mu.Lock()
	s.snap.InputsTested++
	s.mu.Unlock()
}

func (s *Stats) AddRetry() {
	s.mu.Lock()
	s.snap.Retries++
	s.mu.Unlock()
}

func (s *Stats) TotalCrashes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.TotalCrashes
}

func (s *Stats) TotalRuns() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.TotalRuns
}

// Snapshot returns a copy that later updates do not touch
func (s *Stats) Snapshot() types.StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snap
	snap.UniqueCrashes = maps.Clone(s.snap.UniqueCrashes)
	end := s.end
	if end.IsZero() {
		end = time.Now()
	}
	snap.ElapsedTime = end.Sub(s.start)
	return snap
}
