package fuzz

import (
	"fmt"
	"sync"
	"testing"

	"github.com/0xb-s/fuzzer/internal/types"
)

func TestStatsUniqueCrashes(t *testing.T) {
	s := NewStats()
	for i := range 5 {
		s.Record(types.Crash(fmt.Sprintf("crash %d", i)))
	}
	snap := s.Snapshot()
	if len(snap.UniqueCrashes) != 5 {
		t.Fatalf("unique crashes = %d, want 5", len(snap.UniqueCrashes))
	}
	for desc, n := range snap.UniqueCrashes {
		if n != 1 {
			t.Errorf("%s counted %d times", desc, n)
		}
	}

	s = NewStats()
	for range 7 {
		s.Record(types.Crash("same"))
	}
	snap = s.Snapshot()
	if len(snap.UniqueCrashes) != 1 || snap.UniqueCrashes["same"] != 7 {
		t.Errorf("unique crashes = %v", snap.UniqueCrashes)
	}
	if snap.TotalCrashes != 7 || snap.Errors != 7 || snap.TotalRuns != 7 {
		t.Errorf("counters = %+v", snap)
	}
}

func TestStatsCounters(t *testing.T) {
	s := NewStats()
	s.Record(types.Success())
	s.Record(types.Success())
	s.Record(types.Timeout())
	s.Record(types.Crash("x"))
	s.AddInputTested()
	s.AddRetry()

	snap := s.Snapshot()
	want := types.StatsSnapshot{
		TotalRuns:      4,
		SuccessfulRuns: 2,
		Errors:         1,
		Timeouts:       1,
		TotalCrashes:   1,
		Retries:        1,
		InputsTested:   1,
	}
	if snap.TotalRuns != want.TotalRuns || snap.SuccessfulRuns != want.SuccessfulRuns ||
		snap.Errors != want.Errors || snap.Timeouts != want.Timeouts ||
		snap.TotalCrashes != want.TotalCrashes || snap.Retries != want.Retries ||
		snap.InputsTested != want.InputsTested {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestStatsSnapshotIsolated(t *testing.T) {
	s := NewStats()
	s.Record(types.Crash("a"))
	snap := s.Snapshot()
	s.Record(types.Crash("a"))
	snap.UniqueCrashes["b"] = 1

	if snap.UniqueCrashes["a"] != 1 {
		t.Errorf("snapshot observed a later update")
	}
	if _, ok := s.Snapshot().UniqueCrashes["b"]; ok {
		t.Errorf("stats observed a write to the snapshot")
	}
}

func TestStatsConcurrent(t *testing.T) {
	s := NewStats()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 500 {
				s.Record(types.Success())
			}
		}()
	}
	wg.Wait()
	if got := s.TotalRuns(); got != 4000 {
		t.Errorf("total runs = %d", got)
	}
}

func TestStatsStopFreezesElapsed(t *testing.T) {
	s := NewStats()
	s.Start()
	s.Stop()
	first := s.Snapshot().ElapsedTime
	if second := s.Snapshot().ElapsedTime; second != first {
		t.Errorf("elapsed moved after Stop: %v -> %v", first, second)
	}
}
