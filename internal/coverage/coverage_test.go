package coverage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
)

func trackerWith(blocks ...uint64) *Tracker {
	t := NewTracker()
	for _, b := range blocks {
		t.Record(b)
	}
	return t
}

func TestRecordKeepsSetAndCountsInSync(t *testing.T) {
	tr := trackerWith(3, 1, 3, 3)
	d := tr.GetCoverage()

	if got := d.Covered(); !slices.Equal(got, []uint64{1, 3}) {
		t.Fatalf("covered = %v", got)
	}
	if d.HitCount(3) != 3 || d.HitCount(1) != 1 {
		t.Errorf("hit counts = %d/%d", d.HitCount(3), d.HitCount(1))
	}
	if d.Covers(2) || d.HitCount(2) != 0 {
		t.Errorf("block 2 should not be covered")
	}
}

func TestGetCoverageIsSnapshot(t *testing.T) {
	tr := trackerWith(1)
	snap := tr.GetCoverage()
	tr.Record(2)
	snap.RecordBlock(9)

	if snap.Covers(2) {
		t.Errorf("snapshot observed a later record")
	}
	if tr.GetCoverage().Covers(9) {
		t.Errorf("tracker observed a write to the snapshot")
	}
}

func TestMergeCommutative(t *testing.T) {
	a := trackerWith(1, 2, 2)
	b := trackerWith(2, 3)

	ab := NewTracker()
	ab.Merge(a)
	ab.Merge(b)

	ba := NewTracker()
	ba.Merge(b)
	ba.Merge(a)

	if !ab.GetCoverage().Equal(ba.GetCoverage()) {
		t.Fatalf("merge is not commutative: %v vs %v", ab.GetCoverage().Covered(), ba.GetCoverage().Covered())
	}
	got := ab.GetCoverage()
	if !slices.Equal(got.Covered(), []uint64{1, 2, 3}) || got.HitCount(2) != 3 {
		t.Errorf("union/sum wrong: covered=%v hits(2)=%d", got.Covered(), got.HitCount(2))
	}
}

func TestMergeAssociative(t *testing.T) {
	a, b, c := trackerWith(1), trackerWith(1, 2), trackerWith(3)

	left := NewTracker()
	left.Merge(a)
	left.Merge(b)
	left.Merge(c)

	bc := NewTracker()
	bc.Merge(b)
	bc.Merge(c)
	right := NewTracker()
	right.Merge(a)
	right.Merge(bc)

	if !left.GetCoverage().Equal(right.GetCoverage()) {
		t.Fatalf("merge is not associative")
	}
}

func TestSelfMerge(t *testing.T) {
	tr := trackerWith(1, 2, 2)
	tr.Merge(tr)

	d := tr.GetCoverage()
	if !slices.Equal(d.Covered(), []uint64{1, 2}) {
		t.Errorf("self merge changed the covered set: %v", d.Covered())
	}
	// counts are summed, so a self merge doubles them
	if d.HitCount(2) != 4 || d.HitCount(1) != 2 {
		t.Errorf("hit counts after self merge = %d/%d", d.HitCount(1), d.HitCount(2))
	}
}

func TestMergeReportsNewBlocks(t *testing.T) {
	tr := trackerWith(1, 2)
	if n := tr.Merge(trackerWith(2, 3, 4)); n != 2 {
		t.Errorf("new blocks = %d, want 2", n)
	}
	if n := tr.Merge(trackerWith(1, 4)); n != 0 {
		t.Errorf("new blocks = %d, want 0", n)
	}
	if n := tr.MergeData(nil); n != 0 {
		t.Errorf("nil merge = %d", n)
	}
}

func TestDelta(t *testing.T) {
	base := trackerWith(1, 2).GetCoverage()
	cur := trackerWith(1, 2, 2, 3).GetCoverage()

	delta := cur.Delta(base)
	if !slices.Equal(delta.Covered(), []uint64{2, 3}) {
		t.Fatalf("delta covers %v", delta.Covered())
	}
	if delta.HitCount(2) != 1 || delta.HitCount(3) != 1 {
		t.Errorf("delta hits = %d/%d", delta.HitCount(2), delta.HitCount(3))
	}

	base.Merge(delta)
	if !base.Equal(cur) {
		t.Errorf("base plus delta should equal current")
	}
}

func TestConcurrentRecord(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				tr.Record(uint64(i % 4))
			}
		}()
	}
	wg.Wait()

	if got := tr.GetCoverage().TotalHits(); got != 8000 {
		t.Fatalf("total hits = %d, want 8000", got)
	}
	if tr.Len() != 4 {
		t.Errorf("covered blocks = %d, want 4", tr.Len())
	}
}

func TestSaveLoadMergesOnRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coverage.json")
	if err := trackerWith(1, 5, 5).Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	tr := trackerWith(5, 7)
	if err := tr.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := tr.Load(path); err != nil {
		t.Fatalf("second Load: %v", err)
	}

	d := tr.GetCoverage()
	if !slices.Equal(d.Covered(), []uint64{1, 5, 7}) {
		t.Fatalf("covered = %v", d.Covered())
	}
	if d.HitCount(5) != 5 || d.HitCount(1) != 2 {
		t.Errorf("loads are not cumulative: hits(5)=%d hits(1)=%d", d.HitCount(5), d.HitCount(1))
	}
}

func TestSnapshotFormat(t *testing.T) {
	payload, err := json.Marshal(trackerWith(2, 1).GetCoverage())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"covered_blocks":[1,2],"block_hit_counts":{"1":1,"2":1}}`
	if string(payload) != want {
		t.Errorf("snapshot = %s, want %s", payload, want)
	}

	var d Data
	if err := json.Unmarshal([]byte(`{"covered_blocks":[4],"block_hit_counts":{}}`), &d); err != nil {
		t.Fatal(err)
	}
	if !d.Covers(4) || d.HitCount(4) != 0 {
		t.Errorf("covered block without hit count should be kept with zero hits")
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker()
	if err := tr.Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Errorf("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := tr.Load(bad); err == nil {
		t.Errorf("expected error for malformed file")
	}
	if tr.Len() != 0 {
		t.Errorf("failed load must not change state")
	}
}

func TestContextTracker(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Fatalf("expected no tracker")
	}
	// recording into a missing tracker is a no-op
	FromContext(context.Background()).Record(1)

	tr := NewTracker()
	ctx := WithTracker(context.Background(), tr)
	FromContext(ctx).Record(11)
	if !tr.GetCoverage().Covers(11) {
		t.Errorf("record through context was lost")
	}
}
