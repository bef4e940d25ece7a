package coverage

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// Data is a set of covered blocks with a hit count per block.
// The covered set is exactly the key set of the hit counts.
type Data struct {
	hits map[uint64]uint64
}

func NewData() *Data {
	return &Data{hits: make(map[uint64]uint64)}
}

func (d *Data) RecordBlock(id uint64) {
	if d.hits == nil {
		d.hits = make(map[uint64]uint64)
	}
	d.hits[id]++
}

// Merge unions the covered sets and sums hit counts per block.
// It returns how many blocks were not covered before.
func (d *Data) Merge(other *Data) int {
	if other == nil {
		return 0
	}
	if d.hits == nil {
		d.hits = make(map[uint64]uint64, len(other.hits))
	}
	fresh := 0
	for id, n := range other.hits {
		if _, ok := d.hits[id]; !ok {
			fresh++
		}
		d.hits[id] += n
	}
	return fresh
}

// Delta returns the hits d gained on top of base: new blocks and blocks whose count grew
func (d *Data) Delta(base *Data) *Data {
	out := NewData()
	for id, n := range d.hits {
		prev, seen := base.hits[id]
		switch {
		case !seen:
			out.hits[id] = n
		case n > prev:
			out.hits[id] = n - prev
		}
	}
	return out
}

func (d *Data) Clone() *Data {
	return &Data{hits: maps.Clone(d.hits)}
}

func (d *Data) Len() int { return len(d.hits) }

func (d *Data) Covers(id uint64) bool {
	_, ok := d.hits[id]
	return ok
}

func (d *Data) HitCount(id uint64) uint64 { return d.hits[id] }

// Covered returns the covered block ids in ascending order
func (d *Data) Covered() []uint64 {
	return slices.Sorted(maps.Keys(d.hits))
}

// TotalHits sums the hit counts of every block
func (d *Data) TotalHits() uint64 {
	var total uint64
	for _, n := range d.hits {
		total += n
	}
	return total
}

func (d *Data) Equal(other *Data) bool {
	return maps.Equal(d.hits, other.hits)
}

type dataJSON struct {
	CoveredBlocks  []uint64          `json:"covered_blocks"`
	BlockHitCounts map[uint64]uint64 `json:"block_hit_counts"`
}

func (d *Data) MarshalJSON() ([]byte, error) {
	hits := d.hits
	if hits == nil {
		hits = map[uint64]uint64{}
	}
	return json.Marshal(dataJSON{d.Covered(), hits})
}

// UnmarshalJSON accepts blocks listed as covered without a hit count, recording them with zero hits
func (d *Data) UnmarshalJSON(b []byte) error {
	var raw dataJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.hits = make(map[uint64]uint64, len(raw.CoveredBlocks))
	for _, id := range raw.CoveredBlocks {
		d.hits[id] = 0
	}
	for id, n := range raw.BlockHitCounts {
		d.hits[id] = n
	}
	return nil
}

// Tracker is the lock-protected owner of one Data.
// A nil *Tracker ignores Record, so targets can record unconditionally.
type Tracker struct {
	mu   sync.Mutex
	data *Data
}

func NewTracker() *Tracker {
	return &Tracker{data: NewData()}
}

func (t *Tracker) Record(id uint64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.data.RecordBlock(id)
	t.mu.Unlock()
}

// GetCoverage returns a deep copy of the current state
func (t *Tracker) GetCoverage() *Data {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.Clone()
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.Len()
}

// Merge folds a snapshot of other into t. Both locks are never held together.
func (t *Tracker) Merge(other *Tracker) int {
	if other == nil {
		return 0
	}
	return t.MergeData(other.GetCoverage())
}

// MergeData returns the number of newly covered blocks
func (t *Tracker) MergeData(d *Data) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.Merge(d)
}

// Save writes the snapshot as json, replacing path atomically
func (t *Tracker) Save(path string) error {
	payload, err := json.Marshal(t.GetCoverage())
	if err != nil {
		return fmt.Errorf("failed to encode coverage: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".coverage-*.json")
	if err != nil {
		return fmt.Errorf("failed to create coverage file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write coverage file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close coverage file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move coverage file into place: %w", err)
	}
	return nil
}

// Load merges a saved snapshot into the current state, so repeated loads accumulate
func (t *Tracker) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read coverage file: %w", err)
	}
	loaded := NewData()
	if err := json.Unmarshal(payload, loaded); err != nil {
		return fmt.Errorf("failed to decode coverage file %s: %w", path, err)
	}
	t.MergeData(loaded)
	return nil
}
