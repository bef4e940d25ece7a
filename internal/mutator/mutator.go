package mutator

import (
	"bytes"
	"math/rand/v2"
	"slices"

	"github.com/0xb-s/fuzzer/config"
	"github.com/0xb-s/fuzzer/internal/coverage"
	"github.com/0xb-s/fuzzer/internal/utils"
)

// Mutator derives new inputs from existing ones.
// It is not safe for concurrent use; clones share options and corpus but not random state.
type Mutator struct {
	opts        config.MutatorOptions
	interesting [][]byte
	corpus      *Corpus
	tracker     *coverage.Tracker

	baseSeed uint64
	src      *rand.PCG
	rng      *rand.Rand
}

// mutator streams are offset from the generator's so both can share one session seed
const streamOffset = 0x6d7574617465

// New seeds the mutator with seed, or with fresh entropy when seed is nil
func New(opts config.MutatorOptions, seed *uint64) *Mutator {
	s := utils.EntropySeed()
	if seed != nil {
		s = *seed
	}
	rng, src := utils.NewRand(s, streamOffset)
	return &Mutator{
		opts:        opts,
		interesting: opts.Interesting(),
		corpus:      &Corpus{},
		baseSeed:    s,
		src:         src,
		rng:         rng,
	}
}

func (m *Mutator) Options() config.MutatorOptions { return m.opts }

// SetCoverageTracker keeps a reference for coverage-directed selection
func (m *Mutator) SetCoverageTracker(t *coverage.Tracker) {
	m.tracker = t
}

func (m *Mutator) CoverageTracker() *coverage.Tracker { return m.tracker }

// AddToCorpus appends data without deduplication
func (m *Mutator) AddToCorpus(data []byte) {
	m.corpus.Add(data)
}

func (m *Mutator) CorpusLen() int { return m.corpus.Len() }

// AddDictionary extends the replacement words. Clones made earlier keep their own list.
func (m *Mutator) AddDictionary(words [][]byte) {
	dict := make([][]byte, 0, len(m.opts.Dictionary)+len(words))
	dict = append(dict, m.opts.Dictionary...)
	for _, w := range words {
		if len(w) > 0 {
			dict = append(dict, bytes.Clone(w))
		}
	}
	m.opts.Dictionary = dict
}

// Clone copies the current random state; the clone replays the parent's upcoming stream
func (m *Mutator) Clone() *Mutator {
	cp := *m
	cp.rng, cp.src = utils.CloneRand(m.src)
	return &cp
}

// Derive returns a mutator with an independent stream determined by (seed, index)
func (m *Mutator) Derive(index uint64) *Mutator {
	cp := *m
	cp.rng, cp.src = utils.NewRand(m.baseSeed, utils.StreamKey(index)^streamOffset)
	return &cp
}

func (m *Mutator) rounds() int {
	n := m.opts.MaxMutations
	if n < 1 {
		n = 1
	}
	return 1 + m.rng.IntN(n)
}

// Mutate applies between 1 and MaxMutations baseline operators to a copy of data
func (m *Mutator) Mutate(data []byte) ([]byte, error) {
	mutated := bytes.Clone(data)
	if mutated == nil {
		mutated = []byte{}
	}
	for range m.rounds() {
		switch m.rng.IntN(4) {
		case 0:
			mutated = m.bitFlip(mutated)
		case 1:
			mutated = m.byteFlip(mutated)
		case 2:
			mutated = m.insertByte(mutated)
		case 3:
			mutated = m.deleteByte(mutated)
		}
	}
	return mutated, nil
}

// MutateWithFeedback applies between 1 and MaxMutations operators drawn uniformly from MutationTypes
func (m *Mutator) MutateWithFeedback(data []byte) ([]byte, error) {
	mutated := bytes.Clone(data)
	if mutated == nil {
		mutated = []byte{}
	}
	kinds := m.opts.MutationTypes
	for range m.rounds() {
		if len(kinds) == 0 {
			break
		}
		mutated = m.apply(kinds[m.rng.IntN(len(kinds))], mutated)
	}
	return mutated, nil
}

func (m *Mutator) apply(kind config.MutationType, data []byte) []byte {
	switch kind {
	case config.BitFlip:
		return m.bitFlip(data)
	case config.ByteFlip:
		return m.byteFlip(data)
	case config.BlockMutation:
		return m.blockMutation(data)
	case config.Arithmetic:
		return m.arithmetic(data)
	case config.Crossover:
		return m.crossover(data)
	case config.Splicing:
		return m.splicing(data)
	case config.Replacement:
		return m.replacement(data)
	case config.Shuffling:
		return m.shuffling(data)
	case config.InterestingValueInsertion:
		return m.insertInteresting(data)
	}
	return data
}

func (m *Mutator) bitFlip(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	data[m.rng.IntN(len(data))] ^= 1 << m.rng.IntN(8)
	return data
}

func (m *Mutator) byteFlip(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	data[m.rng.IntN(len(data))] = byte(m.rng.UintN(256))
	return data
}

func (m *Mutator) insertByte(data []byte) []byte {
	idx := m.rng.IntN(len(data) + 1)
	return slices.Insert(data, idx, byte(m.rng.UintN(256)))
}

func (m *Mutator) deleteByte(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	idx := m.rng.IntN(len(data))
	return slices.Delete(data, idx, idx+1)
}

func (m *Mutator) blockMutation(data []byte) []byte {
	size := m.opts.BlockMutationSize
	if !m.opts.EnableBlockMutation || size <= 0 || len(data) < size {
		return data
	}
	idx := m.rng.IntN(len(data) - size + 1)
	for i := idx; i < idx+size; i++ {
		data[i] = byte(m.rng.UintN(256))
	}
	return data
}

func (m *Mutator) arithmetic(data []byte) []byte {
	if !m.opts.EnableArithmetics || len(data) == 0 {
		return data
	}
	r := m.opts.ArithmeticsRange
	if r < 0 {
		r = -r
	}
	idx := m.rng.IntN(len(data))
	delta := int8(m.rng.IntN(2*r+1) - r)
	data[idx] += byte(delta)
	return data
}

// crossover keeps data[:cp] and takes the tail from a corpus entry
func (m *Mutator) crossover(data []byte) []byte {
	if !m.opts.EnableCrossover || m.corpus.Len() == 0 {
		return data
	}
	other := m.corpus.pick(m.rng.IntN(m.corpus.Len()))
	minLen := min(len(data), len(other))
	if minLen == 0 {
		return data
	}
	cp := m.rng.IntN(minLen)
	return append(data[:cp], other[cp:]...)
}

// splicing inserts a prefix of a corpus entry
func (m *Mutator) splicing(data []byte) []byte {
	if !m.opts.EnableSplicing || m.corpus.Len() == 0 {
		return data
	}
	other := m.corpus.pick(m.rng.IntN(m.corpus.Len()))
	if len(other) == 0 {
		return data
	}
	n := 1 + m.rng.IntN(len(other))
	at := m.rng.IntN(len(data) + 1)
	return slices.Insert(data, at, other[:n]...)
}

// replacement overwrites a word-sized window with a dictionary word
func (m *Mutator) replacement(data []byte) []byte {
	dict := m.opts.Dictionary
	if !m.opts.EnableReplacement || len(dict) == 0 || len(data) == 0 {
		return data
	}
	word := dict[m.rng.IntN(len(dict))]
	idx := m.rng.IntN(len(data))
	end := min(idx+len(word), len(data))
	return slices.Replace(data, idx, end, word...)
}

func (m *Mutator) shuffling(data []byte) []byte {
	if !m.opts.EnableShuffling || len(data) < 2 {
		return data
	}
	i, j := m.rng.IntN(len(data)), m.rng.IntN(len(data))
	data[i], data[j] = data[j], data[i]
	return data
}

func (m *Mutator) insertInteresting(data []byte) []byte {
	if !m.opts.EnableInterestingValueInsertion || len(m.interesting) == 0 {
		return data
	}
	value := m.interesting[m.rng.IntN(len(m.interesting))]
	at := m.rng.IntN(len(data) + 1)
	return slices.Insert(data, at, value...)
}
