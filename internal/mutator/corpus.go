package mutator

import (
	"bytes"
	"sync"
)

// Corpus is the append-only pool read by crossover and splicing.
// Clones of a Mutator share one Corpus.
type Corpus struct {
	mu      sync.RWMutex
	entries [][]byte
}

func (c *Corpus) Add(data []byte) {
	c.mu.Lock()
	c.entries = append(c.entries, bytes.Clone(data))
	c.mu.Unlock()
}

func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// pick returns entry i mod len, or nil when empty. Entries are never modified after Add.
func (c *Corpus) pick(i int) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return nil
	}
	return c.entries[i%len(c.entries)]
}
