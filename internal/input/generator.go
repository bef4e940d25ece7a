package input

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/0xb-s/fuzzer/config"
	"github.com/0xb-s/fuzzer/internal/types"
	"github.com/0xb-s/fuzzer/internal/utils"
)

// CustomFunc produces one input for a custom format
type CustomFunc func(rng *rand.Rand) ([]byte, error)

// Generator produces fresh inputs in the configured format.
// It is not safe for concurrent use; give each consumer its own via Derive.
type Generator struct {
	format       config.InputFormat
	minSize      int
	maxSize      int
	useCorpus    bool
	samplingRate float64

	baseSeed uint64
	src      *rand.PCG
	rng      *rand.Rand

	seeds  [][]byte
	custom map[string]CustomFunc
}

func New(cfg *config.FuzzerConfig) *Generator {
	seed := utils.EntropySeed()
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}
	rng, src := utils.NewRand(seed, 0)

	g := &Generator{
		format:       cfg.InputFormat,
		minSize:      cfg.MinInputSize,
		maxSize:      cfg.MaxInputSize,
		useCorpus:    cfg.UseCorpus,
		samplingRate: cfg.CorpusSamplingRate,
		baseSeed:     seed,
		src:          src,
		rng:          rng,
		custom:       make(map[string]CustomFunc),
	}
	if g.maxSize <= g.minSize {
		g.minSize, g.maxSize = 1, 1024
	}
	for _, in := range cfg.InitialInputs {
		g.AddSeed(in)
	}
	return g
}

// Seed is the base seed; with it the session can be replayed
func (g *Generator) Seed() uint64 { return g.baseSeed }

// RegisterFormat installs the generator used for config.CustomFormat(name)
func (g *Generator) RegisterFormat(name string, fn CustomFunc) {
	g.custom[name] = fn
}

// AddSeed makes data available to corpus sampling
func (g *Generator) AddSeed(data []byte) {
	g.seeds = append(g.seeds, bytes.Clone(data))
}

func (g *Generator) SeedCount() int { return len(g.seeds) }

// Clone copies the current random state, so the clone replays the parent's upcoming stream
func (g *Generator) Clone() *Generator {
	cp := *g
	cp.rng, cp.src = utils.CloneRand(g.src)
	cp.seeds = append([][]byte(nil), g.seeds...)
	return &cp
}

// Derive returns a generator with an independent stream determined by (seed, index)
func (g *Generator) Derive(index uint64) *Generator {
	cp := *g
	cp.rng, cp.src = utils.NewRand(g.baseSeed, utils.StreamKey(index))
	cp.seeds = append([][]byte(nil), g.seeds...)
	return &cp
}

func (g *Generator) Generate() ([]byte, error) {
	if g.useCorpus && len(g.seeds) > 0 && g.rng.Float64() < g.samplingRate {
		return bytes.Clone(g.seeds[g.rng.IntN(len(g.seeds))]), nil
	}

	switch g.format {
	case config.FormatBinary:
		return g.generateBinary(), nil
	case config.FormatText:
		return g.generateText(), nil
	case config.FormatJSON:
		return g.generateJSON()
	case config.FormatXML:
		return g.generateXML(), nil
	}
	if name, ok := g.format.CustomName(); ok {
		return g.generateCustom(name)
	}
	// unknown formats fall back to binary
	return g.generateBinary(), nil
}

func (g *Generator) size() int {
	return g.minSize + g.rng.IntN(g.maxSize-g.minSize)
}

func (g *Generator) generateBinary() []byte {
	buf := make([]byte, g.size())
	for i := range buf {
		buf[i] = byte(g.rng.UintN(256))
	}
	return buf
}

func (g *Generator) generateText() []byte {
	buf := make([]byte, g.size())
	for i := range buf {
		buf[i] = byte(32 + g.rng.IntN(127-32))
	}
	return buf
}

// field order is the serialized key order
type jsonDocument struct {
	Array  [2]bool    `json:"array"`
	Key    uint64     `json:"key"`
	Nested jsonNested `json:"nested"`
	Value  float64    `json:"value"`
}

type jsonNested struct {
	A uint8  `json:"a"`
	B string `json:"b"`
}

func (g *Generator) generateJSON() ([]byte, error) {
	doc := jsonDocument{
		Key:   g.rng.Uint64(),
		Value: g.rng.Float64(),
		Array: [2]bool{g.rng.IntN(2) == 1, g.rng.IntN(2) == 1},
		Nested: jsonNested{
			A: uint8(g.rng.UintN(256)),
			B: fmt.Sprintf("str%d", g.rng.UintN(256)),
		},
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, types.InputGenerationError(err.Error())
	}
	return payload, nil
}

func (g *Generator) generateXML() []byte {
	return fmt.Appendf(nil, "<root><value>%d</value><flag>%t</flag></root>", g.rng.Uint64(), g.rng.IntN(2) == 1)
}

func (g *Generator) generateCustom(name string) ([]byte, error) {
	fn, ok := g.custom[name]
	if !ok {
		return []byte("Custom format: " + name), nil
	}
	data, err := fn(g.rng)
	if err != nil {
		return nil, types.InputGenerationError(fmt.Sprintf("custom format %s: %v", name, err))
	}
	return data, nil
}
