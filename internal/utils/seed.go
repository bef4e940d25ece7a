package utils

import "math/rand/v2"

const golden = 0x9e3779b97f4a7c15

// EntropySeed draws a seed for sessions started without one
func EntropySeed() uint64 {
	return rand.Uint64()
}

// StreamKey maps a task index to the second PCG seed word.
// Index-derived streams never collide with the base stream, which uses 0.
func StreamKey(index uint64) uint64 {
	return (index + 1) * golden
}

// NewRand returns a PCG-backed generator for (seed, stream) along with its source
func NewRand(seed, stream uint64) (*rand.Rand, *rand.PCG) {
	src := rand.NewPCG(seed, stream)
	return rand.New(src), src
}

// CloneRand copies the state of src into an independent generator
func CloneRand(src *rand.PCG) (*rand.Rand, *rand.PCG) {
	cp := *src
	return rand.New(&cp), &cp
}
