package config

type MutationType string

const (
	BitFlip                   MutationType = "bit_flip"
	ByteFlip                  MutationType = "byte_flip"
	BlockMutation             MutationType = "block_mutation"
	Arithmetic                MutationType = "arithmetic"
	Crossover                 MutationType = "crossover"
	Splicing                  MutationType = "splicing"
	Replacement               MutationType = "replacement"
	Shuffling                 MutationType = "shuffling"
	InterestingValueInsertion MutationType = "interesting_value_insertion"
)

// AllMutationTypes lists every operator in its canonical order
func AllMutationTypes() []MutationType {
	return []MutationType{
		BitFlip,
		ByteFlip,
		BlockMutation,
		Arithmetic,
		Crossover,
		Splicing,
		Replacement,
		Shuffling,
		InterestingValueInsertion,
	}
}

// MutatorOptions is fixed for the lifetime of a fuzzing session.
// Operators gated by an Enable flag are no-ops while the flag is off, even when selected.
type MutatorOptions struct {
	MutationRate  float64        `yaml:"mutation_rate"`
	MaxMutations  int            `yaml:"max_mutations"`
	MutationTypes []MutationType `yaml:"mutation_types"`

	EnableCrossover bool    `yaml:"enable_crossover"`
	CrossoverRate   float64 `yaml:"crossover_rate"`

	EnableSplicing bool    `yaml:"enable_splicing"`
	SplicingRate   float64 `yaml:"splicing_rate"`

	EnableReplacement bool    `yaml:"enable_replacement"`
	ReplacementRate   float64 `yaml:"replacement_rate"`

	EnableShuffling bool    `yaml:"enable_shuffling"`
	ShufflingRate   float64 `yaml:"shuffling_rate"`

	EnableArithmetics bool `yaml:"enable_arithmetics"`
	ArithmeticsRange  int  `yaml:"arithmetics_range"`

	EnableBlockMutation bool `yaml:"enable_block_mutation"`
	BlockMutationSize   int  `yaml:"block_mutation_size"`

	EnableBitFlip       bool    `yaml:"enable_bit_flip"`
	BitFlipProbability  float64 `yaml:"bit_flip_probability"`
	EnableByteFlip      bool    `yaml:"enable_byte_flip"`
	ByteFlipProbability float64 `yaml:"byte_flip_probability"`

	EnableInterestingValueInsertion bool `yaml:"enable_interesting_value_insertion"`

	MaxMutationDepth  int  `yaml:"max_mutation_depth"`
	PreserveSemantics bool `yaml:"preserve_semantics"`

	// Dictionary holds the words used by Replacement, usually loaded from dictionary_file
	Dictionary [][]byte `yaml:"-"`
	// InterestingStrings is the yaml form of InterestingValues
	InterestingStrings []string `yaml:"interesting_values"`
	InterestingValues  [][]byte `yaml:"-"`
}

func DefaultMutatorOptions() MutatorOptions {
	return MutatorOptions{
		MutationRate:        0.1,
		MaxMutations:        5,
		MutationTypes:       AllMutationTypes(),
		CrossoverRate:       0.05,
		SplicingRate:        0.05,
		ReplacementRate:     0.05,
		ShufflingRate:       0.05,
		ArithmeticsRange:    10,
		BlockMutationSize:   4,
		EnableBitFlip:       true,
		BitFlipProbability:  0.01,
		EnableByteFlip:      true,
		ByteFlipProbability: 0.01,
		MaxMutationDepth:    3,
	}
}

// Interesting returns InterestingValues merged with the yaml string form
func (o *MutatorOptions) Interesting() [][]byte {
	if len(o.InterestingStrings) == 0 {
		return o.InterestingValues
	}
	out := make([][]byte, 0, len(o.InterestingValues)+len(o.InterestingStrings))
	out = append(out, o.InterestingValues...)
	for _, s := range o.InterestingStrings {
		out = append(out, []byte(s))
	}
	return out
}
