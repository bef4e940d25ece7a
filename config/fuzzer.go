package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type InputFormat string

const (
	FormatBinary InputFormat = "binary"
	FormatText   InputFormat = "text"
	FormatJSON   InputFormat = "json"
	FormatXML    InputFormat = "xml"

	customPrefix = "custom:"
)

// CustomFormat names a format handled by a registered custom generator
func CustomFormat(name string) InputFormat {
	return InputFormat(customPrefix + name)
}

// CustomName returns the custom format name, if f is a custom format
func (f InputFormat) CustomName() (string, bool) {
	if !strings.HasPrefix(string(f), customPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(f), customPrefix), true
}

type FuzzMode string

const (
	ModeRandom   FuzzMode = "random"
	ModeMutation FuzzMode = "mutation"
	ModeHybrid   FuzzMode = "hybrid"
)

type SanitizerOptions struct {
	Address           bool `yaml:"address"`
	Thread            bool `yaml:"thread"`
	Memory            bool `yaml:"memory"`
	UndefinedBehavior bool `yaml:"undefined_behavior"`
	Leak              bool `yaml:"leak"`
}

type FuzzerConfig struct {
	InputFormat      InputFormat    `yaml:"input_format"`
	FuzzMode         FuzzMode       `yaml:"fuzz_mode"`
	Timeout          time.Duration  `yaml:"timeout"`
	MaxIterations    uint64         `yaml:"max_iterations"`
	Seed             *uint64        `yaml:"seed"`
	MutatorOptions   MutatorOptions `yaml:"mutator_options"`
	StopOnFirstCrash bool           `yaml:"stop_on_first_crash"`
	StatsInterval    int            `yaml:"stats_interval"`
	MaxInputSize     int            `yaml:"max_input_size"`
	MinInputSize     int            `yaml:"min_input_size"`

	EnableLogging   bool   `yaml:"enable_logging"`
	LogFile         string `yaml:"log_file"`
	ReportDirectory string `yaml:"report_directory"`
	SaveCrashes     bool   `yaml:"save_crashes"`
	CrashDirectory  string `yaml:"crash_directory"`

	// ThreadCount caps concurrent target executions per iteration, 0 means no cap
	ThreadCount     int    `yaml:"thread_count"`
	CorpusDirectory string `yaml:"corpus_directory"`
	DictionaryFile  string `yaml:"dictionary_file"`

	// MaxTotalTime of 0 means no wall-clock budget
	MaxTotalTime      time.Duration `yaml:"max_total_time"`
	CoverageEnabled   bool          `yaml:"coverage_enabled"`
	CoverageDirectory string        `yaml:"coverage_directory"`

	RetryOnTimeout bool `yaml:"retry_on_timeout"`
	MaxRetries     int  `yaml:"max_retries"`

	InitialInputs      [][]byte `yaml:"-"`
	UseCorpus          bool     `yaml:"use_corpus"`
	CorpusSamplingRate float64  `yaml:"corpus_sampling_rate"`

	SanitizerEnabled bool             `yaml:"sanitizer_enabled"`
	SanitizerOptions SanitizerOptions `yaml:"sanitizer_options"`
}

// Validate rejects configurations the engine cannot run with
func (c *FuzzerConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.MinInputSize < 0 || c.MaxInputSize <= c.MinInputSize {
		return fmt.Errorf("invalid input size bounds [%d, %d)", c.MinInputSize, c.MaxInputSize)
	}
	if c.CorpusSamplingRate < 0 || c.CorpusSamplingRate > 1 {
		return fmt.Errorf("corpus sampling rate %v out of [0, 1]", c.CorpusSamplingRate)
	}
	switch c.FuzzMode {
	case ModeRandom, ModeMutation, ModeHybrid:
	default:
		return fmt.Errorf("unknown fuzz mode %q", c.FuzzMode)
	}
	known := make(map[MutationType]bool)
	for _, t := range AllMutationTypes() {
		known[t] = true
	}
	for _, t := range c.MutatorOptions.MutationTypes {
		if !known[t] {
			return fmt.Errorf("unknown mutation type %q", t)
		}
	}
	return nil
}

// SanitizerEnv renders the sanitizer toggles as runtime options for instrumented process targets
func (c *FuzzerConfig) SanitizerEnv() []string {
	if !c.SanitizerEnabled {
		return nil
	}
	s := c.SanitizerOptions
	var env []string
	if s.Address {
		env = append(env, fmt.Sprintf("ASAN_OPTIONS=abort_on_error=1:symbolize=1:detect_leaks=%d", boolToInt(s.Leak)))
	} else if s.Leak {
		env = append(env, "LSAN_OPTIONS=exitcode=23")
	}
	if s.Thread {
		env = append(env, "TSAN_OPTIONS=halt_on_error=1")
	}
	if s.Memory {
		env = append(env, "MSAN_OPTIONS=halt_on_error=1")
	}
	if s.UndefinedBehavior {
		env = append(env, "UBSAN_OPTIONS=halt_on_error=1:print_stacktrace=1")
	}
	return env
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// LoadFuzzerConfig decodes a yaml file on top of the builder defaults
func LoadFuzzerConfig(path string) (*FuzzerConfig, error) {
	cfg := NewBuilder().Build()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fuzzer config: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode fuzzer config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fuzzer config %s: %w", path, err)
	}
	return cfg, nil
}

// NewFuzzerConfig provides the session config, read from FUZZ_CONFIG when set
func NewFuzzerConfig(appConfig *AppConfig) (*FuzzerConfig, error) {
	if appConfig.FuzzConfigPath == "" {
		return NewBuilder().Build(), nil
	}
	return LoadFuzzerConfig(appConfig.FuzzConfigPath)
}

type Builder struct {
	config FuzzerConfig
}

func NewBuilder() *Builder {
	return &Builder{
		config: FuzzerConfig{
			InputFormat:        FormatBinary,
			FuzzMode:           ModeRandom,
			Timeout:            time.Second,
			MaxIterations:      1000,
			MutatorOptions:     DefaultMutatorOptions(),
			StatsInterval:      100,
			MaxInputSize:       1024,
			MinInputSize:       1,
			MaxRetries:         3,
			CorpusSamplingRate: 0.1,
		},
	}
}

func (b *Builder) InputFormat(format InputFormat) *Builder {
	b.config.InputFormat = format
	return b
}

func (b *Builder) FuzzMode(mode FuzzMode) *Builder {
	b.config.FuzzMode = mode
	return b
}

func (b *Builder) Timeout(timeout time.Duration) *Builder {
	b.config.Timeout = timeout
	return b
}

func (b *Builder) MaxIterations(iterations uint64) *Builder {
	b.config.MaxIterations = iterations
	return b
}

func (b *Builder) Seed(seed uint64) *Builder {
	b.config.Seed = &seed
	return b
}

func (b *Builder) MutatorOptions(options MutatorOptions) *Builder {
	b.config.MutatorOptions = options
	return b
}

func (b *Builder) StopOnFirstCrash(stop bool) *Builder {
	b.config.StopOnFirstCrash = stop
	return b
}

func (b *Builder) StatsInterval(interval int) *Builder {
	b.config.StatsInterval = interval
	return b
}

func (b *Builder) MaxInputSize(size int) *Builder {
	b.config.MaxInputSize = size
	return b
}

func (b *Builder) MinInputSize(size int) *Builder {
	b.config.MinInputSize = size
	return b
}

func (b *Builder) EnableLogging(enable bool) *Builder {
	b.config.EnableLogging = enable
	return b
}

func (b *Builder) LogFile(file string) *Builder {
	b.config.LogFile = file
	return b
}

// ReportDirectory receives report.json and report.html when the loop exits
func (b *Builder) ReportDirectory(dir string) *Builder {
	b.config.ReportDirectory = dir
	return b
}

func (b *Builder) SaveCrashes(save bool) *Builder {
	b.config.SaveCrashes = save
	return b
}

func (b *Builder) CrashDirectory(dir string) *Builder {
	b.config.CrashDirectory = dir
	return b
}

func (b *Builder) ThreadCount(count int) *Builder {
	b.config.ThreadCount = count
	return b
}

func (b *Builder) CorpusDirectory(dir string) *Builder {
	b.config.CorpusDirectory = dir
	return b
}

func (b *Builder) DictionaryFile(file string) *Builder {
	b.config.DictionaryFile = file
	return b
}

func (b *Builder) MaxTotalTime(d time.Duration) *Builder {
	b.config.MaxTotalTime = d
	return b
}

func (b *Builder) CoverageEnabled(enabled bool) *Builder {
	b.config.CoverageEnabled = enabled
	return b
}

func (b *Builder) CoverageDirectory(dir string) *Builder {
	b.config.CoverageDirectory = dir
	return b
}

func (b *Builder) RetryOnTimeout(retry bool) *Builder {
	b.config.RetryOnTimeout = retry
	return b
}

func (b *Builder) MaxRetries(retries int) *Builder {
	b.config.MaxRetries = retries
	return b
}

func (b *Builder) InitialInputs(inputs [][]byte) *Builder {
	b.config.InitialInputs = inputs
	return b
}

func (b *Builder) UseCorpus(use bool) *Builder {
	b.config.UseCorpus = use
	return b
}

func (b *Builder) CorpusSamplingRate(rate float64) *Builder {
	b.config.CorpusSamplingRate = rate
	return b
}

func (b *Builder) SanitizerEnabled(enabled bool) *Builder {
	b.config.SanitizerEnabled = enabled
	return b
}

func (b *Builder) SanitizerOptions(options SanitizerOptions) *Builder {
	b.config.SanitizerOptions = options
	return b
}

// Build returns a copy, so the builder can keep being used
func (b *Builder) Build() *FuzzerConfig {
	cfg := b.config
	cfg.MutatorOptions.MutationTypes = append([]MutationType(nil), b.config.MutatorOptions.MutationTypes...)
	return &cfg
}
