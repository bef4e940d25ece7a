package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBuilderDefaults(t *testing.T) {
	cfg := NewBuilder().Build()

	if cfg.InputFormat != FormatBinary || cfg.FuzzMode != ModeRandom {
		t.Fatalf("unexpected format/mode: %s/%s", cfg.InputFormat, cfg.FuzzMode)
	}
	if cfg.Timeout != time.Second {
		t.Errorf("timeout = %s, want 1s", cfg.Timeout)
	}
	if cfg.MaxIterations != 1000 || cfg.StatsInterval != 100 {
		t.Errorf("iterations/interval = %d/%d", cfg.MaxIterations, cfg.StatsInterval)
	}
	if cfg.MinInputSize != 1 || cfg.MaxInputSize != 1024 {
		t.Errorf("input bounds = [%d, %d)", cfg.MinInputSize, cfg.MaxInputSize)
	}
	if cfg.MaxRetries != 3 || cfg.CorpusSamplingRate != 0.1 {
		t.Errorf("retries/sampling = %d/%v", cfg.MaxRetries, cfg.CorpusSamplingRate)
	}
	if cfg.Seed != nil {
		t.Errorf("seed should be unset by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestDefaultMutatorOptions(t *testing.T) {
	opts := DefaultMutatorOptions()
	if opts.MaxMutations != 5 || opts.MutationRate != 0.1 {
		t.Errorf("max mutations/rate = %d/%v", opts.MaxMutations, opts.MutationRate)
	}
	if len(opts.MutationTypes) != len(AllMutationTypes()) {
		t.Errorf("mutation types = %v", opts.MutationTypes)
	}
	if opts.EnableCrossover || opts.EnableSplicing || opts.EnableReplacement || opts.EnableShuffling ||
		opts.EnableArithmetics || opts.EnableBlockMutation || opts.EnableInterestingValueInsertion {
		t.Errorf("extended operators must be disabled by default")
	}
	if !opts.EnableBitFlip || !opts.EnableByteFlip {
		t.Errorf("bit and byte flip must be enabled by default")
	}
	if opts.ArithmeticsRange != 10 || opts.BlockMutationSize != 4 {
		t.Errorf("arithmetic range/block size = %d/%d", opts.ArithmeticsRange, opts.BlockMutationSize)
	}
}

func TestBuilderChaining(t *testing.T) {
	b := NewBuilder().
		InputFormat(FormatJSON).
		FuzzMode(ModeHybrid).
		Seed(42).
		StopOnFirstCrash(true).
		MaxTotalTime(time.Minute).
		ThreadCount(4)
	cfg := b.Build()

	if cfg.InputFormat != FormatJSON || cfg.FuzzMode != ModeHybrid {
		t.Fatalf("unexpected format/mode: %s/%s", cfg.InputFormat, cfg.FuzzMode)
	}
	if cfg.Seed == nil || *cfg.Seed != 42 {
		t.Fatalf("seed not set")
	}
	if !cfg.StopOnFirstCrash || cfg.MaxTotalTime != time.Minute || cfg.ThreadCount != 4 {
		t.Errorf("unexpected config: %+v", cfg)
	}

	// built configs do not share the mutation type list
	cfg.MutatorOptions.MutationTypes[0] = Shuffling
	if b.Build().MutatorOptions.MutationTypes[0] != BitFlip {
		t.Errorf("Build must return an independent copy")
	}
}

func TestCustomFormat(t *testing.T) {
	f := CustomFormat("proto")
	name, ok := f.CustomName()
	if !ok || name != "proto" {
		t.Fatalf("CustomName() = %q, %v", name, ok)
	}
	if _, ok := FormatText.CustomName(); ok {
		t.Errorf("text is not a custom format")
	}
}

func TestLoadFuzzerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fuzz.yaml")
	content := `
input_format: text
fuzz_mode: mutation
timeout: 250ms
max_iterations: 42
seed: 7
stop_on_first_crash: true
max_total_time: 1m
mutator_options:
  max_mutations: 2
  enable_shuffling: true
  mutation_types: [shuffling, bit_flip]
  interesting_values: ["\xff\xff", "AAAA"]
sanitizer_enabled: true
sanitizer_options:
  address: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFuzzerConfig(path)
	if err != nil {
		t.Fatalf("LoadFuzzerConfig: %v", err)
	}
	if cfg.InputFormat != FormatText || cfg.FuzzMode != ModeMutation {
		t.Errorf("format/mode = %s/%s", cfg.InputFormat, cfg.FuzzMode)
	}
	if cfg.Timeout != 250*time.Millisecond || cfg.MaxTotalTime != time.Minute {
		t.Errorf("timeout/max time = %s/%s", cfg.Timeout, cfg.MaxTotalTime)
	}
	if cfg.MaxIterations != 42 || cfg.Seed == nil || *cfg.Seed != 7 {
		t.Errorf("iterations/seed wrong")
	}
	// untouched fields keep builder defaults
	if cfg.StatsInterval != 100 || cfg.MaxInputSize != 1024 {
		t.Errorf("defaults lost: interval=%d max=%d", cfg.StatsInterval, cfg.MaxInputSize)
	}
	opts := cfg.MutatorOptions
	if opts.MaxMutations != 2 || !opts.EnableShuffling || len(opts.MutationTypes) != 2 {
		t.Errorf("mutator options = %+v", opts)
	}
	if opts.ArithmeticsRange != 10 {
		t.Errorf("nested defaults lost: arithmetics range = %d", opts.ArithmeticsRange)
	}
	if got := len(opts.Interesting()); got != 2 {
		t.Errorf("interesting values = %d, want 2", got)
	}

	env := cfg.SanitizerEnv()
	if len(env) != 1 || !strings.HasPrefix(env[0], "ASAN_OPTIONS=") {
		t.Errorf("sanitizer env = %v", env)
	}
}

func TestLoadFuzzerConfigInvalid(t *testing.T) {
	cases := map[string]string{
		"bad mode":          "fuzz_mode: sideways\n",
		"bad bounds":        "min_input_size: 10\nmax_input_size: 10\n",
		"bad mutation type": "mutator_options:\n  mutation_types: [teleport]\n",
		"zero timeout":      "timeout: 0s\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "fuzz.yaml")
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadFuzzerConfig(path); err == nil {
				t.Fatalf("expected error for %q", content)
			}
		})
	}

	if _, err := LoadFuzzerConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSanitizerEnvDisabled(t *testing.T) {
	cfg := NewBuilder().SanitizerOptions(SanitizerOptions{Address: true}).Build()
	if env := cfg.SanitizerEnv(); env != nil {
		t.Errorf("sanitizers disabled but env = %v", env)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("REDIS_SENTINEL_HOSTS", "")
	t.Setenv("OVERRIDE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("WORKER_ADDRS", "10.0.0.1:9000, 10.0.0.2:9000,")
	t.Setenv("TARGET_ARGS", "-runs=1  -timeout=5")
	t.Setenv("TELEMETRY_ENABLED", "true")
	t.Setenv("WORKER_RESULT_BUFFER", "not-a-number")
	t.Setenv("RABBITMQ_POOL_SIZE", "")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_TIMEOUT", "")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("TELEMETRY_SAMPLE_RATIO", "0.25")

	cfg := LoadConfig()
	if cfg.LogLevel != "info" || cfg.ServiceName != "fuzzer" {
		t.Errorf("defaults: level=%q service=%q", cfg.LogLevel, cfg.ServiceName)
	}
	if len(cfg.WorkerConfig.Addrs) != 2 || cfg.WorkerConfig.Addrs[1] != "10.0.0.2:9000" {
		t.Errorf("worker addrs = %v", cfg.WorkerConfig.Addrs)
	}
	if len(cfg.TargetConfig.Args) != 2 {
		t.Errorf("target args = %v", cfg.TargetConfig.Args)
	}
	if !cfg.TelemetryEnabled || !cfg.RedisEnabled() {
		t.Errorf("telemetry/redis flags not parsed")
	}
	if cfg.WorkerConfig.ResultBuffer != 100 {
		t.Errorf("invalid int should fall back to default, got %d", cfg.WorkerConfig.ResultBuffer)
	}
	if cfg.RabbitMQPoolSize != 2 || cfg.RedisDB != 3 || cfg.RedisTimeout != 5*time.Second {
		t.Errorf("pool/db/timeout = %d/%d/%s", cfg.RabbitMQPoolSize, cfg.RedisDB, cfg.RedisTimeout)
	}
	if cfg.LogFormat != "json" || cfg.TelemetrySampleRatio != 0.25 {
		t.Errorf("log format/sample ratio = %q/%v", cfg.LogFormat, cfg.TelemetrySampleRatio)
	}
}

func TestLoadConfigClampsInfrastructureKnobs(t *testing.T) {
	t.Setenv("REDIS_SENTINEL_HOSTS", "")
	t.Setenv("RABBITMQ_POOL_SIZE", "0")
	t.Setenv("TELEMETRY_SAMPLE_RATIO", "1.5")

	cfg := LoadConfig()
	if cfg.RabbitMQPoolSize != 1 {
		t.Errorf("pool size = %d, want 1", cfg.RabbitMQPoolSize)
	}
	if cfg.TelemetrySampleRatio != 1 {
		t.Errorf("sample ratio = %v, want 1", cfg.TelemetrySampleRatio)
	}
}
