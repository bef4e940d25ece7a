package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type AppConfig struct {
	DatabaseURL        string
	RabbitMQURL        string
	RedisSentinelHosts string
	RedisMasterName    string
	RedisUrl           string
	RedisDB            int
	RedisTimeout       time.Duration
	RabbitMQPoolSize   int
	LogLevel           string
	LogFormat          string
	ServiceName        string
	FuzzConfigPath     string
	MetricsAddr        string
	TelemetryEnabled   bool
	// fraction of root traces kept; child spans follow their parent's decision
	TelemetrySampleRatio float64
	TargetConfig         TargetConfig
	WorkerConfig         WorkerConfig
	RedisKeys            RedisKeys
}

// TargetConfig selects the external binary used by cmd/fuzzer and cmd/worker
type TargetConfig struct {
	Binary string
	Args   []string
}

type WorkerConfig struct {
	ListenAddr   string
	Addrs        []string
	DialTimeout  time.Duration
	ResultBuffer int
}

type RedisKeys struct {
	Corpus   string
	Dict     string
	Coverage string
}

func LoadConfig() *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	godotenv.Load()

	config := &AppConfig{
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RabbitMQURL:          os.Getenv("RABBITMQ_URL"),
		RedisSentinelHosts:   os.Getenv("REDIS_SENTINEL_HOSTS"),
		RedisMasterName:      os.Getenv("REDIS_MASTER"),
		RedisUrl:             os.Getenv("OVERRIDE_REDIS_URL"), // optional, for local dev
		RedisDB:              parseInt(os.Getenv("REDIS_DB"), 0),
		RedisTimeout:         parseDuration(os.Getenv("REDIS_TIMEOUT"), 5*time.Second),
		RabbitMQPoolSize:     parseInt(os.Getenv("RABBITMQ_POOL_SIZE"), 2),
		LogLevel:             os.Getenv("LOG_LEVEL"),
		LogFormat:            strings.ToLower(os.Getenv("LOG_FORMAT")),
		ServiceName:          os.Getenv("SERVICE_NAME"),
		FuzzConfigPath:       os.Getenv("FUZZ_CONFIG"),
		MetricsAddr:          os.Getenv("METRICS_ADDR"),
		TelemetryEnabled:     parseBool(os.Getenv("TELEMETRY_ENABLED"), false),
		TelemetrySampleRatio: parseFloat(os.Getenv("TELEMETRY_SAMPLE_RATIO"), 1),
		TargetConfig: TargetConfig{
			Binary: os.Getenv("TARGET_BINARY"),
			Args:   strings.Fields(os.Getenv("TARGET_ARGS")),
		},
		WorkerConfig: WorkerConfig{
			ListenAddr:   os.Getenv("WORKER_LISTEN_ADDR"),
			Addrs:        splitList(os.Getenv("WORKER_ADDRS")),
			DialTimeout:  parseDuration(os.Getenv("WORKER_DIAL_TIMEOUT"), 10*time.Second),
			ResultBuffer: parseInt(os.Getenv("WORKER_RESULT_BUFFER"), 100),
		},
		RedisKeys: RedisKeys{
			Corpus:   os.Getenv("CORPUS_REDIS_KEY"),
			Dict:     os.Getenv("DICT_REDIS_KEY"),
			Coverage: os.Getenv("COVERAGE_REDIS_KEY"),
		},
	}

	if config.LogLevel == "" {
		config.LogLevel = "info" // Set default log level
	}
	if config.ServiceName == "" {
		config.ServiceName = "fuzzer" // Default service name
	}
	if config.RabbitMQPoolSize < 1 {
		logger.Warn("RABBITMQ_POOL_SIZE must be positive, using 1", zap.Int("size", config.RabbitMQPoolSize))
		config.RabbitMQPoolSize = 1
	}
	if config.TelemetrySampleRatio < 0 || config.TelemetrySampleRatio > 1 {
		logger.Warn("TELEMETRY_SAMPLE_RATIO out of [0, 1], sampling everything", zap.Float64("ratio", config.TelemetrySampleRatio))
		config.TelemetrySampleRatio = 1
	}
	if config.RedisSentinelHosts != "" && config.RedisMasterName == "" {
		logger.Fatal("REDIS_MASTER environment variable is required when REDIS_SENTINEL_HOSTS is set")
	}

	return config
}

// RedisEnabled reports whether any redis endpoint is configured
func (c *AppConfig) RedisEnabled() bool {
	return c.RedisUrl != "" || c.RedisSentinelHosts != ""
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func parseFloat(val string, defaultVal float64) float64 {
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func parseBool(val string, defaultVal bool) bool {
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
