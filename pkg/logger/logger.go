package logger

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/0xb-s/fuzzer/config"
	"github.com/0xb-s/fuzzer/pkg/telemetry"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ActionNameKey tags every exported record with the action that produced it
const ActionNameKey = telemetry.ActionNameKey

type LoggerParams struct {
	fx.In
	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Telemetry telemetry.Telemetry `optional:"true"`
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT. When telemetry
// exports logs, every entry is also emitted as an OpenTelemetry record.
func NewLogger(p LoggerParams) *zap.Logger {
	cfg := NewConfig(p.AppConfig)

	var exporter log.Logger
	if p.Telemetry != nil {
		exporter = p.Telemetry.GetLogger()
	}
	if exporter == nil {
		return build(cfg)
	}

	loggerCtx, cancel := context.WithCancel(context.Background())
	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})

	lg, err := cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return newTelemetryCore(loggerCtx, core, exporter, p.AppConfig.ServiceName)
	}))
	if err != nil {
		return build(cfg)
	}
	lg.Info("Logger with telemetry export enabled")
	return lg
}

func build(cfg zap.Config) *zap.Logger {
	lg, err := cfg.Build()
	if err != nil {
		// log failed to build, return a default one
		return zap.NewExample()
	}
	return lg
}

// ParseLevel maps LOG_LEVEL onto a zap level; anything unknown is info
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// NewConfig picks json or console output. Without LOG_FORMAT, quiet levels get json
// for log shippers and chatty ones get the development console.
func NewConfig(app *config.AppConfig) zap.Config {
	level := ParseLevel(app.LogLevel)

	var cfg zap.Config
	switch {
	case app.LogFormat == "json":
		cfg = zap.NewProductionConfig()
	case app.LogFormat == "console":
		cfg = zap.NewDevelopmentConfig()
	case level > zapcore.InfoLevel:
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.InitialFields = map[string]any{"service": app.ServiceName}
	return cfg
}

// telemetryCore writes through the wrapped core and mirrors each entry, along with the
// fields bound by With, into an OpenTelemetry log record.
type telemetryCore struct {
	zapcore.Core
	exporter log.Logger
	ctx      context.Context
	bound    []log.KeyValue
}

func newTelemetryCore(ctx context.Context, core zapcore.Core, exporter log.Logger, service string) *telemetryCore {
	return &telemetryCore{
		Core:     core,
		exporter: exporter,
		ctx:      ctx,
		bound: []log.KeyValue{
			log.String(ActionNameKey, "fuzzing_log"),
			log.String("service.name", service),
		},
	}
}

func (t *telemetryCore) With(fields []zapcore.Field) zapcore.Core {
	return &telemetryCore{
		Core:     t.Core.With(fields),
		exporter: t.exporter,
		ctx:      t.ctx,
		bound:    append(slices.Clip(t.bound), keyValues(fields)...),
	}
}

func (t *telemetryCore) Check(ent zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if t.Enabled(ent.Level) {
		return checked.AddCore(ent, t)
	}
	return checked
}

func (t *telemetryCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if err := t.Core.Write(ent, fields); err != nil {
		return err
	}

	var rec log.Record
	rec.SetTimestamp(ent.Time)
	rec.SetObservedTimestamp(time.Now())
	rec.SetBody(log.StringValue(ent.Message))
	rec.SetSeverity(severity(ent.Level))
	rec.SetSeverityText(ent.Level.String())
	rec.AddAttributes(t.bound...)
	if ent.LoggerName != "" {
		rec.AddAttributes(log.String("logger", ent.LoggerName))
	}
	if ent.Caller.Defined {
		rec.AddAttributes(log.String("caller", ent.Caller.TrimmedPath()))
	}
	rec.AddAttributes(keyValues(fields)...)

	t.exporter.Emit(t.ctx, rec)
	return nil
}

func severity(l zapcore.Level) log.Severity {
	switch {
	case l <= zapcore.DebugLevel:
		return log.SeverityDebug
	case l == zapcore.InfoLevel:
		return log.SeverityInfo
	case l == zapcore.WarnLevel:
		return log.SeverityWarn
	case l == zapcore.ErrorLevel:
		return log.SeverityError
	}
	return log.SeverityFatal
}

// keyValues encodes fields with zap's own map encoder, so every field type zap
// understands (errors, stringers, objects, arrays) is flattened the same way
func keyValues(fields []zapcore.Field) []log.KeyValue {
	if len(fields) == 0 {
		return nil
	}
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	kvs := make([]log.KeyValue, 0, len(fields))
	for _, f := range fields {
		v, ok := enc.Fields[f.Key]
		if !ok {
			continue
		}
		kvs = append(kvs, log.KeyValue{Key: f.Key, Value: value(v)})
	}
	return kvs
}

func value(v any) log.Value {
	switch x := v.(type) {
	case string:
		return log.StringValue(x)
	case bool:
		return log.BoolValue(x)
	case int:
		return log.IntValue(x)
	case int64:
		return log.Int64Value(x)
	case int32:
		return log.Int64Value(int64(x))
	case int16:
		return log.Int64Value(int64(x))
	case int8:
		return log.Int64Value(int64(x))
	case uint:
		return log.Int64Value(int64(x))
	case uint64:
		return log.Int64Value(int64(x))
	case uint32:
		return log.Int64Value(int64(x))
	case uint16:
		return log.Int64Value(int64(x))
	case uint8:
		return log.Int64Value(int64(x))
	case float64:
		return log.Float64Value(x)
	case float32:
		return log.Float64Value(float64(x))
	case time.Duration:
		return log.StringValue(x.String())
	case time.Time:
		return log.StringValue(x.Format(time.RFC3339Nano))
	case []byte:
		return log.BytesValue(x)
	case []any:
		vs := make([]log.Value, len(x))
		for i, e := range x {
			vs[i] = value(e)
		}
		return log.SliceValue(vs...)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kvs := make([]log.KeyValue, len(keys))
		for i, k := range keys {
			kvs[i] = log.KeyValue{Key: k, Value: value(x[k])}
		}
		return log.MapValue(kvs...)
	}
	return log.StringValue(fmt.Sprint(v))
}
