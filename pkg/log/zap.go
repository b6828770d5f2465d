package log

import (
	"os"
	"path/filepath"
	"time"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Logger = &ZapLogger{}

// ZapLogger implements Logger on top of a zap SugaredLogger.
type ZapLogger struct {
	lg  *zap.SugaredLogger
	kvs []any
}

// Config selects the encoder, minimum level and destination of a ZapLogger.
type Config struct {
	Format string `env:"LOG_FORMAT" env-default:"console" yaml:"format" validate:"omitempty,oneof=console logfmt json"`
	Level  Level  `env:"LOG_LEVEL" env-default:"info" yaml:"level"`
	Output string `env:"LOG_OUTPUT" env-default:"stderr" yaml:"output"` // stderr, stdout or a file path
}

// NewZapLogger builds a ZapLogger. Entries are also copied to every extra sink.
func NewZapLogger(conf Config, extra ...zapcore.WriteSyncer) Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = func(ts time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(ts.UTC().Format(time.RFC3339Nano))
	}

	sinks := append(extra, openSink(conf.Output))
	core := zapcore.NewCore(newEncoder(conf.Format, encCfg), zapcore.NewMultiWriteSyncer(sinks...), zapLevel(conf.Level))

	// two frames: the exported level method and ZapLogger.log
	return &ZapLogger{lg: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()}
}

func newEncoder(format string, cfg zapcore.EncoderConfig) zapcore.Encoder {
	switch format {
	case "json":
		return zapcore.NewJSONEncoder(cfg)
	case "logfmt":
		return zaplogfmt.NewEncoder(cfg)
	default:
		return zapcore.NewConsoleEncoder(cfg)
	}
}

func openSink(output string) zapcore.WriteSyncer {
	switch output {
	case "", "stderr":
		return zapcore.Lock(os.Stderr)
	case "stdout":
		return zapcore.Lock(os.Stdout)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return zapcore.Lock(os.Stderr)
	}
	f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(f)
}

func (l *ZapLogger) Debug(msg string, keysAndValues ...any) { l.log(LevelDebug, msg, keysAndValues) }
func (l *ZapLogger) Info(msg string, keysAndValues ...any)  { l.log(LevelInfo, msg, keysAndValues) }
func (l *ZapLogger) Warn(msg string, keysAndValues ...any)  { l.log(LevelWarn, msg, keysAndValues) }
func (l *ZapLogger) Error(msg string, keysAndValues ...any) { l.log(LevelError, msg, keysAndValues) }
func (l *ZapLogger) Fatal(msg string, keysAndValues ...any) { l.log(LevelFatal, msg, keysAndValues) }

func (l *ZapLogger) log(level Level, msg string, keysAndValues []any) {
	l.lg.Logw(zapLevel(level), msg, keysAndValues...)
}

func (l *ZapLogger) WithKV(key string, value any) Logger {
	kvs := make([]any, 0, len(l.kvs)+2)
	kvs = append(append(kvs, l.kvs...), key, value)
	return &ZapLogger{lg: l.lg.With(key, value), kvs: kvs}
}

func (l *ZapLogger) GetAllKV() []any { return l.kvs }

func (l *ZapLogger) WithName(name string) Logger {
	return &ZapLogger{lg: l.lg.Named(name), kvs: l.kvs}
}

func (l *ZapLogger) Name() string { return l.lg.Desugar().Name() }

func (l *ZapLogger) AddCallerSkip(skip int) Logger {
	return &ZapLogger{lg: l.lg.WithOptions(zap.AddCallerSkip(skip)), kvs: l.kvs}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
