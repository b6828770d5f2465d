package log

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	_ Logger            = SpanLogger{}
	_ SpanEventRecorder = &OtelSpanEventRecorder{}
)

// SpanLogger forwards every entry to a wrapped Logger and mirrors it onto a span.
// Error and Fatal entries mark the span as failed.
type SpanLogger struct {
	lg  Logger
	ser SpanEventRecorder
}

// NewSpanLogger wraps lg so that entries are also recorded through ser.
func NewSpanLogger(lg Logger, ser SpanEventRecorder) Logger {
	return SpanLogger{lg: lg.AddCallerSkip(1), ser: ser}
}

func (sl SpanLogger) Debug(msg string, kv ...any) {
	sl.ser.RecordEvent(msg, sl.spanAttrs(LevelDebug, kv)...)
	sl.lg.Debug(msg, sl.traceAttrs(kv)...)
}

func (sl SpanLogger) Info(msg string, kv ...any) {
	sl.ser.RecordEvent(msg, sl.spanAttrs(LevelInfo, kv)...)
	sl.lg.Info(msg, sl.traceAttrs(kv)...)
}

func (sl SpanLogger) Warn(msg string, kv ...any) {
	sl.ser.RecordEvent(msg, sl.spanAttrs(LevelWarn, kv)...)
	sl.lg.Warn(msg, sl.traceAttrs(kv)...)
}

func (sl SpanLogger) Error(msg string, kv ...any) {
	sl.ser.RecordError(msg, sl.spanAttrs(LevelError, kv)...)
	sl.lg.Error(msg, sl.traceAttrs(kv)...)
}

func (sl SpanLogger) Fatal(msg string, kv ...any) {
	sl.ser.RecordError(msg, sl.spanAttrs(LevelFatal, kv)...)
	sl.lg.Fatal(msg, sl.traceAttrs(kv)...)
}

func (sl SpanLogger) WithKV(key string, value any) Logger {
	return SpanLogger{lg: sl.lg.WithKV(key, value), ser: sl.ser}
}

func (sl SpanLogger) GetAllKV() []any { return sl.lg.GetAllKV() }

func (sl SpanLogger) WithName(name string) Logger {
	return SpanLogger{lg: sl.lg.WithName(name), ser: sl.ser}
}

func (sl SpanLogger) Name() string { return sl.lg.Name() }

func (sl SpanLogger) AddCallerSkip(skip int) Logger {
	return SpanLogger{lg: sl.lg.AddCallerSkip(skip), ser: sl.ser}
}

// traceAttrs prefixes the log line with the trace and span IDs.
func (sl SpanLogger) traceAttrs(kv []any) []any {
	return append([]any{"traceId", sl.ser.TraceID(), "spanId", sl.ser.SpanID()}, kv...)
}

// spanAttrs carries level, logger name and accumulated pairs onto the span event,
// since the span has no other way to see them.
func (sl SpanLogger) spanAttrs(level Level, kv []any) []any {
	out := []any{"level", string(level), "component", sl.lg.Name()}
	out = append(out, sl.lg.GetAllKV()...)
	return append(out, kv...)
}

// OtelSpanEventRecorder records log entries as OpenTelemetry span events.
type OtelSpanEventRecorder struct {
	span trace.Span
}

// NewOtelSpanEventRecorder returns a recorder writing to span.
func NewOtelSpanEventRecorder(span trace.Span) *OtelSpanEventRecorder {
	return &OtelSpanEventRecorder{span: span}
}

func (r *OtelSpanEventRecorder) TraceID() string { return r.span.SpanContext().TraceID().String() }
func (r *OtelSpanEventRecorder) SpanID() string  { return r.span.SpanContext().SpanID().String() }

func (r *OtelSpanEventRecorder) RecordEvent(name string, kv ...any) {
	r.span.AddEvent(name, trace.WithAttributes(attributes(kv)...))
}

func (r *OtelSpanEventRecorder) RecordError(name string, kv ...any) {
	r.span.AddEvent(name, trace.WithAttributes(attributes(kv)...))
	r.span.SetStatus(codes.Error, name)
}

const (
	missingValue = "MISSING"
	badKeysKey   = "invalidKeysAndValues"
)

// attributes converts alternating key/value pairs to span attributes. A non-string key
// stops conversion and the remainder is recorded verbatim under badKeysKey.
func attributes(kv []any) []attribute.KeyValue {
	if len(kv)%2 != 0 {
		kv = append(kv, missingValue)
	}

	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return append(attrs, attribute.String(badKeysKey, fmt.Sprint(kv[i:])))
		}
		attrs = append(attrs, attributeOf(key, kv[i+1]))
	}
	return attrs
}

func attributeOf(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case bool:
		return attribute.Bool(key, v)
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int8:
		return attribute.Int64(key, int64(v))
	case int16:
		return attribute.Int64(key, int64(v))
	case int32:
		return attribute.Int64(key, int64(v))
	case int64:
		return attribute.Int64(key, v)
	case uint8:
		return attribute.Int64(key, int64(v))
	case uint16:
		return attribute.Int64(key, int64(v))
	case uint32:
		return attribute.Int64(key, int64(v))
	case float32:
		return attribute.Float64(key, float64(v))
	case float64:
		return attribute.Float64(key, v)
	case error:
		return attribute.String(key, v.Error())
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
