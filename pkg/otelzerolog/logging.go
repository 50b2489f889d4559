// Package otelzerolog forwards zerolog entries to an OpenTelemetry logger.
package otelzerolog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

const loggerName = "github.com/kalbasit/actionlock/pkg/otelzerolog"

// OtelWriter implements zerolog.LevelWriter interface.
type OtelWriter struct {
	logger log.Logger
}

// NewOtelWriter returns a writer emitting to a logger of provider. A nil
// provider selects the global one; the global logger follows later calls to
// global.SetLoggerProvider, so the writer can be created before the OTel
// pipeline is configured.
func NewOtelWriter(provider log.LoggerProvider) (*OtelWriter, error) {
	if provider == nil {
		provider = global.GetLoggerProvider()
	}

	return &OtelWriter{logger: provider.Logger(loggerName)}, nil
}

// Write implements io.Writer.
func (w *OtelWriter) Write(p []byte) (int, error) {
	var logEntry map[string]any
	if err := json.Unmarshal(p, &logEntry); err != nil {
		return 0, err
	}

	var rec log.Record

	level := zerolog.InfoLevel

	if levelStr, ok := logEntry[zerolog.LevelFieldName].(string); ok {
		if l, err := zerolog.ParseLevel(levelStr); err == nil {
			level = l
		}

		delete(logEntry, zerolog.LevelFieldName)
	}

	rec.SetSeverity(convertLevel(level))
	rec.SetSeverityText(level.String())

	if msg, ok := logEntry[zerolog.MessageFieldName].(string); ok {
		rec.SetBody(log.StringValue(msg))

		delete(logEntry, zerolog.MessageFieldName)
	}

	rec.AddAttributes(getKeyValueForMap(logEntry)...)

	w.logger.Emit(context.Background(), rec)

	return len(p), nil
}

// WriteLevel implements zerolog.LevelWriter.
func (w *OtelWriter) WriteLevel(_ zerolog.Level, p []byte) (int, error) {
	return w.Write(p)
}

func convertLevel(level zerolog.Level) log.Severity {
	switch level {
	case zerolog.TraceLevel:
		return log.SeverityTrace
	case zerolog.DebugLevel:
		return log.SeverityDebug
	case zerolog.InfoLevel:
		return log.SeverityInfo
	case zerolog.WarnLevel:
		return log.SeverityWarn
	case zerolog.ErrorLevel:
		return log.SeverityError
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return log.SeverityFatal
	case zerolog.NoLevel, zerolog.Disabled:
		return log.SeverityInfo
	default:
		return log.SeverityInfo
	}
}

// getKeyValueForMap converts a decoded JSON object, sorted by key.
func getKeyValueForMap(m map[string]any) []log.KeyValue {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	kvs := make([]log.KeyValue, 0, len(m))
	for _, k := range keys {
		kvs = append(kvs, log.KeyValue{Key: k, Value: getValue(m[k])})
	}

	return kvs
}

func getValuesForSlice(vals []any) []log.Value {
	vs := make([]log.Value, 0, len(vals))
	for _, v := range vals {
		vs = append(vs, getValue(v))
	}

	return vs
}

func getValue(v any) log.Value {
	switch val := v.(type) {
	case nil:
		return log.Value{}
	case bool:
		return log.BoolValue(val)
	case float64:
		if ival := int64(val); float64(ival) == val {
			return log.Int64Value(ival)
		}

		return log.Float64Value(val)
	case string:
		return log.StringValue(val)
	case []any:
		return log.SliceValue(getValuesForSlice(val)...)
	case map[string]any:
		return log.MapValue(getKeyValueForMap(val)...)
	default:
		return log.StringValue(fmt.Sprint(val))
	}
}
