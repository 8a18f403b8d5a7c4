package observability

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/seqctl/internal/config"
	"github.com/pitabwire/seqctl/model"
)

// Context key for the logger.
type loggerKey struct{}

// NewLogger creates a zap.Logger configured for JSON output to stderr.
// Standard output is reserved for invocation results.
//
// Log level usage conventions:
//   - error: Infrastructure failures, unhandled panics, 5xx responses from the host
//   - warn:  Missing mandatory parameters, failed invocations, circuit breaker open
//   - info:  Invocation start/end, client creation, definition load
//   - debug: Request bodies (redacted), selector resolution, idempotency replays
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.WarnLevel
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or the provided
// fallback if none is found.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// InvocationLogger returns a logger enriched with the invocation's identity
// and scope, plus the trace ID when a span is active.
func InvocationLogger(ctx context.Context, fallback *zap.Logger, inv *model.Invocation) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	if inv == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("invocation_id", inv.ID),
		zap.String("operation", inv.Operation),
		zap.String("region", inv.Scope.Region),
		zap.String("profile", inv.Scope.Profile),
	}
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}

	return logger.With(fields...)
}

// defaultSensitiveFields is the default set of field names that should be
// redacted in debug logging output.
var defaultSensitiveFields = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"authorization": true,
	"api_key":       true,
	"clientToken":   true,
	"requestId":     true,
	"nextToken":     true,
	"startingToken": true,
}

// RedactBody returns a copy of body with sensitive fields replaced by
// "[REDACTED]". The sensitiveFields list is merged with the default
// sensitive field names. Intended for debug-level logging only.
func RedactBody(body map[string]any, sensitiveFields []string) map[string]any {
	if body == nil {
		return nil
	}

	redactSet := make(map[string]bool, len(defaultSensitiveFields)+len(sensitiveFields))
	for k, v := range defaultSensitiveFields {
		redactSet[k] = v
	}
	for _, f := range sensitiveFields {
		redactSet[f] = true
	}
	return redact(body, redactSet)
}

func redact(body map[string]any, redactSet map[string]bool) map[string]any {
	result := make(map[string]any, len(body))
	for k, v := range body {
		switch nested := v.(type) {
		case map[string]any:
			if redactSet[k] {
				result[k] = "[REDACTED]"
			} else {
				result[k] = redact(nested, redactSet)
			}
		default:
			if redactSet[k] {
				result[k] = "[REDACTED]"
			} else {
				result[k] = v
			}
		}
	}
	return result
}
