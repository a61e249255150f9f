package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type eventKey struct{}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// EventMeta identifies the bus message being handled.
type EventMeta struct {
	// ID is the transport message id; pub/sub transports leave it empty.
	ID string
	// Source is the routing key or channel the message arrived on.
	Source string
}

func WithEvent(ctx context.Context, meta EventMeta) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, eventKey{}, meta)
}

func EventFromContext(ctx context.Context) (EventMeta, bool) {
	if ctx == nil {
		return EventMeta{}, false
	}

	meta, ok := ctx.Value(eventKey{}).(EventMeta)
	if !ok || (meta.ID == "" && meta.Source == "") {
		return EventMeta{}, false
	}

	return meta, true
}

// EventLogger annotates logger with the bus metadata carried by ctx and the
// family the record was classified into. Empty values are omitted.
func EventLogger(logger *zap.Logger, ctx context.Context, family string) *zap.Logger {
	if logger == nil {
		return nil
	}

	fields := make([]zap.Field, 0, 3)
	if meta, ok := EventFromContext(ctx); ok {
		if meta.ID != "" {
			fields = append(fields, zap.String("eventId", meta.ID))
		}
		if meta.Source != "" {
			fields = append(fields, zap.String("eventSource", meta.Source))
		}
	}
	if family != "" {
		fields = append(fields, zap.String("eventFamily", family))
	}
	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}
