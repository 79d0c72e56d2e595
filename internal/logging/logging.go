// Package logging builds the zap logger and writes access logs from the
// event bus.
package logging

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	eventbus "github.com/hanpama/gqlhttp/internal/eventbus"
	events "github.com/hanpama/gqlhttp/internal/events"
	reqid "github.com/hanpama/gqlhttp/internal/reqid"
)

// New builds a logger at level ("debug", "info", "warn", "error"). The
// development flavour logs human readable lines to stderr; the production
// one logs JSON.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Subscribe writes one access log line per HTTP request and debug lines per
// executed operation.
func Subscribe(bus *eventbus.Bus, logger *zap.Logger) (unsubscribe func()) {
	access := logger.Named("access")
	unsubs := []func(){
		eventbus.Subscribe(bus, func(ctx context.Context, e events.HTTPFinish) {
			fields := []zap.Field{
				zap.String("method", e.Request.Method),
				zap.String("path", e.Request.URL.Path),
				zap.Int("status", e.Status),
				zap.Int64("bytes", e.Bytes),
				zap.Duration("duration", e.Duration),
				zap.String("remote", e.Request.RemoteAddr),
			}
			if rid, ok := reqid.FromContext(ctx); ok {
				fields = append(fields, zap.String("request_id", rid))
			}
			switch {
			case e.Status >= 500:
				access.Error("request", append(fields, zap.Error(e.Err))...)
			case e.Err != nil:
				access.Info("request", append(fields, zap.String("reason", e.Err.Error()))...)
			default:
				access.Info("request", fields...)
			}
		}),
		eventbus.Subscribe(bus, func(ctx context.Context, e events.OperationFinish) {
			if ce := logger.Check(zap.DebugLevel, "operation"); ce != nil {
				rid, _ := reqid.FromContext(ctx)
				ce.Write(
					zap.String("request_id", rid),
					zap.String("name", e.OperationName),
					zap.String("type", e.OperationType),
					zap.Int("batch_index", e.BatchIndex),
					zap.Bool("streaming", e.Streaming),
					zap.Int("errors", len(e.Errors)),
					zap.Duration("duration", e.Duration),
				)
			}
		}),
		eventbus.Subscribe(bus, func(ctx context.Context, e events.UpstreamFinish) {
			fields := []zap.Field{
				zap.String("target", e.Target),
				zap.String("name", e.OperationName),
				zap.Int("status", e.Status),
				zap.Duration("duration", e.Duration),
			}
			if e.Err != nil {
				logger.Warn("upstream request failed", append(fields, zap.Error(e.Err))...)
				return
			}
			logger.Debug("upstream", fields...)
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
