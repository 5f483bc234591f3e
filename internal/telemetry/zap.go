package telemetry

import (
	"context"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/logging"
)

// #region zap-sink
// ZapSink writes events to a structured logger. Safety violations and
// checkpoint failures log at warn, everything else at debug.
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink wraps log.
func NewZapSink(log *zap.Logger) *ZapSink {
	return &ZapSink{log: logging.OrNop(log)}
}

func (z *ZapSink) Emit(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("session_id", ev.SessionID),
		zap.Time("at", ev.Time),
	}
	if ev.Policy != "" {
		fields = append(fields, zap.String("policy", ev.Policy))
	}
	if len(ev.Fields) > 0 {
		fields = append(fields, zap.Any("fields", ev.Fields))
	}
	switch ev.Type {
	case EventSafetyViolation, EventCheckpointFailed:
		z.log.Warn(string(ev.Type), fields...)
	default:
		z.log.Debug(string(ev.Type), fields...)
	}
	return nil
}

// #endregion zap-sink
