package service

import (
	"context"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/realtime"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("practiceflow/service")

// notify pushes a refetch signal. Delivery is best effort: observers converge
// through polling, so a failed publish never fails the write that caused it.
func notify(ctx context.Context, pub realtime.Publisher, log *zap.Logger, e realtime.Event) {
	if pub == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := pub.Publish(ctx, e); err != nil {
		log.Warn("failed to publish realtime event",
			zap.String("type", e.Type),
			zap.String("topic", e.Topic),
			zap.Error(err),
		)
	}
}
