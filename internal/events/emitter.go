// Package events fans engine events out to the Redis bus, the audit log and
// operator notifications.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

// streamName is the replayable history of every event.
const streamName = "events"

// Emitter publishes events. Any of its sinks may be nil.
type Emitter struct {
	bus      domain.EventBus
	audit    domain.AuditStore
	notifier domain.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewEmitter creates an Emitter.
func NewEmitter(bus domain.EventBus, audit domain.AuditStore, notifier domain.Notifier, logger *slog.Logger) *Emitter {
	return &Emitter{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "events")),
		now:      time.Now,
	}
}

// Emit records event with detail. Sink failures are logged and never
// returned; an event that cannot be delivered must not fail the caller.
func (e *Emitter) Emit(ctx context.Context, event string, detail map[string]any) {
	if e == nil {
		return
	}

	if e.audit != nil {
		if err := e.audit.Log(ctx, event, detail); err != nil {
			e.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.bus != nil {
		msg := make(map[string]any, len(detail)+2)
		for k, v := range detail {
			msg[k] = v
		}
		msg["event"] = event
		msg["ts"] = e.now().UTC().Format(time.RFC3339Nano)
		payload, err := json.Marshal(msg)
		if err != nil {
			e.logger.WarnContext(ctx, "marshal event failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		} else {
			if err := e.bus.Publish(ctx, event, payload); err != nil {
				e.logger.WarnContext(ctx, "publish event failed",
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
			}
			if err := e.bus.StreamAppend(ctx, streamName, payload); err != nil {
				e.logger.WarnContext(ctx, "stream append failed",
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Notify forwards an operator alert.
func (e *Emitter) Notify(ctx context.Context, event, title, message string) {
	if e == nil || e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
