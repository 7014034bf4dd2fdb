package audit

import (
	"context"
	"log/slog"
	"time"
)

// Store persists audit events. Implementations: in-memory (tests, dev) and
// Kafka (production fan-out).
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Publisher captures structured audit events. Emission is fail-open: a sink
// failure is logged and swallowed so it never fails an enrollment.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

func NewPublisher(store Store, logger *slog.Logger) *Publisher {
	return &Publisher{store: store, logger: logger}
}

// Emit records the event, stamping the time if unset. Safe on a nil
// publisher so wiring audit stays optional.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if p == nil || p.store == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "audit append failed",
			"action", event.Action,
			"error", err,
		)
	}
}
