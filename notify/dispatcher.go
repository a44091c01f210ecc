// Package notify fans committed ticket events out to per-recipient sinks.
// Delivery is best effort: nothing here can fail or delay a ticket write.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"disputedesk/ticket"
)

// AdminAudience addresses every administrator watching the queue.
const AdminAudience = "admins"

// DefaultBuffer is the queue size used when NewDispatcher gets a non-positive one.
const DefaultBuffer = 256

// Notification is the payload handed to a sink for one recipient.
type Notification struct {
	TicketID  string    `json:"ticket_id"`
	Kind      string    `json:"kind"`
	ActorID   string    `json:"actor_id"`
	Recipient string    `json:"recipient"`
	Status    string    `json:"status"`
	Version   int64     `json:"version"`
	At        time.Time `json:"at"`
}

// Sink delivers a notification to one recipient.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// Dispatcher implements ticket.Notifier with a bounded in-memory queue
// drained by Run.
type Dispatcher struct {
	queue   chan ticket.Event
	sink    Sink
	logger  *zap.Logger
	dropped atomic.Int64
}

func NewDispatcher(sink Sink, buffer int, logger *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:  make(chan ticket.Event, buffer),
		sink:   sink,
		logger: logger,
	}
}

// Notify enqueues ev without blocking. A full queue drops the event.
func (d *Dispatcher) Notify(_ context.Context, ev ticket.Event) {
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification queue full, dropping event",
			zap.String("ticket_id", ev.TicketID),
			zap.String("kind", string(ev.Kind)),
		)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers queued events until ctx is cancelled, then flushes whatever is
// still buffered using a short grace period.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		case <-ctx.Done():
			d.flush()
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev ticket.Event) {
	for _, r := range Recipients(ev) {
		n := Notification{
			TicketID:  ev.TicketID,
			Kind:      string(ev.Kind),
			ActorID:   ev.ActorID,
			Recipient: r,
			Status:    string(ev.Status),
			Version:   ev.Version,
			At:        ev.At,
		}
		if err := d.sink.Deliver(ctx, n); err != nil {
			d.logger.Warn("notification delivery failed",
				zap.String("ticket_id", ev.TicketID),
				zap.String("recipient", r),
				zap.String("kind", n.Kind),
				zap.Error(err),
			)
		}
	}
}

// Recipients lists who should hear about ev: both parties except the actor,
// plus the admin audience when the ticket enters the admin queue.
func Recipients(ev ticket.Event) []string {
	out := make([]string, 0, 3)
	for _, id := range []string{ev.ReporterID, ev.AccusedID} {
		if id != "" && id != ev.ActorID {
			out = append(out, id)
		}
	}
	switch ev.Kind {
	case ticket.EventEscalated, ticket.EventUnderReview, ticket.EventAutoEscalated:
		out = append(out, AdminAudience)
	}
	return out
}
