package ticket

import (
	"context"
	"time"
)

// EventKind identifies a notification intent emitted after a commit.
type EventKind string

const (
	EventTicketFiled   EventKind = "ticket_filed"
	EventMessagePosted EventKind = "message_posted"
	EventEscalated     EventKind = "escalated"
	EventUnderReview   EventKind = "under_review"
	EventResolved      EventKind = "resolved"
	EventAutoEscalated EventKind = "auto_escalated"
	EventAutoClosed    EventKind = "auto_closed"
)

// Event describes a committed change. Recipients are decided by the
// dispatcher, not by the engine.
type Event struct {
	TicketID   string
	Kind       EventKind
	ActorID    string
	ReporterID string
	AccusedID  string
	Status     Status
	Version    int64
	At         time.Time
}

// Notifier receives events fire-and-forget. Implementations must not block
// and their failures never reach ticket state.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

func eventKind(a Action) EventKind {
	switch a {
	case ActionSendMessage:
		return EventMessagePosted
	case ActionEscalate:
		return EventEscalated
	case ActionStartReview:
		return EventUnderReview
	case ActionClose, ActionAdminResolve:
		return EventResolved
	case ActionDeadlineExpired:
		return EventAutoEscalated
	case ActionInactivityExpired:
		return EventAutoClosed
	default:
		return EventKind(a)
	}
}

func newEvent(t Ticket, kind EventKind, actorID string) Event {
	return Event{
		TicketID:   t.ID,
		Kind:       kind,
		ActorID:    actorID,
		ReporterID: t.ReporterID,
		AccusedID:  t.AccusedID,
		Status:     t.Status,
		Version:    t.Version,
		At:         t.UpdatedAt,
	}
}
