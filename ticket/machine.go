package ticket

import (
	"fmt"
	"time"
)

// Action names a caller or scheduler driven operation on a ticket.
type Action string

const (
	ActionSendMessage       Action = "send_message"
	ActionEscalate          Action = "escalate"
	ActionClose             Action = "close"
	ActionAdminResolve      Action = "admin_resolve"
	ActionStartReview       Action = "start_review"
	ActionDeadlineExpired   Action = "deadline_expired"
	ActionInactivityExpired Action = "inactivity_expired"
)

func (a Action) privileged() bool {
	return a == ActionAdminResolve || a == ActionStartReview
}

func (a Action) automatic() bool {
	return a == ActionDeadlineExpired || a == ActionInactivityExpired
}

// ParseAction validates a caller-supplied action name. Automatic actions are
// not accepted from callers.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionSendMessage, ActionEscalate, ActionClose, ActionAdminResolve, ActionStartReview:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrValidation, s)
	}
}

type rule struct {
	from  []Status
	roles []Role
	to    func(Status) Status
	note  string
}

func stay(s Status) Status { return s }

func to(next Status) func(Status) Status {
	return func(Status) Status { return next }
}

var rules = map[Action]rule{
	ActionSendMessage: {
		from:  []Status{StatusOpen, StatusEscalated},
		roles: []Role{RoleReporter, RoleAccused, RoleAdmin},
		to:    stay,
	},
	ActionEscalate: {
		from:  []Status{StatusOpen},
		roles: []Role{RoleReporter},
		to:    to(StatusEscalated),
		note:  NoteEscalated,
	},
	ActionClose: {
		from:  []Status{StatusOpen},
		roles: []Role{RoleReporter},
		to:    to(StatusResolved),
	},
	ActionStartReview: {
		from:  []Status{StatusEscalated},
		roles: []Role{RoleAdmin},
		to:    to(StatusUnderReview),
		note:  NoteUnderReview,
	},
	ActionAdminResolve: {
		from:  []Status{StatusEscalated, StatusUnderReview},
		roles: []Role{RoleAdmin},
		to:    to(StatusResolved),
	},
	ActionDeadlineExpired: {
		from:  []Status{StatusOpen, StatusEscalated},
		roles: []Role{RoleScheduler},
		to:    to(StatusEscalated),
		note:  NoteAutoEscalated,
	},
	ActionInactivityExpired: {
		from:  []Status{StatusOpen, StatusEscalated},
		roles: []Role{RoleScheduler},
		to:    to(StatusClosed),
		note:  NoteAutoClosed,
	},
}

// Input is one validated request against the state machine.
type Input struct {
	Action      Action
	Role        Role
	ActorID     string
	Body        string
	Attachments []string
	Resolution  string
}

// Machine applies the transition table to tickets. It holds no state.
type Machine struct {
	ledger Ledger
}

// Check runs the guards without producing a new ticket.
func (m Machine) Check(t Ticket, in Input) error {
	if t.Status.Terminal() {
		return fmt.Errorf("%w: ticket is %s", ErrInvalidTransition, t.Status)
	}
	r, ok := rules[in.Action]
	if !ok {
		return fmt.Errorf("%w: unknown action %q", ErrValidation, in.Action)
	}
	if !containsStatus(r.from, t.Status) {
		return fmt.Errorf("%w: %s not allowed from %s", ErrInvalidTransition, in.Action, t.Status)
	}
	if !containsRole(r.roles, in.Role) {
		return fmt.Errorf("%w: %s may not %s", ErrForbidden, in.Role, in.Action)
	}
	// Admins only join the conversation once it has been escalated.
	if in.Action == ActionSendMessage && in.Role == RoleAdmin && t.Status != StatusEscalated {
		return fmt.Errorf("%w: admin may not message an %s ticket", ErrForbidden, t.Status)
	}
	if in.Action == ActionSendMessage && !hasContent(in.Body, in.Attachments) {
		return fmt.Errorf("%w: message needs text or at least one attachment", ErrValidation)
	}
	return nil
}

// Apply validates in against t and returns the next ticket plus the
// transcript entries appended by the transition. t is not modified.
func (m Machine) Apply(t Ticket, in Input, now time.Time) (Ticket, []Message, error) {
	if err := m.Check(t, in); err != nil {
		return Ticket{}, nil, err
	}
	if in.Action.automatic() {
		if err := eligible(t, in.Action, now); err != nil {
			return Ticket{}, nil, err
		}
	}

	r := rules[in.Action]
	next := t.Clone()
	next.Status = r.to(t.Status)
	if next.Status.rank() < t.Status.rank() {
		return Ticket{}, nil, fmt.Errorf("%w: %s -> %s moves backwards", ErrInvalidTransition, t.Status, next.Status)
	}

	// A stale scan instant must not move activity or update times backwards.
	at := now
	for _, prev := range []time.Time{t.LastActivityAt, t.UpdatedAt} {
		if at.Before(prev) {
			at = prev
		}
	}

	var appended []Message
	if in.Action == ActionSendMessage {
		appended = append(appended, m.ledger.Append(&next, Message{
			SenderID:    in.ActorID,
			SenderRole:  senderRole(t, in.Role),
			Body:        in.Body,
			Attachments: in.Attachments,
		}, at))
	}
	if r.note != "" {
		appended = append(appended, m.ledger.Append(&next, systemNote(r.note), at))
	}
	if in.Action == ActionAdminResolve {
		next.Resolution = in.Resolution
	}

	next.LastActivityAt = at
	next.UpdatedAt = at
	next.Version = t.Version + 1
	return next, appended, nil
}

// NextAutomatic picks the automatic transition due for t at now, if any.
// Inactivity takes precedence over the response deadline.
func NextAutomatic(t Ticket, now time.Time) (Action, bool) {
	if t.Status != StatusOpen && t.Status != StatusEscalated {
		return "", false
	}
	if eligible(t, ActionInactivityExpired, now) == nil {
		return ActionInactivityExpired, true
	}
	if eligible(t, ActionDeadlineExpired, now) == nil {
		return ActionDeadlineExpired, true
	}
	return "", false
}

func eligible(t Ticket, action Action, now time.Time) error {
	switch action {
	case ActionInactivityExpired:
		if now.Before(t.LastActivityAt.Add(InactivityWindow)) {
			return ErrNotEligible
		}
	case ActionDeadlineExpired:
		if t.Status != StatusOpen || now.Before(t.Deadline) || hasMessageFrom(t, t.AccusedID) {
			return ErrNotEligible
		}
	}
	return nil
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsRole(list []Role, r Role) bool {
	for _, v := range list {
		if v == r {
			return true
		}
	}
	return false
}
