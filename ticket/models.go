package ticket

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a dispute ticket.
type Status string

const (
	StatusOpen        Status = "open"
	StatusEscalated   Status = "escalated"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
	StatusClosed      Status = "closed"
)

// Terminal reports whether no further mutation is permitted.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// rank orders statuses so transitions can be checked as forward-only.
func (s Status) rank() int {
	switch s {
	case StatusOpen:
		return 1
	case StatusEscalated:
		return 2
	case StatusUnderReview:
		return 3
	case StatusResolved, StatusClosed:
		return 4
	default:
		return 0
	}
}

// PartyRole is a party's role in the underlying booking.
type PartyRole string

const (
	PartyLandlord PartyRole = "landlord"
	PartyRenter   PartyRole = "renter"
)

func (p PartyRole) valid() bool {
	return p == PartyLandlord || p == PartyRenter
}

// Other returns the opposite side of the booking.
func (p PartyRole) Other() PartyRole {
	if p == PartyLandlord {
		return PartyRenter
	}
	return PartyLandlord
}

// SenderRole is recorded on every message at creation time.
type SenderRole string

const (
	SenderLandlord SenderRole = "landlord"
	SenderRenter   SenderRole = "renter"
	SenderAdmin    SenderRole = "admin"
	SenderSystem   SenderRole = "system"
)

// SystemSenderID attributes transition notes written by the engine itself.
const SystemSenderID = "system"

// Ticket is the aggregate for one filed dispute and its full history.
type Ticket struct {
	ID              string
	BookingID       string
	PropertyID      string
	ReporterID      string
	AccusedID       string
	ReporterRole    PartyRole
	Status          Status
	Title           string
	Description     string
	ClaimAmount     decimal.Decimal
	InitialEvidence []string
	Resolution      string
	Deadline        time.Time
	LastActivityAt  time.Time
	Version         int64
	ChatLogs        []Message
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AccusedRole is derived by exclusion from the reporter's booking role.
func (t Ticket) AccusedRole() PartyRole {
	return t.ReporterRole.Other()
}

// Clone returns a deep copy so callers never share slices with a store.
func (t Ticket) Clone() Ticket {
	out := t
	out.InitialEvidence = append([]string(nil), t.InitialEvidence...)
	out.ChatLogs = make([]Message, len(t.ChatLogs))
	for i, m := range t.ChatLogs {
		out.ChatLogs[i] = m.clone()
	}
	return out
}

// Message is one immutable entry of a ticket's negotiation transcript.
type Message struct {
	Seq         int64
	SenderID    string
	SenderRole  SenderRole
	Body        string
	Attachments []string
	CreatedAt   time.Time
}

func (m Message) clone() Message {
	out := m
	out.Attachments = append([]string(nil), m.Attachments...)
	return out
}

// Identity is the opaque authenticated caller produced by the identity resolver.
type Identity struct {
	ID    string
	Admin bool
}

// View is a ticket as seen by a particular caller.
type View struct {
	Ticket Ticket
	Role   Role
}

const (
	// ResponseWindow is the time the accused has to answer before auto-escalation.
	ResponseWindow = 48 * time.Hour
	// InactivityWindow closes tickets with no accepted activity.
	InactivityWindow = 7 * 24 * time.Hour
)

// Claim amounts are stored as numeric(14,2).
const ClaimScale = 2

var MaxClaimAmount = decimal.New(1, 12)

const (
	NoteEscalated     = "escalated by reporter"
	NoteUnderReview   = "under review by administrator"
	NoteAutoEscalated = "auto-escalated: no response by deadline"
	NoteAutoClosed    = "auto-closed: 7 days inactivity"
)
