package ticket

// Role is the caller's relationship to one specific ticket.
type Role string

const (
	RoleReporter     Role = "reporter"
	RoleAccused      Role = "accused"
	RoleAdmin        Role = "admin"
	RoleScheduler    Role = "scheduler"
	RoleUnauthorized Role = "unauthorized"
)

// ResolveRole derives the caller's role from identity and ticket. It is
// recomputed for every request; the same identity plays different roles on
// different tickets.
func ResolveRole(id Identity, t Ticket) Role {
	switch {
	case id.ID == "":
		return RoleUnauthorized
	case id.ID == t.ReporterID:
		return RoleReporter
	case id.ID == t.AccusedID:
		return RoleAccused
	case id.Admin:
		return RoleAdmin
	default:
		return RoleUnauthorized
	}
}

// roleForAction lets the admin capability win for privileged actions even
// when the admin is also a party to the ticket.
func roleForAction(id Identity, t Ticket, action Action) Role {
	if id.ID != "" && id.Admin && action.privileged() {
		return RoleAdmin
	}
	return ResolveRole(id, t)
}

// senderRole maps a resolved role to the attribution stored on a message.
func senderRole(t Ticket, role Role) SenderRole {
	switch role {
	case RoleReporter:
		return SenderRole(t.ReporterRole)
	case RoleAccused:
		return SenderRole(t.AccusedRole())
	case RoleAdmin:
		return SenderAdmin
	default:
		return SenderSystem
	}
}
