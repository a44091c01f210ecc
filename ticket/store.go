package ticket

import "context"

// Store is durable keyed storage for Ticket aggregates.
//
// Update is the only mutation after Create: it persists next and appends the
// given transcript entries atomically, provided the stored version still
// equals expectedVersion. Otherwise it returns ErrVersionConflict and leaves
// the ticket untouched.
type Store interface {
	Create(ctx context.Context, t Ticket) error
	Get(ctx context.Context, id string) (Ticket, error)
	Update(ctx context.Context, next Ticket, expectedVersion int64, appended []Message) error
	ListByParty(ctx context.Context, userID string) ([]Ticket, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]Ticket, error)
}
