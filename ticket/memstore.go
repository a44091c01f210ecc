package ticket

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps tickets in process. Each ticket carries its own version
// so different tickets never contend beyond the map lock.
type MemoryStore struct {
	mu      sync.RWMutex
	tickets map[string]Ticket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]Ticket)}
}

func (s *MemoryStore) Create(_ context.Context, t Ticket) error {
	if t.ID == "" {
		return fmt.Errorf("ticket: create: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tickets[t.ID]; exists {
		return fmt.Errorf("ticket: create: duplicate id %s", t.ID)
	}
	s.tickets[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, next Ticket, expectedVersion int64, appended []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tickets[next.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	if cur.Status.Terminal() {
		return fmt.Errorf("%w: ticket is %s", ErrInvalidTransition, cur.Status)
	}
	if next.Version <= cur.Version {
		return fmt.Errorf("ticket: update: version must increase (%d -> %d)", cur.Version, next.Version)
	}

	stored := cur.Clone()
	stored.Status = next.Status
	stored.Resolution = next.Resolution
	stored.LastActivityAt = next.LastActivityAt
	stored.UpdatedAt = next.UpdatedAt
	stored.Version = next.Version
	for _, m := range appended {
		if m.Seq != int64(len(stored.ChatLogs))+1 {
			return ErrVersionConflict
		}
		stored.ChatLogs = append(stored.ChatLogs, m.clone())
	}
	s.tickets[next.ID] = stored
	return nil
}

func (s *MemoryStore) ListByParty(_ context.Context, userID string) ([]Ticket, error) {
	return s.filter(func(t Ticket) bool {
		return t.ReporterID == userID || t.AccusedID == userID
	}), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, statuses ...Status) ([]Ticket, error) {
	return s.filter(func(t Ticket) bool {
		return containsStatus(statuses, t.Status)
	}), nil
}

func (s *MemoryStore) filter(keep func(Ticket) bool) []Ticket {
	s.mu.RLock()
	out := make([]Ticket, 0, 8)
	for _, t := range s.tickets {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(ts []Ticket) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].ID < ts[j].ID
		}
		return ts[i].CreatedAt.After(ts[j].CreatedAt)
	})
}
