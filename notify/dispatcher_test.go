package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputedesk/ticket"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []Notification
	fail map[string]bool
}

func (s *recordingSink) Deliver(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[n.Recipient] {
		return errors.New("sink down")
	}
	s.got = append(s.got, n)
	return nil
}

func (s *recordingSink) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.got))
	for i, n := range s.got {
		out[i] = n.Recipient
	}
	return out
}

func event(kind ticket.EventKind, actor string) ticket.Event {
	return ticket.Event{
		TicketID:   "ticket-1",
		Kind:       kind,
		ActorID:    actor,
		ReporterID: "landlord-1",
		AccusedID:  "renter-1",
		Status:     ticket.StatusOpen,
		Version:    2,
		At:         time.Date(2024, 10, 31, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecipients(t *testing.T) {
	assert.Equal(t, []string{"renter-1"}, Recipients(event(ticket.EventMessagePosted, "landlord-1")))
	assert.Equal(t, []string{"landlord-1"}, Recipients(event(ticket.EventMessagePosted, "renter-1")))
	assert.Equal(t, []string{"renter-1", AdminAudience}, Recipients(event(ticket.EventEscalated, "landlord-1")))
	assert.Equal(t, []string{"landlord-1", "renter-1", AdminAudience}, Recipients(event(ticket.EventAutoEscalated, ticket.SystemSenderID)))
	assert.Equal(t, []string{"landlord-1", "renter-1"}, Recipients(event(ticket.EventResolved, "admin-1")))
	assert.Equal(t, []string{"landlord-1", "renter-1"}, Recipients(event(ticket.EventAutoClosed, ticket.SystemSenderID)))
}

func TestDispatcher_DeliversPerRecipient(t *testing.T) {
	sink := &recordingSink{fail: map[string]bool{AdminAudience: true}}
	d := NewDispatcher(sink, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Notify(ctx, event(ticket.EventEscalated, "landlord-1"))
	d.Notify(ctx, event(ticket.EventMessagePosted, "renter-1"))

	require.Eventually(t, func() bool { return len(sink.recipients()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []string{"renter-1", "landlord-1"}, sink.recipients())
	sink.mu.Lock()
	first := sink.got[0]
	sink.mu.Unlock()
	assert.Equal(t, "escalated", first.Kind)
	assert.Equal(t, int64(2), first.Version)
}

func TestDispatcher_NotifyNeverBlocks(t *testing.T) {
	d := NewDispatcher(&recordingSink{}, 1, nil)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Notify(context.Background(), event(ticket.EventMessagePosted, "landlord-1"))
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked with no consumer running")
	}
	assert.Equal(t, int64(9), d.Dropped())
}

func TestDispatcher_FlushesOnShutdown(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 4, nil)
	d.Notify(context.Background(), event(ticket.EventResolved, "admin-1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = d.Run(ctx)

	assert.ElementsMatch(t, []string{"landlord-1", "renter-1"}, sink.recipients())
}
