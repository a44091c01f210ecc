package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputedesk/ticket"
)

var t0 = time.Date(2024, 10, 31, 9, 0, 0, 0, time.UTC)

type harness struct {
	svc   *ticket.Service
	store *ticket.MemoryStore
	now   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: ticket.NewMemoryStore(), now: t0}
	n := 0
	h.svc = ticket.NewService(h.store, nil, nil, nil).
		WithClock(func() time.Time { return h.now }).
		WithIDGenerator(func() string { n++; return fmt.Sprintf("ticket-%02d", n) })
	return h
}

func (h *harness) file(t *testing.T, reporter, accused string) ticket.Ticket {
	t.Helper()
	tk, err := h.svc.FileTicket(context.Background(), ticket.Identity{ID: reporter}, ticket.FileParams{
		AccusedID:    accused,
		ReporterRole: ticket.PartyRenter,
		Title:        "Deposit withheld",
	})
	require.NoError(t, err)
	return tk
}

func TestScanOnce_AppliesDueTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale := h.file(t, "renter-1", "landlord-1")
	answered := h.file(t, "renter-2", "landlord-2")
	h.now = t0.Add(time.Hour)
	_, err := h.svc.Act(ctx, answered.ID, ticket.Identity{ID: "landlord-2"}, ticket.ActRequest{Action: ticket.ActionSendMessage, Body: "will refund"})
	require.NoError(t, err)

	quiet := h.file(t, "renter-3", "landlord-3")
	h.now = t0.Add(2 * time.Hour)
	_, err = h.svc.Act(ctx, quiet.ID, ticket.Identity{ID: "landlord-3"}, ticket.ActRequest{Action: ticket.ActionSendMessage, Body: "checking"})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	sched := New(h.svc, nil).WithMetrics(metrics).WithClock(func() time.Time { return t0.Add(49 * time.Hour) })

	res := sched.ScanOnce(ctx)
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 1, res.Escalated)
	assert.Equal(t, 0, res.Closed)
	assert.Equal(t, 2, res.Skipped)

	got, err := h.store.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusEscalated, got.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.transitions.WithLabelValues(string(ticket.ActionDeadlineExpired))))

	// Same instant again: nothing left to do.
	res = sched.ScanOnce(ctx)
	assert.Equal(t, 0, res.Escalated)
	got, _ = h.store.Get(ctx, stale.ID)
	assert.Len(t, got.ChatLogs, 1)

	sched.WithClock(func() time.Time { return t0.Add(time.Hour + ticket.InactivityWindow) })
	res = sched.ScanOnce(ctx)
	assert.Equal(t, 1, res.Closed, "only the ticket idle since t0+1h is past the window")

	got, _ = h.store.Get(ctx, answered.ID)
	assert.Equal(t, ticket.StatusClosed, got.Status)
	got, _ = h.store.Get(ctx, quiet.ID)
	assert.Equal(t, ticket.StatusOpen, got.Status)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.scans.WithLabelValues("ok")))
}

type brokenEngine struct {
	listErr  error
	applyErr error
	due      []ticket.Ticket
}

func (b *brokenEngine) Due(context.Context) ([]ticket.Ticket, error) {
	return b.due, b.listErr
}

func (b *brokenEngine) ApplyAutomatic(context.Context, string, time.Time) (ticket.Ticket, ticket.Action, error) {
	return ticket.Ticket{}, "", b.applyErr
}

func TestScanOnce_ListFailureSkipsCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	sched := New(&brokenEngine{listErr: errors.New("db down")}, nil).WithMetrics(metrics)

	res := sched.ScanOnce(context.Background())
	assert.True(t, res.ListFailure)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.scans.WithLabelValues("list_error")))
}

func TestScanOnce_TicketFailureDoesNotAbort(t *testing.T) {
	due := []ticket.Ticket{
		{ID: "a", Status: ticket.StatusOpen, Deadline: t0, LastActivityAt: t0},
		{ID: "b", Status: ticket.StatusOpen, Deadline: t0, LastActivityAt: t0},
	}
	engine := &brokenEngine{due: due, applyErr: errors.New("timeout")}
	sched := New(engine, nil).WithClock(func() time.Time { return t0.Add(time.Hour) })

	res := sched.ScanOnce(context.Background())
	assert.Equal(t, 2, res.Failed)
	assert.False(t, res.ListFailure)
}

func TestScanOnce_LostRaceCountsAsSkip(t *testing.T) {
	due := []ticket.Ticket{{ID: "a", Status: ticket.StatusOpen, Deadline: t0, LastActivityAt: t0}}
	engine := &brokenEngine{due: due, applyErr: ticket.ErrNotEligible}
	sched := New(engine, nil).WithClock(func() time.Time { return t0.Add(time.Hour) })

	res := sched.ScanOnce(context.Background())
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Failed)
}

func TestRun_StopsOnCancel(t *testing.T) {
	engine := &brokenEngine{}
	sched := New(engine, nil).WithInterval(time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sched.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
