package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"disputedesk/scheduler"
	"disputedesk/ticket"
)

// Party is one seeded ticket and the two users allowed to act on it.
type Party struct {
	TicketID string
	Reporter string
	Accused  string
}

// Board is the fixed set of tickets every actor contends over.
type Board []Party

func (b Board) pick() Party {
	return b[rand.Intn(len(b))]
}

// Tally counts actor outcomes so the harness can report contention.
type Tally struct {
	Applied   atomic.Int64
	Rejected  atomic.Int64
	Transient atomic.Int64
}

func (t *Tally) String() string {
	return fmt.Sprintf("applied=%d rejected=%d transient=%d", t.Applied.Load(), t.Rejected.Load(), t.Transient.Load())
}

// record classifies an action result. Lost races and status moves made by
// another actor are expected; authorization and validation failures are not,
// because every actor only issues requests its role permits.
func (t *Tally) record(op string, err error) error {
	switch {
	case err == nil:
		t.Applied.Add(1)
	case errors.Is(err, ticket.ErrConflict),
		errors.Is(err, ticket.ErrInvalidTransition),
		errors.Is(err, ticket.ErrNotEligible):
		t.Rejected.Add(1)
	case errors.Is(err, ticket.ErrForbidden),
		errors.Is(err, ticket.ErrValidation),
		errors.Is(err, ticket.ErrNotFound):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		// connection killed by chaos or similar
		t.Transient.Add(1)
	}
	return nil
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

func jitter(base, spread int) {
	time.Sleep(time.Duration(base+rand.Intn(spread)) * time.Millisecond)
}

// Messenger posts messages as a random party of a random ticket.
func Messenger(ctx context.Context, svc *ticket.Service, board Board, tally *Tally, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		p := board.pick()
		sender := p.Reporter
		if rand.Intn(2) == 0 {
			sender = p.Accused
		}
		_, err := svc.Act(ctx, p.TicketID, ticket.Identity{ID: sender}, ticket.ActRequest{
			Action: ticket.ActionSendMessage,
			Body:   fmt.Sprintf("note %d from %s", rand.Int63(), sender),
		})
		if err := tally.record("messenger", err); err != nil {
			return err
		}
		jitter(5, 15)
	}
}

// Reporter escalates its tickets and occasionally closes them.
func Reporter(ctx context.Context, svc *ticket.Service, board Board, tally *Tally, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		p := board.pick()
		action := ticket.ActionEscalate
		if rand.Intn(4) == 0 {
			action = ticket.ActionClose
		}
		_, err := svc.Act(ctx, p.TicketID, ticket.Identity{ID: p.Reporter}, ticket.ActRequest{Action: action})
		if err := tally.record("reporter", err); err != nil {
			return err
		}
		jitter(40, 60)
	}
}

// Admin works the escalation queue: it joins the conversation, starts
// reviews and resolves.
func Admin(ctx context.Context, svc *ticket.Service, adminID string, tally *Tally, stop <-chan struct{}) error {
	admin := ticket.Identity{ID: adminID, Admin: true}
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		queue, err := svc.ListTickets(ctx, admin, ticket.ListOptions{IncludeQueue: true})
		if err != nil {
			if err := tally.record("admin list", err); err != nil {
				return err
			}
			jitter(50, 50)
			continue
		}
		if len(queue) == 0 {
			jitter(50, 50)
			continue
		}
		tk := queue[rand.Intn(len(queue))]
		var req ticket.ActRequest
		switch rand.Intn(3) {
		case 0:
			req = ticket.ActRequest{Action: ticket.ActionSendMessage, Body: "please upload the move-out photos"}
		case 1:
			req = ticket.ActRequest{Action: ticket.ActionStartReview}
		default:
			req = ticket.ActRequest{Action: ticket.ActionAdminResolve, Resolution: "deposit split"}
		}
		_, err = svc.Act(ctx, tk.ID, admin, req)
		if err := tally.record("admin", err); err != nil {
			return err
		}
		jitter(30, 40)
	}
}

// Scanner runs scheduler cycles back to back against the shared store.
func Scanner(ctx context.Context, s *scheduler.Scheduler, tally *Tally, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		res := s.ScanOnce(ctx)
		tally.Applied.Add(int64(res.Escalated + res.Closed))
		tally.Rejected.Add(int64(res.Skipped))
		tally.Transient.Add(int64(res.Failed))
		if res.ListFailure {
			tally.Transient.Add(1)
		}
		jitter(100, 100)
	}
}
