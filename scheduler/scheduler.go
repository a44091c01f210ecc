// Package scheduler periodically applies the time-driven ticket transitions:
// deadline escalation and inactivity closure.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"disputedesk/ticket"
)

const (
	DefaultInterval    = 5 * time.Minute
	DefaultConcurrency = 8
)

// Engine is the slice of ticket.Service the scheduler drives.
type Engine interface {
	Due(ctx context.Context) ([]ticket.Ticket, error)
	ApplyAutomatic(ctx context.Context, id string, now time.Time) (ticket.Ticket, ticket.Action, error)
}

// Result summarises one scan cycle.
type Result struct {
	Scanned     int
	Escalated   int
	Closed      int
	Skipped     int
	Failed      int
	ListFailure bool
}

type Scheduler struct {
	engine      Engine
	logger      *zap.Logger
	metrics     *Metrics
	interval    time.Duration
	concurrency int
	now         func() time.Time
}

func New(engine Engine, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:      engine,
		logger:      logger,
		interval:    DefaultInterval,
		concurrency: DefaultConcurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scheduler) WithInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *Scheduler) WithConcurrency(n int) *Scheduler {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

func (s *Scheduler) WithMetrics(m *Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Run scans immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.ScanOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.ScanOnce(ctx)
		}
	}
}

// ScanOnce evaluates every active ticket at a single instant. Failures on one
// ticket are logged and never abort the cycle; a failed listing skips it.
func (s *Scheduler) ScanOnce(ctx context.Context) Result {
	started := time.Now()
	now := s.now()

	due, err := s.engine.Due(ctx)
	if err != nil {
		s.logger.Error("scheduler: list active tickets", zap.Error(err))
		s.metrics.scan("list_error", time.Since(started).Seconds())
		return Result{ListFailure: true}
	}

	var escalated, closed, skipped, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, t := range due {
		if _, ok := ticket.NextAutomatic(t, now); !ok {
			skipped.Add(1)
			continue
		}
		id := t.ID
		g.Go(func() error {
			next, action, err := s.engine.ApplyAutomatic(ctx, id, now)
			switch {
			case err == nil:
				if action == ticket.ActionInactivityExpired {
					closed.Add(1)
				} else {
					escalated.Add(1)
				}
				s.metrics.transition(string(action))
				s.logger.Info("scheduler: ticket transitioned",
					zap.String("ticket_id", id),
					zap.String("action", string(action)),
					zap.String("status", string(next.Status)),
				)
			case errors.Is(err, ticket.ErrNotEligible), errors.Is(err, ticket.ErrInvalidTransition):
				// Someone else got there first.
				skipped.Add(1)
			default:
				failed.Add(1)
				s.logger.Warn("scheduler: ticket transition failed",
					zap.String("ticket_id", id),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Scanned:   len(due),
		Escalated: int(escalated.Load()),
		Closed:    int(closed.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}
	outcome := "ok"
	if res.Failed > 0 {
		outcome = "partial"
	}
	s.metrics.scan(outcome, time.Since(started).Seconds())
	s.logger.Debug("scheduler: scan complete",
		zap.Int("scanned", res.Scanned),
		zap.Int("escalated", res.Escalated),
		zap.Int("closed", res.Closed),
		zap.Int("failed", res.Failed),
	)
	return res
}
