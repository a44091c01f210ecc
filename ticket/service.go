package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts bounds reload-and-retry cycles on version conflicts.
	DefaultMaxAttempts = 3
	// DefaultUploadTimeout bounds each attachment upload.
	DefaultUploadTimeout = 10 * time.Second
)

// Service exposes the verb surface of the dispute engine.
type Service struct {
	store         Store
	attachments   AttachmentStore
	notifier      Notifier
	logger        *zap.Logger
	machine       Machine
	ledger        Ledger
	idGenerator   func() string
	now           func() time.Time
	maxAttempts   int
	uploadTimeout time.Duration
}

func NewService(store Store, attachments AttachmentStore, notifier Notifier, logger *zap.Logger) *Service {
	if attachments == nil {
		attachments = RejectingAttachments{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:         store,
		attachments:   attachments,
		notifier:      notifier,
		logger:        logger,
		idGenerator:   func() string { return uuid.NewString() },
		now:           func() time.Time { return time.Now().UTC() },
		maxAttempts:   DefaultMaxAttempts,
		uploadTimeout: DefaultUploadTimeout,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithMaxAttempts(n int) *Service {
	if n > 0 {
		s.maxAttempts = n
	}
	return s
}

func (s *Service) WithUploadTimeout(d time.Duration) *Service {
	s.uploadTimeout = d
	return s
}

// FileParams is the reporter-supplied content of a new dispute.
type FileParams struct {
	BookingID    string
	PropertyID   string
	AccusedID    string
	ReporterRole PartyRole
	Title        string
	Description  string
	ClaimAmount  decimal.Decimal
	Evidence     []string
}

// FileTicket opens a dispute with the caller as reporter.
func (s *Service) FileTicket(ctx context.Context, caller Identity, params FileParams) (Ticket, error) {
	if caller.ID == "" {
		return Ticket{}, fmt.Errorf("%w: missing reporter identity", ErrValidation)
	}
	if params.AccusedID == "" {
		return Ticket{}, fmt.Errorf("%w: missing accused identity", ErrValidation)
	}
	if params.AccusedID == caller.ID {
		return Ticket{}, fmt.Errorf("%w: reporter and accused must differ", ErrValidation)
	}
	if !params.ReporterRole.valid() {
		return Ticket{}, fmt.Errorf("%w: invalid reporter role %q", ErrValidation, params.ReporterRole)
	}
	if strings.TrimSpace(params.Title) == "" {
		return Ticket{}, fmt.Errorf("%w: title required", ErrValidation)
	}
	if params.ClaimAmount.IsNegative() {
		return Ticket{}, fmt.Errorf("%w: claim amount must not be negative", ErrValidation)
	}
	if !params.ClaimAmount.Equal(params.ClaimAmount.Round(ClaimScale)) {
		return Ticket{}, fmt.Errorf("%w: claim amount has more than %d decimal places", ErrValidation, ClaimScale)
	}
	if params.ClaimAmount.GreaterThanOrEqual(MaxClaimAmount) {
		return Ticket{}, fmt.Errorf("%w: claim amount must be below %s", ErrValidation, MaxClaimAmount)
	}

	now := s.now()
	t := Ticket{
		ID:              s.idGenerator(),
		BookingID:       params.BookingID,
		PropertyID:      params.PropertyID,
		ReporterID:      caller.ID,
		AccusedID:       params.AccusedID,
		ReporterRole:    params.ReporterRole,
		Status:          StatusOpen,
		Title:           params.Title,
		Description:     params.Description,
		ClaimAmount:     params.ClaimAmount,
		InitialEvidence: append([]string(nil), params.Evidence...),
		Deadline:        now.Add(ResponseWindow),
		LastActivityAt:  now,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return Ticket{}, err
	}

	s.logger.Info("ticket filed",
		zap.String("ticket_id", t.ID),
		zap.String("reporter_id", t.ReporterID),
		zap.String("accused_id", t.AccusedID),
	)
	s.notifier.Notify(ctx, newEvent(t, EventTicketFiled, caller.ID))
	return t, nil
}

// GetTicket returns the ticket as seen by caller. Callers unrelated to the
// ticket get ErrNotFound, never a hint that it exists.
func (s *Service) GetTicket(ctx context.Context, id string, caller Identity) (View, error) {
	t, role, err := s.load(ctx, id, caller)
	if err != nil {
		return View{}, err
	}
	return View{Ticket: t, Role: role}, nil
}

// Transcript returns transcript entries after afterSeq, at most limit of them
// (limit <= 0 means all), with the same visibility rules as GetTicket.
func (s *Service) Transcript(ctx context.Context, id string, caller Identity, afterSeq int64, limit int) ([]Message, error) {
	t, _, err := s.load(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	return s.ledger.Page(t, afterSeq, limit), nil
}

// ListOptions narrows ListTickets.
type ListOptions struct {
	// IncludeQueue adds every escalated and under_review ticket for admins.
	IncludeQueue bool
}

// ListTickets returns tickets where caller is reporter or accused, newest first.
func (s *Service) ListTickets(ctx context.Context, caller Identity, opts ListOptions) ([]Ticket, error) {
	if caller.ID == "" {
		return nil, fmt.Errorf("%w: missing caller identity", ErrValidation)
	}
	own, err := s.store.ListByParty(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if !caller.Admin || !opts.IncludeQueue {
		return own, nil
	}

	queue, err := s.store.ListByStatus(ctx, StatusEscalated, StatusUnderReview)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(own)+len(queue))
	out := make([]Ticket, 0, len(own)+len(queue))
	for _, t := range append(own, queue...) {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	sortNewestFirst(out)
	return out, nil
}

// ActRequest is the payload of a caller action.
type ActRequest struct {
	Action      Action
	Body        string
	Attachments []Attachment
	Resolution  string
	// ExpectedVersion, when set, makes a stale version fail with ErrConflict
	// instead of being retried against the reloaded ticket.
	ExpectedVersion *int64
}

// Act applies a caller action. It either commits completely or has no effect.
func (s *Service) Act(ctx context.Context, id string, caller Identity, req ActRequest) (Ticket, error) {
	if caller.ID == "" {
		return Ticket{}, fmt.Errorf("%w: missing caller identity", ErrValidation)
	}
	if req.Action.automatic() {
		return Ticket{}, fmt.Errorf("%w: %s is not a caller action", ErrValidation, req.Action)
	}
	// Content is checked by the machine after the terminal guard, so any write
	// to a resolved or closed ticket reports ErrInvalidTransition.
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Ticket{}, err
	}
	role := roleForAction(caller, t, req.Action)
	if role == RoleUnauthorized {
		return Ticket{}, ErrNotFound
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != t.Version {
		return Ticket{}, fmt.Errorf("%w: expected version %d, found %d", ErrConflict, *req.ExpectedVersion, t.Version)
	}

	in := Input{
		Action:     req.Action,
		Role:       role,
		ActorID:    caller.ID,
		Body:       req.Body,
		Resolution: req.Resolution,
	}
	if len(req.Attachments) > 0 {
		in.Attachments = make([]string, len(req.Attachments))
	}
	if err := s.machine.Check(t, in); err != nil {
		return Ticket{}, err
	}

	if len(req.Attachments) > 0 {
		in.Attachments = uploadAll(ctx, s.attachments, req.Attachments,
			UploadContext{TicketID: t.ID, SenderID: caller.ID}, s.uploadTimeout, s.logger)
		if !hasContent(in.Body, in.Attachments) {
			return Ticket{}, fmt.Errorf("%w: every attachment failed to upload and the message has no text", ErrValidation)
		}
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			if t, err = s.store.Get(ctx, id); err != nil {
				return Ticket{}, err
			}
			in.Role = roleForAction(caller, t, req.Action)
		}

		next, appended, err := s.machine.Apply(t, in, s.now())
		if err != nil {
			return Ticket{}, err
		}
		err = s.store.Update(ctx, next, t.Version, appended)
		if errors.Is(err, ErrVersionConflict) {
			s.logger.Debug("version conflict",
				zap.String("ticket_id", id),
				zap.String("action", string(req.Action)),
				zap.Int("attempt", attempt),
			)
			if req.ExpectedVersion != nil {
				return Ticket{}, fmt.Errorf("%w: ticket changed since version %d", ErrConflict, t.Version)
			}
			continue
		}
		if err != nil {
			return Ticket{}, err
		}

		s.logger.Info("ticket action applied",
			zap.String("ticket_id", next.ID),
			zap.String("action", string(req.Action)),
			zap.String("role", string(in.Role)),
			zap.String("status", string(next.Status)),
			zap.Int64("version", next.Version),
		)
		s.notifier.Notify(ctx, newEvent(next, eventKind(req.Action), caller.ID))
		return next, nil
	}
	return Ticket{}, fmt.Errorf("%w: gave up after %d attempts", ErrConflict, s.maxAttempts)
}

// ApplyAutomatic applies whichever time-driven transition is due for the
// ticket at now. It returns ErrNotEligible when nothing is due, which makes
// repeated scans of the same ticket a no-op.
func (s *Service) ApplyAutomatic(ctx context.Context, id string, now time.Time) (Ticket, Action, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		t, err := s.store.Get(ctx, id)
		if err != nil {
			return Ticket{}, "", err
		}
		action, due := NextAutomatic(t, now)
		if !due {
			return Ticket{}, "", ErrNotEligible
		}

		next, appended, err := s.machine.Apply(t, Input{
			Action:  action,
			Role:    RoleScheduler,
			ActorID: SystemSenderID,
		}, now)
		if err != nil {
			return Ticket{}, "", err
		}
		err = s.store.Update(ctx, next, t.Version, appended)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return Ticket{}, "", err
		}

		s.logger.Info("automatic transition applied",
			zap.String("ticket_id", next.ID),
			zap.String("action", string(action)),
			zap.String("status", string(next.Status)),
		)
		s.notifier.Notify(ctx, newEvent(next, eventKind(action), SystemSenderID))
		return next, action, nil
	}
	return Ticket{}, "", fmt.Errorf("%w: gave up after %d attempts", ErrConflict, s.maxAttempts)
}

// Due lists tickets the scheduler should evaluate.
func (s *Service) Due(ctx context.Context) ([]Ticket, error) {
	return s.store.ListByStatus(ctx, StatusOpen, StatusEscalated)
}

func (s *Service) load(ctx context.Context, id string, caller Identity) (Ticket, Role, error) {
	if id == "" {
		return Ticket{}, "", ErrNotFound
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Ticket{}, "", err
	}
	role := ResolveRole(caller, t)
	if role == RoleUnauthorized {
		return Ticket{}, "", ErrNotFound
	}
	return t, role, nil
}
