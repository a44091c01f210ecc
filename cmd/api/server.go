package main

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"disputedesk/ticket"
)

const (
	maxAttachments     = 10
	maxAttachmentBytes = 10 << 20
	defaultPageLimit   = 100
	maxPageLimit       = 500
)

// TicketService is the engine surface the HTTP layer depends on.
type TicketService interface {
	FileTicket(ctx context.Context, caller ticket.Identity, params ticket.FileParams) (ticket.Ticket, error)
	GetTicket(ctx context.Context, id string, caller ticket.Identity) (ticket.View, error)
	Transcript(ctx context.Context, id string, caller ticket.Identity, afterSeq int64, limit int) ([]ticket.Message, error)
	ListTickets(ctx context.Context, caller ticket.Identity, opts ticket.ListOptions) ([]ticket.Ticket, error)
	Act(ctx context.Context, id string, caller ticket.Identity, req ticket.ActRequest) (ticket.Ticket, error)
}

// TokenVerifier turns a bearer token into a caller identity.
type TokenVerifier interface {
	Verify(token string) (ticket.Identity, error)
}

// Server exposes the dispute engine over HTTP.
type Server struct {
	tickets  TicketService
	tokens   TokenVerifier
	logger   *zap.Logger
	validate *validator.Validate
	gatherer prometheus.Gatherer
}

func NewServer(tickets TicketService, tokens TokenVerifier, logger *zap.Logger, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		tickets:  tickets,
		tokens:   tokens,
		logger:   logger,
		validate: validator.New(),
		gatherer: gatherer,
	}
}

// App builds the fiber application with every route mounted.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             maxAttachments*maxAttachmentBytes + 1<<20,
		ErrorHandler:          s.handleFiberError,
	})
	app.Use(s.requestLogger)

	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if s.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api/tickets", s.authenticate)
	api.Post("/", s.handleFileTicket)
	api.Get("/", s.handleListTickets)
	api.Get("/:id", s.handleGetTicket)
	api.Get("/:id/messages", s.handleTranscript)
	api.Post("/:id/messages", s.handleSendMessage)
	api.Post("/:id/escalate", s.handleAction(ticket.ActionEscalate))
	api.Post("/:id/close", s.handleAction(ticket.ActionClose))
	api.Post("/:id/review", s.handleAction(ticket.ActionStartReview))
	api.Post("/:id/resolve", s.handleAction(ticket.ActionAdminResolve))
	return app
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	started := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
	}
	s.logger.Debug("http request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(started)),
	)
	return err
}

func (s *Server) authenticate(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing bearer token",
			"code":  "unauthorized",
		})
	}
	id, err := s.tokens.Verify(strings.TrimSpace(token))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid or expired token",
			"code":  "unauthorized",
		})
	}
	c.Locals("identity", id)
	return c.Next()
}

func caller(c *fiber.Ctx) ticket.Identity {
	id, _ := c.Locals("identity").(ticket.Identity)
	return id
}

type fileTicketRequest struct {
	BookingID    string          `json:"booking_id"`
	PropertyID   string          `json:"property_id"`
	AccusedID    string          `json:"accused_id" validate:"required"`
	ReporterRole string          `json:"reporter_role" validate:"required,oneof=landlord renter"`
	Title        string          `json:"title" validate:"required,max=200"`
	Description  string          `json:"description" validate:"max=5000"`
	ClaimAmount  decimal.Decimal `json:"claim_amount"`
	Evidence     []string        `json:"evidence" validate:"max=20,dive,url"`
}

type actionRequest struct {
	Resolution      string `json:"resolution" validate:"max=5000"`
	ExpectedVersion *int64 `json:"expected_version" validate:"omitempty,gt=0"`
}

type messageRequest struct {
	Body            string `json:"body" validate:"max=10000"`
	ExpectedVersion *int64 `json:"expected_version" validate:"omitempty,gt=0"`
}

func (s *Server) handleFileTicket(c *fiber.Ctx) error {
	var req fileTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, "invalid request body")
	}
	if err := s.validate.Struct(req); err != nil {
		return s.writeError(c, err)
	}

	t, err := s.tickets.FileTicket(c.UserContext(), caller(c), ticket.FileParams{
		BookingID:    req.BookingID,
		PropertyID:   req.PropertyID,
		AccusedID:    req.AccusedID,
		ReporterRole: ticket.PartyRole(req.ReporterRole),
		Title:        req.Title,
		Description:  req.Description,
		ClaimAmount:  req.ClaimAmount,
		Evidence:     req.Evidence,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"ticket": toTicketResponse(t, ticket.RoleReporter),
	})
}

func (s *Server) handleListTickets(c *fiber.Ctx) error {
	id := caller(c)
	opts := ticket.ListOptions{IncludeQueue: c.QueryBool("queue", false)}
	tickets, err := s.tickets.ListTickets(c.UserContext(), id, opts)
	if err != nil {
		return s.writeError(c, err)
	}
	out := make([]ticketResponse, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, toTicketResponse(t, ticket.ResolveRole(id, t)))
	}
	return c.JSON(fiber.Map{
		"tickets": out,
		"count":   len(out),
	})
}

func (s *Server) handleGetTicket(c *fiber.Ctx) error {
	view, err := s.tickets.GetTicket(c.UserContext(), c.Params("id"), caller(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"ticket": toTicketResponse(view.Ticket, view.Role),
	})
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	after, err := strconv.ParseInt(c.Query("after", "0"), 10, 64)
	if err != nil || after < 0 {
		return s.badRequest(c, "after must be a non-negative integer")
	}
	limit := c.QueryInt("limit", defaultPageLimit)
	if limit <= 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}

	msgs, err := s.tickets.Transcript(c.UserContext(), c.Params("id"), caller(c), after, limit)
	if err != nil {
		return s.writeError(c, err)
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return c.JSON(fiber.Map{
		"messages": out,
		"count":    len(out),
	})
}

func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	req, files, err := s.parseMessage(c)
	if err != nil {
		return s.badRequest(c, err.Error())
	}
	if err := s.validate.Struct(req); err != nil {
		return s.writeError(c, err)
	}

	t, err := s.tickets.Act(c.UserContext(), c.Params("id"), caller(c), ticket.ActRequest{
		Action:          ticket.ActionSendMessage,
		Body:            req.Body,
		Attachments:     files,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	resp := fiber.Map{
		"ticket": toTicketResponse(t, ticket.ResolveRole(caller(c), t)),
	}
	if n := len(t.ChatLogs); n > 0 {
		last := t.ChatLogs[n-1]
		resp["message"] = toMessageResponse(last)
		resp["attachments_dropped"] = len(files) - len(last.Attachments)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// parseMessage accepts either a JSON body or a multipart form with a "body"
// field and repeated "attachments" files.
func (s *Server) parseMessage(c *fiber.Ctx) (messageRequest, []ticket.Attachment, error) {
	var req messageRequest
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		if err := c.BodyParser(&req); err != nil {
			return req, nil, errors.New("invalid request body")
		}
		return req, nil, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return req, nil, errors.New("invalid multipart form")
	}
	if v := form.Value["body"]; len(v) > 0 {
		req.Body = v[0]
	}
	if v := form.Value["expected_version"]; len(v) > 0 && v[0] != "" {
		n, err := strconv.ParseInt(v[0], 10, 64)
		if err != nil {
			return req, nil, errors.New("expected_version must be an integer")
		}
		req.ExpectedVersion = &n
	}

	headers := form.File["attachments"]
	if len(headers) > maxAttachments {
		return req, nil, errors.New("too many attachments")
	}
	files := make([]ticket.Attachment, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > maxAttachmentBytes {
			return req, nil, errors.New("attachment " + fh.Filename + " exceeds 10MB")
		}
		data, err := readFile(fh)
		if err != nil {
			return req, nil, errors.New("unreadable attachment " + fh.Filename)
		}
		files = append(files, ticket.Attachment{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get(fiber.HeaderContentType),
			Data:        data,
		})
	}
	return req, files, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) handleAction(action ticket.Action) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req actionRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return s.badRequest(c, "invalid request body")
			}
		}
		if err := s.validate.Struct(req); err != nil {
			return s.writeError(c, err)
		}

		t, err := s.tickets.Act(c.UserContext(), c.Params("id"), caller(c), ticket.ActRequest{
			Action:          action,
			Resolution:      req.Resolution,
			ExpectedVersion: req.ExpectedVersion,
		})
		if err != nil {
			return s.writeError(c, err)
		}
		return c.JSON(fiber.Map{
			"ticket": toTicketResponse(t, ticket.ResolveRole(caller(c), t)),
		})
	}
}

func (s *Server) badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  "bad_request",
	})
}

func (s *Server) writeError(c *fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	status, code := fiber.StatusInternalServerError, "internal"
	switch {
	case errors.As(err, &verrs):
		status, code = fiber.StatusUnprocessableEntity, "validation"
	case errors.Is(err, ticket.ErrNotFound):
		status, code = fiber.StatusNotFound, "not_found"
	case errors.Is(err, ticket.ErrForbidden):
		status, code = fiber.StatusForbidden, "forbidden"
	case errors.Is(err, ticket.ErrInvalidTransition):
		status, code = fiber.StatusConflict, "invalid_transition"
	case errors.Is(err, ticket.ErrConflict), errors.Is(err, ticket.ErrVersionConflict):
		status, code = fiber.StatusConflict, "conflict"
	case errors.Is(err, ticket.ErrValidation):
		status, code = fiber.StatusUnprocessableEntity, "validation"
	}

	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		msg = "internal error"
	}
	if status == fiber.StatusNotFound {
		msg = "ticket not found"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"code":  code,
	})
}

func (s *Server) handleFiberError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code == fiber.StatusInternalServerError {
		s.logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{
		"error": fiberErrorMessage(code, err),
		"code":  "http_" + strconv.Itoa(code),
	})
}

func fiberErrorMessage(code int, err error) string {
	if code == fiber.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

type messageResponse struct {
	Seq         int64     `json:"seq"`
	SenderID    string    `json:"sender_id"`
	SenderRole  string    `json:"sender_role"`
	Body        string    `json:"body"`
	Attachments []string  `json:"attachments"`
	CreatedAt   time.Time `json:"created_at"`
}

type ticketResponse struct {
	ID              string            `json:"id"`
	BookingID       string            `json:"booking_id"`
	PropertyID      string            `json:"property_id"`
	ReporterID      string            `json:"reporter_id"`
	AccusedID       string            `json:"accused_id"`
	ReporterRole    string            `json:"reporter_role"`
	Status          string            `json:"status"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	ClaimAmount     decimal.Decimal   `json:"claim_amount"`
	InitialEvidence []string          `json:"initial_evidence"`
	Resolution      string            `json:"resolution,omitempty"`
	Deadline        time.Time         `json:"deadline"`
	LastActivityAt  time.Time         `json:"last_activity_at"`
	Version         int64             `json:"version"`
	Role            string            `json:"role"`
	ChatLogs        []messageResponse `json:"chat_logs"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func toMessageResponse(m ticket.Message) messageResponse {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	return messageResponse{
		Seq:         m.Seq,
		SenderID:    m.SenderID,
		SenderRole:  string(m.SenderRole),
		Body:        m.Body,
		Attachments: attachments,
		CreatedAt:   m.CreatedAt,
	}
}

func toTicketResponse(t ticket.Ticket, role ticket.Role) ticketResponse {
	logs := make([]messageResponse, 0, len(t.ChatLogs))
	for _, m := range t.ChatLogs {
		logs = append(logs, toMessageResponse(m))
	}
	evidence := t.InitialEvidence
	if evidence == nil {
		evidence = []string{}
	}
	return ticketResponse{
		ID:              t.ID,
		BookingID:       t.BookingID,
		PropertyID:      t.PropertyID,
		ReporterID:      t.ReporterID,
		AccusedID:       t.AccusedID,
		ReporterRole:    string(t.ReporterRole),
		Status:          string(t.Status),
		Title:           t.Title,
		Description:     t.Description,
		ClaimAmount:     t.ClaimAmount,
		InitialEvidence: evidence,
		Resolution:      t.Resolution,
		Deadline:        t.Deadline,
		LastActivityAt:  t.LastActivityAt,
		Version:         t.Version,
		Role:            string(role),
		ChatLogs:        logs,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}
