package ticket

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// sqlStateTerminal is raised by the tickets_freeze_terminal trigger.
const sqlStateTerminal = "TKT01"

// PGStore implements Store on PostgreSQL. Ticket rows and their transcript
// entries are written in one transaction guarded by the version column.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const ticketColumns = `
	id, booking_id, property_id, reporter_id, accused_id, reporter_role, status,
	title, description, claim_amount::text, initial_evidence, resolution,
	deadline, last_activity_at, version, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, t Ticket) error {
	const query = `
		INSERT INTO tickets (
			id, booking_id, property_id, reporter_id, accused_id, reporter_role, status,
			title, description, claim_amount, initial_evidence, resolution,
			deadline, last_activity_at, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::numeric,$11,$12,$13,$14,$15,$16,$17)
	`
	evidence := t.InitialEvidence
	if evidence == nil {
		evidence = []string{}
	}
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.BookingID, t.PropertyID, t.ReporterID, t.AccusedID, string(t.ReporterRole), string(t.Status),
		t.Title, t.Description, t.ClaimAmount.String(), evidence, t.Resolution,
		t.Deadline, t.LastActivityAt, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ticket: create: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1`
	t, err := scanTicket(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return Ticket{}, ErrNotFound
		}
		return Ticket{}, fmt.Errorf("ticket: get: %w", err)
	}

	logs, err := s.loadMessages(ctx, []string{t.ID})
	if err != nil {
		return Ticket{}, err
	}
	t.ChatLogs = logs[t.ID]
	return t, nil
}

func (s *PGStore) Update(ctx context.Context, next Ticket, expectedVersion int64, appended []Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ticket: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const update = `
		UPDATE tickets
		SET status = $3, resolution = $4, last_activity_at = $5, updated_at = $6, version = $7
		WHERE id = $1 AND version = $2
	`
	tag, err := tx.Exec(ctx, update,
		next.ID, expectedVersion, string(next.Status), next.Resolution,
		next.LastActivityAt, next.UpdatedAt, next.Version,
	)
	if err != nil {
		return mapWriteErr("update", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
			return fmt.Errorf("ticket: update check: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	const insert = `
		INSERT INTO ticket_messages (ticket_id, seq, sender_id, sender_role, body, attachments, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`
	for _, m := range appended {
		attachments := m.Attachments
		if attachments == nil {
			attachments = []string{}
		}
		if _, err := tx.Exec(ctx, insert,
			next.ID, m.Seq, m.SenderID, string(m.SenderRole), m.Body, attachments, m.CreatedAt,
		); err != nil {
			return mapWriteErr("append message", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ticket: commit update: %w", err)
	}
	return nil
}

func (s *PGStore) ListByParty(ctx context.Context, userID string) ([]Ticket, error) {
	query := `SELECT ` + ticketColumns + `
		FROM tickets
		WHERE reporter_id = $1 OR accused_id = $1
		ORDER BY created_at DESC, id`
	return s.list(ctx, query, userID)
}

func (s *PGStore) ListByStatus(ctx context.Context, statuses ...Status) ([]Ticket, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	query := `SELECT ` + ticketColumns + `
		FROM tickets
		WHERE status = ANY($1::text[])
		ORDER BY created_at DESC, id`
	return s.list(ctx, query, names)
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]Ticket, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket: list: %w", err)
	}
	defer rows.Close()

	out := make([]Ticket, 0, 8)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket: scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ticket: iterate: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	logs, err := s.loadMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].ChatLogs = logs[out[i].ID]
	}
	return out, nil
}

func (s *PGStore) loadMessages(ctx context.Context, ids []string) (map[string][]Message, error) {
	const query = `
		SELECT ticket_id, seq, sender_id, sender_role, body, attachments, created_at
		FROM ticket_messages
		WHERE ticket_id = ANY($1::text[]::uuid[])
		ORDER BY ticket_id, seq
	`
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("ticket: load messages: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Message, len(ids))
	for rows.Next() {
		var (
			ticketID string
			m        Message
			role     string
		)
		if err := rows.Scan(&ticketID, &m.Seq, &m.SenderID, &role, &m.Body, &m.Attachments, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("ticket: scan message: %w", err)
		}
		m.SenderRole = SenderRole(role)
		out[ticketID] = append(out[ticketID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ticket: iterate messages: %w", err)
	}
	return out, nil
}

func scanTicket(row pgx.Row) (Ticket, error) {
	var (
		t            Ticket
		reporterRole string
		status       string
		claim        string
	)
	err := row.Scan(
		&t.ID, &t.BookingID, &t.PropertyID, &t.ReporterID, &t.AccusedID, &reporterRole, &status,
		&t.Title, &t.Description, &claim, &t.InitialEvidence, &t.Resolution,
		&t.Deadline, &t.LastActivityAt, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return Ticket{}, err
	}
	amount, err := decimal.NewFromString(claim)
	if err != nil {
		return Ticket{}, fmt.Errorf("ticket: parse claim amount %q: %w", claim, err)
	}
	t.ReporterRole = PartyRole(reporterRole)
	t.Status = Status(status)
	t.ClaimAmount = amount
	return t, nil
}

func mapWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrVersionConflict
		case sqlStateTerminal:
			return fmt.Errorf("%w: %s", ErrInvalidTransition, pgErr.Message)
		}
	}
	return fmt.Errorf("ticket: %s: %w", op, err)
}

// isInvalidText reports a malformed uuid literal, which cannot name a ticket.
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
