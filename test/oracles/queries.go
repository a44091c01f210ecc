package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the ticket tables are consistent.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_seq_contiguous",
			SQL: `SELECT ticket_id, seq, pos FROM (
                      SELECT ticket_id, seq,
                             ROW_NUMBER() OVER (PARTITION BY ticket_id ORDER BY seq) AS pos
                      FROM ticket_messages) s
                  WHERE seq <> pos`,
		},
		{
			Name: "O2_created_at_monotonic",
			SQL: `WITH ordered AS (
                      SELECT ticket_id, seq, created_at,
                             LAG(created_at) OVER (PARTITION BY ticket_id ORDER BY seq) AS prev
                      FROM ticket_messages)
                  SELECT * FROM ordered WHERE prev IS NOT NULL AND created_at < prev`,
		},
		{
			Name: "O3_version_covers_messages",
			SQL: `SELECT t.id, t.version, COUNT(m.seq) AS messages
                  FROM tickets t LEFT JOIN ticket_messages m ON m.ticket_id = t.id
                  GROUP BY t.id, t.version
                  HAVING COUNT(m.seq) > t.version - 1`,
		},
		{
			Name: "O4_no_message_after_terminal",
			SQL: `SELECT m.ticket_id, m.seq, m.created_at, t.updated_at
                  FROM ticket_messages m JOIN tickets t ON t.id = m.ticket_id
                  WHERE t.status IN ('resolved','closed') AND m.created_at > t.updated_at`,
		},
		{
			Name: "O5_transition_note_present",
			SQL: `SELECT t.id, t.status FROM tickets t
                  WHERE t.status IN ('escalated','under_review','closed')
                    AND NOT EXISTS (
                        SELECT 1 FROM ticket_messages m
                        WHERE m.ticket_id = t.id AND m.sender_role = 'system')`,
		},
		{
			Name: "O6_auto_escalated_after_reply",
			SQL: `SELECT n.ticket_id, n.seq FROM ticket_messages n
                  JOIN tickets t ON t.id = n.ticket_id
                  WHERE n.sender_role = 'system'
                    AND n.body = 'auto-escalated: no response by deadline'
                    AND EXISTS (
                        SELECT 1 FROM ticket_messages a
                        WHERE a.ticket_id = n.ticket_id AND a.seq < n.seq
                          AND a.sender_id = t.accused_id AND a.sender_role <> 'system')`,
		},
		{
			Name: "O7_admin_message_outside_escalation",
			SQL: `SELECT m.ticket_id, m.seq FROM ticket_messages m
                  WHERE m.sender_role = 'admin'
                    AND NOT EXISTS (
                        SELECT 1 FROM ticket_messages n
                        WHERE n.ticket_id = m.ticket_id AND n.seq < m.seq AND n.sender_role = 'system'
                          AND n.body IN ('escalated by reporter','auto-escalated: no response by deadline'))`,
		},
		{
			Name: "O8_resolution_only_when_resolved",
			SQL:  `SELECT id, status FROM tickets WHERE resolution <> '' AND status <> 'resolved'`,
		},
		{
			Name: "O9_terminal_freeze_trigger",
			SQL: `SELECT 'missing_freeze_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname='tickets_freeze_terminal')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
