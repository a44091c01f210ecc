package ticket

import (
	"strings"
	"time"
)

// Ledger assigns sequence numbers and timestamps to transcript entries.
// Entries already on the ticket are never touched.
type Ledger struct{}

// Append adds m to the end of t's transcript and returns the stored entry.
// CreatedAt is clamped so the log stays non-decreasing even when the server
// clock steps backwards between accepts.
func (Ledger) Append(t *Ticket, m Message, now time.Time) Message {
	entry := m.clone()
	entry.Seq = int64(len(t.ChatLogs)) + 1
	entry.CreatedAt = now
	if n := len(t.ChatLogs); n > 0 {
		if last := t.ChatLogs[n-1].CreatedAt; entry.CreatedAt.Before(last) {
			entry.CreatedAt = last
		}
	}
	t.ChatLogs = append(t.ChatLogs, entry)
	return entry
}

// Page returns up to limit entries with Seq > afterSeq, preserving order.
// A non-positive limit returns the rest of the transcript.
func (Ledger) Page(t Ticket, afterSeq int64, limit int) []Message {
	start := 0
	for start < len(t.ChatLogs) && t.ChatLogs[start].Seq <= afterSeq {
		start++
	}
	end := len(t.ChatLogs)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]Message, 0, end-start)
	for _, m := range t.ChatLogs[start:end] {
		out = append(out, m.clone())
	}
	return out
}

// hasMessageFrom reports whether sender posted a non-system message.
func hasMessageFrom(t Ticket, senderID string) bool {
	for _, m := range t.ChatLogs {
		if m.SenderID == senderID && m.SenderRole != SenderSystem {
			return true
		}
	}
	return false
}

func systemNote(body string) Message {
	return Message{
		SenderID:   SystemSenderID,
		SenderRole: SenderSystem,
		Body:       body,
	}
}

func hasContent(body string, attachments []string) bool {
	return strings.TrimSpace(body) != "" || len(attachments) > 0
}
