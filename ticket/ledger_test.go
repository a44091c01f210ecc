package ticket

import (
	"testing"
	"time"
)

func TestLedger_AppendAssignsSeqAndClampsTime(t *testing.T) {
	var l Ledger
	tk := openTicket()

	first := l.Append(&tk, Message{SenderID: "landlord-1", Body: "one"}, t0.Add(time.Minute))
	second := l.Append(&tk, Message{SenderID: "renter-1", Body: "two"}, t0)

	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("expected seq 1,2 got %d,%d", first.Seq, second.Seq)
	}
	if second.CreatedAt.Before(first.CreatedAt) {
		t.Fatalf("expected non-decreasing timestamps, got %s then %s", first.CreatedAt, second.CreatedAt)
	}
}

func TestLedger_AppendCopiesAttachments(t *testing.T) {
	var l Ledger
	tk := openTicket()
	urls := []string{"https://cdn/a.png"}

	l.Append(&tk, Message{SenderID: "landlord-1", Attachments: urls}, t0)
	urls[0] = "mutated"

	if tk.ChatLogs[0].Attachments[0] != "https://cdn/a.png" {
		t.Fatalf("expected stored attachments to be isolated, got %v", tk.ChatLogs[0].Attachments)
	}
}

func TestLedger_Page(t *testing.T) {
	var l Ledger
	tk := openTicket()
	for i := 0; i < 5; i++ {
		l.Append(&tk, Message{SenderID: "landlord-1", Body: "m"}, t0.Add(time.Duration(i)*time.Second))
	}

	page := l.Page(tk, 2, 2)
	if len(page) != 2 || page[0].Seq != 3 || page[1].Seq != 4 {
		t.Fatalf("unexpected page: %+v", page)
	}
	rest := l.Page(tk, 4, 0)
	if len(rest) != 1 || rest[0].Seq != 5 {
		t.Fatalf("unexpected rest: %+v", rest)
	}
	if empty := l.Page(tk, 9, 10); len(empty) != 0 {
		t.Fatalf("expected empty page, got %+v", empty)
	}
}
