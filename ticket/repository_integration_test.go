package ticket

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TestPGStore_Integration runs the service against a live PostgreSQL from
// DATABASE_URL with migrations/0001_tickets.sql applied.
func TestPGStore_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass('public.tickets') IS NOT NULL`).Scan(&exists); err != nil || !exists {
		t.Skip("database schema missing; apply migrations/0001_tickets.sql first")
	}

	store := NewPGStore(pool)
	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Microsecond)}
	svc := NewService(store, nil, nil, nil).WithClock(clock.Now)

	reporter := Identity{ID: "landlord-" + uuid.NewString()}
	accused := Identity{ID: "renter-" + uuid.NewString()}

	tk, err := svc.FileTicket(ctx, reporter, FileParams{
		AccusedID:    accused.ID,
		ReporterRole: PartyLandlord,
		Title:        "Missing keys",
		ClaimAmount:  decimal.RequireFromString("42.50"),
		Evidence:     []string{"https://cdn.test/keys.jpg"},
	})
	if err != nil {
		t.Fatalf("file: %v", err)
	}

	got, err := store.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ClaimAmount.Equal(tk.ClaimAmount) || got.Status != StatusOpen || len(got.InitialEvidence) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := svc.Act(ctx, tk.ID, accused, say("not my fault")); err != nil {
		t.Fatalf("accused message: %v", err)
	}
	if _, err := svc.Act(ctx, tk.ID, reporter, ActRequest{Action: ActionEscalate}); err != nil {
		t.Fatalf("escalate: %v", err)
	}

	got, err = store.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Version != 3 || len(got.ChatLogs) != 2 || got.ChatLogs[1].SenderRole != SenderSystem {
		t.Fatalf("unexpected state after escalate: v%d %+v", got.Version, got.ChatLogs)
	}

	// Stale writer loses.
	stale := got.Clone()
	stale.Version = got.Version + 1
	if err := store.Update(ctx, stale, got.Version-1, nil); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict for stale version, got %v", err)
	}

	// A duplicate seq rolls back the ticket update too.
	dup := got.Clone()
	dup.Version = got.Version + 1
	if err := store.Update(ctx, dup, got.Version, []Message{{Seq: 1, SenderID: accused.ID, SenderRole: SenderRenter, Body: "dup", CreatedAt: clock.Now()}}); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict for duplicate seq, got %v", err)
	}
	if after, _ := store.Get(ctx, tk.ID); after.Version != got.Version {
		t.Fatalf("expected rollback to keep version %d, got %d", got.Version, after.Version)
	}

	admin := Identity{ID: "admin-" + uuid.NewString(), Admin: true}
	resolved, err := svc.Act(ctx, tk.ID, admin, ActRequest{Action: ActionAdminResolve, Resolution: "split"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// The trigger refuses writes to a terminal row even with a matching version.
	bypass := resolved.Clone()
	bypass.Status = StatusOpen
	bypass.Version = resolved.Version + 1
	if err := store.Update(ctx, bypass, resolved.Version, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from trigger, got %v", err)
	}

	mine, err := store.ListByParty(ctx, accused.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != tk.ID || len(mine[0].ChatLogs) != 2 {
		t.Fatalf("unexpected list result: %+v", mine)
	}

	if _, err := store.Get(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}
	if _, err := store.Get(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}
