package relay

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/polymolt/relay/internal/models"
)

func TestUpsertIdempotent(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	ctx := context.Background()

	first := r.Upsert(ctx, "a1", "wallet-1", "alice")
	if first.ID != "a1" || first.Name != "alice" {
		t.Fatalf("unexpected agent: %+v", first)
	}
	if first.LastSeen.IsZero() {
		t.Fatal("expected last-seen to be set")
	}

	second := r.Upsert(ctx, "a1", "wallet-2", "alice2")
	if second.Wallet != "wallet-2" || second.Name != "alice2" {
		t.Fatalf("re-registration should overwrite profile fields: %+v", second)
	}

	got, ok := r.Get("a1")
	if !ok {
		t.Fatal("agent missing after upsert")
	}
	if got.Wallet != "wallet-2" {
		t.Fatalf("expected wallet-2, got %s", got.Wallet)
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 agent, got %d", r.Count())
	}
}

func TestUpsertPreservesPosition(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	ctx := context.Background()

	r.Upsert(ctx, "a1", "w", "alice")
	r.SetPosition(ctx, "a1", models.PositionYes)
	r.Upsert(ctx, "a1", "w", "alice")

	got, _ := r.Get("a1")
	if got.Position != models.PositionYes {
		t.Fatalf("position lost on re-join: %q", got.Position)
	}
}

func TestSetPositionInvalidIgnored(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	ctx := context.Background()

	r.Upsert(ctx, "a1", "w", "alice")
	r.SetPosition(ctx, "a1", models.Position("maybe"))

	got, _ := r.Get("a1")
	if got.Position != "" {
		t.Fatalf("invalid position should be ignored, got %q", got.Position)
	}

	// Unknown agent is a no-op, not a panic.
	r.SetPosition(ctx, "ghost", models.PositionNo)
}

func TestGetAbsent(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())

	if _, ok := r.Get("nope"); ok {
		t.Fatal("expected absent agent")
	}
}
