package relay

import (
	"context"
	"testing"
	"time"

	"github.com/Vico-7/Telegram-chat-bot/userstate"
)

func newTestBlacklist(t *testing.T) (*Blacklist, userstate.Store, *fakeTransport) {
	t.Helper()
	store := userstate.NewFileStore(t.TempDir())
	if err := store.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	tg := &fakeTransport{}
	b := NewBlacklist(BlacklistOptions{
		Store:     store,
		Transport: tg,
		OwnerID:   testOwnerID,
	})
	return b, store, tg
}

func TestBlockUnblockRoundTripPreservesStatus(t *testing.T) {
	t.Parallel()

	b, store, _ := newTestBlacklist(t)
	ctx := context.Background()

	for i, status := range []userstate.Status{
		userstate.StatusUnverified,
		userstate.StatusChallenged,
		userstate.StatusVerified,
	} {
		id := int64(100 + i)
		putUser(t, store, userstate.User{ID: id, Status: status})

		if err := b.Block(ctx, id, "manual"); err != nil {
			t.Fatalf("Block(%q) error = %v", status, err)
		}
		u, _, _ := store.GetUser(ctx, id)
		if !u.Blocked || u.BlockReason != "manual" || u.BlockedAt == nil {
			t.Fatalf("Block(%q) user = %+v", status, u)
		}
		if u.Status != status {
			t.Fatalf("Block(%q) rewrote status to %q", status, u.Status)
		}

		if err := b.Unblock(ctx, id); err != nil {
			t.Fatalf("Unblock(%q) error = %v", status, err)
		}
		u, _, _ = store.GetUser(ctx, id)
		if u.Blocked || u.BlockReason != "" || u.BlockedAt != nil {
			t.Fatalf("Unblock(%q) user = %+v", status, u)
		}
		if u.Status != status {
			t.Fatalf("Unblock(%q) status = %q, want exact restore", status, u.Status)
		}
	}
}

func TestBlockIdempotent(t *testing.T) {
	t.Parallel()

	b, store, _ := newTestBlacklist(t)
	ctx := context.Background()
	putUser(t, store, userstate.User{ID: 40, Status: userstate.StatusVerified})

	if err := b.Block(ctx, 40, "first"); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	first, _, _ := store.GetUser(ctx, 40)

	if err := b.Block(ctx, 40, "second"); err != nil {
		t.Fatalf("Block() repeat error = %v", err)
	}
	again, _, _ := store.GetUser(ctx, 40)
	if again.BlockReason != first.BlockReason {
		t.Fatalf("Block() repeat changed reason %q -> %q", first.BlockReason, again.BlockReason)
	}

	if err := b.Unblock(ctx, 40); err != nil {
		t.Fatalf("Unblock() error = %v", err)
	}
	if err := b.Unblock(ctx, 40); err != nil {
		t.Fatalf("Unblock() repeat error = %v", err)
	}
}

func TestBlockClearsTarget(t *testing.T) {
	t.Parallel()

	b, store, _ := newTestBlacklist(t)
	ctx := context.Background()
	putUser(t, store, userstate.User{ID: 41, Status: userstate.StatusVerified})
	settings, _ := store.GetSettings(ctx)
	settings.CurrentTarget = 41
	if err := store.PutSettings(ctx, settings); err != nil {
		t.Fatalf("PutSettings() error = %v", err)
	}

	if err := b.Block(ctx, 41, "spam"); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	settings, _ = store.GetSettings(ctx)
	if settings.CurrentTarget != 0 {
		t.Fatalf("Block() target = %d, want cleared", settings.CurrentTarget)
	}
}

func TestBlockUnknownUser(t *testing.T) {
	t.Parallel()

	b, _, tg := newTestBlacklist(t)
	if err := b.Block(context.Background(), 404, "x"); err == nil {
		t.Fatalf("Block() accepted unknown user")
	}
	if len(tg.sent) != 1 {
		t.Fatalf("Block() owner was not told about the unknown user")
	}
}

func TestListIsRestartable(t *testing.T) {
	t.Parallel()

	b, store, _ := newTestBlacklist(t)
	ctx := context.Background()
	now := time.Now().UTC()
	putUser(t, store, userstate.User{ID: 50, Status: userstate.StatusVerified, Blocked: true, RegisteredAt: now})
	putUser(t, store, userstate.User{ID: 51, Status: userstate.StatusUnverified, Blocked: true, RegisteredAt: now.Add(time.Second)})
	putUser(t, store, userstate.User{ID: 52, Status: userstate.StatusVerified, RegisteredAt: now.Add(2 * time.Second)})

	seq := b.List(ctx)

	var first []int64
	for u := range seq {
		first = append(first, u.ID)
	}
	if len(first) != 2 {
		t.Fatalf("List() first pass = %v, want 2 blocked users", first)
	}

	// The same sequence value ranges again from scratch.
	var second []int64
	for u := range seq {
		second = append(second, u.ID)
		break
	}
	if len(second) != 1 || second[0] != first[0] {
		t.Fatalf("List() second pass = %v, want restart from %d", second, first[0])
	}
}
