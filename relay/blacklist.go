package relay

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/Vico-7/Telegram-chat-bot/internal/telegram"
	"github.com/Vico-7/Telegram-chat-bot/userstate"
)

// Blacklist manages blocked users. Blocking never touches the stored
// verification status, so block followed by unblock round-trips a user
// to exactly the state they had.
type Blacklist struct {
	store   userstate.Store
	tg      Transport
	logger  *slog.Logger
	ownerID int64
}

type BlacklistOptions struct {
	Store     userstate.Store
	Transport Transport
	Logger    *slog.Logger
	OwnerID   int64
}

func NewBlacklist(opts BlacklistOptions) *Blacklist {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Blacklist{
		store:   opts.Store,
		tg:      opts.Transport,
		logger:  logger,
		ownerID: opts.OwnerID,
	}
}

// Block marks a user blocked. Blocking an already-blocked user is a
// no-op reported as success. The conversation target is cleared when it
// pointed at the user.
func (b *Blacklist) Block(ctx context.Context, id int64, reason string) error {
	now := time.Now().UTC()
	changed := false
	u, ok, err := b.store.UpdateUser(ctx, id, func(cur userstate.User) userstate.User {
		if cur.Blocked {
			return cur
		}
		cur.Blocked = true
		cur.BlockReason = reason
		cur.BlockedAt = &now
		changed = true
		return cur
	})
	if err != nil {
		return err
	}
	if !ok {
		b.notifyOwner(ctx, fmt.Sprintf("User %d is not registered.", id), nil)
		return fmt.Errorf("user %d not found", id)
	}

	if _, err := b.store.UpdateSettings(ctx, func(s userstate.Settings) userstate.Settings {
		if s.CurrentTarget == id {
			s.CurrentTarget = 0
		}
		return s
	}); err != nil {
		return err
	}
	if changed {
		b.logger.Info("user blocked", "user_id", id, "reason", reason)
	}

	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: "Unblock", CallbackData: telegram.UserCallbackData(telegram.CallbackUnban, id)},
	}}}
	b.notifyOwner(ctx, fmt.Sprintf("%s is blocked.", describeUser(u)), markup)
	return nil
}

// Unblock clears the blocked flag, restoring whatever verification
// status the user had before the block. Unblocking an unblocked user
// is a no-op reported as success.
func (b *Blacklist) Unblock(ctx context.Context, id int64) error {
	changed := false
	u, ok, err := b.store.UpdateUser(ctx, id, func(cur userstate.User) userstate.User {
		if !cur.Blocked {
			return cur
		}
		cur.Blocked = false
		cur.BlockReason = ""
		cur.BlockedAt = nil
		changed = true
		return cur
	})
	if err != nil {
		return err
	}
	if !ok {
		b.notifyOwner(ctx, fmt.Sprintf("User %d is not registered.", id), nil)
		return fmt.Errorf("user %d not found", id)
	}
	if changed {
		b.logger.Info("user unblocked", "user_id", id, "status", u.Status)
	}

	b.notifyOwner(ctx, fmt.Sprintf("%s is unblocked.", describeUser(u)), nil)
	return nil
}

// List returns a restartable sequence over the blocked users. Each
// range re-reads the store, so the view is current at iteration time.
func (b *Blacklist) List(ctx context.Context) iter.Seq[userstate.User] {
	return func(yield func(userstate.User) bool) {
		users, err := b.store.ListBlocked(ctx)
		if err != nil {
			b.logger.Warn("list blocked users failed", "error", err)
			return
		}
		for _, u := range users {
			if !yield(u) {
				return
			}
		}
	}
}

func (b *Blacklist) notifyOwner(ctx context.Context, text string, markup *telegram.InlineKeyboardMarkup) {
	if _, err := b.tg.SendMarkdownV2(ctx, b.ownerID, text, markup); err != nil {
		b.logger.Warn("owner notification failed", "error", err)
	}
}
