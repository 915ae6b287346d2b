// Package relay moves messages between the owner and verified peers,
// and manages the blacklist.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Vico-7/Telegram-chat-bot/internal/metrics"
	"github.com/Vico-7/Telegram-chat-bot/internal/telegram"
	"github.com/Vico-7/Telegram-chat-bot/userstate"
)

// ErrNoTarget means the owner sent a message with no conversation
// target selected.
var ErrNoTarget = errors.New("no conversation target")

// Transport is the slice of the Telegram client the router needs.
type Transport interface {
	SendMarkdownV2(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) (telegram.Message, error)
	ForwardMessage(ctx context.Context, toChatID, fromChatID, messageID int64) (telegram.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// Verifier is the slice of the verification engine the router needs.
type Verifier interface {
	EffectivelyVerified(ctx context.Context, u userstate.User) (bool, error)
	StartChallenge(ctx context.Context, u userstate.User) (userstate.User, error)
}

type Router struct {
	store   userstate.Store
	tg      Transport
	engine  Verifier
	logger  *slog.Logger
	ownerID int64
}

type RouterOptions struct {
	Store     userstate.Store
	Transport Transport
	Engine    Verifier
	Logger    *slog.Logger
	OwnerID   int64
}

func NewRouter(opts RouterOptions) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:   opts.Store,
		tg:      opts.Transport,
		engine:  opts.Engine,
		logger:  logger,
		ownerID: opts.OwnerID,
	}
}

// EnsureUser returns the stored record for a sender, registering a
// fresh unverified one on first contact.
func (r *Router) EnsureUser(ctx context.Context, from *telegram.User) (userstate.User, error) {
	u, ok, err := r.store.GetUser(ctx, from.ID)
	if err != nil {
		return userstate.User{}, err
	}
	if ok {
		return u, nil
	}
	u = userstate.User{
		ID:           from.ID,
		Nickname:     telegram.DisplayName(from),
		Username:     from.Username,
		RegisteredAt: time.Now().UTC(),
		Status:       userstate.StatusUnverified,
	}
	if err := r.store.PutUser(ctx, u); err != nil {
		return userstate.User{}, err
	}
	r.logger.Info("registered new user", "user_id", u.ID, "nickname", u.Nickname)
	return u, nil
}

// OnUserMessage handles a non-owner inbound message. Blocked senders
// are dropped without any reply; unverified senders are pushed into the
// verification flow; verified senders are forwarded to the owner.
func (r *Router) OnUserMessage(ctx context.Context, msg telegram.Message) error {
	if msg.From == nil || msg.Chat == nil {
		return nil
	}
	u, err := r.EnsureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	if u.Blocked {
		metrics.RelayDroppedTotal.WithLabelValues("blocked").Inc()
		r.logger.Info("dropped message from blocked user", "user_id", u.ID)
		return nil
	}

	verified, err := r.engine.EffectivelyVerified(ctx, u)
	if err != nil {
		return err
	}
	if !verified {
		metrics.RelayDroppedTotal.WithLabelValues("unverified").Inc()
		if err := r.tg.DeleteMessage(ctx, msg.Chat.ID, msg.MessageID); err != nil {
			r.logger.Warn("delete unverified message failed", "user_id", u.ID, "error", err)
		}
		if u.Challenge == nil {
			if _, err := r.engine.StartChallenge(ctx, u); err != nil {
				return err
			}
		}
		return nil
	}

	if _, err := r.tg.ForwardMessage(ctx, r.ownerID, msg.Chat.ID, msg.MessageID); err != nil {
		return fmt.Errorf("forward from %d to owner: %w", u.ID, err)
	}
	metrics.RelayForwardedTotal.WithLabelValues("inbound").Inc()

	adopted := false
	if _, err := r.store.UpdateSettings(ctx, func(s userstate.Settings) userstate.Settings {
		if s.CurrentTarget == 0 {
			s.CurrentTarget = u.ID
			adopted = true
		}
		return s
	}); err != nil {
		return err
	}
	if adopted {
		r.logger.Info("adopted conversation target", "user_id", u.ID)
	}
	return nil
}

// OnOwnerMessage relays an owner message to the current target. A
// missing or no-longer-eligible target is reported back to the owner
// instead of failing the worker.
func (r *Router) OnOwnerMessage(ctx context.Context, msg telegram.Message) error {
	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	if settings.CurrentTarget == 0 {
		r.notifyOwner(ctx, "No conversation target. Use /chat <user id> or the Switch button to pick one.")
		return ErrNoTarget
	}

	target, ok, err := r.store.GetUser(ctx, settings.CurrentTarget)
	if err != nil {
		return err
	}
	eligible := ok && !target.Blocked
	if eligible {
		eligible, err = r.engine.EffectivelyVerified(ctx, target)
		if err != nil {
			return err
		}
	}
	if !eligible {
		if err := r.ClearTarget(ctx); err != nil {
			return err
		}
		r.notifyOwner(ctx, fmt.Sprintf("User %d is no longer reachable; target cleared.", settings.CurrentTarget))
		return ErrNoTarget
	}

	if _, err := r.tg.ForwardMessage(ctx, target.ID, msg.Chat.ID, msg.MessageID); err != nil {
		if telegram.IsForbidden(err) {
			// The target blocked the bot; block back and move on.
			r.autoBlock(ctx, target)
			return nil
		}
		r.notifyOwner(ctx, fmt.Sprintf("Delivery to %d failed: %v", target.ID, err))
		return fmt.Errorf("forward to %d: %w", target.ID, err)
	}
	metrics.RelayForwardedTotal.WithLabelValues("outbound").Inc()
	return nil
}

// SetTarget switches the conversation target after checking the user
// exists, is not blocked, and is effectively verified.
func (r *Router) SetTarget(ctx context.Context, id int64) error {
	u, ok, err := r.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		r.notifyOwner(ctx, fmt.Sprintf("User %d is not registered.", id))
		return fmt.Errorf("user %d not found", id)
	}
	if u.Blocked {
		r.notifyOwner(ctx, fmt.Sprintf("User %d is blocked; unblock them first.", id))
		return fmt.Errorf("user %d is blocked", id)
	}
	verified, err := r.engine.EffectivelyVerified(ctx, u)
	if err != nil {
		return err
	}
	if !verified {
		r.notifyOwner(ctx, fmt.Sprintf("User %d has not passed verification yet.", id))
		return fmt.Errorf("user %d not verified", id)
	}

	if _, err := r.store.UpdateSettings(ctx, func(s userstate.Settings) userstate.Settings {
		s.CurrentTarget = id
		return s
	}); err != nil {
		return err
	}
	r.logger.Info("conversation target set", "user_id", id)
	r.notifyOwner(ctx, fmt.Sprintf("Now chatting with %s.", describeUser(u)))
	return nil
}

// ClearTarget drops the current conversation target.
func (r *Router) ClearTarget(ctx context.Context) error {
	had := false
	if _, err := r.store.UpdateSettings(ctx, func(s userstate.Settings) userstate.Settings {
		had = s.CurrentTarget != 0
		s.CurrentTarget = 0
		return s
	}); err != nil {
		return err
	}
	if had {
		r.logger.Info("conversation target cleared")
	}
	return nil
}

func (r *Router) autoBlock(ctx context.Context, u userstate.User) {
	now := time.Now().UTC()
	_, ok, err := r.store.UpdateUser(ctx, u.ID, func(cur userstate.User) userstate.User {
		cur.Blocked = true
		cur.BlockReason = "blocked the bot"
		cur.BlockedAt = &now
		return cur
	})
	if err != nil || !ok {
		r.logger.Warn("auto-block failed", "user_id", u.ID, "error", err)
		return
	}
	if err := r.ClearTarget(ctx); err != nil {
		r.logger.Warn("clear target after auto-block failed", "error", err)
	}
	r.logger.Info("auto-blocked user who blocked the bot", "user_id", u.ID)
	r.notifyOwner(ctx, fmt.Sprintf("%s blocked the bot and was blocked in return.", describeUser(u)))
}

func (r *Router) notifyOwner(ctx context.Context, text string) {
	if _, err := r.tg.SendMarkdownV2(ctx, r.ownerID, text, nil); err != nil {
		r.logger.Warn("owner notification failed", "error", err)
	}
}

func describeUser(u userstate.User) string {
	name := u.DisplayName()
	if name == "" {
		return fmt.Sprintf("User %d", u.ID)
	}
	return fmt.Sprintf("%s (%d)", name, u.ID)
}
