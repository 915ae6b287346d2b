// Package verify runs the human-verification flow: issuing math
// challenges, grading submitted answers, and promoting users to
// verified.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Vico-7/Telegram-chat-bot/captcha"
	"github.com/Vico-7/Telegram-chat-bot/internal/metrics"
	"github.com/Vico-7/Telegram-chat-bot/internal/telegram"
	"github.com/Vico-7/Telegram-chat-bot/userstate"
)

var (
	// ErrNoChallenge means an answer arrived with nothing pending.
	ErrNoChallenge = errors.New("no outstanding challenge")
	// ErrStaleChallenge means the answer came from a superseded
	// challenge message.
	ErrStaleChallenge = errors.New("challenge message is stale")
)

// Transport is the slice of the Telegram client the engine needs.
type Transport interface {
	SendMarkdownV2(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) (telegram.Message, error)
	EditMessageText(ctx context.Context, params telegram.EditMessageParams) error
}

// Engine grades one user at a time per user; the per-user workers
// upstream guarantee that. The generator itself is shared, so it sits
// behind a mutex.
type Engine struct {
	store   userstate.Store
	tg      Transport
	logger  *slog.Logger
	ownerID int64

	// maxAttempts > 0 blocks a user after that many wrong answers;
	// zero means unlimited retries.
	maxAttempts int

	genMu sync.Mutex
	gen   *captcha.Generator
}

type Options struct {
	Store       userstate.Store
	Generator   *captcha.Generator
	Transport   Transport
	Logger      *slog.Logger
	OwnerID     int64
	MaxAttempts int
}

func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gen := opts.Generator
	if gen == nil {
		gen = captcha.New(time.Now().UnixNano(), captcha.DifficultyMedium)
	}
	return &Engine{
		store:       opts.Store,
		tg:          opts.Transport,
		logger:      logger,
		ownerID:     opts.OwnerID,
		maxAttempts: opts.MaxAttempts,
		gen:         gen,
	}
}

// EffectivelyVerified applies the global toggle: with verification off
// everyone passes, but stored statuses stay untouched.
func (e *Engine) EffectivelyVerified(ctx context.Context, u userstate.User) (bool, error) {
	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return false, err
	}
	if !settings.VerificationEnabled {
		return true, nil
	}
	return u.Status == userstate.StatusVerified, nil
}

// StartChallenge issues a new challenge to an unverified or challenged
// user. An existing challenge message is edited in place; otherwise a
// new message is sent and its id recorded. Already-verified users are
// left alone.
func (e *Engine) StartChallenge(ctx context.Context, u userstate.User) (userstate.User, error) {
	if u.Status == userstate.StatusVerified {
		return u, nil
	}
	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return u, err
	}

	prev := ""
	var messageID int64
	if u.Challenge != nil {
		prev = u.Challenge.Question
		messageID = u.Challenge.MessageID
	}
	ch := e.generate(prev, settings.Difficulty)

	text := challengeText(ch)
	markup := challengeKeyboard(u.ID, ch)
	if messageID != 0 {
		err = e.tg.EditMessageText(ctx, telegram.EditMessageParams{
			ChatID:      u.ID,
			MessageID:   messageID,
			Text:        text,
			ReplyMarkup: markup,
		})
		if err != nil {
			// The old message may be gone; fall through to a
			// fresh send.
			e.logger.Warn("edit challenge message failed", "user_id", u.ID, "error", err)
			messageID = 0
		}
	}
	if messageID == 0 {
		msg, err := e.tg.SendMarkdownV2(ctx, u.ID, text, markup)
		if err != nil {
			return u, fmt.Errorf("send challenge to %d: %w", u.ID, err)
		}
		messageID = msg.MessageID
	}

	ch.MessageID = messageID
	updated, ok, err := e.store.UpdateUser(ctx, u.ID, func(cur userstate.User) userstate.User {
		if cur.Challenge == nil {
			// A fresh run starts a fresh attempt counter.
			cur.Attempts = 0
		}
		cur.Status = userstate.StatusChallenged
		cur.Challenge = &ch
		return cur
	})
	if err != nil {
		return u, err
	}
	if !ok {
		u.Status = userstate.StatusChallenged
		u.Challenge = &ch
		u.Attempts = 0
		if err := e.store.PutUser(ctx, u); err != nil {
			return u, err
		}
		updated = u
	}
	metrics.ChallengesTotal.Inc()
	e.logger.Info("challenge issued", "user_id", updated.ID, "kind", ch.Kind)
	return updated, nil
}

// SubmitAnswer grades an answer button press against the user's
// outstanding challenge.
func (e *Engine) SubmitAnswer(ctx context.Context, userID, messageID int64, answer float64) error {
	u, ok, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !ok || u.Challenge == nil {
		e.logger.Info("answer with no outstanding challenge", "user_id", userID)
		e.editPlain(ctx, userID, messageID, "No active verification. Send /start to begin.")
		return ErrNoChallenge
	}
	if u.Challenge.MessageID != messageID {
		e.logger.Info("answer for stale challenge message", "user_id", userID,
			"got_message_id", messageID, "want_message_id", u.Challenge.MessageID)
		e.editPlain(ctx, userID, messageID, "This challenge has expired. Send /start to get a new one.")
		return ErrStaleChallenge
	}

	if captcha.Matches(u.Challenge.Answer, answer) {
		return e.pass(ctx, u, messageID)
	}
	return e.fail(ctx, u, messageID)
}

func (e *Engine) pass(ctx context.Context, u userstate.User, messageID int64) error {
	// A block landing on another worker between the answer read and
	// this write must survive, so only the verification fields change.
	updated, ok, err := e.store.UpdateUser(ctx, u.ID, func(cur userstate.User) userstate.User {
		cur.Status = userstate.StatusVerified
		cur.Challenge = nil
		cur.Attempts = 0
		return cur
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d disappeared during verification", u.ID)
	}
	u = updated
	metrics.VerificationTotal.WithLabelValues("passed").Inc()
	e.logger.Info("verification passed", "user_id", u.ID)

	e.editPlain(ctx, u.ID, messageID, "Verification passed. Your messages will now be delivered.")

	adopted := false
	if !u.Blocked {
		if _, err := e.store.UpdateSettings(ctx, func(s userstate.Settings) userstate.Settings {
			if s.CurrentTarget == 0 {
				s.CurrentTarget = u.ID
				adopted = true
			}
			return s
		}); err != nil {
			return err
		}
	}

	text := fmt.Sprintf("%s passed verification.", describeUser(u))
	if adopted {
		text += "\nThey are now the active conversation target."
	}
	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: "Block", CallbackData: telegram.UserCallbackData(telegram.CallbackConfirmBan, u.ID)},
		{Text: "Switch to them", CallbackData: telegram.UserCallbackData(telegram.CallbackSwitch, u.ID)},
	}}}
	if _, err := e.tg.SendMarkdownV2(ctx, e.ownerID, text, markup); err != nil {
		e.logger.Warn("owner notification failed", "user_id", u.ID, "error", err)
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, u userstate.User, messageID int64) error {
	updated, ok, err := e.store.UpdateUser(ctx, u.ID, func(cur userstate.User) userstate.User {
		cur.Attempts++
		return cur
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d disappeared during verification", u.ID)
	}
	metrics.VerificationTotal.WithLabelValues("failed").Inc()

	if e.maxAttempts > 0 && updated.Attempts >= e.maxAttempts {
		return e.exhaust(ctx, updated, messageID)
	}

	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	ch := e.generate(u.Challenge.Question, settings.Difficulty)
	ch.MessageID = messageID
	u, _, err = e.store.UpdateUser(ctx, u.ID, func(cur userstate.User) userstate.User {
		cur.Challenge = &ch
		return cur
	})
	if err != nil {
		return err
	}
	err = e.tg.EditMessageText(ctx, telegram.EditMessageParams{
		ChatID:      u.ID,
		MessageID:   messageID,
		Text:        "Wrong answer, try again.\n\n" + challengeText(ch),
		ReplyMarkup: challengeKeyboard(u.ID, ch),
	})
	if err != nil {
		e.logger.Warn("edit retry challenge failed", "user_id", u.ID, "error", err)
	}
	e.logger.Info("verification attempt failed", "user_id", u.ID, "attempts", u.Attempts)
	return nil
}

func (e *Engine) exhaust(ctx context.Context, u userstate.User, messageID int64) error {
	now := time.Now().UTC()
	updated, ok, err := e.store.UpdateUser(ctx, u.ID, func(cur userstate.User) userstate.User {
		cur.Blocked = true
		cur.BlockReason = "failed verification"
		cur.BlockedAt = &now
		cur.Challenge = nil
		return cur
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d disappeared during verification", u.ID)
	}
	u = updated
	if _, err := e.store.UpdateSettings(ctx, func(s userstate.Settings) userstate.Settings {
		if s.CurrentTarget == u.ID {
			s.CurrentTarget = 0
		}
		return s
	}); err != nil {
		return err
	}
	metrics.VerificationTotal.WithLabelValues("blocked").Inc()
	e.logger.Info("verification attempts exhausted", "user_id", u.ID, "attempts", u.Attempts)

	e.editPlain(ctx, u.ID, messageID, "Verification failed too many times.")

	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: "Unblock", CallbackData: telegram.UserCallbackData(telegram.CallbackUnban, u.ID)},
	}}}
	text := fmt.Sprintf("%s was blocked after %d failed verification attempts.", describeUser(u), u.Attempts)
	if _, err := e.tg.SendMarkdownV2(ctx, e.ownerID, text, markup); err != nil {
		e.logger.Warn("owner notification failed", "user_id", u.ID, "error", err)
	}
	return nil
}

func (e *Engine) generate(prevQuestion string, difficulty int) captcha.Challenge {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	e.gen.SetDifficulty(difficulty)
	return e.gen.Generate(prevQuestion)
}

func (e *Engine) editPlain(ctx context.Context, chatID, messageID int64, text string) {
	err := e.tg.EditMessageText(ctx, telegram.EditMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	})
	if err != nil {
		e.logger.Warn("edit message failed", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

func challengeText(ch captcha.Challenge) string {
	return fmt.Sprintf("Please verify you are human.\nWhat is the value of %s?\nPick the answer rounded to 2 decimal places.", ch.Question)
}

func challengeKeyboard(userID int64, ch captcha.Challenge) *telegram.InlineKeyboardMarkup {
	row := make([]telegram.InlineKeyboardButton, 0, len(ch.Options))
	for _, opt := range ch.Options {
		row = append(row, telegram.InlineKeyboardButton{
			Text:         fmt.Sprintf("%.2f", opt),
			CallbackData: telegram.VerifyCallbackData(userID, opt),
		})
	}
	rows := make([][]telegram.InlineKeyboardButton, 0, 2)
	for len(row) > 0 {
		n := 2
		if len(row) < n {
			n = len(row)
		}
		rows = append(rows, row[:n])
		row = row[n:]
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func describeUser(u userstate.User) string {
	name := u.DisplayName()
	if name == "" {
		return fmt.Sprintf("User %d", u.ID)
	}
	return fmt.Sprintf("%s (%d)", name, u.ID)
}
