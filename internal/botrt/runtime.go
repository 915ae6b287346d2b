// Package botrt wires the store, verification engine, and relay router
// into a running bot: it receives updates (long poll or webhook),
// classifies them, and fans them out to per-user workers.
package botrt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Vico-7/Telegram-chat-bot/captcha"
	"github.com/Vico-7/Telegram-chat-bot/internal/metrics"
	"github.com/Vico-7/Telegram-chat-bot/internal/retryutil"
	"github.com/Vico-7/Telegram-chat-bot/internal/statepaths"
	"github.com/Vico-7/Telegram-chat-bot/internal/telegram"
	"github.com/Vico-7/Telegram-chat-bot/relay"
	"github.com/Vico-7/Telegram-chat-bot/userstate"
	"github.com/Vico-7/Telegram-chat-bot/verify"
)

type runtime struct {
	opts      Options
	tg        *telegram.Client
	store     userstate.Store
	engine    *verify.Engine
	router    *relay.Router
	blacklist *relay.Blacklist
	logger    *slog.Logger
	botUser   *telegram.User

	workersCtx context.Context
	sem        chan struct{}

	mu      sync.Mutex
	workers map[int64]*userWorker

	// One interactive owner operation at a time: an admin button that
	// needs a user id parks its action here until the owner replies.
	pendingMu     sync.Mutex
	pendingAction string
}

// Run starts the bot and blocks until ctx is canceled or the receive
// loop fails.
func Run(ctx context.Context, logger *slog.Logger, opts Options) error {
	opts, err := normalizeOptions(opts)
	if err != nil {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	tg := telegram.NewClient(telegram.ClientOptions{
		BaseURL:           opts.APIBase,
		Token:             opts.BotToken,
		RequestsPerSecond: opts.RequestsPerSecond,
		Logger:            logger,
	})

	engine := verify.NewEngine(verify.Options{
		Store:       store,
		Generator:   captcha.New(opts.VerifySeed, captcha.DifficultyMedium),
		Transport:   tg,
		Logger:      logger,
		OwnerID:     opts.OwnerID,
		MaxAttempts: opts.VerifyMaxAttempts,
	})
	router := relay.NewRouter(relay.RouterOptions{
		Store:     store,
		Transport: tg,
		Engine:    engine,
		Logger:    logger,
		OwnerID:   opts.OwnerID,
	})
	blacklist := relay.NewBlacklist(relay.BlacklistOptions{
		Store:     store,
		Transport: tg,
		Logger:    logger,
		OwnerID:   opts.OwnerID,
	})

	rt := &runtime{
		opts:       opts,
		tg:         tg,
		store:      store,
		engine:     engine,
		router:     router,
		blacklist:  blacklist,
		logger:     logger,
		workersCtx: ctx,
		sem:        make(chan struct{}, opts.MaxConcurrency),
		workers:    map[int64]*userWorker{},
	}

	botUser, err := rt.getMeWithRetry(ctx)
	if err != nil {
		return err
	}
	rt.botUser = botUser
	logger.Info("bot identified", "bot_id", botUser.ID, "username", botUser.Username)

	if err := tg.SetMyCommands(ctx, ownerCommands()); err != nil {
		logger.Warn("setMyCommands failed", "error", err)
		retryutil.Async(logger, "setMyCommands", 0, 0, func(ctx context.Context) error {
			return tg.SetMyCommands(ctx, ownerCommands())
		})
	}

	if opts.MetricsListen != "" {
		go func() {
			if err := metrics.Serve(ctx, opts.MetricsListen); err != nil {
				logger.Warn("metrics server failed", "error", err)
			}
		}()
	}

	switch opts.Mode {
	case ModeWebhook:
		return rt.runWebhook(ctx)
	default:
		return rt.runPoll(ctx)
	}
}

func openStore(ctx context.Context, opts Options) (userstate.Store, error) {
	switch opts.StoreBackend {
	case StoreBackendPebble:
		dir := opts.PebbleDir
		if dir == "" {
			dir = statepaths.PebbleDir()
		}
		return userstate.OpenPebbleStore(dir)
	default:
		dir := opts.StateDir
		if dir == "" {
			dir = statepaths.StateDir()
		}
		store := userstate.NewFileStore(dir)
		if err := store.Ensure(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
}

func (rt *runtime) getMeWithRetry(ctx context.Context) (*telegram.User, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, rt.opts.RequestTimeout)
		u, err := rt.tg.GetMe(reqCtx)
		cancel()
		if err == nil {
			return u, nil
		}
		lastErr = err
		rt.logger.Warn("getMe failed", "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}
	return nil, fmt.Errorf("getMe: %w", lastErr)
}

func (rt *runtime) runPoll(ctx context.Context) error {
	rt.logger.Info("long polling for updates", "timeout", rt.opts.PollTimeout)
	// A stale webhook blocks getUpdates.
	if err := rt.tg.DeleteWebhook(ctx, false); err != nil {
		rt.logger.Warn("deleteWebhook failed", "error", err)
	}

	var offset int64
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		updates, next, err := rt.tg.GetUpdates(ctx, offset, rt.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if telegram.IsPollTimeoutError(err) {
				continue
			}
			rt.logger.Warn("getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}
		offset = next
		for _, update := range updates {
			rt.dispatch(ctx, update)
		}
	}
}

func (rt *runtime) runWebhook(ctx context.Context) error {
	if err := rt.tg.SetWebhook(ctx, rt.opts.WebhookURL, rt.opts.WebhookSecret); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.tg.DeleteWebhook(cleanupCtx, false); err != nil {
			rt.logger.Warn("deleteWebhook on shutdown failed", "error", err)
		}
	}()

	srv := telegram.NewWebhookServer(telegram.WebhookOptions{
		Addr:   rt.opts.WebhookListen,
		Path:   rt.opts.WebhookPath,
		Secret: rt.opts.WebhookSecret,
		Logger: rt.logger,
		Handler: func(update telegram.Update) {
			rt.dispatch(ctx, update)
		},
	})
	rt.logger.Info("webhook server listening", "addr", rt.opts.WebhookListen, "path", rt.opts.WebhookPath)
	return srv.Serve(ctx)
}

// dispatch classifies an update and hands it to the sender's worker.
func (rt *runtime) dispatch(ctx context.Context, update telegram.Update) {
	var senderID int64
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		metrics.UpdatesTotal.WithLabelValues("callback").Inc()
		senderID = update.CallbackQuery.From.ID
	case update.Message != nil && update.Message.From != nil:
		metrics.UpdatesTotal.WithLabelValues("message").Inc()
		senderID = update.Message.From.ID
	default:
		metrics.UpdatesTotal.WithLabelValues("other").Inc()
		return
	}

	rt.mu.Lock()
	w, ok := rt.workers[senderID]
	if !ok {
		w = startUserWorker(rt.workersCtx, rt.sem, rt.handle)
		rt.workers[senderID] = w
	}
	rt.mu.Unlock()

	if err := w.enqueue(ctx, rt.workersCtx, update); err != nil {
		rt.logger.Warn("enqueue update failed", "sender_id", senderID, "error", err)
	}
}

// resetWorkers stops and forgets every per-user worker except the
// owner's, which is busy running the command that asked for the reset.
// The next update from a sender starts a fresh worker.
func (rt *runtime) resetWorkers() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for id, w := range rt.workers {
		if id == rt.opts.OwnerID {
			continue
		}
		w.stop()
		delete(rt.workers, id)
	}
}

// handle runs inside a per-user worker.
func (rt *runtime) handle(ctx context.Context, update telegram.Update) {
	reqCtx, cancel := context.WithTimeout(ctx, rt.opts.RequestTimeout)
	defer cancel()

	if update.CallbackQuery != nil {
		rt.handleCallback(reqCtx, update.CallbackQuery)
		return
	}
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	if msg.From.IsBot {
		return
	}
	if msg.Chat.Type != "" && msg.Chat.Type != "private" {
		// Group traffic is out of scope for a DM relay.
		return
	}

	if msg.From.ID == rt.opts.OwnerID {
		rt.handleOwnerMessage(reqCtx, *msg)
		return
	}
	rt.handleUserMessage(reqCtx, *msg)
}

func (rt *runtime) handleUserMessage(ctx context.Context, msg telegram.Message) {
	if command(msg.Text) == "start" {
		u, err := rt.router.EnsureUser(ctx, msg.From)
		if err != nil {
			rt.logger.Warn("register user failed", "user_id", msg.From.ID, "error", err)
			return
		}
		if u.Blocked {
			return
		}
		verified, err := rt.engine.EffectivelyVerified(ctx, u)
		if err != nil {
			rt.logger.Warn("verification lookup failed", "user_id", u.ID, "error", err)
			return
		}
		if verified {
			rt.sendTo(ctx, u.ID, "You are verified. Your messages are delivered directly.")
			return
		}
		if _, err := rt.engine.StartChallenge(ctx, u); err != nil {
			rt.logger.Warn("start challenge failed", "user_id", u.ID, "error", err)
		}
		return
	}

	if err := rt.router.OnUserMessage(ctx, msg); err != nil {
		rt.logger.Warn("user message handling failed", "user_id", msg.From.ID, "error", err)
	}
}

func (rt *runtime) sendTo(ctx context.Context, chatID int64, text string) {
	if _, err := rt.tg.SendMarkdownV2(ctx, chatID, text, nil); err != nil {
		rt.logger.Warn("send failed", "chat_id", chatID, "error", err)
	}
}

func ownerCommands() []telegram.BotCommand {
	return []telegram.BotCommand{
		{Command: "start", Description: "Show the admin panel"},
		{Command: "chat", Description: "Switch the conversation target"},
		{Command: "list", Description: "Recently verified users"},
		{Command: "ban", Description: "Block a user"},
		{Command: "unban", Description: "Unblock a user"},
		{Command: "blacklist", Description: "Show blocked users"},
		{Command: "status", Description: "Bot status"},
		{Command: "count", Description: "User statistics"},
		{Command: "verify", Description: "Toggle verification on or off"},
		{Command: "difficulty", Description: "Set challenge difficulty 1-3"},
		{Command: "clean", Description: "Erase all stored users"},
	}
}
