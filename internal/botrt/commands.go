package botrt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Vico-7/Telegram-chat-bot/captcha"
	"github.com/Vico-7/Telegram-chat-bot/internal/telegram"
	"github.com/Vico-7/Telegram-chat-bot/userstate"
)

const recentVerifiedLimit = 3

// command extracts the bot command name from a message text, without
// the leading slash or a @botname suffix. Non-command text returns "".
func command(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name)
}

func commandArg(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func (rt *runtime) handleOwnerMessage(ctx context.Context, msg telegram.Message) {
	cmd := command(msg.Text)
	if cmd == "" {
		// A bare "/" is a typo, not a message for the target.
		if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
			rt.sendTo(ctx, rt.opts.OwnerID, "Unknown command.")
			return
		}
		// A pending admin op captures the next plain owner message
		// as a user id.
		if rt.consumePendingUserID(ctx, msg.Text) {
			return
		}
		if err := rt.router.OnOwnerMessage(ctx, msg); err != nil {
			rt.logger.Info("owner relay", "error", err)
		}
		return
	}

	// Any explicit command abandons a pending id capture.
	rt.clearPending()

	switch cmd {
	case "start":
		rt.sendAdminPanel(ctx)
	case "ban":
		rt.runIDCommand(ctx, msg.Text, telegram.CallbackRequestBan, func(id int64) {
			if err := rt.blacklist.Block(ctx, id, "manual block"); err != nil {
				rt.logger.Info("block failed", "user_id", id, "error", err)
			}
		})
	case "unban":
		rt.runIDCommand(ctx, msg.Text, telegram.CallbackRequestUnban, func(id int64) {
			if err := rt.blacklist.Unblock(ctx, id); err != nil {
				rt.logger.Info("unblock failed", "user_id", id, "error", err)
			}
		})
	case "chat":
		rt.runIDCommand(ctx, msg.Text, telegram.CallbackRequestChat, func(id int64) {
			if err := rt.router.SetTarget(ctx, id); err != nil {
				rt.logger.Info("set target failed", "user_id", id, "error", err)
			}
		})
	case "list":
		rt.sendRecentVerified(ctx)
	case "blacklist":
		rt.sendBlacklist(ctx)
	case "status":
		rt.sendStatus(ctx)
	case "count":
		rt.sendCount(ctx)
	case "verify":
		rt.setVerificationToggle(ctx, commandArg(msg.Text))
	case "difficulty":
		rt.setDifficulty(ctx, commandArg(msg.Text))
	case "clean":
		rt.sendCleanConfirm(ctx)
	default:
		rt.sendTo(ctx, rt.opts.OwnerID, fmt.Sprintf("Unknown command /%s.", cmd))
	}
}

// runIDCommand executes op with the id argument, or starts an
// interactive capture when the argument is missing.
func (rt *runtime) runIDCommand(ctx context.Context, text, action string, op func(int64)) {
	arg := commandArg(text)
	if arg == "" {
		rt.beginPending(ctx, action)
		return
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		rt.sendTo(ctx, rt.opts.OwnerID, fmt.Sprintf("%q is not a numeric user id.", arg))
		return
	}
	op(id)
}

func (rt *runtime) beginPending(ctx context.Context, action string) {
	rt.pendingMu.Lock()
	busy := rt.pendingAction != "" && rt.pendingAction != action
	if !busy {
		rt.pendingAction = action
	}
	rt.pendingMu.Unlock()
	if busy {
		rt.sendTo(ctx, rt.opts.OwnerID, "Finish or cancel the current operation first.")
		return
	}

	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: "Cancel", CallbackData: telegram.CallbackCancelUserID},
	}}}
	if _, err := rt.tg.SendMarkdownV2(ctx, rt.opts.OwnerID, "Reply with the numeric user id.", markup); err != nil {
		rt.logger.Warn("send failed", "error", err)
	}
}

func (rt *runtime) clearPending() {
	rt.pendingMu.Lock()
	rt.pendingAction = ""
	rt.pendingMu.Unlock()
}

// consumePendingUserID feeds an owner reply into the pending admin op.
// It reports whether the message was consumed.
func (rt *runtime) consumePendingUserID(ctx context.Context, text string) bool {
	rt.pendingMu.Lock()
	action := rt.pendingAction
	rt.pendingMu.Unlock()
	if action == "" {
		return false
	}

	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		rt.sendTo(ctx, rt.opts.OwnerID, "That is not a numeric user id. Reply with digits only, or cancel.")
		return true
	}
	rt.clearPending()

	switch action {
	case telegram.CallbackRequestBan:
		if err := rt.blacklist.Block(ctx, id, "manual block"); err != nil {
			rt.logger.Info("block failed", "user_id", id, "error", err)
		}
	case telegram.CallbackRequestUnban:
		if err := rt.blacklist.Unblock(ctx, id); err != nil {
			rt.logger.Info("unblock failed", "user_id", id, "error", err)
		}
	case telegram.CallbackRequestChat:
		if err := rt.router.SetTarget(ctx, id); err != nil {
			rt.logger.Info("set target failed", "user_id", id, "error", err)
		}
	}
	return true
}

func (rt *runtime) sendAdminPanel(ctx context.Context) {
	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{
			{Text: "Ban", CallbackData: telegram.CallbackRequestBan},
			{Text: "Unban", CallbackData: telegram.CallbackRequestUnban},
		},
		{
			{Text: "Chat", CallbackData: telegram.CallbackRequestChat},
			{Text: "Recent", CallbackData: telegram.CallbackList},
		},
		{
			{Text: "Blacklist", CallbackData: telegram.CallbackBlacklist},
			{Text: "Status", CallbackData: telegram.CallbackStatus},
		},
		{
			{Text: "Stats", CallbackData: telegram.CallbackCount},
			{Text: "Clean", CallbackData: telegram.CallbackClean},
		},
	}}
	if _, err := rt.tg.SendMarkdownV2(ctx, rt.opts.OwnerID, "Admin panel", markup); err != nil {
		rt.logger.Warn("send admin panel failed", "error", err)
	}
}

func (rt *runtime) sendStatus(ctx context.Context) {
	settings, err := rt.store.GetSettings(ctx)
	if err != nil {
		rt.logger.Warn("load settings failed", "error", err)
		return
	}
	verification := "off"
	if settings.VerificationEnabled {
		verification = "on"
	}
	target := "none"
	if settings.CurrentTarget != 0 {
		target = strconv.FormatInt(settings.CurrentTarget, 10)
		if u, ok, err := rt.store.GetUser(ctx, settings.CurrentTarget); err == nil && ok {
			target = describe(u)
		}
	}
	text := fmt.Sprintf("Bot: @%s\nVerification: %s\nDifficulty: %d\nTarget: %s",
		rt.botUser.Username, verification, settings.Difficulty, target)

	var markup *telegram.InlineKeyboardMarkup
	if settings.CurrentTarget != 0 {
		markup = &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
			{Text: "Clear target", CallbackData: telegram.CallbackResetChat},
		}}}
	}
	if _, err := rt.tg.SendMarkdownV2(ctx, rt.opts.OwnerID, text, markup); err != nil {
		rt.logger.Warn("send status failed", "error", err)
	}
}

func (rt *runtime) sendCount(ctx context.Context) {
	users, err := rt.store.ListUsers(ctx)
	if err != nil {
		rt.logger.Warn("list users failed", "error", err)
		return
	}
	var blocked, verified, today int
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	for _, u := range users {
		if u.Blocked {
			blocked++
		}
		if u.Status == userstate.StatusVerified {
			verified++
		}
		if !u.RegisteredAt.Before(midnight) {
			today++
		}
	}
	text := fmt.Sprintf("Users: %d\nNew today: %d\nVerified: %d\nBlocked: %d",
		len(users), today, verified, blocked)
	rt.sendTo(ctx, rt.opts.OwnerID, text)
}

func (rt *runtime) sendRecentVerified(ctx context.Context) {
	users, err := rt.store.ListUsers(ctx)
	if err != nil {
		rt.logger.Warn("list users failed", "error", err)
		return
	}
	var recent []userstate.User
	for i := len(users) - 1; i >= 0 && len(recent) < recentVerifiedLimit; i-- {
		u := users[i]
		if u.Status == userstate.StatusVerified && !u.Blocked {
			recent = append(recent, u)
		}
	}
	if len(recent) == 0 {
		rt.sendTo(ctx, rt.opts.OwnerID, "No verified users yet.")
		return
	}

	var b strings.Builder
	b.WriteString("Recently verified:\n")
	rows := make([][]telegram.InlineKeyboardButton, 0, len(recent))
	for _, u := range recent {
		fmt.Fprintf(&b, "%s\n", describe(u))
		rows = append(rows, []telegram.InlineKeyboardButton{{
			Text:         "Chat with " + describe(u),
			CallbackData: telegram.UserCallbackData(telegram.CallbackSwitch, u.ID),
		}})
	}
	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
	if _, err := rt.tg.SendMarkdownV2(ctx, rt.opts.OwnerID, strings.TrimSpace(b.String()), markup); err != nil {
		rt.logger.Warn("send recent verified failed", "error", err)
	}
}

func (rt *runtime) sendBlacklist(ctx context.Context) {
	var b strings.Builder
	var rows [][]telegram.InlineKeyboardButton
	for u := range rt.blacklist.List(ctx) {
		reason := u.BlockReason
		if reason == "" {
			reason = "no reason recorded"
		}
		fmt.Fprintf(&b, "%s: %s\n", describe(u), reason)
		rows = append(rows, []telegram.InlineKeyboardButton{{
			Text:         "Unblock " + describe(u),
			CallbackData: telegram.UserCallbackData(telegram.CallbackUnban, u.ID),
		}})
	}
	if b.Len() == 0 {
		rt.sendTo(ctx, rt.opts.OwnerID, "The blacklist is empty.")
		return
	}
	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
	if _, err := rt.tg.SendMarkdownV2(ctx, rt.opts.OwnerID, strings.TrimSpace(b.String()), markup); err != nil {
		rt.logger.Warn("send blacklist failed", "error", err)
	}
}

func (rt *runtime) setVerificationToggle(ctx context.Context, arg string) {
	var enabled bool
	switch strings.ToLower(arg) {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		rt.sendTo(ctx, rt.opts.OwnerID, "Usage: /verify on|off")
		return
	}
	if _, err := rt.store.UpdateSettings(ctx, func(s userstate.Settings) userstate.Settings {
		s.VerificationEnabled = enabled
		return s
	}); err != nil {
		rt.logger.Warn("save settings failed", "error", err)
		return
	}
	state := "off"
	if enabled {
		state = "on"
	}
	rt.sendTo(ctx, rt.opts.OwnerID, "Verification is now "+state+".")
}

func (rt *runtime) setDifficulty(ctx context.Context, arg string) {
	level, err := strconv.Atoi(arg)
	if err != nil || level < captcha.DifficultyEasy || level > captcha.DifficultyHard {
		rt.sendTo(ctx, rt.opts.OwnerID, "Usage: /difficulty 1|2|3")
		return
	}
	if _, err := rt.store.UpdateSettings(ctx, func(s userstate.Settings) userstate.Settings {
		s.Difficulty = level
		return s
	}); err != nil {
		rt.logger.Warn("save settings failed", "error", err)
		return
	}
	rt.sendTo(ctx, rt.opts.OwnerID, fmt.Sprintf("Difficulty set to %d.", level))
}

func (rt *runtime) sendCleanConfirm(ctx context.Context) {
	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: "Yes, erase everything", CallbackData: telegram.CallbackConfirmClean},
		{Text: "Cancel", CallbackData: telegram.CallbackCancelClean},
	}}}
	text := "This erases every stored user and resets the settings. Continue?"
	if _, err := rt.tg.SendMarkdownV2(ctx, rt.opts.OwnerID, text, markup); err != nil {
		rt.logger.Warn("send clean confirm failed", "error", err)
	}
}

func describe(u userstate.User) string {
	name := u.DisplayName()
	if name == "" {
		return strconv.FormatInt(u.ID, 10)
	}
	return fmt.Sprintf("%s (%d)", name, u.ID)
}
