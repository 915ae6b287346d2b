package botrt

import (
	"context"
	"errors"

	"github.com/Vico-7/Telegram-chat-bot/internal/telegram"
	"github.com/Vico-7/Telegram-chat-bot/verify"
)

func (rt *runtime) handleCallback(ctx context.Context, cq *telegram.CallbackQuery) {
	if cq.From == nil {
		return
	}
	cb, ok := telegram.ParseCallback(cq.Data)
	if !ok {
		rt.logger.Info("unknown callback data", "from", cq.From.ID, "data", cq.Data)
		rt.answer(ctx, cq.ID, "")
		return
	}

	if cb.Action == telegram.CallbackVerify {
		rt.handleVerifyCallback(ctx, cq, cb)
		return
	}

	// Everything else is owner-only.
	if cq.From.ID != rt.opts.OwnerID {
		rt.logger.Info("non-owner pressed admin button", "from", cq.From.ID, "action", cb.Action)
		rt.answer(ctx, cq.ID, "")
		return
	}
	rt.handleOwnerCallback(ctx, cq, cb)
}

func (rt *runtime) handleVerifyCallback(ctx context.Context, cq *telegram.CallbackQuery, cb telegram.Callback) {
	if cq.From.ID != cb.UserID {
		// A forwarded or replayed button from someone else's
		// challenge.
		rt.logger.Info("verify callback from wrong user", "from", cq.From.ID, "subject", cb.UserID)
		rt.answer(ctx, cq.ID, "This challenge is not yours.")
		return
	}
	var messageID int64
	if cq.Message != nil {
		messageID = cq.Message.MessageID
	}
	err := rt.engine.SubmitAnswer(ctx, cb.UserID, messageID, cb.Answer)
	switch {
	case err == nil:
		rt.answer(ctx, cq.ID, "")
	case errors.Is(err, verify.ErrNoChallenge), errors.Is(err, verify.ErrStaleChallenge):
		rt.answer(ctx, cq.ID, "")
	default:
		rt.logger.Warn("submit answer failed", "user_id", cb.UserID, "error", err)
		rt.answer(ctx, cq.ID, "Something went wrong, try again.")
	}
}

func (rt *runtime) handleOwnerCallback(ctx context.Context, cq *telegram.CallbackQuery, cb telegram.Callback) {
	switch cb.Action {
	case telegram.CallbackRequestBan, telegram.CallbackRequestUnban, telegram.CallbackRequestChat:
		rt.beginPending(ctx, cb.Action)

	case telegram.CallbackCancelUserID:
		rt.clearPending()
		rt.editCallbackMessage(ctx, cq, "Cancelled.")

	case telegram.CallbackConfirmBan:
		if err := rt.blacklist.Block(ctx, cb.UserID, "manual block"); err != nil {
			rt.logger.Info("block failed", "user_id", cb.UserID, "error", err)
		}

	case telegram.CallbackCancelBan:
		rt.editCallbackMessage(ctx, cq, "Cancelled.")

	case telegram.CallbackUnban:
		if err := rt.blacklist.Unblock(ctx, cb.UserID); err != nil {
			rt.logger.Info("unblock failed", "user_id", cb.UserID, "error", err)
		}

	case telegram.CallbackSwitch:
		if err := rt.router.SetTarget(ctx, cb.UserID); err != nil {
			rt.logger.Info("set target failed", "user_id", cb.UserID, "error", err)
		}

	case telegram.CallbackList:
		rt.sendRecentVerified(ctx)

	case telegram.CallbackBlacklist:
		rt.sendBlacklist(ctx)

	case telegram.CallbackStatus:
		rt.sendStatus(ctx)

	case telegram.CallbackCount:
		rt.sendCount(ctx)

	case telegram.CallbackClean:
		rt.sendCleanConfirm(ctx)

	case telegram.CallbackConfirmClean:
		if err := rt.store.Reset(ctx); err != nil {
			rt.logger.Warn("store reset failed", "error", err)
			rt.answer(ctx, cq.ID, "Reset failed.")
			return
		}
		rt.resetWorkers()
		rt.logger.Info("store reset by owner")
		rt.editCallbackMessage(ctx, cq, "All user data erased.")

	case telegram.CallbackCancelClean:
		rt.editCallbackMessage(ctx, cq, "Cancelled.")

	case telegram.CallbackResetChat:
		if err := rt.router.ClearTarget(ctx); err != nil {
			rt.logger.Warn("clear target failed", "error", err)
		} else {
			rt.sendTo(ctx, rt.opts.OwnerID, "Conversation target cleared.")
		}
	}
	rt.answer(ctx, cq.ID, "")
}

func (rt *runtime) answer(ctx context.Context, callbackID, text string) {
	if err := rt.tg.AnswerCallbackQuery(ctx, callbackID, text, false); err != nil {
		rt.logger.Warn("answerCallbackQuery failed", "error", err)
	}
}

func (rt *runtime) editCallbackMessage(ctx context.Context, cq *telegram.CallbackQuery, text string) {
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	err := rt.tg.EditMessageText(ctx, telegram.EditMessageParams{
		ChatID:    cq.Message.Chat.ID,
		MessageID: cq.Message.MessageID,
		Text:      text,
	})
	if err != nil {
		rt.logger.Warn("edit callback message failed", "error", err)
	}
}
