package telegram

import (
	"context"
	"strings"
)

// EscapeMarkdownV2 backslash-escapes every character MarkdownV2 treats
// as syntax.
func EscapeMarkdownV2(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) * 2)
	for _, r := range text {
		switch r {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SendMarkdownV2 tries MarkdownV2 as-is, then escaped, then plain text.
// Author-formatted text goes through untouched when it parses; anything
// else still gets delivered.
func (c *Client) SendMarkdownV2(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "(empty)"
	}

	msg, err := c.SendMessage(ctx, SendMessageParams{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "MarkdownV2",
		DisableWebPagePreview: true,
		ReplyMarkup:           markup,
	})
	if err == nil {
		return msg, nil
	}
	if !isMarkdownParseError(err) {
		c.logger.Warn("failed to send with MarkdownV2", "error", err)
		msg, err = c.SendMessage(ctx, SendMessageParams{
			ChatID:                chatID,
			Text:                  EscapeMarkdownV2(text),
			ParseMode:             "MarkdownV2",
			DisableWebPagePreview: true,
			ReplyMarkup:           markup,
		})
		if err == nil {
			return msg, nil
		}
	}

	c.logger.Warn("failed to send with MarkdownV2; fallback to plain text", "error", err)
	return c.SendMessage(ctx, SendMessageParams{
		ChatID:                chatID,
		Text:                  text,
		DisableWebPagePreview: true,
		ReplyMarkup:           markup,
	})
}
