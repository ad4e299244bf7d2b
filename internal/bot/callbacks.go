package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"meme_bot/internal/model"
)

// Callback data prefixes of inline buttons.
const (
	cbMore        = "more"
	cbAutoPostOff = "autopost_off"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
	if cb.Message == nil || cb.From == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	action, arg, _ := strings.Cut(cb.Data, ":")
	b.log.Info("callback",
		"action", action,
		"arg", arg,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cbMore:
		category, ok := model.ParseCategory(arg)
		if !ok {
			return
		}
		b.handleContent(ctx, chatID, category)
	case cbAutoPostOff:
		if !b.cfg.IsUserAllowed(cb.From.ID) {
			b.reply(ctx, chatID, "Access denied.")
			return
		}
		b.handleAutoPost(ctx, chatID, verbDisable)
	}
}

func tenantOf(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
