package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"meme_bot/internal/model"
)

const (
	cmdAutoMeme = "automeme"
	cmdAIChat   = "aichat"

	searchTimeout = 30 * time.Second
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID)
	case "help":
		b.handleHelp(ctx, chatID)
	case "ping":
		b.reply(ctx, chatID, "pong")
	case string(model.CategoryMeme), string(model.CategoryJoke), string(model.CategoryDadJoke), string(model.CategoryLore):
		b.handleContent(ctx, chatID, model.Category(cmd))
	case cmdAutoMeme:
		if !b.cfg.IsUserAllowed(msg.From.ID) {
			b.reply(ctx, chatID, "Access denied.")
			return
		}
		b.handleAutoPost(ctx, chatID, args)
	case cmdAIChat:
		if !b.cfg.IsUserAllowed(msg.From.ID) {
			b.reply(ctx, chatID, "Access denied.")
			return
		}
		b.handleAIChat(ctx, chatID, args)
	case "search":
		b.handleSearch(ctx, msg, args)
	default:
		b.reply(ctx, chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	b.reply(ctx, chatID, `Hi! I bring memes, jokes and internet lore on demand.

Quick start:
1. /meme - get a fresh meme
2. /automeme set 60 - post a meme here every hour
3. Mention me or reply to my messages to chat

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(ctx context.Context, chatID int64) {
	b.reply(ctx, chatID, `Content:
/meme - random meme
/joke - random joke
/dadjoke - random dad joke
/lore - a story from Reddit

Auto-post:
/automeme set <min> [destination] [category] - post every <min> minutes (5-1440)
/automeme disable - stop auto-posting
/automeme status - show the schedule

AI chat:
/aichat set - reply to every message in this chat
/aichat disable - reply only when mentioned
/aichat status - show the setting
/search <question> - answer with web search

/ping - check that the bot is alive`)
}

func (b *Bot) handleContent(ctx context.Context, chatID int64, category model.Category) {
	item, err := b.content.Pop(ctx, category)
	if errors.Is(err, model.ErrPoolExhausted) {
		b.reply(ctx, chatID, fmt.Sprintf("No %s available right now, try again in a minute.", category))
		return
	}
	if err != nil {
		b.log.Error("pop content", "category", category, "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "Something went wrong, try again later.")
		return
	}

	if err := b.send(ctx, itemMessage(tgbotapi.BaseChat{ChatID: chatID}, item, true)); err != nil {
		b.log.Error("send item", "category", category, "chat_id", chatID, "error", err)
		if item.ImageURL != "" {
			b.reply(ctx, chatID, FormatItem(item))
		}
	}
}

func (b *Bot) handleAutoPost(ctx context.Context, chatID int64, raw string) {
	if b.svc.AutoPost == nil {
		b.reply(ctx, chatID, "Auto-post is not available.")
		return
	}
	args, err := ParseAutoPostArgs(raw)
	if err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	tenant := tenantOf(chatID)

	switch args.Verb {
	case verbSet:
		dest := args.Destination
		if dest == "" {
			dest = tenant
		}
		sched, err := b.svc.AutoPost.Enable(ctx, tenant, dest, args.Minutes, args.Category)
		if err != nil {
			b.log.Error("enable auto-post", "chat_id", chatID, "error", err)
			b.reply(ctx, chatID, "Failed to save the schedule, try again later.")
			return
		}
		b.reply(ctx, chatID, fmt.Sprintf("Auto-post enabled: a %s every %d min to %s. First post in about a minute.",
			sched.Category, sched.IntervalMinutes, sched.ChannelID))
	case verbDisable:
		if err := b.svc.AutoPost.Disable(ctx, tenant); err != nil {
			b.log.Error("disable auto-post", "chat_id", chatID, "error", err)
			b.reply(ctx, chatID, "Failed to disable auto-post, try again later.")
			return
		}
		b.reply(ctx, chatID, "Auto-post disabled.")
	case verbStatus:
		sched, ok, err := b.svc.AutoPost.Status(ctx, tenant)
		if err != nil {
			b.log.Error("auto-post status", "chat_id", chatID, "error", err)
			b.reply(ctx, chatID, "Failed to load the schedule, try again later.")
			return
		}
		if !ok {
			b.reply(ctx, chatID, "Auto-post is off. Use /automeme set <minutes> to turn it on.")
			return
		}
		msg := textMessage(tgbotapi.BaseChat{ChatID: chatID}, FormatSchedule(sched, time.Now()),
			tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Disable", cbAutoPostOff+":"+tenant),
			)))
		if err := b.send(ctx, msg); err != nil {
			b.log.Error("send status", "chat_id", chatID, "error", err)
		}
	}
}

func (b *Bot) handleAIChat(ctx context.Context, chatID int64, raw string) {
	conv := b.svc.Conversations
	if conv == nil {
		b.reply(ctx, chatID, "AI chat is disabled on this bot.")
		return
	}
	verb, err := ParseVerb(raw)
	if err != nil {
		b.reply(ctx, chatID, "Usage: /aichat set | disable | status")
		return
	}
	tenant := tenantOf(chatID)

	switch verb {
	case verbSet:
		if err := conv.SetAIChannel(ctx, tenant, tenant); err != nil {
			b.log.Error("set ai channel", "chat_id", chatID, "error", err)
			b.reply(ctx, chatID, "Failed to save the setting, try again later.")
			return
		}
		b.reply(ctx, chatID, "AI chat on: I'll reply to every message in this chat.")
	case verbDisable:
		if err := conv.ClearAIChannel(ctx, tenant); err != nil {
			b.log.Error("clear ai channel", "chat_id", chatID, "error", err)
			b.reply(ctx, chatID, "Failed to save the setting, try again later.")
			return
		}
		b.reply(ctx, chatID, "AI chat off. Mention me or reply to my messages to talk.")
	case verbStatus:
		channel, ok, err := conv.AIChannel(ctx, tenant)
		if err != nil {
			b.log.Error("get ai channel", "chat_id", chatID, "error", err)
			b.reply(ctx, chatID, "Failed to load the setting, try again later.")
			return
		}
		if ok && channel == tenant {
			b.reply(ctx, chatID, "AI chat is on for this chat.")
			return
		}
		b.reply(ctx, chatID, "AI chat is off. I only reply when mentioned.")
	}
}

func (b *Bot) handleSearch(ctx context.Context, msg *tgbotapi.Message, question string) {
	chatID := msg.Chat.ID
	if b.svc.Search == nil {
		b.reply(ctx, chatID, "Search is disabled on this bot.")
		return
	}
	if question == "" {
		b.reply(ctx, chatID, "Usage: /search <question>")
		return
	}

	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.log.Debug("send typing", "chat_id", chatID, "error", err)
	}

	sctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()
	answer, err := b.svc.Search.Answer(sctx, question)
	if err != nil {
		b.log.Warn("search", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "Search failed, try again later.")
		return
	}

	reply := tgbotapi.NewMessage(chatID, truncate(answer, maxMessageLen))
	reply.ReplyToMessageID = msg.MessageID
	reply.DisableWebPagePreview = true
	if err := b.send(ctx, reply); err != nil {
		b.log.Error("send search answer", "chat_id", chatID, "error", err)
	}
}
