package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"meme_bot/internal/config"
	"meme_bot/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Content hands out cached content items.
type Content interface {
	Pop(ctx context.Context, category model.Category) (model.Item, error)
}

// AutoPoster manages per-chat auto-post schedules.
type AutoPoster interface {
	Enable(ctx context.Context, tenantID, destination string, minutes int, category model.Category) (*model.Schedule, error)
	Disable(ctx context.Context, tenantID string) error
	Status(ctx context.Context, tenantID string) (model.Schedule, bool, error)
}

// Conversations receives chat messages and manages the AI channel setting.
type Conversations interface {
	Handle(ctx context.Context, msg model.Inbound) (bool, error)
	SetAIChannel(ctx context.Context, tenantID, channelID string) error
	ClearAIChannel(ctx context.Context, tenantID string) error
	AIChannel(ctx context.Context, tenantID string) (string, bool, error)
}

// Searcher answers a question using web search.
type Searcher interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Services are the components the bot routes commands and messages to.
// Nil Conversations or Searcher disable the related commands.
type Services struct {
	AutoPost      AutoPoster
	Conversations Conversations
	Search        Searcher
}

// Bot is the Telegram adapter: it serves commands, forwards chat messages
// and delivers content.
type Bot struct {
	api     telegramAPI
	self    tgbotapi.User
	content Content
	svc     Services
	cfg     *config.Config
	limiter *rate.Limiter
	log     *slog.Logger

	wg sync.WaitGroup
}

// New creates a Bot with the given Telegram token and config.
func New(token string, content Content, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info("authorized on telegram", "username", api.Self.UserName)

	return &Bot{
		api:     api,
		self:    api.Self,
		content: content,
		cfg:     cfg,
		limiter: newLimiter(cfg.SendRate),
		log:     log,
	}, nil
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
}

// Attach wires the services. It must be called before Run.
func (b *Bot) Attach(svc Services) {
	b.svc = svc
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled
// and every in-flight update has been handled. Each update is handled on its
// own goroutine so a slow chat does not hold up the others.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Go(func() { b.handleUpdate(ctx, update) })
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if msg.Text != "" {
		b.handleText(ctx, msg)
	}
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	if b.svc.Conversations == nil || msg.From.IsBot {
		return
	}
	in := b.inbound(msg)
	queued, err := b.svc.Conversations.Handle(ctx, in)
	if err != nil {
		b.log.Error("handle message", "chat_id", msg.Chat.ID, "error", err)
		return
	}
	if queued {
		b.log.Debug("message queued", "chat_id", msg.Chat.ID, "message_id", msg.MessageID)
	}
}

// inbound reduces a Telegram message to what the conversation queue needs.
// Private chats always count as addressed to the bot.
func (b *Bot) inbound(msg *tgbotapi.Message) model.Inbound {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	text := msg.Text
	mention := "@" + b.self.UserName
	mentioned := b.self.UserName != "" && strings.Contains(strings.ToLower(text), strings.ToLower(mention))
	if mentioned {
		text = strings.TrimSpace(replaceFold(text, mention, ""))
	}

	replied := msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.ID == b.self.ID

	return model.Inbound{
		TenantID:     chatID,
		ChannelID:    chatID,
		MessageID:    strconv.Itoa(msg.MessageID),
		Speaker:      speakerName(msg.From),
		Text:         text,
		MentionsBot:  mentioned || msg.Chat.IsPrivate(),
		RepliesToBot: replied,
	}
}

func speakerName(u *tgbotapi.User) string {
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.UserName
}

func replaceFold(s, old, repl string) string {
	i := strings.Index(strings.ToLower(s), strings.ToLower(old))
	if i < 0 {
		return s
	}
	return s[:i] + repl + s[i+len(old):]
}

// Deliver sends a content item to a chat id or @channel username.
func (b *Bot) Deliver(ctx context.Context, destination string, item model.Item) error {
	base, err := chatFor(destination)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w: %w", destination, model.ErrDestinationNotFound, err)
	}
	if err := b.send(ctx, itemMessage(base, item, false)); err != nil {
		if item.ImageURL == "" || isDestinationError(err) {
			return classify(destination, err)
		}
		// Telegram could not fetch the image; post the text form instead.
		b.log.Warn("send photo failed, falling back to text", "destination", destination, "error", err)
		if err := b.send(ctx, textMessage(base, FormatItem(item), nil)); err != nil {
			return classify(destination, err)
		}
	}
	return nil
}

// Reply answers an inbound message in its chat.
func (b *Bot) Reply(ctx context.Context, msg model.Inbound, text string) error {
	chatID, err := strconv.ParseInt(msg.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChannelID, err)
	}
	m := tgbotapi.NewMessage(chatID, truncate(text, maxMessageLen))
	m.DisableWebPagePreview = true
	if id, err := strconv.Atoi(msg.MessageID); err == nil {
		m.ReplyToMessageID = id
	}
	if err := b.send(ctx, m); err != nil {
		return classify(msg.ChannelID, err)
	}
	return nil
}

// Typing shows the typing indicator in the message's chat.
func (b *Bot) Typing(_ context.Context, msg model.Inbound) error {
	chatID, err := strconv.ParseInt(msg.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChannelID, err)
	}
	_, err = b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if err := b.send(ctx, msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	b.SendMessage(ctx, chatID, text)
}

// send waits for the outbound rate limiter and sends c.
func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := b.api.Send(c)
	return err
}

// chatFor resolves a destination: numeric ids address chats, anything else
// is a public channel username.
func chatFor(destination string) (tgbotapi.BaseChat, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return tgbotapi.BaseChat{}, errors.New("empty destination")
	}
	if id, err := strconv.ParseInt(destination, 10, 64); err == nil {
		return tgbotapi.BaseChat{ChatID: id}, nil
	}
	if !strings.HasPrefix(destination, "@") {
		destination = "@" + destination
	}
	return tgbotapi.BaseChat{ChannelUsername: destination}, nil
}

func isDestinationError(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == 403 {
		return true
	}
	desc := strings.ToLower(apiErr.Message)
	for _, s := range []string{"chat not found", "bot was kicked", "bot is not a member", "not enough rights", "user is deactivated"} {
		if strings.Contains(desc, s) {
			return true
		}
	}
	return false
}

func classify(destination string, err error) error {
	if isDestinationError(err) {
		return fmt.Errorf("deliver to %s: %w: %w", destination, model.ErrDestinationNotFound, err)
	}
	return fmt.Errorf("deliver to %s: %w: %w", destination, model.ErrDeliveryFailed, err)
}
