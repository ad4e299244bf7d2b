// Package chat serializes reply generation per channel and keeps a short,
// expiring conversation history for each channel.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"meme_bot/internal/metrics"
	"meme_bot/internal/model"
	"meme_bot/internal/storage"
)

const (
	DefaultHistoryLimit = 20
	DefaultHistoryTTL   = 60 * time.Second
	DefaultTimeout      = 10 * time.Second
	DefaultSystemPrompt = "You are a friendly, witty member of a group chat. Keep replies short and casual. " +
		"Messages from people are prefixed with their name."

	// Apology is sent when a reply could not be generated.
	Apology = "Sorry, I can't chat right now. Try again in a bit."

	defaultBotName = "bot"
)

// Generator produces a reply to a conversation.
type Generator interface {
	Generate(ctx context.Context, system string, turns []model.Turn) (string, error)
}

// Replier sends output back to the channel a message came from.
type Replier interface {
	Reply(ctx context.Context, msg model.Inbound, text string) error
	Typing(ctx context.Context, msg model.Inbound) error
}

// Store is the subset of storage.Storage the queue needs.
type Store interface {
	GetHistory(ctx context.Context, tenantID, channelID string) ([]model.Turn, error)
	SaveHistory(ctx context.Context, tenantID, channelID string, turns []model.Turn, ttl time.Duration) error
	SetAIChannel(ctx context.Context, tenantID, channelID string) error
	GetAIChannel(ctx context.Context, tenantID string) (string, error)
	ClearAIChannel(ctx context.Context, tenantID string) error
}

// Config configures a Queue. Zero values select the defaults.
type Config struct {
	SystemPrompt string
	HistoryLimit int
	HistoryTTL   time.Duration
	Timeout      time.Duration
	BotName      string
}

type task struct {
	ctx  context.Context
	msg  model.Inbound
	turn model.Turn
}

// channel is the per-channel queue state. pending and processing are guarded
// by Queue.mu; historyMu serializes history read-modify-write and guards seq.
type channel struct {
	pending    []task
	processing bool
	historyMu  sync.Mutex
	seq        int64
}

// Queue owns the per-channel registry and runs at most one generation call
// per channel at a time.
type Queue struct {
	store   Store
	gen     Generator
	replier Replier
	cfg     Config
	metrics *metrics.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	channels map[string]*channel
	wg       sync.WaitGroup
}

// New creates a Queue.
func New(store Store, gen Generator, replier Replier, cfg Config, m *metrics.Metrics, log *slog.Logger) *Queue {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = DefaultHistoryTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BotName == "" {
		cfg.BotName = defaultBotName
	}
	return &Queue{
		store:    store,
		gen:      gen,
		replier:  replier,
		cfg:      cfg,
		metrics:  m,
		log:      log,
		channels: make(map[string]*channel),
	}
}

// Handle records an inbound message and queues a reply for it if the bot
// should engage. It reports whether the message was queued.
func (q *Queue) Handle(ctx context.Context, msg model.Inbound) (bool, error) {
	if strings.TrimSpace(msg.Text) == "" {
		return false, nil
	}
	engaged, err := q.engaged(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("check engagement: %w", err)
	}
	if !engaged {
		return false, nil
	}

	ch := q.channel(msg)
	turn, err := q.recordUserTurn(ctx, ch, msg)
	if err != nil {
		q.log.Warn("save user turn", "tenant_id", msg.TenantID, "channel_id", msg.ChannelID, "error", err)
	}

	q.enqueue(ch, task{ctx: context.WithoutCancel(ctx), msg: msg, turn: turn})
	return true, nil
}

// recordUserTurn numbers the message after everything already in the channel
// and appends it to history. The turn is returned even if saving fails.
func (q *Queue) recordUserTurn(ctx context.Context, ch *channel, msg model.Inbound) (model.Turn, error) {
	ch.historyMu.Lock()
	defer ch.historyMu.Unlock()

	turns, err := q.store.GetHistory(ctx, msg.TenantID, msg.ChannelID)
	ch.seq = max(ch.seq, lastSeq(turns)) + 1
	turn := model.Turn{ID: msg.MessageID, Seq: ch.seq, Role: model.RoleUser, Speaker: msg.Speaker, Text: msg.Text}
	if err != nil {
		return turn, err
	}
	turns = trimHistory(append(turns, turn), q.cfg.HistoryLimit)
	return turn, q.store.SaveHistory(ctx, msg.TenantID, msg.ChannelID, turns, q.cfg.HistoryTTL)
}

func (q *Queue) engaged(ctx context.Context, msg model.Inbound) (bool, error) {
	if msg.MentionsBot || msg.RepliesToBot {
		return true, nil
	}
	aiChannel, err := q.store.GetAIChannel(ctx, msg.TenantID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return aiChannel == msg.ChannelID, nil
}

func (q *Queue) channel(msg model.Inbound) *channel {
	key := msg.TenantID + "/" + msg.ChannelID
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.channels[key]
	if !ok {
		ch = &channel{}
		q.channels[key] = ch
	}
	return ch
}

// enqueue appends t and starts a runner unless one is already active.
func (q *Queue) enqueue(ch *channel, t task) {
	q.mu.Lock()
	ch.pending = append(ch.pending, t)
	start := !ch.processing
	ch.processing = true
	q.mu.Unlock()

	q.metrics.Queued(1)
	if start {
		q.wg.Go(func() { q.run(ch) })
	}
}

// run drains the channel queue. The processing flag is cleared under the same
// lock that observes the empty queue, so no task is left behind.
func (q *Queue) run(ch *channel) {
	for {
		q.mu.Lock()
		if len(ch.pending) == 0 {
			ch.processing = false
			q.mu.Unlock()
			return
		}
		t := ch.pending[0]
		ch.pending = ch.pending[1:]
		q.mu.Unlock()

		q.metrics.Queued(-1)
		q.process(ch, t)
	}
}

func (q *Queue) process(ch *channel, t task) {
	msg := t.msg
	log := q.log.With("tenant_id", msg.TenantID, "channel_id", msg.ChannelID, "message_id", msg.MessageID)

	history, err := q.store.GetHistory(t.ctx, msg.TenantID, msg.ChannelID)
	if err != nil {
		log.Warn("load history", "error", err)
	}
	turns := requestTurns(history, t.turn)

	if err := q.replier.Typing(t.ctx, msg); err != nil {
		log.Debug("send typing", "error", err)
	}

	start := time.Now()
	genCtx, cancel := context.WithTimeout(t.ctx, q.cfg.Timeout)
	reply, err := q.gen.Generate(genCtx, q.cfg.SystemPrompt, turns)
	cancel()
	if err != nil {
		q.metrics.Reply("failed", time.Since(start))
		log.Warn("generate reply", "error", fmt.Errorf("%w: %w", model.ErrGenerationFailed, err))
		if err := q.replier.Reply(t.ctx, msg, Apology); err != nil {
			log.Error("send apology", "error", err)
		}
		return
	}
	q.metrics.Reply("ok", time.Since(start))

	if err := q.replier.Reply(t.ctx, msg, reply); err != nil {
		log.Error("send reply", "error", err)
		return
	}

	answer := model.Turn{Seq: t.turn.Seq, Role: model.RoleAssistant, Speaker: q.cfg.BotName, Text: reply}
	err = q.updateHistory(t.ctx, ch, msg, func(turns []model.Turn) []model.Turn {
		return insertTurn(turns, answer)
	})
	if err != nil {
		log.Warn("save reply turn", "error", err)
	}
}

func (q *Queue) updateHistory(ctx context.Context, ch *channel, msg model.Inbound, fn func([]model.Turn) []model.Turn) error {
	ch.historyMu.Lock()
	defer ch.historyMu.Unlock()

	turns, err := q.store.GetHistory(ctx, msg.TenantID, msg.ChannelID)
	if err != nil {
		return err
	}
	turns = trimHistory(fn(turns), q.cfg.HistoryLimit)
	return q.store.SaveHistory(ctx, msg.TenantID, msg.ChannelID, turns, q.cfg.HistoryTTL)
}

// requestTurns returns the history a reply to user may see: every turn up to
// and including user, oldest first. Later messages are left out. If user was
// trimmed or expired it is appended to what preceded it.
func requestTurns(history []model.Turn, user model.Turn) []model.Turn {
	out := make([]model.Turn, 0, len(history)+1)
	found := false
	for _, t := range history {
		if t.Seq > user.Seq {
			continue
		}
		if t.Role == model.RoleUser && t.Seq == user.Seq {
			found = true
		}
		out = append(out, t)
	}
	if !found {
		out = append(out, user)
	}
	return out
}

// insertTurn places turn after every turn with the same or a lower Seq.
func insertTurn(turns []model.Turn, turn model.Turn) []model.Turn {
	i := slices.IndexFunc(turns, func(t model.Turn) bool { return t.Seq > turn.Seq })
	if i < 0 {
		return append(turns, turn)
	}
	return slices.Insert(turns, i, turn)
}

func lastSeq(turns []model.Turn) int64 {
	var n int64
	for _, t := range turns {
		n = max(n, t.Seq)
	}
	return n
}

// trimHistory keeps the most recent limit turns.
func trimHistory(turns []model.Turn, limit int) []model.Turn {
	if limit <= 0 || len(turns) <= limit {
		return turns
	}
	return slices.Clone(turns[len(turns)-limit:])
}

// Wait blocks until every active runner has drained its queue.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// SetAIChannel makes the bot answer every message in channelID.
func (q *Queue) SetAIChannel(ctx context.Context, tenantID, channelID string) error {
	if err := q.store.SetAIChannel(ctx, tenantID, channelID); err != nil {
		return fmt.Errorf("set ai channel: %w", err)
	}
	return nil
}

// ClearAIChannel stops unconditional replies for a tenant.
func (q *Queue) ClearAIChannel(ctx context.Context, tenantID string) error {
	if err := q.store.ClearAIChannel(ctx, tenantID); err != nil {
		return fmt.Errorf("clear ai channel: %w", err)
	}
	return nil
}

// AIChannel returns the AI channel of a tenant and whether one is set.
func (q *Queue) AIChannel(ctx context.Context, tenantID string) (string, bool, error) {
	channelID, err := q.store.GetAIChannel(ctx, tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get ai channel: %w", err)
	}
	return channelID, true, nil
}
