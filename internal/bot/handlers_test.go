package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"meme_bot/internal/model"
)

var cmpIgnoreFireAt = cmpopts.IgnoreFields(model.Schedule{}, "NextFireAt")

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

func makeMsg(cmd, args string) *tgbotapi.Message {
	text := "/" + cmd
	if args != "" {
		text += " " + args
	}
	return &tgbotapi.Message{
		MessageID: 10,
		From:      &tgbotapi.User{ID: 1, UserName: "admin"},
		Chat:      &tgbotapi.Chat{ID: 100, Type: "group"},
		Text:      text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
		},
	}
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()

	cmds := []struct {
		cmd      string
		contains string
	}{
		{"start", "/meme"},
		{"help", "/automeme set <min>"},
		{"ping", "pong"},
		{"rss", "Unknown command"},
	}
	for _, tc := range cmds {
		t.Run(tc.cmd, func(t *testing.T) {
			tb := newTestBot(t)
			tb.handleCommand(ctx, makeMsg(tc.cmd, ""))
			requireContains(t, tb.api.lastText(t), tc.contains)
		})
	}
}

func TestHandleContent(t *testing.T) {
	ctx := context.Background()

	t.Run("meme is sent as photo with more button", func(t *testing.T) {
		tb := newTestBot(t)
		tb.content.items[model.CategoryMeme] = []model.Item{
			{Category: model.CategoryMeme, Title: "Cat", ImageURL: "https://i.redd.it/cat.png"},
		}
		tb.handleCommand(ctx, makeMsg("meme", ""))

		photos := tb.api.photos()
		if len(photos) != 1 {
			t.Fatalf("sent %d photos, want 1", len(photos))
		}
		if diff := cmp.Diff("more:meme", callbackData(t, photos[0].ReplyMarkup)); diff != "" {
			t.Errorf("callback data mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("joke is sent as text", func(t *testing.T) {
		tb := newTestBot(t)
		tb.content.items[model.CategoryDadJoke] = []model.Item{
			{Category: model.CategoryDadJoke, Text: "I'm reading a book on anti-gravity.", Punch: "It's impossible to put down."},
		}
		tb.handleCommand(ctx, makeMsg("dadjoke", ""))
		requireContains(t, tb.api.lastText(t), "impossible to put down")
	})

	t.Run("exhausted pool", func(t *testing.T) {
		tb := newTestBot(t)
		tb.handleCommand(ctx, makeMsg("lore", ""))
		requireContains(t, tb.api.lastText(t), "No lore available")
	})

	t.Run("store failure", func(t *testing.T) {
		tb := newTestBot(t)
		tb.content.err = model.ErrStoreUnavailable
		tb.handleCommand(ctx, makeMsg("joke", ""))
		requireContains(t, tb.api.lastText(t), "Something went wrong")
	})

	t.Run("photo failure falls back to text", func(t *testing.T) {
		tb := newTestBot(t)
		tb.content.items[model.CategoryMeme] = []model.Item{
			{Category: model.CategoryMeme, Title: "Cat", ImageURL: "https://i.redd.it/cat.png"},
		}
		tb.api.sendErr = func(c tgbotapi.Chattable) error {
			if _, ok := c.(tgbotapi.PhotoConfig); ok {
				return errors.New("failed to get HTTP URL content")
			}
			return nil
		}
		tb.handleCommand(ctx, makeMsg("meme", ""))
		requireContains(t, tb.api.lastText(t), "Cat")
	})
}

func TestHandleAutoPost(t *testing.T) {
	ctx := context.Background()

	t.Run("set defaults to the current chat", func(t *testing.T) {
		tb := newTestBot(t)
		tb.handleCommand(ctx, makeMsg("automeme", "set 60"))

		want := &model.Schedule{TenantID: "100", ChannelID: "100", Category: model.CategoryMeme, IntervalMinutes: 60}
		if diff := cmp.Diff(want, tb.poster.sched, cmpIgnoreFireAt); diff != "" {
			t.Errorf("schedule mismatch (-want +got):\n%s", diff)
		}
		requireContains(t, tb.api.lastText(t), "every 60 min to 100")
	})

	t.Run("set with destination and category", func(t *testing.T) {
		tb := newTestBot(t)
		tb.handleCommand(ctx, makeMsg("automeme", "set 15 @memes joke"))

		want := &model.Schedule{TenantID: "100", ChannelID: "@memes", Category: model.CategoryJoke, IntervalMinutes: 15}
		if diff := cmp.Diff(want, tb.poster.sched, cmpIgnoreFireAt); diff != "" {
			t.Errorf("schedule mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("out of range interval", func(t *testing.T) {
		tb := newTestBot(t)
		tb.handleCommand(ctx, makeMsg("automeme", "set 2"))
		requireContains(t, tb.api.lastText(t), "between 5 and 1440")
		if tb.poster.sched != nil {
			t.Error("schedule should not be saved")
		}
	})

	t.Run("store failure", func(t *testing.T) {
		tb := newTestBot(t)
		tb.poster.err = model.ErrStoreUnavailable
		tb.handleCommand(ctx, makeMsg("automeme", "set 60"))
		requireContains(t, tb.api.lastText(t), "Failed to save")
	})

	t.Run("disable", func(t *testing.T) {
		tb := newTestBot(t)
		tb.handleCommand(ctx, makeMsg("automeme", "set 60"))
		tb.handleCommand(ctx, makeMsg("automeme", "disable"))

		if diff := cmp.Diff([]string{"100"}, tb.poster.disabled); diff != "" {
			t.Errorf("disabled tenants mismatch (-want +got):\n%s", diff)
		}
		requireContains(t, tb.api.lastText(t), "Auto-post disabled")
	})

	t.Run("status off", func(t *testing.T) {
		tb := newTestBot(t)
		tb.handleCommand(ctx, makeMsg("automeme", "status"))
		requireContains(t, tb.api.lastText(t), "Auto-post is off")
	})

	t.Run("status on has disable button", func(t *testing.T) {
		tb := newTestBot(t)
		tb.handleCommand(ctx, makeMsg("automeme", "set 30 lore"))
		tb.handleCommand(ctx, makeMsg("automeme", "status"))

		msg := tb.api.lastMessage(t)
		requireContains(t, msg.Text, "Category: lore")
		if diff := cmp.Diff("autopost_off:100", callbackData(t, msg.ReplyMarkup)); diff != "" {
			t.Errorf("callback data mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("non admin is rejected", func(t *testing.T) {
		tb := newTestBot(t)
		tb.cfg.AllowedUsers = []int64{7}
		tb.handleCommand(ctx, makeMsg("automeme", "set 60"))
		requireContains(t, tb.api.lastText(t), "Access denied")
		if tb.poster.sched != nil {
			t.Error("schedule should not be saved")
		}
	})
}

func TestHandleAIChat(t *testing.T) {
	ctx := context.Background()

	t.Run("set and status", func(t *testing.T) {
		tb := newTestBot(t)
		tb.handleCommand(ctx, makeMsg("aichat", "set"))
		if diff := cmp.Diff(map[string]string{"100": "100"}, tb.conv.channels); diff != "" {
			t.Errorf("channels mismatch (-want +got):\n%s", diff)
		}
		tb.handleCommand(ctx, makeMsg("aichat", "status"))
		requireContains(t, tb.api.lastText(t), "AI chat is on")
	})

	t.Run("disable", func(t *testing.T) {
		tb := newTestBot(t)
		tb.conv.channels["100"] = "100"
		tb.handleCommand(ctx, makeMsg("aichat", "disable"))
		if len(tb.conv.channels) != 0 {
			t.Errorf("channel not cleared: %v", tb.conv.channels)
		}
		tb.handleCommand(ctx, makeMsg("aichat", "status"))
		requireContains(t, tb.api.lastText(t), "AI chat is off")
	})

	t.Run("bad verb", func(t *testing.T) {
		tb := newTestBot(t)
		tb.handleCommand(ctx, makeMsg("aichat", "maybe"))
		requireContains(t, tb.api.lastText(t), "Usage: /aichat")
	})

	t.Run("disabled without generator", func(t *testing.T) {
		tb := newTestBot(t)
		tb.Attach(Services{AutoPost: tb.poster})
		tb.handleCommand(ctx, makeMsg("aichat", "set"))
		requireContains(t, tb.api.lastText(t), "AI chat is disabled")
	})
}

func TestHandleSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("answers as reply", func(t *testing.T) {
		tb := newTestBot(t)
		tb.search.answer = "Forty-two."
		tb.handleCommand(ctx, makeMsg("search", "meaning of life"))

		if diff := cmp.Diff("meaning of life", tb.search.question); diff != "" {
			t.Errorf("question mismatch (-want +got):\n%s", diff)
		}
		msg := tb.api.lastMessage(t)
		if diff := cmp.Diff("Forty-two.", msg.Text); diff != "" {
			t.Errorf("answer mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(10, msg.ReplyToMessageID); diff != "" {
			t.Errorf("reply-to mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("empty question", func(t *testing.T) {
		tb := newTestBot(t)
		tb.handleCommand(ctx, makeMsg("search", ""))
		requireContains(t, tb.api.lastText(t), "Usage: /search")
	})

	t.Run("generator failure", func(t *testing.T) {
		tb := newTestBot(t)
		tb.search.err = model.ErrGenerationFailed
		tb.handleCommand(ctx, makeMsg("search", "weather"))
		requireContains(t, tb.api.lastText(t), "Search failed")
	})

	t.Run("disabled", func(t *testing.T) {
		tb := newTestBot(t)
		tb.Attach(Services{AutoPost: tb.poster})
		tb.handleCommand(ctx, makeMsg("search", "weather"))
		requireContains(t, tb.api.lastText(t), "Search is disabled")
	})
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()
	callback := func(data string) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:      "cb1",
			From:    &tgbotapi.User{ID: 1},
			Data:    data,
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		}
	}

	t.Run("acknowledges every callback", func(t *testing.T) {
		tb := newTestBot(t)
		tb.handleCallback(ctx, callback("nocolon"))
		if len(tb.api.requests) != 1 {
			t.Fatalf("sent %d requests, want 1", len(tb.api.requests))
		}
		if _, ok := tb.api.requests[0].(tgbotapi.CallbackConfig); !ok {
			t.Errorf("request is %T, want CallbackConfig", tb.api.requests[0])
		}
		if len(tb.api.sent) != 0 {
			t.Errorf("expected no messages, got %d", len(tb.api.sent))
		}
	})

	t.Run("more sends another item", func(t *testing.T) {
		tb := newTestBot(t)
		tb.content.items[model.CategoryJoke] = []model.Item{{Category: model.CategoryJoke, Text: "Knock knock"}}
		tb.handleCallback(ctx, callback("more:joke"))
		requireContains(t, tb.api.lastText(t), "Knock knock")
	})

	t.Run("more with unknown category", func(t *testing.T) {
		tb := newTestBot(t)
		tb.handleCallback(ctx, callback("more:cats"))
		if len(tb.api.sent) != 0 {
			t.Errorf("expected no messages, got %d", len(tb.api.sent))
		}
	})

	t.Run("autopost off", func(t *testing.T) {
		tb := newTestBot(t)
		tb.handleCallback(ctx, callback("autopost_off:100"))
		if diff := cmp.Diff([]string{"100"}, tb.poster.disabled); diff != "" {
			t.Errorf("disabled tenants mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("autopost off requires admin", func(t *testing.T) {
		tb := newTestBot(t)
		tb.cfg.AllowedUsers = []int64{7}
		tb.handleCallback(ctx, callback("autopost_off:100"))
		requireContains(t, tb.api.lastText(t), "Access denied")
		if len(tb.poster.disabled) != 0 {
			t.Error("schedule should not be disabled")
		}
	})
}
