package bot

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"meme_bot/internal/model"
)

const (
	maxMessageLen = 4096
	maxCaptionLen = 1024
)

// FormatItem renders a content item as plain message text.
func FormatItem(item model.Item) string {
	var b strings.Builder
	switch item.Category {
	case model.CategoryJoke, model.CategoryDadJoke:
		b.WriteString(item.Text)
		if item.Punch != "" {
			b.WriteString("\n\n")
			b.WriteString(item.Punch)
		}
	case model.CategoryLore:
		b.WriteString(item.Title)
		if item.Text != "" {
			b.WriteString("\n\n")
			b.WriteString(item.Text)
		}
		writeAttribution(&b, item)
	default:
		b.WriteString(item.Title)
		writeAttribution(&b, item)
	}
	return truncate(b.String(), maxMessageLen)
}

// FormatCaption renders the caption of a photo post.
func FormatCaption(item model.Item) string {
	var b strings.Builder
	b.WriteString(item.Title)
	writeAttribution(&b, item)
	return truncate(b.String(), maxCaptionLen)
}

func writeAttribution(b *strings.Builder, item model.Item) {
	var parts []string
	if item.Source != "" {
		parts = append(parts, item.Source)
	}
	if item.Author != "" {
		parts = append(parts, "u/"+item.Author)
	}
	if item.Score > 0 {
		parts = append(parts, fmt.Sprintf("%d upvotes", item.Score))
	}
	if len(parts) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(parts, " · "))
	}
	if item.Link != "" && item.Link != item.ImageURL {
		b.WriteString("\n")
		b.WriteString(item.Link)
	}
}

// FormatSchedule describes an auto-post schedule for /automeme status.
func FormatSchedule(s model.Schedule, now time.Time) string {
	left := s.NextFireAt.Sub(now)
	next := "any moment now"
	if left >= time.Minute {
		next = fmt.Sprintf("in %d min", int(left.Minutes()))
	}
	return fmt.Sprintf("Auto-post is on.\nCategory: %s\nDestination: %s\nInterval: every %d min\nNext post: %s",
		s.Category, s.ChannelID, s.IntervalMinutes, next)
}

// itemMessage builds the outgoing message for an item: a photo when it has an
// image, text otherwise. withMore adds an "another one" button.
func itemMessage(base tgbotapi.BaseChat, item model.Item, withMore bool) tgbotapi.Chattable {
	var markup any
	if withMore {
		markup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Another one", cbMore+":"+string(item.Category)),
		))
	}

	if item.ImageURL != "" {
		photo := tgbotapi.NewPhoto(base.ChatID, tgbotapi.FileURL(item.ImageURL))
		photo.ChannelUsername = base.ChannelUsername
		photo.Caption = FormatCaption(item)
		if markup != nil {
			photo.ReplyMarkup = markup
		}
		return photo
	}
	return textMessage(base, FormatItem(item), markup)
}

func textMessage(base tgbotapi.BaseChat, text string, markup any) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(base.ChatID, text)
	msg.ChannelUsername = base.ChannelUsername
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	return msg
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
