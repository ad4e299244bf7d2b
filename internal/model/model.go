// Package model defines the domain types used across the application.
package model

import (
	"slices"
	"time"
)

// Category names a class of content item with its own cache pool.
type Category string

// Supported content categories.
const (
	CategoryMeme    Category = "meme"
	CategoryJoke    Category = "joke"
	CategoryDadJoke Category = "dadjoke"
	CategoryLore    Category = "lore"
)

// Categories lists every supported category in display order.
var Categories = []Category{CategoryMeme, CategoryJoke, CategoryDadJoke, CategoryLore}

// ParseCategory returns the category with the given name.
func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	return c, slices.Contains(Categories, c)
}

// Item is a single piece of content fetched from an upstream source.
// Fields not relevant to the item's category are left empty.
type Item struct {
	Category Category `json:"category"`
	Title    string   `json:"title,omitempty"`
	Text     string   `json:"text,omitempty"`
	Punch    string   `json:"punch,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Link     string   `json:"link,omitempty"`
	Source   string   `json:"source,omitempty"`
	Author   string   `json:"author,omitempty"`
	Score    int      `json:"score,omitempty"`
	NSFW     bool     `json:"nsfw,omitempty"`
}

// Valid reports whether the item carries the minimum fields needed to display it.
func (it Item) Valid() bool {
	switch it.Category {
	case CategoryMeme:
		return it.Title != "" && it.ImageURL != ""
	case CategoryJoke, CategoryDadJoke:
		return it.Text != ""
	case CategoryLore:
		return it.Title != "" && it.Link != ""
	}
	return false
}

// Interval bounds for auto-post schedules.
const (
	MinIntervalMinutes = 5
	MaxIntervalMinutes = 1440
)

// Schedule is the persisted auto-post configuration of a tenant.
type Schedule struct {
	TenantID        string    `json:"tenant_id"`
	ChannelID       string    `json:"channel_id"`
	Category        Category  `json:"category"`
	IntervalMinutes int       `json:"interval_minutes"`
	NextFireAt      time.Time `json:"next_fire_at"`
}

// Interval returns the schedule interval as a duration.
func (s Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// ClampInterval bounds minutes into [MinIntervalMinutes, MaxIntervalMinutes].
func ClampInterval(minutes int) int {
	return min(max(minutes, MinIntervalMinutes), MaxIntervalMinutes)
}

// Role tags the speaker of a conversation turn.
type Role string

// Supported turn roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a channel's conversation history.
// Seq orders turns within a channel; a reply carries the Seq of the user
// turn it answers.
type Turn struct {
	ID      string `json:"id,omitempty"`
	Seq     int64  `json:"seq,omitempty"`
	Role    Role   `json:"role"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Inbound is a chat message received from the platform, reduced to what the
// conversation queue needs to decide on and produce a reply.
type Inbound struct {
	TenantID     string
	ChannelID    string
	MessageID    string
	Speaker      string
	Text         string
	MentionsBot  bool
	RepliesToBot bool
}
