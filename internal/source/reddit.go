package source

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/inbucket/html2text"
	"github.com/mmcdole/gofeed"

	"meme_bot/internal/model"
)

const (
	defaultRedditURL = "https://www.reddit.com"
	maxLoreText      = 4000
)

// DefaultLoreSubreddits are the story-heavy communities used for lore.
var DefaultLoreSubreddits = []string{"tifu", "AmItheAsshole", "MaliciousCompliance", "pettyrevenge"}

// Reddit fetches discussion snippets from subreddit RSS feeds.
type Reddit struct {
	client     HTTPClient
	baseURL    string
	subreddits []string
}

// NewReddit creates a Reddit source; empty arguments select the defaults.
func NewReddit(client HTTPClient, baseURL string, subreddits []string) *Reddit {
	if baseURL == "" {
		baseURL = defaultRedditURL
	}
	if len(subreddits) == 0 {
		subreddits = DefaultLoreSubreddits
	}
	return &Reddit{client: client, baseURL: strings.TrimRight(baseURL, "/"), subreddits: subreddits}
}

// Fetch reads the daily top feed of one randomly chosen subreddit.
func (r *Reddit) Fetch(ctx context.Context, count int) ([]model.Item, error) {
	sub := r.subreddits[rand.IntN(len(r.subreddits))]
	feed, err := r.FetchFeed(ctx, sub, count)
	if err != nil {
		return nil, err
	}

	items := make([]model.Item, 0, len(feed.Items))
	for _, fi := range feed.Items {
		items = append(items, loreItem(sub, fi))
	}
	return items, nil
}

// FetchFeed downloads and parses the top-of-day feed of a subreddit.
func (r *Reddit) FetchFeed(ctx context.Context, subreddit string, limit int) (*gofeed.Feed, error) {
	url := fmt.Sprintf("%s/r/%s/top/.rss?t=day&limit=%d", r.baseURL, subreddit, limit)
	body, err := get(ctx, r.client, url, "application/atom+xml")
	if err != nil {
		return nil, fmt.Errorf("fetch r/%s: %w", subreddit, err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse r/%s: %w", subreddit, err)
	}
	return feed, nil
}

func loreItem(subreddit string, fi *gofeed.Item) model.Item {
	it := model.Item{
		Category: model.CategoryLore,
		Title:    fi.Title,
		Link:     fi.Link,
		Source:   "r/" + subreddit,
		Text:     plainText(fi.Content),
	}
	if fi.Author != nil {
		it.Author = strings.TrimPrefix(fi.Author.Name, "/u/")
	}
	if fi.Image != nil {
		it.ImageURL = fi.Image.URL
	}
	return it
}

// plainText converts a post body to text and drops Reddit's "submitted by"
// trailer.
func plainText(html string) string {
	if html == "" {
		return ""
	}
	text, err := html2text.FromString(html, html2text.Options{OmitLinks: true})
	if err != nil {
		return ""
	}
	if i := strings.LastIndex(text, "submitted by"); i >= 0 {
		text = text[:i]
	}
	return truncate(strings.TrimSpace(text), maxLoreText)
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n-3 {
			break
		}
		cut = i
	}
	return s[:cut] + "..."
}
