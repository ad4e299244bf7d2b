package source

import (
	"context"
	"fmt"
	"strings"

	"meme_bot/internal/model"
)

const defaultMemeAPI = "https://meme-api.com"

// MemeAPI fetches memes from a meme-api.com compatible service.
type MemeAPI struct {
	client  HTTPClient
	baseURL string
}

// NewMemeAPI creates a MemeAPI; an empty baseURL selects the public service.
func NewMemeAPI(client HTTPClient, baseURL string) *MemeAPI {
	if baseURL == "" {
		baseURL = defaultMemeAPI
	}
	return &MemeAPI{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type memeResponse struct {
	Memes []struct {
		PostLink  string `json:"postLink"`
		Subreddit string `json:"subreddit"`
		Title     string `json:"title"`
		URL       string `json:"url"`
		Author    string `json:"author"`
		Ups       int    `json:"ups"`
		NSFW      bool   `json:"nsfw"`
		Spoiler   bool   `json:"spoiler"`
	} `json:"memes"`
}

// Fetch requests count memes in one call.
func (m *MemeAPI) Fetch(ctx context.Context, count int) ([]model.Item, error) {
	var resp memeResponse
	if err := getJSON(ctx, m.client, fmt.Sprintf("%s/gimme/memes/%d", m.baseURL, count), &resp); err != nil {
		return nil, fmt.Errorf("fetch memes: %w", err)
	}

	items := make([]model.Item, 0, len(resp.Memes))
	for _, mm := range resp.Memes {
		link := mm.PostLink
		if link == "" {
			link = mm.URL
		}
		items = append(items, model.Item{
			Category: model.CategoryMeme,
			Title:    mm.Title,
			ImageURL: mm.URL,
			Link:     link,
			Source:   "r/" + mm.Subreddit,
			Author:   mm.Author,
			Score:    mm.Ups,
			NSFW:     mm.NSFW || mm.Spoiler,
		})
	}
	return items, nil
}
