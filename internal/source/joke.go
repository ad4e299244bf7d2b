package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"meme_bot/internal/model"
)

const (
	defaultJokeAPI    = "https://v2.jokeapi.dev"
	defaultDadJokeAPI = "https://icanhazdadjoke.com"
	// jokeAPIMaxAmount is the largest batch JokeAPI serves in one response.
	jokeAPIMaxAmount = 10
)

// JokeAPI fetches safe-mode jokes from JokeAPI.
type JokeAPI struct {
	client  HTTPClient
	baseURL string
}

// NewJokeAPI creates a JokeAPI; an empty baseURL selects the public service.
func NewJokeAPI(client HTTPClient, baseURL string) *JokeAPI {
	if baseURL == "" {
		baseURL = defaultJokeAPI
	}
	return &JokeAPI{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type jokeAPIJoke struct {
	Category string `json:"category"`
	Type     string `json:"type"`
	Joke     string `json:"joke"`
	Setup    string `json:"setup"`
	Delivery string `json:"delivery"`
}

// A single joke is returned inline; batches are wrapped in "jokes".
type jokeAPIResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	jokeAPIJoke
	Jokes []jokeAPIJoke `json:"jokes"`
}

// Fetch requests count jokes, capped to the API's batch limit.
func (j *JokeAPI) Fetch(ctx context.Context, count int) ([]model.Item, error) {
	amount := min(max(count, 1), jokeAPIMaxAmount)

	var resp jokeAPIResponse
	url := fmt.Sprintf("%s/joke/Any?amount=%d&safe-mode", j.baseURL, amount)
	if err := getJSON(ctx, j.client, url, &resp); err != nil {
		return nil, fmt.Errorf("fetch jokes: %w", err)
	}
	if resp.Error {
		return nil, fmt.Errorf("fetch jokes: api error: %s", resp.Message)
	}

	jokes := resp.Jokes
	if len(jokes) == 0 && (resp.Joke != "" || resp.Setup != "") {
		jokes = []jokeAPIJoke{resp.jokeAPIJoke}
	}

	items := make([]model.Item, 0, len(jokes))
	for _, jk := range jokes {
		it := model.Item{Category: model.CategoryJoke, Source: jk.Category}
		if jk.Type == "twopart" {
			it.Text, it.Punch = jk.Setup, jk.Delivery
		} else {
			it.Text = jk.Joke
		}
		items = append(items, it)
	}
	return items, nil
}

// DadJokeAPI fetches dad jokes one request at a time; the API has no batch
// endpoint.
type DadJokeAPI struct {
	client  HTTPClient
	baseURL string
}

// NewDadJokeAPI creates a DadJokeAPI; an empty baseURL selects the public service.
func NewDadJokeAPI(client HTTPClient, baseURL string) *DadJokeAPI {
	if baseURL == "" {
		baseURL = defaultDadJokeAPI
	}
	return &DadJokeAPI{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type dadJokeResponse struct {
	ID   string `json:"id"`
	Joke string `json:"joke"`
}

// Fetch performs up to count requests and returns what it collected. It only
// fails when nothing was collected.
func (d *DadJokeAPI) Fetch(ctx context.Context, count int) ([]model.Item, error) {
	var (
		items []model.Item
		errs  []error
	)
	for range count {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		var resp dadJokeResponse
		if err := getJSON(ctx, d.client, d.baseURL+"/", &resp); err != nil {
			errs = append(errs, err)
			break
		}
		items = append(items, model.Item{
			Category: model.CategoryDadJoke,
			Text:     resp.Joke,
			Link:     d.baseURL + "/j/" + resp.ID,
			Source:   "icanhazdadjoke.com",
		})
	}
	if len(items) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("fetch dad jokes: %w", errors.Join(errs...))
	}
	return items, nil
}
