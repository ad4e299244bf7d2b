// Package source fetches raw content items from upstream HTTP APIs.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"meme_bot/internal/model"
)

const (
	userAgent    = "MemeBot/1.0 (+https://github.com/meme-bot)"
	maxBodyBytes = 5 * 1024 * 1024
	// DefaultTimeout bounds a single upstream request.
	DefaultTimeout = 10 * time.Second
)

// Source returns up to count items of one category. Results may be partial
// and may contain malformed entries; callers validate.
type Source interface {
	Fetch(ctx context.Context, count int) ([]model.Item, error)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns a client with the upstream request timeout applied.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// Set maps every category to its source.
type Set map[model.Category]Source

// Defaults builds the production sources sharing one HTTP client.
func Defaults(client HTTPClient) Set {
	return Set{
		model.CategoryMeme:    NewMemeAPI(client, ""),
		model.CategoryJoke:    NewJokeAPI(client, ""),
		model.CategoryDadJoke: NewDadJokeAPI(client, ""),
		model.CategoryLore:    NewReddit(client, "", nil),
	}
}

func get(ctx context.Context, client HTTPClient, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func getJSON(ctx context.Context, client HTTPClient, url string, v any) error {
	body, err := get(ctx, client, url, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
