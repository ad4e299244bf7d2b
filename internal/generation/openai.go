package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"meme_bot/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// OpenAI generates replies with any OpenAI-compatible chat completions
// endpoint.
type OpenAI struct {
	client HTTPClient
	url    string
	model  string
	apiKey string
}

// NewOpenAI creates a generator posting to url, the full chat completions
// endpoint.
func NewOpenAI(client HTTPClient, url, modelName, apiKey string, log *slog.Logger) (*OpenAI, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: model url is required", ErrInvalidConfig)
	}
	log.Info("openai-compatible generator ready", "url", url, "model", modelName)
	return &OpenAI{client: client, url: url, model: modelName, apiKey: apiKey}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate posts the conversation and returns the first choice.
func (o *OpenAI) Generate(ctx context.Context, system string, turns []model.Turn) (string, error) {
	req := chatRequest{Model: o.model, Temperature: temperature, MaxTokens: maxReplyTokens}
	if system != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: system})
	}
	for _, t := range turns {
		role := "user"
		if t.Role == model.RoleAssistant {
			role = "assistant"
		}
		req.Messages = append(req.Messages, chatMessage{Role: role, Content: renderTurn(t)})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion: unexpected status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrInvalidResponse)
	}
	return orFallback(out.Choices[0].Message.Content), nil
}
