package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"google.golang.org/genai"

	"meme_bot/internal/model"
)

const (
	DefaultGeminiModel = "gemini-2.5-flash"

	searchInstruction = "Answer the question concisely using up-to-date web results. " +
		"Use plain text without markdown."
	maxAnswerRunes = 3500
)

// contentGenerator is the part of genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini generates replies with the Gemini API.
type Gemini struct {
	models contentGenerator
	model  string
}

// NewGemini creates a Gemini generator for the given API key and model name.
func NewGemini(ctx context.Context, apiKey, modelName string, log *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", ErrInvalidConfig)
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	log.Info("gemini generator ready", "model", modelName)
	return &Gemini{models: client.Models, model: modelName}, nil
}

// Generate sends the conversation to Gemini and returns the reply text.
func (g *Gemini) Generate(ctx context.Context, system string, turns []model.Turn) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](temperature),
		MaxOutputTokens: maxReplyTokens,
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := g.models.GenerateContent(ctx, g.model, geminiContents(turns), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return "", err
	}
	return orFallback(text), nil
}

// Answer replies to a single question with Google Search grounding enabled.
func (g *Gemini) Answer(ctx context.Context, question string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](temperature),
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: searchInstruction}}},
		Tools:             []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: question}}}}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini search: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return "", err
	}
	return truncateRunes(orFallback(text), maxAnswerRunes), nil
}

// geminiContents maps turns to Gemini contents, merging consecutive turns of
// the same role into one content.
func geminiContents(turns []model.Turn) []*genai.Content {
	var contents []*genai.Content
	for _, t := range turns {
		role := "user"
		if t.Role == model.RoleAssistant {
			role = "model"
		}
		part := &genai.Part{Text: renderTurn(t)}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, part)
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{part}})
	}
	return contents
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrInvalidResponse)
	}
	c := resp.Candidates[0]
	if c.Content == nil {
		return "", nil
	}
	var sb strings.Builder
	for _, p := range c.Content.Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}
	return sb.String(), nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
