package generation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"

	"meme_bot/internal/model"
)

type mockModels struct {
	resp     *genai.GenerateContentResponse
	err      error
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (m *mockModels) GenerateContent(_ context.Context, modelName string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.model, m.contents, m.config = modelName, contents, config
	return m.resp, m.err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

type flatContent struct {
	Role  string
	Texts []string
}

func flatten(contents []*genai.Content) []flatContent {
	out := make([]flatContent, 0, len(contents))
	for _, c := range contents {
		fc := flatContent{Role: c.Role}
		for _, p := range c.Parts {
			fc.Texts = append(fc.Texts, p.Text)
		}
		out = append(out, fc)
	}
	return out
}

func TestGeminiGenerate(t *testing.T) {
	m := &mockModels{resp: textResponse("hello ", "there")}
	g := &Gemini{models: m, model: "gemini-test"}

	turns := []model.Turn{
		{Role: model.RoleUser, Speaker: "ann", Text: "hi"},
		{Role: model.RoleUser, Speaker: "bob", Text: "yo"},
		{Role: model.RoleAssistant, Speaker: "bot", Text: "hey both"},
		{Role: model.RoleUser, Speaker: "ann", Text: "how are you"},
	}
	got, err := g.Generate(context.Background(), "be nice", turns)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "hello there" {
		t.Errorf("Generate() = %q", got)
	}

	want := []flatContent{
		{Role: "user", Texts: []string{"ann: hi", "bob: yo"}},
		{Role: "model", Texts: []string{"hey both"}},
		{Role: "user", Texts: []string{"ann: how are you"}},
	}
	if diff := cmp.Diff(want, flatten(m.contents)); diff != "" {
		t.Errorf("contents (-want +got):\n%s", diff)
	}
	if m.model != "gemini-test" {
		t.Errorf("model = %q", m.model)
	}
	if m.config.SystemInstruction == nil || m.config.SystemInstruction.Parts[0].Text != "be nice" {
		t.Errorf("system instruction not set: %+v", m.config.SystemInstruction)
	}
	if m.config.Temperature == nil || *m.config.Temperature != 0.7 {
		t.Errorf("temperature = %v", m.config.Temperature)
	}
	if m.config.MaxOutputTokens != 256 {
		t.Errorf("max output tokens = %d, want 256", m.config.MaxOutputTokens)
	}
	if len(m.config.Tools) != 0 {
		t.Errorf("chat replies must not use tools")
	}
}

func TestGeminiGenerateFallbackAndErrors(t *testing.T) {
	tests := []struct {
		name    string
		models  *mockModels
		want    string
		wantErr error
	}{
		{name: "empty text", models: &mockModels{resp: textResponse("  ")}, want: Fallback},
		{name: "no content", models: &mockModels{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}}, want: Fallback},
		{name: "no candidates", models: &mockModels{resp: &genai.GenerateContentResponse{}}, wantErr: ErrInvalidResponse},
		{name: "api error", models: &mockModels{err: errors.New("quota exceeded")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Gemini{models: tt.models, model: DefaultGeminiModel}
			got, err := g.Generate(context.Background(), "", []model.Turn{{Role: model.RoleUser, Text: "hi"}})
			if tt.models.err != nil || tt.wantErr != nil {
				if err == nil {
					t.Fatal("expected error")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Generate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGeminiAnswerUsesSearch(t *testing.T) {
	m := &mockModels{resp: textResponse(strings.Repeat("a", maxAnswerRunes+10))}
	g := &Gemini{models: m, model: DefaultGeminiModel}

	got, err := g.Answer(context.Background(), "who won?")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if n := len([]rune(got)); n != maxAnswerRunes {
		t.Errorf("answer length = %d, want %d", n, maxAnswerRunes)
	}
	if len(m.config.Tools) != 1 || m.config.Tools[0].GoogleSearch == nil {
		t.Errorf("expected google search tool, got %+v", m.config.Tools)
	}
	if diff := cmp.Diff([]flatContent{{Role: "user", Texts: []string{"who won?"}}}, flatten(m.contents)); diff != "" {
		t.Errorf("contents (-want +got):\n%s", diff)
	}
}

func TestNewGeminiRequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), "", "", nil)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("error = %v, want ErrInvalidConfig", err)
	}
}
