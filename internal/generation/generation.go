// Package generation implements reply generators backed by hosted language
// models.
package generation

import (
	"strings"

	"meme_bot/internal/model"
)

const (
	// Fallback replaces an empty model answer.
	Fallback = "Hmm, I can't think of a reply right now."

	temperature = 0.7
	// maxReplyTokens keeps chat replies message-sized.
	maxReplyTokens = 256
)

// renderTurn formats a turn for the model. User turns carry the speaker's name
// so the model can tell group members apart.
func renderTurn(t model.Turn) string {
	if t.Role == model.RoleUser && t.Speaker != "" {
		return t.Speaker + ": " + t.Text
	}
	return t.Text
}

func orFallback(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return Fallback
	}
	return text
}
