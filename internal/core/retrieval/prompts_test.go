package retrieval

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/markdave123-py/Classmind/internal/models"
)

func TestBuildUserPromptTrimsOnRuneBoundaries(t *testing.T) {
	chunks := []models.ScoredChunk{{
		DocumentChunk: models.DocumentChunk{Content: strings.Repeat("水", 500)},
		DocumentTitle: "CJK Notes",
	}}

	prompt := buildUserPrompt("question", chunks, nil, 120)
	assert.True(t, utf8.ValidString(prompt))
	assert.Equal(t, 120, strings.Count(prompt, "水"))
}

func TestBuildUserPromptIncludesHistoryAndQuestion(t *testing.T) {
	chunks := []models.ScoredChunk{{
		DocumentChunk: models.DocumentChunk{Content: "Rain forms from condensed vapour."},
		DocumentTitle: "Weather Notes",
	}}
	history := []models.ChatMessage{
		{Role: "user", Content: "what is rain"},
		{Role: "assistant", Content: "Condensed vapour [1]."},
	}

	prompt := buildUserPrompt("and snow?", chunks, history, 8000)
	assert.Contains(t, prompt, "[1] (Weather Notes) Rain forms")
	assert.Contains(t, prompt, "user: what is rain")
	assert.Contains(t, prompt, "Question: and snow?")
}
