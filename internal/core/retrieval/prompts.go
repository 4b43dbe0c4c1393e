package retrieval

import (
	"fmt"
	"strings"

	"github.com/markdave123-py/Classmind/internal/models"
)

// NotFoundAnswer is returned verbatim when corpus_only retrieval finds
// no passage above the similarity threshold. The model is not invoked.
const NotFoundAnswer = "I could not find this information in the provided materials."

const corpusOnlySystemPrompt = `You are an assistant for teachers, answering strictly from the reference excerpts supplied in the prompt.
Rules:
- Use ONLY the supplied excerpts. Do not use outside knowledge.
- If the excerpts do not contain the answer, reply exactly: "` + NotFoundAnswer + `"
- Cite the excerpt numbers you used, like [1] or [2][3].`

const corpusPlusAISystemPrompt = `You are an assistant for teachers. Reference excerpts from their materials are supplied in the prompt.
Rules:
- Prefer the supplied excerpts and cite them by number, like [1].
- You may supplement with general knowledge, but clearly mark such parts with "(general knowledge)".
- Never present general knowledge as if it came from the materials.`

const reformulatePrompt = `Rewrite the following question as a clear, self-contained search query. Reply with the rewritten query only, no explanation.

Question: %s`

const hypotheticalPrompt = `Write a short, factual paragraph that would plausibly answer the following question. This text is used only to search a document index, so do not hedge or mention uncertainty. Reply with the paragraph only.

Question: %s`

func systemPromptFor(mode Mode) string {
	if mode == ModeCorpusPlusAI {
		return corpusPlusAISystemPrompt
	}
	return corpusOnlySystemPrompt
}

// buildUserPrompt assembles the numbered excerpts, recent conversation
// history and the question into one prompt, trimming excerpts to stay
// within maxContextChars.
func buildUserPrompt(question string, chunks []models.ScoredChunk, history []models.ChatMessage, maxContextChars int) string {
	var sb strings.Builder

	sb.WriteString("Reference excerpts:\n")
	used := 0
	for i, ch := range chunks {
		// Budget in runes so a trim never splits a multi-byte character.
		excerpt := []rune(ch.Content)
		if used+len(excerpt) > maxContextChars {
			remain := maxContextChars - used
			if remain <= 0 {
				break
			}
			excerpt = excerpt[:remain]
		}
		fmt.Fprintf(&sb, "[%d] (%s) %s\n---\n", i+1, ch.DocumentTitle, string(excerpt))
		used += len(excerpt)
	}
	if len(chunks) == 0 {
		sb.WriteString("(none)\n")
	}

	if len(history) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
	}

	fmt.Fprintf(&sb, "\nQuestion: %s", question)
	return sb.String()
}
