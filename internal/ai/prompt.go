package ai

import (
	"fmt"
	"strings"

	"github.com/xxxsen/mrag/internal/model"
)

const SystemPrompt = `You are a question answering assistant.
Answer the question using ONLY the context passages provided.
- Cite every fact with the exact format [Source: <filename>, Page: <page>].
- Omit ", Page: <page>" when the passage has no page number.
- If the context does not contain enough information, say so explicitly instead of guessing.
- Use the same language as the question.`

const (
	NoResultsAnswer = "I couldn't find any relevant information in the indexed documents to answer this question."
	ApologyAnswer   = "Sorry, I was unable to search the knowledge base right now. Please try again later."
)

func formatSource(source string, page int, hasPage bool) string {
	if hasPage {
		return fmt.Sprintf("[Source: %s, Page: %d]", source, page)
	}
	return fmt.Sprintf("[Source: %s]", source)
}

// BuildUserPrompt renders numbered context passages followed by the question.
func BuildUserPrompt(question string, chunks []model.RetrievedChunk) string {
	var sb strings.Builder
	sb.WriteString("Context:\n\n")
	for i, chunk := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		page, hasPage := chunk.Page()
		fmt.Fprintf(&sb, "[%d] %s\n%s", i+1, strings.TrimSpace(chunk.Content), formatSource(chunk.Source(), page, hasPage))
	}
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}
