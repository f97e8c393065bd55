// Package prompts builds the grounded two-message conversation sent to
// the chat-completion model: a fixed context-only system instruction and
// a user message carrying the serialized company record and the question.
package prompts

import (
	"fmt"
	"strings"

	"github.com/mannyfin/manny/internal/llm"
	"github.com/mannyfin/manny/pkg/models"
)

// ContextFallback is the exact sentence the model must emit when the
// supplied context cannot answer the question. This is a content contract
// enforced by instruction, not by code.
const ContextFallback = "The information required to answer this question is not available in the provided data."

// SystemPrompt asserts the assistant's persona and the hard context-only
// constraint. Strict and concise to keep the model from thinking out loud.
const SystemPrompt = `You are a factual data extraction AI named Manny.
- Your sole task is to directly and concisely answer the user's question using ONLY the provided context.
- Do not add any commentary, introductions, or explanations.
- If the information required is not in the context, you MUST respond with the exact phrase: "` + ContextFallback + `"`

// maxSummaryRunes bounds the business summary inside the prompt so a very
// long filing-style description cannot blow past the model's input limit.
const maxSummaryRunes = 4000

// Build assembles the two-message conversation for one question. The full
// record is always serialized regardless of question relevance; headlines
// are an optional extra context block and may be nil.
func Build(record *models.CompanyRecord, question string, headlines []models.NewsArticle) []llm.Message {
	var b strings.Builder

	b.WriteString("CONTEXT:\n")
	b.WriteString(renderRecord(record))

	if len(headlines) > 0 {
		b.WriteString("\nRECENT HEADLINES:\n")
		for _, a := range headlines {
			fmt.Fprintf(&b, "- %s (%s)\n", a.Title, a.Source)
		}
	}

	b.WriteString("\nQUESTION:\n")
	b.WriteString(question)

	return []llm.Message{
		llm.SystemMessage(SystemPrompt),
		llm.UserMessage(b.String()),
	}
}

// renderRecord serializes the record as a direct field-by-field dump — no
// selection or summarization.
func renderRecord(record *models.CompanyRecord) string {
	var b strings.Builder
	for _, f := range record.Display() {
		value := f.Value
		if f.Label == "Business Summary" {
			value = truncate(value, maxSummaryRunes)
		}
		fmt.Fprintf(&b, "%s: %s\n", f.Label, value)
	}
	return b.String()
}

// truncate caps s at limit runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
