package generation

import (
	"github.com/tmc/langchaingo/prompts"
)

// DefaultRefusal is the answer for questions the transcript cannot support.
const DefaultRefusal = "I don't know"

var systemPrompt = prompts.NewPromptTemplate(
	"Answer ONLY using the information below.\n\n"+
		"FULL CONTEXT:\n{{.full_context}}\n\n"+
		"RETRIEVED CONTEXT:\n{{.context}}\n"+
		"If the question is not related to the context, respond exactly: {{.refusal}}",
	[]string{"full_context", "context", "refusal"},
)

// SystemPrompt renders the instruction that constrains answers to the
// transcript context.
func SystemPrompt(topK, full, refusal string) (string, error) {
	return systemPrompt.Format(map[string]any{
		"full_context": full,
		"context":      topK,
		"refusal":      refusal,
	})
}
