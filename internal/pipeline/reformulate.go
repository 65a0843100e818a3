package pipeline

import (
	"context"
	"strings"

	"github.com/miroslav43/tmAgent-sub000/internal/llm"
	"github.com/miroslav43/tmAgent-sub000/internal/prompts"
	"github.com/miroslav43/tmAgent-sub000/internal/runconfig"
)

type Reformulator struct {
	provider llm.Provider
}

func NewReformulator(provider llm.Provider) *Reformulator {
	return &Reformulator{provider: provider}
}

// Reformulate rewrites the citizen question into a search-ready query.
// Returns the empty string on any failure; the caller falls back to the
// original question.
func (r *Reformulator) Reformulate(ctx context.Context, question string, cfg runconfig.Section) string {
	response, err := r.provider.Generate(ctx, llm.Request{
		Model: cfg.String("model", ""),
		Messages: []llm.Message{
			{Role: "system", Content: prompts.Reformulation},
			{Role: "user", Content: question},
		},
		Temperature:     llm.Temperature(cfg.Float("temperature", 0.2)),
		MaxOutputTokens: cfg.Int("max_output_tokens", 256),
		ResponseMode:    llm.ModeText,
	})
	if err != nil {
		return ""
	}
	reformulated := strings.TrimSpace(unwrapModelPayload(response))
	// Some models answer with the query quoted.
	reformulated = strings.Trim(reformulated, "\"")
	return strings.TrimSpace(reformulated)
}
