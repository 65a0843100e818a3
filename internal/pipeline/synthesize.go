package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/miroslav43/tmAgent-sub000/internal/llm"
	"github.com/miroslav43/tmAgent-sub000/internal/prompts"
	"github.com/miroslav43/tmAgent-sub000/internal/runconfig"
)

const (
	markerNotUsed     = "(not used)"
	markerUnavailable = "(unavailable)"

	defaultRetryInputChars = 6000
)

type Synthesizer struct {
	provider llm.Provider
}

func NewSynthesizer(provider llm.Provider) *Synthesizer {
	return &Synthesizer{provider: provider}
}

// Synthesize merges everything the pipeline gathered into one answer.
// Returns the empty string when the completion service fails twice; the
// orchestrator substitutes the degraded response.
func (s *Synthesizer) Synthesize(ctx context.Context, qc *QueryContext, cfg runconfig.Section) string {
	input := BuildSynthesisInput(qc)
	request := llm.Request{
		Model:           cfg.String("model", ""),
		Temperature:     llm.Temperature(cfg.Float("temperature", 0.3)),
		MaxOutputTokens: cfg.Int("max_output_tokens", 2048),
		ResponseMode:    llm.ModeText,
	}
	systemPrompt := prompts.Synthesis(cfg.String("verbosity", "detailed"))

	response, err := s.generate(ctx, request, systemPrompt, input)
	if err == nil && response != "" {
		return response
	}

	// One retry with the user input bounded; oversized evidence is the most
	// common reason the first call fails.
	retryChars := cfg.Int("retry_input_chars", defaultRetryInputChars)
	response, err = s.generate(ctx, request, systemPrompt, truncateRunes(input, retryChars))
	if err == nil {
		return response
	}
	return ""
}

func (s *Synthesizer) generate(ctx context.Context, request llm.Request, systemPrompt string, input string) (string, error) {
	request.Messages = []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: input},
	}
	response, err := s.provider.Generate(ctx, request)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response), nil
}

// BuildSynthesisInput assembles the evidence blocks in fixed order. Verbosity
// never changes this data, only the system prompt.
func BuildSynthesisInput(qc *QueryContext) string {
	var b strings.Builder

	b.WriteString("Citizen question:\n")
	b.WriteString(qc.OriginalQuestion)
	b.WriteString("\n\n")

	b.WriteString("Reformulated query:\n")
	if qc.ReformulatedQuery != "" && qc.ReformulatedQuery != qc.OriginalQuestion {
		b.WriteString(qc.ReformulatedQuery)
	} else {
		b.WriteString(markerNotUsed)
	}
	b.WriteString("\n\n")

	b.WriteString("Web search findings:\n")
	if qc.GeneralSearchResult != "" {
		b.WriteString(qc.GeneralSearchResult)
	} else {
		b.WriteString(markerUnavailable)
	}
	b.WriteString("\n\n")

	b.WriteString("Official source findings")
	if len(qc.SelectedDomains) > 0 {
		b.WriteString(" (domains searched: ")
		b.WriteString(strings.Join(qc.SelectedDomains, ", "))
		b.WriteString(")")
	}
	b.WriteString(":\n")
	if qc.RestrictedSearchResult != "" {
		b.WriteString(qc.RestrictedSearchResult)
	} else {
		b.WriteString(markerUnavailable)
	}
	b.WriteString("\n")

	if len(qc.AugmentedKnowledge) > 0 {
		domains := make([]string, 0, len(qc.AugmentedKnowledge))
		for domain := range qc.AugmentedKnowledge {
			domains = append(domains, domain)
		}
		sort.Strings(domains)
		for _, domain := range domains {
			b.WriteString("\nVerified reference for ")
			b.WriteString(domain)
			b.WriteString(":\n")
			b.WriteString(qc.AugmentedKnowledge[domain])
			b.WriteString("\n")
		}
		b.WriteString("\nPrefer the verified reference blocks above for procedural and technical details.\n")
	}

	return b.String()
}
