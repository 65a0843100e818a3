package pipeline

import (
	"context"
	"strings"

	"github.com/miroslav43/tmAgent-sub000/internal/llm"
	"github.com/miroslav43/tmAgent-sub000/internal/prompts"
	"github.com/miroslav43/tmAgent-sub000/internal/runconfig"
)

// DefaultFallbackDomains is used when the model cannot produce a usable
// domain list. Local authorities first.
var DefaultFallbackDomains = []string{
	"primariatm.ro",
	"servicii.primariatm.ro",
	"anaf.ro",
	"gov.ro",
	"e-guvernare.ro",
}

const simplifiedQueryMaxChars = 200

type DomainSelector struct {
	provider llm.Provider
}

func NewDomainSelector(provider llm.Provider) *DomainSelector {
	return &DomainSelector{provider: provider}
}

// Select asks the completion service for authority domains relevant to the
// query. It never fails: unusable responses degrade to the fallback list.
func (s *DomainSelector) Select(ctx context.Context, query string, cfg runconfig.Section) DomainSelectionResult {
	maxDomains := cfg.Int("max_domains", 5)
	fallback := cfg.StringSlice("fallback_domains")
	if len(fallback) == 0 {
		fallback = DefaultFallbackDomains
	}

	raw, err := s.request(ctx, query, cfg)
	if err != nil || strings.TrimSpace(raw) == "" {
		// Blocked or empty responses get one retry with a simplified
		// restatement before giving up.
		raw, err = s.request(ctx, simplifyQuery(query), cfg)
	}
	if err == nil {
		if domains, ok := extractStringArray(raw); ok {
			if normalized := normalizeDomains(domains, maxDomains); len(normalized) > 0 {
				return DomainSelectionResult{
					Domains: normalized,
					RawText: raw,
				}
			}
		}
	}
	return DomainSelectionResult{
		Domains:      normalizeDomains(fallback, maxDomains),
		RawText:      raw,
		UsedFallback: true,
	}
}

func (s *DomainSelector) request(ctx context.Context, query string, cfg runconfig.Section) (string, error) {
	return s.provider.Generate(ctx, llm.Request{
		Model: cfg.String("model", ""),
		Messages: []llm.Message{
			{Role: "system", Content: prompts.DomainSelection},
			{Role: "user", Content: query},
		},
		Temperature:     llm.Temperature(cfg.Float("temperature", 0.1)),
		MaxOutputTokens: cfg.Int("max_output_tokens", 256),
		ResponseMode:    llm.ModeStructured,
	})
}

// simplifyQuery collapses the question to a single short line so a retry has
// a better chance of passing the service's content heuristics.
func simplifyQuery(query string) string {
	fields := strings.Fields(query)
	simplified := strings.Join(fields, " ")
	return truncateRunes(simplified, simplifiedQueryMaxChars)
}

func normalizeDomains(domains []string, maxDomains int) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(domains))
	for _, domain := range domains {
		candidate := strings.ToLower(strings.TrimSpace(domain))
		candidate = strings.TrimPrefix(candidate, "https://")
		candidate = strings.TrimPrefix(candidate, "http://")
		candidate = strings.TrimPrefix(candidate, "www.")
		candidate = strings.TrimSuffix(candidate, "/")
		if candidate == "" || !strings.Contains(candidate, ".") {
			continue
		}
		if _, exists := seen[candidate]; exists {
			continue
		}
		seen[candidate] = struct{}{}
		out = append(out, candidate)
		if maxDomains > 0 && len(out) >= maxDomains {
			break
		}
	}
	return out
}
