package pipeline

import (
	"context"
	"strings"

	"github.com/miroslav43/tmAgent-sub000/internal/runconfig"
	"github.com/miroslav43/tmAgent-sub000/internal/search"
)

// SearchStage wraps the search client with the pipeline's null-on-failure
// policy: any transport failure, timeout, or empty result becomes "no
// evidence", never an error.
type SearchStage struct {
	client search.Client
}

func NewSearchStage(client search.Client) *SearchStage {
	return &SearchStage{client: client}
}

// Search runs one filtered search. A non-empty domains slice restricts the
// search to those authorities.
func (s *SearchStage) Search(ctx context.Context, query string, domains []string, cfg runconfig.Section) string {
	result, err := s.client.Search(ctx, search.Request{
		Query:          query,
		Model:          cfg.String("model", ""),
		SystemPrompt:   cfg.String("system_prompt", ""),
		GeoHint:        cfg.String("geo_hint", ""),
		DateAfter:      cfg.String("date_after", ""),
		DateBefore:     cfg.String("date_before", ""),
		ContextSize:    cfg.String("context_size", ""),
		AllowedDomains: domains,
	})
	if err != nil {
		return ""
	}
	return strings.TrimSpace(result)
}
