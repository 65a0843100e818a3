package search

import (
	"context"
)

// Request describes one filtered web search. An empty AllowedDomains slice
// means the search is unrestricted.
type Request struct {
	Query          string
	SystemPrompt   string
	GeoHint        string
	DateAfter      string
	DateBefore     string
	ContextSize    string
	AllowedDomains []string
	Model          string
}

type Client interface {
	Search(ctx context.Context, req Request) (string, error)
}
