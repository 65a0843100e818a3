package pipeline

import (
	"context"
	"strings"

	"github.com/miroslav43/tmAgent-sub000/internal/runconfig"
)

// KnowledgeSource loads curated content by authority domain. Implemented by
// the store.
type KnowledgeSource interface {
	GetKnowledgeByDomain(ctx context.Context, domain string) (string, error)
}

type KnowledgeAugmenter struct {
	source KnowledgeSource
}

func NewKnowledgeAugmenter(source KnowledgeSource) *KnowledgeAugmenter {
	return &KnowledgeAugmenter{source: source}
}

// Augment returns curated content for the selected domains that appear in the
// configured allow-list. Disabled augmentation returns an empty map with no
// I/O; missing or empty content is silently skipped.
func (a *KnowledgeAugmenter) Augment(ctx context.Context, selectedDomains []string, cfg runconfig.Section) map[string]string {
	augmented := map[string]string{}
	if !cfg.Enabled() {
		return augmented
	}
	allowlist := map[string]struct{}{}
	for _, domain := range cfg.StringSlice("domains") {
		allowlist[strings.ToLower(strings.TrimSpace(domain))] = struct{}{}
	}
	if len(allowlist) == 0 {
		return augmented
	}
	for _, domain := range selectedDomains {
		key := strings.ToLower(strings.TrimSpace(domain))
		if _, ok := allowlist[key]; !ok {
			continue
		}
		content, err := a.source.GetKnowledgeByDomain(ctx, key)
		if err != nil {
			continue
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		augmented[key] = content
	}
	return augmented
}
