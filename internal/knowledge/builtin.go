package knowledge

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/miroslav43/tmAgent-sub000/internal/store"
)

//go:embed builtin/*/KNOWLEDGE.md
var builtinKnowledgeFiles embed.FS

type BuiltinSpec struct {
	Domain       string
	Title        string
	MarkdownPath string
}

var builtinSpecs = []BuiltinSpec{
	{
		Domain:       "primariatm.ro",
		Title:        "Primaria Timisoara: servicii, taxe si programari",
		MarkdownPath: "builtin/primariatm.ro/KNOWLEDGE.md",
	},
	{
		Domain:       "servicii.primariatm.ro",
		Title:        "Portalul de servicii online al Primariei Timisoara",
		MarkdownPath: "builtin/servicii.primariatm.ro/KNOWLEDGE.md",
	},
	{
		Domain:       "anaf.ro",
		Title:        "ANAF: obligatii fiscale si declaratii",
		MarkdownPath: "builtin/anaf.ro/KNOWLEDGE.md",
	},
}

func BuiltinKnowledge() []BuiltinSpec {
	copyOf := make([]BuiltinSpec, len(builtinSpecs))
	copy(copyOf, builtinSpecs)
	return copyOf
}

// EnsureBuiltins seeds the curated knowledge base on startup. Existing entries
// for a domain are never overwritten, so operator edits survive restarts.
func EnsureBuiltins(ctx context.Context, st store.Store) error {
	existing, err := st.ListKnowledge(ctx)
	if err != nil {
		return err
	}
	existingDomains := make(map[string]struct{}, len(existing))
	for _, entry := range existing {
		existingDomains[strings.ToLower(strings.TrimSpace(entry.Domain))] = struct{}{}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, spec := range builtinSpecs {
		if _, ok := existingDomains[spec.Domain]; ok {
			continue
		}
		content, err := builtinKnowledgeFiles.ReadFile(spec.MarkdownPath)
		if err != nil {
			return fmt.Errorf("read builtin %s: %w", spec.Domain, err)
		}
		entry := store.KnowledgeEntry{
			Domain:    spec.Domain,
			Title:     spec.Title,
			Content:   string(content),
			Builtin:   true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.UpsertKnowledge(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}
