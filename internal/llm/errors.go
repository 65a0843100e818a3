package llm

import "fmt"

// ErrUnsupportedProvider is returned by NewProvider when the configured
// provider name matches no completion backend the pipeline knows how to call.
type ErrUnsupportedProvider struct {
	Provider string
}

func (e ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("no completion provider registered for %q", e.Provider)
}
