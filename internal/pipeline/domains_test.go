package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDomainSelectorParsesModelList(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Generate", mock.Anything, mock.Anything).
		Return(`["https://www.primariatm.ro/", "ANAF.ro", "anaf.ro"]`, nil).Once()

	selector := NewDomainSelector(provider)
	result := selector.Select(context.Background(), "cum platesc impozitul pe cladiri", sectionFrom(nil))

	assert.Equal(t, []string{"primariatm.ro", "anaf.ro"}, result.Domains)
	assert.False(t, result.UsedFallback)
	provider.AssertExpectations(t)
}

func TestDomainSelectorCapsAtMaxDomains(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Generate", mock.Anything, mock.Anything).
		Return(`["a.ro", "b.ro", "c.ro", "d.ro"]`, nil).Once()

	selector := NewDomainSelector(provider)
	result := selector.Select(context.Background(), "test", sectionFrom(map[string]any{"max_domains": 2}))

	assert.Equal(t, []string{"a.ro", "b.ro"}, result.Domains)
}

func TestDomainSelectorFallsBackOnGarbage(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Generate", mock.Anything, mock.Anything).
		Return("I cannot determine specific websites for this.", nil).Once()

	selector := NewDomainSelector(provider)
	result := selector.Select(context.Background(), "unde depun o sesizare", sectionFrom(nil))

	assert.True(t, result.UsedFallback)
	assert.Equal(t, DefaultFallbackDomains, result.Domains)
}

func TestDomainSelectorFallsBackWhenNormalizationEmptiesList(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Generate", mock.Anything, mock.Anything).
		Return(`["localhost", "not a domain"]`, nil).Once()

	selector := NewDomainSelector(provider)
	result := selector.Select(context.Background(), "test", sectionFrom(nil))

	assert.True(t, result.UsedFallback)
	require.NotEmpty(t, result.Domains)
}

func TestDomainSelectorConfiguredFallback(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("blocked")).Twice()

	selector := NewDomainSelector(provider)
	result := selector.Select(context.Background(), "test", sectionFrom(map[string]any{
		"fallback_domains": []any{"custom.ro"},
	}))

	assert.True(t, result.UsedFallback)
	assert.Equal(t, []string{"custom.ro"}, result.Domains)
	provider.AssertExpectations(t)
}

func TestDomainSelectorRetriesWithSimplifiedQuery(t *testing.T) {
	provider := &MockProvider{}
	provider.On("Generate", mock.Anything, mock.Anything).Return("", nil).Once()
	provider.On("Generate", mock.Anything, mock.Anything).Return(`["primariatm.ro"]`, nil).Once()

	selector := NewDomainSelector(provider)
	result := selector.Select(context.Background(), "  cum   obtin \n un certificat fiscal  ", sectionFrom(nil))

	assert.Equal(t, []string{"primariatm.ro"}, result.Domains)
	assert.False(t, result.UsedFallback)
	provider.AssertNumberOfCalls(t, "Generate", 2)
}

func TestSimplifyQueryCollapsesWhitespaceAndTruncates(t *testing.T) {
	simplified := simplifyQuery("  multe   spatii \n si linii  ")
	assert.Equal(t, "multe spatii si linii", simplified)

	long := simplifyQuery(string(make([]rune, 0)) + longQuery(500))
	assert.LessOrEqual(t, len([]rune(long)), simplifiedQueryMaxChars)
}

func longQuery(words int) string {
	out := ""
	for i := 0; i < words; i++ {
		out += "cuvant "
	}
	return out
}
