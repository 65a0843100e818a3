package runconfig

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stage section names the orchestrator requires after merge.
const (
	SectionReformulation    = "reformulation"
	SectionAction           = "action"
	SectionGeneralSearch    = "general_search"
	SectionDomainSelection  = "domain_selection"
	SectionRestrictedSearch = "restricted_search"
	SectionAugmentation     = "augmentation"
	SectionSynthesis        = "synthesis"
)

var requiredSections = []string{
	SectionReformulation,
	SectionAction,
	SectionGeneralSearch,
	SectionDomainSelection,
	SectionRestrictedSearch,
	SectionAugmentation,
	SectionSynthesis,
}

type ConfigError struct {
	Section string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("run configuration missing required section: %s", e.Section)
}

// RunConfiguration is immutable for the duration of one run. Callers must not
// mutate the underlying tree after Resolve returns; it may be shared across
// concurrent runs.
type RunConfiguration struct {
	tree map[string]any
}

func RequiredSections() []string {
	copyOf := make([]string, len(requiredSections))
	copy(copyOf, requiredSections)
	return copyOf
}

// Resolve merges base with override (override wins, recursing into nested
// maps) and validates that every required stage section exists afterwards.
func Resolve(base map[string]any, override map[string]any) (RunConfiguration, error) {
	merged := mergeTrees(base, override)
	for _, section := range requiredSections {
		value, ok := merged[section]
		if !ok {
			return RunConfiguration{}, &ConfigError{Section: section}
		}
		if _, ok := value.(map[string]any); !ok {
			return RunConfiguration{}, &ConfigError{Section: section}
		}
	}
	return RunConfiguration{tree: merged}, nil
}

// Merge combines two override documents without validating sections. It uses
// the same rule as Resolve, so Resolve(Resolve(base, a), b) and
// Resolve(base, Merge(a, b)) agree.
func Merge(first map[string]any, second map[string]any) map[string]any {
	return mergeTrees(first, second)
}

func mergeTrees(base map[string]any, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for key, value := range base {
		merged[key] = cloneValue(value)
	}
	for key, value := range override {
		baseChild, baseIsMap := merged[key].(map[string]any)
		overrideChild, overrideIsMap := value.(map[string]any)
		if baseIsMap && overrideIsMap {
			merged[key] = mergeTrees(baseChild, overrideChild)
			continue
		}
		merged[key] = cloneValue(value)
	}
	return merged
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		cloned := make(map[string]any, len(typed))
		for key, child := range typed {
			cloned[key] = cloneValue(child)
		}
		return cloned
	case []any:
		cloned := make([]any, len(typed))
		for i, child := range typed {
			cloned[i] = cloneValue(child)
		}
		return cloned
	default:
		return value
	}
}

// LoadBase reads the base pipeline configuration document from a YAML file.
func LoadBase(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBase(data)
}

func ParseBase(data []byte) (map[string]any, error) {
	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return normalizeTree(tree), nil
}

// normalizeTree rewrites yaml's map[any]any nodes into map[string]any so the
// merge rule sees one map shape regardless of whether a section came from the
// YAML base or a JSON override.
func normalizeTree(tree map[string]any) map[string]any {
	normalized := make(map[string]any, len(tree))
	for key, value := range tree {
		normalized[key] = normalizeValue(value)
	}
	return normalized
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return normalizeTree(typed)
	case map[any]any:
		converted := make(map[string]any, len(typed))
		for rawKey, child := range typed {
			converted[fmt.Sprintf("%v", rawKey)] = normalizeValue(child)
		}
		return converted
	case []any:
		normalized := make([]any, len(typed))
		for i, child := range typed {
			normalized[i] = normalizeValue(child)
		}
		return normalized
	default:
		return value
	}
}

// Tree returns the merged configuration tree. The result is used as a
// serializable snapshot in workflow inputs; callers must treat it as
// read-only.
func (c RunConfiguration) Tree() map[string]any {
	return c.tree
}

func FromTree(tree map[string]any) RunConfiguration {
	return RunConfiguration{tree: tree}
}

type Section struct {
	values map[string]any
}

func (c RunConfiguration) Section(name string) Section {
	if child, ok := c.tree[name].(map[string]any); ok {
		return Section{values: child}
	}
	return Section{}
}

// Enabled defaults to true: a section without the flag runs its stage.
func (s Section) Enabled() bool {
	value, ok := s.values["enabled"]
	if !ok {
		return true
	}
	if flag, ok := value.(bool); ok {
		return flag
	}
	return true
}

func (s Section) String(key string, fallback string) string {
	if value, ok := s.values[key].(string); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func (s Section) Int(key string, fallback int) int {
	switch value := s.values[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return fallback
	}
}

func (s Section) Float(key string, fallback float64) float64 {
	switch value := s.values[key].(type) {
	case float64:
		return value
	case int:
		return float64(value)
	case int64:
		return float64(value)
	default:
		return fallback
	}
}

func (s Section) StringSlice(key string) []string {
	raw, ok := s.values[key].([]any)
	if !ok {
		if typed, ok := s.values[key].([]string); ok {
			copyOf := make([]string, len(typed))
			copy(copyOf, typed)
			return copyOf
		}
		return nil
	}
	results := make([]string, 0, len(raw))
	for _, item := range raw {
		text, ok := item.(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		results = append(results, trimmed)
	}
	if len(results) == 0 {
		return nil
	}
	return results
}
