package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencedWrapperRE   = regexp.MustCompile("(?s)^```[a-zA-Z0-9_-]*\\s*\n?(.*?)\n?```$")
	bracketedArrayRE  = regexp.MustCompile(`(?s)\[.*?\]`)
	inlineTickRE      = regexp.MustCompile("^`(.*)`$")
	maxParsedJSONSize = 16 * 1024
)

// unwrapModelPayload strips incidental formatting wrappers (markdown code
// fences, inline backticks) the completion service tends to add around
// structured output. It does not validate the payload itself.
func unwrapModelPayload(content string) string {
	trimmed := strings.TrimSpace(content)
	for {
		if match := fencedWrapperRE.FindStringSubmatch(trimmed); match != nil {
			trimmed = strings.TrimSpace(match[1])
			continue
		}
		if match := inlineTickRE.FindStringSubmatch(trimmed); match != nil {
			trimmed = strings.TrimSpace(match[1])
			continue
		}
		return trimmed
	}
}

// extractStringArray pulls a JSON array of strings out of possibly noisy
// model output. Parse order: the whole trimmed payload when it looks like an
// array, then the first bracketed substring anywhere in the text.
func extractStringArray(content string) ([]string, bool) {
	unwrapped := unwrapModelPayload(content)
	if unwrapped == "" || len(unwrapped) > maxParsedJSONSize {
		return nil, false
	}
	if strings.HasPrefix(unwrapped, "[") && strings.HasSuffix(unwrapped, "]") {
		if values, ok := parseStringArray(unwrapped); ok {
			return values, true
		}
	}
	if candidate := bracketedArrayRE.FindString(unwrapped); candidate != "" {
		if values, ok := parseStringArray(candidate); ok {
			return values, true
		}
	}
	return nil, false
}

func parseStringArray(candidate string) ([]string, bool) {
	var raw []any
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return nil, false
	}
	values := make([]string, 0, len(raw))
	for _, item := range raw {
		text, ok := item.(string)
		if !ok {
			return nil, false
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		values = append(values, trimmed)
	}
	if len(values) == 0 {
		return nil, false
	}
	return values, true
}

// extractJSONObject parses a JSON object out of model output, unwrapping
// formatting fences first and falling back to the first {...} substring.
func extractJSONObject(content string, target any) bool {
	unwrapped := unwrapModelPayload(content)
	if unwrapped == "" || len(unwrapped) > maxParsedJSONSize {
		return false
	}
	if strings.HasPrefix(unwrapped, "{") && strings.HasSuffix(unwrapped, "}") {
		if json.Unmarshal([]byte(unwrapped), target) == nil {
			return true
		}
	}
	start := strings.Index(unwrapped, "{")
	end := strings.LastIndex(unwrapped, "}")
	if start >= 0 && end > start {
		if json.Unmarshal([]byte(unwrapped[start:end+1]), target) == nil {
			return true
		}
	}
	return false
}

func truncateRunes(value string, maxChars int) string {
	if maxChars <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= maxChars {
		return value
	}
	return string(runes[:maxChars])
}
