package prompts

import (
	"os"
	"path/filepath"
	"strings"
)

// System prompts for every completion call the pipeline makes. The wording is
// fixed; the pipeline only substitutes user data into the user message, never
// into these instructions.
const (
	Reformulation = "You rewrite citizen questions about Romanian public administration into precise search queries.\n\nRules:\n- Keep the citizen's intent; add the administrative terms an official source would use.\n- Keep place names and years exactly as given.\n- Answer with the rewritten query only, no explanations."

	DomainSelection = "You select official Romanian authority web domains relevant to an administrative question.\n\nRules:\n- Answer with a JSON array of domain names only, for example [\"primariatm.ro\",\"anaf.ro\"].\n- No prose, no markdown, no explanations.\n- Prefer local authority domains over national ones when the question is local."

	IntentClassification = "You decide whether a citizen message asks to pay for street parking right now.\n\nRules:\n- Answer with a JSON object only: {\"activation\": <bool>, \"parameter\": \"<duration>\"}.\n- activation is true only for an explicit request to pay parking, not for questions about parking rules or tariffs.\n- parameter is the requested duration as one token such as \"2h\"; use \"1h\" when no duration is given."

	SynthesisDetailed = "You are the assistant of the Timisoara city hall. Answer the citizen's administrative question using the evidence blocks provided.\n\nRules:\n- Ground every claim in the evidence; do not invent offices, fees, or deadlines.\n- Structure the answer with short headings and numbered steps where a procedure is involved.\n- Mention the responsible institution for each step.\n- Answer in the language of the question."

	SynthesisCompact = "You are the assistant of the Timisoara city hall. Answer the citizen's administrative question using the evidence blocks provided.\n\nRules:\n- Ground every claim in the evidence; do not invent offices, fees, or deadlines.\n- Keep the answer to a few sentences; no headings.\n- Answer in the language of the question."
)

const OverrideFileName = "PROMPTS.md"

// ReadOverrideFromDisk walks up from the working directory looking for a
// PROMPTS.md file whose content replaces the synthesis system prompt.
func ReadOverrideFromDisk() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	path, err := findInParents(cwd, OverrideFileName)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Synthesis returns the synthesis system prompt for the given verbosity,
// preferring an on-disk override when one exists.
func Synthesis(verbosity string) string {
	if override, err := ReadOverrideFromDisk(); err == nil && override != "" {
		return override
	}
	if strings.EqualFold(strings.TrimSpace(verbosity), "compact") {
		return SynthesisCompact
	}
	return SynthesisDetailed
}

func findInParents(startDir string, filename string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
