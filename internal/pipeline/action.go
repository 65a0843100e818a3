package pipeline

import (
	"context"
	"strings"

	"github.com/miroslav43/tmAgent-sub000/internal/automation"
	"github.com/miroslav43/tmAgent-sub000/internal/llm"
	"github.com/miroslav43/tmAgent-sub000/internal/prompts"
	"github.com/miroslav43/tmAgent-sub000/internal/runconfig"
)

// Valid parking duration tokens the automation runner understands. Anything
// else the classifier produces is coerced to DefaultDuration.
var allowedDurations = map[string]struct{}{
	"30m": {},
	"1h":  {},
	"2h":  {},
	"3h":  {},
	"4h":  {},
	"8h":  {},
	"24h": {},
}

const DefaultDuration = "1h"

type ActionExecutor struct {
	provider llm.Provider
	runner   automation.Runner
}

func NewActionExecutor(provider llm.Provider, runner automation.Runner) *ActionExecutor {
	return &ActionExecutor{provider: provider, runner: runner}
}

type intentClassification struct {
	Activation bool   `json:"activation"`
	Parameter  string `json:"parameter"`
}

// Execute classifies the message and, only on a positive parking-payment
// intent, drives the automation runner once. Classification failures are soft:
// the outcome reports no intent and the pipeline continues.
func (e *ActionExecutor) Execute(ctx context.Context, query string, cfg runconfig.Section) ActionOutcome {
	response, err := e.provider.Generate(ctx, llm.Request{
		Model: cfg.String("model", ""),
		Messages: []llm.Message{
			{Role: "system", Content: prompts.IntentClassification},
			{Role: "user", Content: query},
		},
		Temperature:     llm.Temperature(cfg.Float("temperature", 0.0)),
		MaxOutputTokens: cfg.Int("max_output_tokens", 128),
		ResponseMode:    llm.ModeStructured,
	})
	if err != nil {
		return ActionOutcome{}
	}

	var classification intentClassification
	if !extractJSONObject(response, &classification) {
		return ActionOutcome{}
	}
	if !classification.Activation {
		return ActionOutcome{}
	}

	parameter := normalizeDuration(classification.Parameter)
	outcome := ActionOutcome{
		IntentDetected: true,
		Parameter:      parameter,
		Executed:       true,
	}
	result, err := e.runner.Run(ctx, parameter)
	if err != nil {
		outcome.Detail = err.Error()
		return outcome
	}
	outcome.Success = result.Success
	outcome.Detail = result.Output
	if !result.Success && result.Error != "" {
		outcome.Detail = result.Error
	}
	return outcome
}

func normalizeDuration(raw string) string {
	candidate := strings.ToLower(strings.TrimSpace(raw))
	candidate = strings.ReplaceAll(candidate, " ", "")
	if _, ok := allowedDurations[candidate]; ok {
		return candidate
	}
	return DefaultDuration
}
