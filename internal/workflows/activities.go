package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/miroslav43/tmAgent-sub000/internal/automation"
	"github.com/miroslav43/tmAgent-sub000/internal/llm"
	"github.com/miroslav43/tmAgent-sub000/internal/pipeline"
	"github.com/miroslav43/tmAgent-sub000/internal/runconfig"
	"github.com/miroslav43/tmAgent-sub000/internal/search"
	"github.com/miroslav43/tmAgent-sub000/internal/secrets"
	"github.com/miroslav43/tmAgent-sub000/internal/store"
)

type StageInput struct {
	RunID    string
	Question string
	Config   map[string]any
}

type ReformulateOutput struct {
	Query string `json:"query"`
}

type ActionOutput struct {
	Outcome pipeline.ActionOutcome `json:"outcome"`
}

type SearchStageInput struct {
	RunID   string
	Query   string
	Domains []string
	Config  map[string]any
}

type SearchStageOutput struct {
	Result string `json:"result"`
}

type DomainsOutput struct {
	Domains      []string `json:"domains"`
	UsedFallback bool     `json:"used_fallback"`
}

type AugmentInput struct {
	RunID   string
	Domains []string
	Config  map[string]any
}

type AugmentOutput struct {
	Knowledge map[string]string `json:"knowledge"`
}

type SynthesizeInput struct {
	RunID   string
	Context pipeline.QueryContext
	Config  map[string]any
}

type SynthesizeOutput struct {
	Response string `json:"response"`
	Degraded bool   `json:"degraded"`
}

type CompleteInput struct {
	RunID   string
	Status  string
	Context pipeline.QueryContext
}

type RunFailureInput struct {
	RunID string
	Error string
}

var (
	newProvider     = llm.NewProvider
	newSearchClient = func(cfg search.OpenAIConfig) search.Client { return search.NewOpenAIClient(cfg) }
	decryptSecret   = secrets.Decrypt
	marshalJSON     = json.Marshal
)

// PipelineActivities hosts the per-stage activities. Stage activities absorb
// soft failures (provider errors, unusable model output) and return degraded
// outputs; they only return an error when storage or the control plane is
// unreachable in a way the run cannot survive.
type PipelineActivities struct {
	store          store.Store
	secretsKey     []byte
	defaultLLM     llm.Config
	defaultSearch  search.OpenAIConfig
	runner         automation.Runner
	controlPlane   string
	httpClient     *http.Client
	requestTimeout time.Duration
}

type PipelineActivitiesOption func(*PipelineActivities)

func WithRequestTimeout(timeout time.Duration) PipelineActivitiesOption {
	return func(a *PipelineActivities) {
		if timeout > 0 {
			a.requestTimeout = timeout
		}
	}
}

func NewPipelineActivities(
	st store.Store,
	defaultLLM llm.Config,
	defaultSearch search.OpenAIConfig,
	runner automation.Runner,
	secretsKey []byte,
	controlPlaneURL string,
	opts ...PipelineActivitiesOption,
) *PipelineActivities {
	activities := &PipelineActivities{
		store:          st,
		secretsKey:     secretsKey,
		defaultLLM:     defaultLLM,
		defaultSearch:  defaultSearch,
		runner:         runner,
		controlPlane:   strings.TrimRight(controlPlaneURL, "/"),
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		requestTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(activities)
		}
	}
	return activities
}

func (a *PipelineActivities) ReformulateQuery(ctx context.Context, input StageInput) (ReformulateOutput, error) {
	stage := pipeline.StageReformulation
	section := sectionFromInput(input.Config, runconfig.SectionReformulation)
	_ = a.emitStageStarted(ctx, input.RunID, stage)

	provider, err := a.resolveProvider(ctx)
	if err != nil {
		_ = a.emitStageDegraded(ctx, input.RunID, stage, err.Error())
		return ReformulateOutput{}, nil
	}
	query := pipeline.NewReformulator(provider).Reformulate(ctx, input.Question, section)
	if query == "" {
		_ = a.emitStageDegraded(ctx, input.RunID, stage, "reformulation unavailable, using original question")
		return ReformulateOutput{}, nil
	}
	_ = a.emitStageCompleted(ctx, input.RunID, stage, map[string]any{"detail": query})
	return ReformulateOutput{Query: query}, nil
}

func (a *PipelineActivities) ExecuteAutomatedAction(ctx context.Context, input StageInput) (ActionOutput, error) {
	stage := pipeline.StageAction
	section := sectionFromInput(input.Config, runconfig.SectionAction)
	_ = a.emitStageStarted(ctx, input.RunID, stage)

	provider, err := a.resolveProvider(ctx)
	if err != nil {
		_ = a.emitStageDegraded(ctx, input.RunID, stage, err.Error())
		return ActionOutput{}, nil
	}
	outcome := pipeline.NewActionExecutor(provider, a.runner).Execute(ctx, input.Question, section)
	payload := map[string]any{
		"intent_detected": outcome.IntentDetected,
		"executed":        outcome.Executed,
		"success":         outcome.Success,
	}
	if outcome.Parameter != "" {
		payload["parameter"] = outcome.Parameter
	}
	if outcome.Detail != "" {
		payload["detail"] = outcome.Detail
	}
	_ = a.emitStageCompleted(ctx, input.RunID, stage, payload)
	return ActionOutput{Outcome: outcome}, nil
}

func (a *PipelineActivities) RunGeneralSearch(ctx context.Context, input SearchStageInput) (SearchStageOutput, error) {
	return a.runSearch(ctx, input, pipeline.StageGeneralSearch, runconfig.SectionGeneralSearch, nil)
}

func (a *PipelineActivities) RunRestrictedSearch(ctx context.Context, input SearchStageInput) (SearchStageOutput, error) {
	return a.runSearch(ctx, input, pipeline.StageRestrictedSearch, runconfig.SectionRestrictedSearch, input.Domains)
}

func (a *PipelineActivities) runSearch(ctx context.Context, input SearchStageInput, stage string, sectionName string, domains []string) (SearchStageOutput, error) {
	section := sectionFromInput(input.Config, sectionName)
	_ = a.emitStageStarted(ctx, input.RunID, stage)

	client, err := a.resolveSearchClient(ctx)
	if err != nil {
		_ = a.emitStageDegraded(ctx, input.RunID, stage, err.Error())
		return SearchStageOutput{}, nil
	}
	result := pipeline.NewSearchStage(client).Search(ctx, input.Query, domains, section)
	if result == "" {
		_ = a.emitStageDegraded(ctx, input.RunID, stage, "search returned no usable results")
		return SearchStageOutput{}, nil
	}
	payload := map[string]any{"result_chars": len(result)}
	if len(domains) > 0 {
		payload["domains"] = domains
	}
	_ = a.emitStageCompleted(ctx, input.RunID, stage, payload)
	return SearchStageOutput{Result: result}, nil
}

func (a *PipelineActivities) SelectDomains(ctx context.Context, input StageInput) (DomainsOutput, error) {
	stage := pipeline.StageDomainSelection
	section := sectionFromInput(input.Config, runconfig.SectionDomainSelection)
	_ = a.emitStageStarted(ctx, input.RunID, stage)

	provider, err := a.resolveProvider(ctx)
	if err != nil {
		fallback := section.StringSlice("fallback_domains")
		if len(fallback) == 0 {
			fallback = pipeline.DefaultFallbackDomains
		}
		_ = a.emitStageDegraded(ctx, input.RunID, stage, err.Error())
		return DomainsOutput{Domains: fallback, UsedFallback: true}, nil
	}
	result := pipeline.NewDomainSelector(provider).Select(ctx, input.Question, section)
	payload := map[string]any{
		"domains":       result.Domains,
		"used_fallback": result.UsedFallback,
	}
	if result.UsedFallback {
		_ = a.emitStageDegraded(ctx, input.RunID, stage, "model produced no usable domain list")
	} else {
		_ = a.emitStageCompleted(ctx, input.RunID, stage, payload)
	}
	return DomainsOutput{Domains: result.Domains, UsedFallback: result.UsedFallback}, nil
}

func (a *PipelineActivities) AugmentKnowledge(ctx context.Context, input AugmentInput) (AugmentOutput, error) {
	stage := pipeline.StageAugmentation
	section := sectionFromInput(input.Config, runconfig.SectionAugmentation)
	_ = a.emitStageStarted(ctx, input.RunID, stage)

	knowledge := pipeline.NewKnowledgeAugmenter(a.store).Augment(ctx, input.Domains, section)
	matched := make([]string, 0, len(knowledge))
	for domain := range knowledge {
		matched = append(matched, domain)
	}
	_ = a.emitStageCompleted(ctx, input.RunID, stage, map[string]any{"matched_domains": matched})
	return AugmentOutput{Knowledge: knowledge}, nil
}

func (a *PipelineActivities) SynthesizeResponse(ctx context.Context, input SynthesizeInput) (SynthesizeOutput, error) {
	stage := pipeline.StageSynthesis
	section := sectionFromInput(input.Config, runconfig.SectionSynthesis)
	_ = a.emitStageStarted(ctx, input.RunID, stage)

	provider, err := a.resolveProvider(ctx)
	if err != nil {
		_ = a.emitStageDegraded(ctx, input.RunID, stage, err.Error())
		return SynthesizeOutput{Degraded: true}, nil
	}
	response := pipeline.NewSynthesizer(provider).Synthesize(ctx, &input.Context, section)
	if response == "" {
		_ = a.emitStageDegraded(ctx, input.RunID, stage, "synthesis failed twice, returning degraded response")
		return SynthesizeOutput{Degraded: true}, nil
	}
	_ = a.emitStageCompleted(ctx, input.RunID, stage, map[string]any{"response_chars": len(response)})
	return SynthesizeOutput{Response: response}, nil
}

// CompleteQueryRun persists the final response and the provenance snapshot.
// Storage errors surface: a run that cannot be persisted is a failed run.
func (a *PipelineActivities) CompleteQueryRun(ctx context.Context, input CompleteInput) error {
	if strings.TrimSpace(input.RunID) == "" {
		return errors.New("run_id required")
	}
	status := input.Status
	if status == "" {
		status = "completed"
	}
	if err := a.store.UpdateQueryRun(ctx, store.QueryRun{
		ID:            input.RunID,
		Status:        status,
		FinalResponse: input.Context.FinalResponse,
		Provenance:    provenanceFromContext(input.Context),
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return err
	}
	payload := map[string]any{
		"status":           status,
		"terminated_early": input.Context.TerminatedEarly,
		"stages_executed":  input.Context.StagesExecuted,
	}
	_ = a.emitEvent(ctx, input.RunID, "run.completed", payload)
	return nil
}

func (a *PipelineActivities) HandleRunFailure(ctx context.Context, input RunFailureInput) error {
	if strings.TrimSpace(input.RunID) == "" {
		return errors.New("run_id required")
	}
	detail := strings.TrimSpace(input.Error)
	if detail == "" {
		detail = "unknown workflow activity error"
	}
	if err := a.store.UpdateQueryRun(ctx, store.QueryRun{
		ID:        input.RunID,
		Status:    "failed",
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return err
	}
	return a.emitEvent(ctx, input.RunID, "run.failed", map[string]any{"error": detail})
}

func (a *PipelineActivities) resolveProvider(ctx context.Context) (llm.Provider, error) {
	cfg, err := a.resolveLLMConfig(ctx)
	if err != nil {
		return nil, err
	}
	return newProvider(cfg)
}

func (a *PipelineActivities) resolveLLMConfig(ctx context.Context) (llm.Config, error) {
	cfg := a.defaultLLM
	settings, err := a.store.GetLLMSettings(ctx)
	if err != nil {
		return cfg, err
	}
	if settings != nil {
		if settings.Provider != "" {
			cfg.Provider = settings.Provider
		}
		if settings.Model != "" {
			cfg.Model = settings.Model
		}
		if settings.BaseURL != "" {
			cfg.BaseURL = settings.BaseURL
		}
		if settings.APIKeyEnc != "" {
			if a.secretsKey == nil {
				return cfg, errors.New("SECRETS_KEY is required to decrypt API keys")
			}
			apiKey, err := decryptSecret(a.secretsKey, settings.APIKeyEnc)
			if err != nil {
				return cfg, err
			}
			cfg.OpenAIAPIKey = apiKey
		}
	}
	if cfg.Mode != "local" && cfg.OpenAIAPIKey == "" {
		return cfg, errors.New("missing API key for completion provider")
	}
	return cfg, nil
}

func (a *PipelineActivities) resolveSearchClient(ctx context.Context) (search.Client, error) {
	cfg := a.defaultSearch
	settings, err := a.store.GetLLMSettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings != nil {
		if settings.SearchBaseURL != "" {
			cfg.BaseURL = settings.SearchBaseURL
		}
		if settings.SearchModel != "" {
			cfg.Model = settings.SearchModel
		}
		if settings.APIKeyEnc != "" && a.secretsKey != nil {
			if apiKey, err := decryptSecret(a.secretsKey, settings.APIKeyEnc); err == nil {
				cfg.APIKey = apiKey
			}
		}
	}
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key for search service")
	}
	return newSearchClient(cfg), nil
}

func (a *PipelineActivities) emitStageStarted(ctx context.Context, runID string, stage string) error {
	return a.emitEvent(ctx, runID, "stage.started", map[string]any{"stage": stage})
}

func (a *PipelineActivities) emitStageCompleted(ctx context.Context, runID string, stage string, payload map[string]any) error {
	merged := map[string]any{"stage": stage}
	for key, value := range payload {
		merged[key] = value
	}
	return a.emitEvent(ctx, runID, "stage.completed", merged)
}

func (a *PipelineActivities) emitStageDegraded(ctx context.Context, runID string, stage string, reason string) error {
	return a.emitEvent(ctx, runID, "stage.degraded", map[string]any{
		"stage":  stage,
		"reason": reason,
	})
}

// emitEvent prefers the control-plane ingestion endpoint so SSE subscribers
// see the event; when the API is unreachable, it appends to the shared store
// directly.
func (a *PipelineActivities) emitEvent(ctx context.Context, runID string, eventType string, payload map[string]any) error {
	if err := a.postEvent(ctx, runID, eventType, payload); err == nil {
		return nil
	}
	return a.appendLocalEvent(ctx, runID, eventType, payload)
}

func (a *PipelineActivities) postEvent(ctx context.Context, runID string, eventType string, payload map[string]any) error {
	if a.controlPlane == "" {
		return errors.New("control plane URL not configured")
	}
	url := fmt.Sprintf("%s/queries/%s/events", a.controlPlane, runID)
	body, err := marshalJSON(map[string]any{
		"type":      eventType,
		"source":    "worker",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"payload":   payload,
	})
	if err != nil {
		return err
	}
	requestCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("control plane event failed: %s", resp.Status)
	}
	return nil
}

func (a *PipelineActivities) appendLocalEvent(ctx context.Context, runID string, eventType string, payload map[string]any) error {
	seq, err := a.store.NextSeq(ctx, runID)
	if err != nil {
		return err
	}
	return a.store.AppendEvent(ctx, store.RunEvent{
		RunID:     runID,
		Seq:       seq,
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    "worker",
		Payload:   payload,
	})
}

func sectionFromInput(tree map[string]any, name string) runconfig.Section {
	return runconfig.FromTree(tree).Section(name)
}

func provenanceFromContext(qc pipeline.QueryContext) map[string]any {
	raw, err := json.Marshal(qc)
	if err != nil {
		return map[string]any{}
	}
	provenance := map[string]any{}
	if err := json.Unmarshal(raw, &provenance); err != nil {
		return map[string]any{}
	}
	// the final response and question are stored as first-class columns
	delete(provenance, "final_response")
	delete(provenance, "original_question")
	return provenance
}
