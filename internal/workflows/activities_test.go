package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miroslav43/tmAgent-sub000/internal/automation"
	"github.com/miroslav43/tmAgent-sub000/internal/llm"
	"github.com/miroslav43/tmAgent-sub000/internal/pipeline"
	"github.com/miroslav43/tmAgent-sub000/internal/search"
	"github.com/miroslav43/tmAgent-sub000/internal/store"
	"github.com/miroslav43/tmAgent-sub000/internal/store/memory"
)

type stubProvider struct {
	response string
	err      error
	requests []llm.Request
}

func (p *stubProvider) Generate(ctx context.Context, req llm.Request) (string, error) {
	p.requests = append(p.requests, req)
	return p.response, p.err
}

type stubSearchClient struct {
	result   string
	err      error
	requests []search.Request
}

func (c *stubSearchClient) Search(ctx context.Context, req search.Request) (string, error) {
	c.requests = append(c.requests, req)
	return c.result, c.err
}

type stubRunner struct {
	result automation.Result
	err    error
	calls  []string
}

func (r *stubRunner) Run(ctx context.Context, parameter string) (automation.Result, error) {
	r.calls = append(r.calls, parameter)
	return r.result, r.err
}

func withStubProvider(t *testing.T, provider llm.Provider, err error) {
	t.Helper()
	old := newProvider
	newProvider = func(cfg llm.Config) (llm.Provider, error) {
		if err != nil {
			return nil, err
		}
		return provider, nil
	}
	t.Cleanup(func() { newProvider = old })
}

func withStubSearchClient(t *testing.T, client search.Client) {
	t.Helper()
	old := newSearchClient
	newSearchClient = func(cfg search.OpenAIConfig) search.Client { return client }
	t.Cleanup(func() { newSearchClient = old })
}

func newTestActivities(st store.Store, runner automation.Runner) *PipelineActivities {
	return NewPipelineActivities(
		st,
		llm.Config{Provider: "openai", Model: "gpt-4o-mini", OpenAIAPIKey: "test-key"},
		search.OpenAIConfig{APIKey: "test-key", Model: "gpt-4o-mini"},
		runner,
		nil,
		"",
	)
}

func eventTypes(t *testing.T, st store.Store, runID string) []string {
	t.Helper()
	events, err := st.ListEvents(context.Background(), runID, 0)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}

func stageConfig(section string, values map[string]any) map[string]any {
	if values == nil {
		values = map[string]any{}
	}
	return map[string]any{section: values}
}

func TestReformulateQuery_Success(t *testing.T) {
	st := memory.New()
	provider := &stubProvider{response: `"plata impozit cladiri Timisoara"`}
	withStubProvider(t, provider, nil)
	activities := newTestActivities(st, &stubRunner{})

	out, err := activities.ReformulateQuery(context.Background(), StageInput{
		RunID:    "query-1",
		Question: "cum platesc impozitul",
		Config:   stageConfig("reformulation", nil),
	})
	require.NoError(t, err)
	require.Equal(t, "plata impozit cladiri Timisoara", out.Query)
	require.Equal(t, []string{"stage.started", "stage.completed"}, eventTypes(t, st, "query-1"))
}

func TestReformulateQuery_ProviderFailureIsSoft(t *testing.T) {
	st := memory.New()
	withStubProvider(t, nil, errors.New("provider unavailable"))
	activities := newTestActivities(st, &stubRunner{})

	out, err := activities.ReformulateQuery(context.Background(), StageInput{
		RunID:    "query-1",
		Question: "intrebare",
		Config:   stageConfig("reformulation", nil),
	})
	require.NoError(t, err)
	require.Empty(t, out.Query)
	require.Equal(t, []string{"stage.started", "stage.degraded"}, eventTypes(t, st, "query-1"))
}

func TestExecuteAutomatedAction_RunsRunner(t *testing.T) {
	st := memory.New()
	provider := &stubProvider{response: `{"activation": true, "parameter": "2h"}`}
	withStubProvider(t, provider, nil)
	runner := &stubRunner{result: automation.Result{Success: true, Output: "plata efectuata"}}
	activities := newTestActivities(st, runner)

	out, err := activities.ExecuteAutomatedAction(context.Background(), StageInput{
		RunID:    "query-1",
		Question: "plateste parcarea pentru doua ore",
		Config:   stageConfig("action", nil),
	})
	require.NoError(t, err)
	require.True(t, out.Outcome.Success)
	require.Equal(t, []string{"2h"}, runner.calls)
	require.Equal(t, []string{"stage.started", "stage.completed"}, eventTypes(t, st, "query-1"))
}

func TestRunGeneralSearch_EmptyResultDegrades(t *testing.T) {
	st := memory.New()
	withStubSearchClient(t, &stubSearchClient{err: errors.New("rate limited")})
	activities := newTestActivities(st, &stubRunner{})

	out, err := activities.RunGeneralSearch(context.Background(), SearchStageInput{
		RunID:  "query-1",
		Query:  "program primarie",
		Config: stageConfig("general_search", nil),
	})
	require.NoError(t, err)
	require.Empty(t, out.Result)
	require.Equal(t, []string{"stage.started", "stage.degraded"}, eventTypes(t, st, "query-1"))
}

func TestRunRestrictedSearch_ForwardsDomains(t *testing.T) {
	st := memory.New()
	client := &stubSearchClient{result: "rezultate oficiale"}
	withStubSearchClient(t, client)
	activities := newTestActivities(st, &stubRunner{})

	out, err := activities.RunRestrictedSearch(context.Background(), SearchStageInput{
		RunID:   "query-1",
		Query:   "taxe locale",
		Domains: []string{"primariatm.ro"},
		Config:  stageConfig("restricted_search", nil),
	})
	require.NoError(t, err)
	require.Equal(t, "rezultate oficiale", out.Result)
	require.Len(t, client.requests, 1)
	require.Equal(t, []string{"primariatm.ro"}, client.requests[0].AllowedDomains)
}

func TestSelectDomains_ProviderFailureFallsBack(t *testing.T) {
	st := memory.New()
	withStubProvider(t, nil, errors.New("provider unavailable"))
	activities := newTestActivities(st, &stubRunner{})

	out, err := activities.SelectDomains(context.Background(), StageInput{
		RunID:    "query-1",
		Question: "intrebare",
		Config:   stageConfig("domain_selection", map[string]any{"fallback_domains": []any{"custom.ro"}}),
	})
	require.NoError(t, err)
	require.True(t, out.UsedFallback)
	require.Equal(t, []string{"custom.ro"}, out.Domains)
}

func TestAugmentKnowledge_UsesStore(t *testing.T) {
	st := memory.New()
	require.NoError(t, st.UpsertKnowledge(context.Background(), store.KnowledgeEntry{
		Domain:  "primariatm.ro",
		Content: "ghid local",
	}))
	activities := newTestActivities(st, &stubRunner{})

	out, err := activities.AugmentKnowledge(context.Background(), AugmentInput{
		RunID:   "query-1",
		Domains: []string{"primariatm.ro", "anaf.ro"},
		Config:  stageConfig("augmentation", map[string]any{"domains": []any{"primariatm.ro"}}),
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"primariatm.ro": "ghid local"}, out.Knowledge)
}

func TestSynthesizeResponse_Degraded(t *testing.T) {
	st := memory.New()
	provider := &stubProvider{err: errors.New("unavailable")}
	withStubProvider(t, provider, nil)
	activities := newTestActivities(st, &stubRunner{})

	out, err := activities.SynthesizeResponse(context.Background(), SynthesizeInput{
		RunID:   "query-1",
		Context: *pipeline.NewQueryContext("intrebare"),
		Config:  stageConfig("synthesis", nil),
	})
	require.NoError(t, err)
	require.True(t, out.Degraded)
	require.Empty(t, out.Response)
	// first attempt plus bounded retry
	require.Len(t, provider.requests, 2)
}

func TestCompleteQueryRun_PersistsProvenance(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.CreateQueryRun(ctx, store.QueryRun{ID: "query-1", Question: "intrebare"}))
	activities := newTestActivities(st, &stubRunner{})

	qc := pipeline.NewQueryContext("intrebare")
	qc.RecordStage(pipeline.StageReformulation)
	qc.RecordStage(pipeline.StageSynthesis)
	qc.FinalResponse = "raspunsul final"

	require.NoError(t, activities.CompleteQueryRun(ctx, CompleteInput{
		RunID:   "query-1",
		Status:  "completed",
		Context: *qc,
	}))

	run, err := st.GetQueryRun(ctx, "query-1")
	require.NoError(t, err)
	require.Equal(t, "completed", run.Status)
	require.Equal(t, "raspunsul final", run.FinalResponse)
	stages, ok := run.Provenance["stages_executed"].([]any)
	require.True(t, ok)
	require.Len(t, stages, 2)
	require.NotContains(t, run.Provenance, "final_response")

	types := eventTypes(t, st, "query-1")
	require.Contains(t, types, "run.completed")
}

func TestCompleteQueryRun_RequiresRunID(t *testing.T) {
	activities := newTestActivities(memory.New(), &stubRunner{})
	err := activities.CompleteQueryRun(context.Background(), CompleteInput{})
	require.Error(t, err)
}

func TestHandleRunFailure_MarksFailed(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.CreateQueryRun(ctx, store.QueryRun{ID: "query-1", Question: "intrebare"}))
	activities := newTestActivities(st, &stubRunner{})

	require.NoError(t, activities.HandleRunFailure(ctx, RunFailureInput{
		RunID: "query-1",
		Error: "domain_selection: store unreachable",
	}))

	run, err := st.GetQueryRun(ctx, "query-1")
	require.NoError(t, err)
	require.Equal(t, "failed", run.Status)
	require.Contains(t, eventTypes(t, st, "query-1"), "run.failed")
}

func TestResolveLLMConfig_SettingsOverride(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.UpsertLLMSettings(ctx, store.LLMSettings{
		Provider: "openrouter",
		Model:    "anthropic/claude-sonnet",
	}))
	activities := newTestActivities(st, &stubRunner{})

	cfg, err := activities.resolveLLMConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, "openrouter", cfg.Provider)
	require.Equal(t, "anthropic/claude-sonnet", cfg.Model)
	// default key kept when settings carry no encrypted key
	require.Equal(t, "test-key", cfg.OpenAIAPIKey)
}

func TestResolveLLMConfig_MissingKey(t *testing.T) {
	st := memory.New()
	activities := NewPipelineActivities(st, llm.Config{Provider: "openai"}, search.OpenAIConfig{}, &stubRunner{}, nil, "")

	_, err := activities.resolveLLMConfig(context.Background())
	require.Error(t, err)
}

func TestResolveSearchClient_MissingKey(t *testing.T) {
	st := memory.New()
	activities := NewPipelineActivities(st, llm.Config{}, search.OpenAIConfig{}, &stubRunner{}, nil, "")

	_, err := activities.resolveSearchClient(context.Background())
	require.Error(t, err)
}
