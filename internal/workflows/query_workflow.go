package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/miroslav43/tmAgent-sub000/internal/pipeline"
	"github.com/miroslav43/tmAgent-sub000/internal/runconfig"
)

type QueryInput struct {
	RunID    string
	Question string
	// Config is the resolved run configuration tree, validated before the
	// workflow starts.
	Config map[string]any
}

type QueryResult struct {
	Status        string
	FinalResponse string
}

// QueryWorkflow drives one citizen question through the pipeline. Stage
// activities absorb their own failures and return degraded outputs; an error
// from an activity therefore means infrastructure trouble, and the run is
// marked failed.
//
// The general web search is scheduled before domain selection so the two
// model calls overlap; the domain-restricted search starts as soon as the
// selection resolves, and both searches complete before synthesis.
func QueryWorkflow(ctx workflow.Context, input QueryInput) (QueryResult, error) {
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)
	logger := workflow.GetLogger(ctx)

	cfg := runconfig.FromTree(input.Config)
	qc := pipeline.NewQueryContext(input.Question)

	fail := func(stage string, err error) (QueryResult, error) {
		logger.Error("pipeline activity failed", "stage", stage, "error", err)
		failureInput := RunFailureInput{RunID: input.RunID, Error: stage + ": " + err.Error()}
		if failureErr := workflow.ExecuteActivity(ctx, "HandleRunFailure", failureInput).Get(ctx, nil); failureErr != nil {
			logger.Error("failed to persist run failure", "error", failureErr)
		}
		return QueryResult{Status: "failed"}, nil
	}

	if cfg.Section(runconfig.SectionReformulation).Enabled() {
		qc.RecordStage(pipeline.StageReformulation)
		var reformulated ReformulateOutput
		if err := workflow.ExecuteActivity(ctx, "ReformulateQuery", StageInput{
			RunID:    input.RunID,
			Question: input.Question,
			Config:   input.Config,
		}).Get(ctx, &reformulated); err != nil {
			return fail(pipeline.StageReformulation, err)
		}
		qc.ReformulatedQuery = reformulated.Query
	}

	if cfg.Section(runconfig.SectionAction).Enabled() {
		qc.RecordStage(pipeline.StageAction)
		var action ActionOutput
		if err := workflow.ExecuteActivity(ctx, "ExecuteAutomatedAction", StageInput{
			RunID:    input.RunID,
			Question: input.Question,
			Config:   input.Config,
		}).Get(ctx, &action); err != nil {
			return fail(pipeline.StageAction, err)
		}
		outcome := action.Outcome
		qc.ActionResult = &outcome

		if outcome.Executed && outcome.Success {
			qc.TerminatedEarly = true
			qc.FinalResponse = pipeline.EarlyExitNotice(outcome.Detail)
			return completeRun(ctx, input.RunID, qc, fail)
		}
	}

	var generalFuture workflow.Future
	if cfg.Section(runconfig.SectionGeneralSearch).Enabled() {
		qc.RecordStage(pipeline.StageGeneralSearch)
		generalFuture = workflow.ExecuteActivity(ctx, "RunGeneralSearch", SearchStageInput{
			RunID:  input.RunID,
			Query:  qc.EffectiveQuery(),
			Config: input.Config,
		})
	}

	if cfg.Section(runconfig.SectionDomainSelection).Enabled() {
		qc.RecordStage(pipeline.StageDomainSelection)
		var selection DomainsOutput
		if err := workflow.ExecuteActivity(ctx, "SelectDomains", StageInput{
			RunID:    input.RunID,
			Question: qc.EffectiveQuery(),
			Config:   input.Config,
		}).Get(ctx, &selection); err != nil {
			return fail(pipeline.StageDomainSelection, err)
		}
		qc.SelectedDomains = selection.Domains
		qc.UsedFallbackDomains = selection.UsedFallback
	}

	var restrictedFuture workflow.Future
	if cfg.Section(runconfig.SectionRestrictedSearch).Enabled() && len(qc.SelectedDomains) > 0 {
		qc.RecordStage(pipeline.StageRestrictedSearch)
		restrictedFuture = workflow.ExecuteActivity(ctx, "RunRestrictedSearch", SearchStageInput{
			RunID:   input.RunID,
			Query:   qc.EffectiveQuery(),
			Domains: qc.SelectedDomains,
			Config:  input.Config,
		})
	}

	if generalFuture != nil {
		var general SearchStageOutput
		if err := generalFuture.Get(ctx, &general); err != nil {
			return fail(pipeline.StageGeneralSearch, err)
		}
		qc.GeneralSearchResult = general.Result
	}
	if restrictedFuture != nil {
		var restricted SearchStageOutput
		if err := restrictedFuture.Get(ctx, &restricted); err != nil {
			return fail(pipeline.StageRestrictedSearch, err)
		}
		qc.RestrictedSearchResult = restricted.Result
	}

	if cfg.Section(runconfig.SectionAugmentation).Enabled() {
		qc.RecordStage(pipeline.StageAugmentation)
		var augmented AugmentOutput
		if err := workflow.ExecuteActivity(ctx, "AugmentKnowledge", AugmentInput{
			RunID:   input.RunID,
			Domains: qc.SelectedDomains,
			Config:  input.Config,
		}).Get(ctx, &augmented); err != nil {
			return fail(pipeline.StageAugmentation, err)
		}
		qc.AugmentedKnowledge = augmented.Knowledge
	}

	if cfg.Section(runconfig.SectionSynthesis).Enabled() {
		qc.RecordStage(pipeline.StageSynthesis)
		var synthesized SynthesizeOutput
		if err := workflow.ExecuteActivity(ctx, "SynthesizeResponse", SynthesizeInput{
			RunID:   input.RunID,
			Context: *qc,
			Config:  input.Config,
		}).Get(ctx, &synthesized); err != nil {
			return fail(pipeline.StageSynthesis, err)
		}
		qc.FinalResponse = synthesized.Response
	}
	if qc.FinalResponse == "" {
		qc.FinalResponse = pipeline.DegradedResponse
	}

	return completeRun(ctx, input.RunID, qc, fail)
}

func completeRun(ctx workflow.Context, runID string, qc *pipeline.QueryContext, fail func(string, error) (QueryResult, error)) (QueryResult, error) {
	if err := workflow.ExecuteActivity(ctx, "CompleteQueryRun", CompleteInput{
		RunID:   runID,
		Status:  "completed",
		Context: *qc,
	}).Get(ctx, nil); err != nil {
		return fail("completion", err)
	}
	return QueryResult{Status: "completed", FinalResponse: qc.FinalResponse}, nil
}
