package pipeline

// Stage names as they appear in provenance records and run events.
const (
	StageReformulation    = "reformulation"
	StageAction           = "action"
	StageGeneralSearch    = "general_search"
	StageDomainSelection  = "domain_selection"
	StageRestrictedSearch = "restricted_search"
	StageAugmentation     = "augmentation"
	StageSynthesis        = "synthesis"
)

// DegradedResponse is the user-visible answer when synthesis itself failed:
// the run still completes, it just carries no assembled evidence.
const DegradedResponse = "Nu am putut aduna suficiente informatii verificabile pentru aceasta intrebare. Va rugam incercati din nou sau contactati direct primaria. / We could not assemble the available evidence for this question. Please try again or contact the city hall directly."

// EarlyExitNotice builds the final response for a run that ended at the
// action stage with a successful automated transaction.
func EarlyExitNotice(detail string) string {
	notice := "Plata parcarii a fost efectuata cu succes. / The parking payment was completed successfully."
	if detail != "" {
		notice += "\n\n" + detail
	}
	return notice
}

// ActionOutcome is produced once by the action stage and read-only afterward.
type ActionOutcome struct {
	IntentDetected bool   `json:"intent_detected"`
	Parameter      string `json:"parameter"`
	Executed       bool   `json:"executed"`
	Success        bool   `json:"success"`
	Detail         string `json:"detail"`
}

// DomainSelectionResult carries the authority domains chosen for the
// restricted search, plus the raw model text for provenance.
type DomainSelectionResult struct {
	Domains      []string `json:"domains"`
	RawText      string   `json:"raw_text"`
	UsedFallback bool     `json:"used_fallback"`
}

// QueryContext accumulates one run's results. It is owned by the orchestrator
// for the lifetime of the run; stages write only their own fields.
type QueryContext struct {
	OriginalQuestion       string            `json:"original_question"`
	ReformulatedQuery      string            `json:"reformulated_query,omitempty"`
	ActionResult           *ActionOutcome    `json:"action_result,omitempty"`
	GeneralSearchResult    string            `json:"general_search_result,omitempty"`
	SelectedDomains        []string          `json:"selected_domains,omitempty"`
	UsedFallbackDomains    bool              `json:"used_fallback_domains,omitempty"`
	RestrictedSearchResult string            `json:"restricted_search_result,omitempty"`
	AugmentedKnowledge     map[string]string `json:"augmented_knowledge,omitempty"`
	FinalResponse          string            `json:"final_response,omitempty"`
	StagesExecuted         []string          `json:"stages_executed"`
	TerminatedEarly        bool              `json:"terminated_early"`
}

func NewQueryContext(question string) *QueryContext {
	return &QueryContext{
		OriginalQuestion:   question,
		AugmentedKnowledge: map[string]string{},
		StagesExecuted:     []string{},
	}
}

// RecordStage appends to the provenance trail in execution order.
func (c *QueryContext) RecordStage(name string) {
	c.StagesExecuted = append(c.StagesExecuted, name)
}

// EffectiveQuery is the reformulated query when the reformulation stage
// produced one, otherwise the original question.
func (c *QueryContext) EffectiveQuery() string {
	if c.ReformulatedQuery != "" {
		return c.ReformulatedQuery
	}
	return c.OriginalQuestion
}
