package store

import "context"

type QueryRun struct {
	ID            string
	Question      string
	Status        string
	FinalResponse string
	Provenance    map[string]any
	CreatedAt     string
	UpdatedAt     string
}

type QueryRunSummary struct {
	ID              string
	Question        string
	Status          string
	TerminatedEarly bool
	CreatedAt       string
	UpdatedAt       string
}

type RunEvent struct {
	RunID     string
	Seq       int64
	Type      string
	Timestamp string
	Source    string
	Payload   map[string]any
}

// StageRecord is the per-stage provenance row derived from run events. One
// record per stage name per run; later events merge into earlier ones.
type StageRecord struct {
	RunID       string
	Name        string
	Status      string
	Seq         int64
	StartedAt   string
	CompletedAt string
	Detail      string
	Diagnostics map[string]any
}

type KnowledgeEntry struct {
	Domain    string
	Title     string
	Content   string
	Builtin   bool
	CreatedAt string
	UpdatedAt string
}

type LLMSettings struct {
	Provider      string
	Model         string
	BaseURL       string
	APIKeyEnc     string
	SearchBaseURL string
	SearchModel   string
	CreatedAt     string
	UpdatedAt     string
}

type Store interface {
	CreateQueryRun(ctx context.Context, run QueryRun) error
	GetQueryRun(ctx context.Context, runID string) (*QueryRun, error)
	ListQueryRuns(ctx context.Context) ([]QueryRunSummary, error)
	UpdateQueryRun(ctx context.Context, run QueryRun) error
	DeleteQueryRun(ctx context.Context, runID string) error
	AppendEvent(ctx context.Context, event RunEvent) error
	ListEvents(ctx context.Context, runID string, afterSeq int64) ([]RunEvent, error)
	NextSeq(ctx context.Context, runID string) (int64, error)
	ListStageRecords(ctx context.Context, runID string) ([]StageRecord, error)
	ListKnowledge(ctx context.Context) ([]KnowledgeEntry, error)
	GetKnowledge(ctx context.Context, domain string) (*KnowledgeEntry, error)
	GetKnowledgeByDomain(ctx context.Context, domain string) (string, error)
	UpsertKnowledge(ctx context.Context, entry KnowledgeEntry) error
	DeleteKnowledge(ctx context.Context, domain string) error
	GetLLMSettings(ctx context.Context) (*LLMSettings, error)
	UpsertLLMSettings(ctx context.Context, settings LLMSettings) error
}
