package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/miroslav43/tmAgent-sub000/internal/config"
	"github.com/miroslav43/tmAgent-sub000/internal/events"
	"github.com/miroslav43/tmAgent-sub000/internal/runconfig"
	"github.com/miroslav43/tmAgent-sub000/internal/store"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateQueryRun(ctx context.Context, run store.QueryRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockStore) GetQueryRun(ctx context.Context, runID string) (*store.QueryRun, error) {
	args := m.Called(ctx, runID)
	if value := args.Get(0); value != nil {
		return value.(*store.QueryRun), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ListQueryRuns(ctx context.Context) ([]store.QueryRunSummary, error) {
	args := m.Called(ctx)
	var result []store.QueryRunSummary
	if value := args.Get(0); value != nil {
		result = value.([]store.QueryRunSummary)
	}
	return result, args.Error(1)
}

func (m *MockStore) UpdateQueryRun(ctx context.Context, run store.QueryRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockStore) DeleteQueryRun(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

func (m *MockStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.RunEvent, error) {
	args := m.Called(ctx, runID, afterSeq)
	var result []store.RunEvent
	if value := args.Get(0); value != nil {
		result = value.([]store.RunEvent)
	}
	return result, args.Error(1)
}

func (m *MockStore) NextSeq(ctx context.Context, runID string) (int64, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) ListStageRecords(ctx context.Context, runID string) ([]store.StageRecord, error) {
	args := m.Called(ctx, runID)
	var result []store.StageRecord
	if value := args.Get(0); value != nil {
		result = value.([]store.StageRecord)
	}
	return result, args.Error(1)
}

func (m *MockStore) ListKnowledge(ctx context.Context) ([]store.KnowledgeEntry, error) {
	args := m.Called(ctx)
	var result []store.KnowledgeEntry
	if value := args.Get(0); value != nil {
		result = value.([]store.KnowledgeEntry)
	}
	return result, args.Error(1)
}

func (m *MockStore) GetKnowledge(ctx context.Context, domain string) (*store.KnowledgeEntry, error) {
	args := m.Called(ctx, domain)
	if value := args.Get(0); value != nil {
		return value.(*store.KnowledgeEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetKnowledgeByDomain(ctx context.Context, domain string) (string, error) {
	args := m.Called(ctx, domain)
	return args.String(0), args.Error(1)
}

func (m *MockStore) UpsertKnowledge(ctx context.Context, entry store.KnowledgeEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockStore) DeleteKnowledge(ctx context.Context, domain string) error {
	args := m.Called(ctx, domain)
	return args.Error(0)
}

func (m *MockStore) GetLLMSettings(ctx context.Context) (*store.LLMSettings, error) {
	args := m.Called(ctx)
	if value := args.Get(0); value != nil {
		return value.(*store.LLMSettings), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) UpsertLLMSettings(ctx context.Context, settings store.LLMSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(event events.RunEvent) {
	m.Called(event)
}

func (m *MockBroker) Subscribe(ctx context.Context, runID string) <-chan events.RunEvent {
	args := m.Called(ctx, runID)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.RunEvent); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.RunEvent); ok {
			return ch
		}
	}
	return nil
}

type MockWorkflowService struct {
	mock.Mock
}

func (m *MockWorkflowService) StartQuery(ctx context.Context, runID string, question string, config map[string]any) error {
	args := m.Called(ctx, runID, question, config)
	return args.Error(0)
}

func (m *MockWorkflowService) CancelQuery(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

// baseConfigTree returns a minimal base document that satisfies every
// required stage section.
func baseConfigTree() map[string]any {
	tree := map[string]any{}
	for _, section := range runconfig.RequiredSections() {
		tree[section] = map[string]any{}
	}
	return tree
}

func newTestServer(t *testing.T, store store.Store, broker Broker, workflows WorkflowService, cfg config.Config, baseConfig map[string]any) *httptest.Server {
	t.Helper()
	server := NewServer(store, broker, workflows, cfg, baseConfig)
	return httptest.NewServer(server.Router())
}
