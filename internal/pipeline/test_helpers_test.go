package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/miroslav43/tmAgent-sub000/internal/automation"
	"github.com/miroslav43/tmAgent-sub000/internal/llm"
	"github.com/miroslav43/tmAgent-sub000/internal/runconfig"
	"github.com/miroslav43/tmAgent-sub000/internal/search"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Generate(ctx context.Context, request llm.Request) (string, error) {
	args := m.Called(ctx, request)
	return args.String(0), args.Error(1)
}

type MockSearchClient struct {
	mock.Mock
}

func (m *MockSearchClient) Search(ctx context.Context, request search.Request) (string, error) {
	args := m.Called(ctx, request)
	return args.String(0), args.Error(1)
}

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, parameter string) (automation.Result, error) {
	args := m.Called(ctx, parameter)
	return args.Get(0).(automation.Result), args.Error(1)
}

type MockKnowledgeSource struct {
	mock.Mock
}

func (m *MockKnowledgeSource) GetKnowledgeByDomain(ctx context.Context, domain string) (string, error) {
	args := m.Called(ctx, domain)
	return args.String(0), args.Error(1)
}

func sectionFrom(values map[string]any) runconfig.Section {
	return runconfig.FromTree(map[string]any{"stage": values}).Section("stage")
}
