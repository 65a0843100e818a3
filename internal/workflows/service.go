package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
)

type Service struct {
	client    client.Client
	taskQueue string
}

func NewService(client client.Client, taskQueue string) *Service {
	if taskQueue == "" {
		taskQueue = "civic-queries"
	}
	return &Service{client: client, taskQueue: taskQueue}
}

func (s *Service) StartQuery(ctx context.Context, runID string, question string, config map[string]any) error {
	options := client.StartWorkflowOptions{
		ID:        workflowID(runID),
		TaskQueue: s.taskQueue,
	}
	_, err := s.client.ExecuteWorkflow(ctx, options, QueryWorkflow, QueryInput{
		RunID:    runID,
		Question: question,
		Config:   config,
	})
	return err
}

func (s *Service) CancelQuery(ctx context.Context, runID string) error {
	return s.client.CancelWorkflow(ctx, workflowID(runID), "")
}

func workflowID(runID string) string {
	return fmt.Sprintf("query:%s", runID)
}
