package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"

	"github.com/miroslav43/tmAgent-sub000/internal/api"
	"github.com/miroslav43/tmAgent-sub000/internal/config"
	"github.com/miroslav43/tmAgent-sub000/internal/events"
	"github.com/miroslav43/tmAgent-sub000/internal/knowledge"
	"github.com/miroslav43/tmAgent-sub000/internal/runconfig"
	"github.com/miroslav43/tmAgent-sub000/internal/store"
	"github.com/miroslav43/tmAgent-sub000/internal/store/memory"
	"github.com/miroslav43/tmAgent-sub000/internal/store/postgres"
	"github.com/miroslav43/tmAgent-sub000/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	newBroker = events.NewBroker
	newStore  = func(cfg config.Config) (store.Store, error) {
		if cfg.StoreBackend == "memory" {
			return memory.New(), nil
		}
		return postgres.New(cfg.PostgresURL)
	}
	ensureBuiltins = knowledge.EnsureBuiltins
	loadBaseConfig = runconfig.LoadBase
	dialTemporal   = client.Dial

	newWorkflowService = workflows.NewService
	newServer          = func(st store.Store, broker *events.Broker, workflowService *workflows.Service, cfg config.Config, baseConfig map[string]any) server {
		return api.NewServer(st, broker, workflowService, cfg, baseConfig)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	baseConfig, err := loadBaseConfig(cfg.PipelineConfigPath)
	if err != nil {
		return fmt.Errorf("load pipeline configuration: %w", err)
	}

	broker := newBroker()
	st, err := newStore(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		if err := ensureBuiltins(ctx, st); err != nil {
			log.Printf("warning: failed to seed built-in knowledge: %v", err)
		}
	}

	workflowClient, err := dialTemporal(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		return err
	}
	if workflowClient != nil {
		defer workflowClient.Close()
	}
	workflowService := newWorkflowService(workflowClient, cfg.TemporalTaskQueue)

	server := newServer(st, broker, workflowService, cfg, baseConfig)

	addr := fmt.Sprintf(":%s", cfg.ControlPlanePort)
	log.Printf("Civic control plane listening on %s", addr)
	if err := server.Start(ctx, addr); err != nil {
		return err
	}

	return nil
}
