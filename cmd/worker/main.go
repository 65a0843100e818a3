package main

import (
	"log"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/miroslav43/tmAgent-sub000/internal/automation"
	"github.com/miroslav43/tmAgent-sub000/internal/config"
	"github.com/miroslav43/tmAgent-sub000/internal/llm"
	"github.com/miroslav43/tmAgent-sub000/internal/search"
	"github.com/miroslav43/tmAgent-sub000/internal/secrets"
	"github.com/miroslav43/tmAgent-sub000/internal/store"
	"github.com/miroslav43/tmAgent-sub000/internal/store/memory"
	"github.com/miroslav43/tmAgent-sub000/internal/store/postgres"
	"github.com/miroslav43/tmAgent-sub000/internal/workflows"
)

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	dialTemporal = client.Dial
	newStore     = func(cfg config.Config) (store.Store, error) {
		if cfg.StoreBackend == "memory" {
			return memory.New(), nil
		}
		return postgres.New(cfg.PostgresURL)
	}
	parseSecretsKey = secrets.ParseKey
	newActivities   = func(st store.Store, defaultLLM llm.Config, defaultSearch search.OpenAIConfig, runner automation.Runner, secretsKey []byte, controlPlaneURL string, opts ...workflows.PipelineActivitiesOption) *workflows.PipelineActivities {
		return workflows.NewPipelineActivities(st, defaultLLM, defaultSearch, runner, secretsKey, controlPlaneURL, opts...)
	}
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
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
	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
	})
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	st, err := newStore(cfg)
	if err != nil {
		return err
	}

	var secretsKey []byte
	if cfg.SecretsKey != "" {
		parsed, err := parseSecretsKey(cfg.SecretsKey)
		if err != nil {
			return err
		}
		secretsKey = parsed
	}

	runner := automation.NewHTTPRunner(automation.HTTPRunnerConfig{
		BaseURL: cfg.AutomationURL,
		Timeout: 3 * time.Minute,
	})

	activities := newActivities(st, llm.Config{
		Mode:         cfg.LLMMode,
		Provider:     cfg.LLMProvider,
		Model:        cfg.LLMModel,
		BaseURL:      cfg.LLMBaseURL,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
	}, search.OpenAIConfig{
		APIKey:        cfg.OpenAIAPIKey,
		Model:         cfg.SearchModel,
		BaseURL:       cfg.SearchBaseURL,
		RatePerMinute: cfg.SearchRatePerMinute,
	}, runner, secretsKey, cfg.ControlPlaneURL)

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.QueryWorkflow)
	w.RegisterActivity(activities)

	log.Println("Civic pipeline worker started")
	if err := w.Run(workerInterrupt()); err != nil {
		return err
	}

	return nil
}
