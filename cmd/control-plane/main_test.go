package main

import (
	"context"
	"errors"
	"os"
	"testing"

	"go.temporal.io/sdk/client"

	"github.com/miroslav43/tmAgent-sub000/internal/config"
	"github.com/miroslav43/tmAgent-sub000/internal/events"
	"github.com/miroslav43/tmAgent-sub000/internal/runconfig"
	"github.com/miroslav43/tmAgent-sub000/internal/store"
	"github.com/miroslav43/tmAgent-sub000/internal/store/memory"
	"github.com/miroslav43/tmAgent-sub000/internal/workflows"
)

type stubServer struct {
	err error
}

func (s stubServer) Start(ctx context.Context, addr string) error {
	return s.err
}

func captureControlPlaneDeps() func() {
	origLoadConfig := loadConfig
	origNewBroker := newBroker
	origNewStore := newStore
	origEnsureBuiltins := ensureBuiltins
	origLoadBaseConfig := loadBaseConfig
	origDialTemporal := dialTemporal
	origNewWorkflowService := newWorkflowService
	origNewServer := newServer
	origNotifyContext := notifyContext

	return func() {
		loadConfig = origLoadConfig
		newBroker = origNewBroker
		newStore = origNewStore
		ensureBuiltins = origEnsureBuiltins
		loadBaseConfig = origLoadBaseConfig
		dialTemporal = origDialTemporal
		newWorkflowService = origNewWorkflowService
		newServer = origNewServer
		notifyContext = origNotifyContext
	}
}

func stubBaseConfig() map[string]any {
	tree := map[string]any{}
	for _, section := range runconfig.RequiredSections() {
		tree[section] = map[string]any{}
	}
	return tree
}

func TestRunSuccess(t *testing.T) {
	restore := captureControlPlaneDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{
			ControlPlanePort: "0",
			StoreBackend:     "memory",
			TemporalAddress:  "localhost:7233",
		}, nil
	}
	newStore = func(_ config.Config) (store.Store, error) {
		return memory.New(), nil
	}
	calledEnsureBuiltins := false
	ensureBuiltins = func(_ context.Context, _ store.Store) error {
		calledEnsureBuiltins = true
		return nil
	}
	loadBaseConfig = func(_ string) (map[string]any, error) {
		return stubBaseConfig(), nil
	}
	dialTemporal = func(_ client.Options) (client.Client, error) {
		return nil, nil
	}
	newWorkflowService = func(_ client.Client, _ string) *workflows.Service {
		return nil
	}
	newServer = func(_ store.Store, _ *events.Broker, _ *workflows.Service, _ config.Config, _ map[string]any) server {
		return stubServer{}
	}
	notifyContext = func(ctx context.Context, _ ...os.Signal) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}

	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !calledEnsureBuiltins {
		t.Fatal("expected built-in knowledge bootstrap to be called")
	}
}

func TestRunBuiltinBootstrapFailureIsNonFatal(t *testing.T) {
	restore := captureControlPlaneDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{
			ControlPlanePort: "0",
			StoreBackend:     "memory",
			TemporalAddress:  "localhost:7233",
		}, nil
	}
	newStore = func(_ config.Config) (store.Store, error) {
		return memory.New(), nil
	}
	ensureBuiltins = func(_ context.Context, _ store.Store) error {
		return errors.New("bootstrap failed")
	}
	loadBaseConfig = func(_ string) (map[string]any, error) {
		return stubBaseConfig(), nil
	}
	dialTemporal = func(_ client.Options) (client.Client, error) {
		return nil, nil
	}
	newWorkflowService = func(_ client.Client, _ string) *workflows.Service {
		return nil
	}
	newServer = func(_ store.Store, _ *events.Broker, _ *workflows.Service, _ config.Config, _ map[string]any) server {
		return stubServer{}
	}
	notifyContext = func(ctx context.Context, _ ...os.Signal) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}

	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestRunConfigLoadFailure(t *testing.T) {
	restore := captureControlPlaneDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{}, errors.New("config load failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunBaseConfigLoadFailure(t *testing.T) {
	restore := captureControlPlaneDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{PipelineConfigPath: "missing.yaml"}, nil
	}
	loadBaseConfig = func(_ string) (map[string]any, error) {
		return nil, errors.New("no such file")
	}
	notifyContext = func(ctx context.Context, _ ...os.Signal) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunStoreInitFailure(t *testing.T) {
	restore := captureControlPlaneDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{PostgresURL: "postgres://example"}, nil
	}
	loadBaseConfig = func(_ string) (map[string]any, error) {
		return stubBaseConfig(), nil
	}
	newStore = func(_ config.Config) (store.Store, error) {
		return nil, errors.New("store init failed")
	}
	notifyContext = func(ctx context.Context, _ ...os.Signal) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunTemporalClientFailure(t *testing.T) {
	restore := captureControlPlaneDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{
			StoreBackend:    "memory",
			TemporalAddress: "localhost:7233",
		}, nil
	}
	loadBaseConfig = func(_ string) (map[string]any, error) {
		return stubBaseConfig(), nil
	}
	newStore = func(_ config.Config) (store.Store, error) {
		return memory.New(), nil
	}
	ensureBuiltins = func(_ context.Context, _ store.Store) error {
		return nil
	}
	dialTemporal = func(_ client.Options) (client.Client, error) {
		return nil, errors.New("temporal dial failed")
	}
	notifyContext = func(ctx context.Context, _ ...os.Signal) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}
