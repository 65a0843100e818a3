package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	ControlPlanePort    string
	ControlPlaneURL     string
	AutomationURL       string
	StoreBackend        string
	PostgresURL         string
	TemporalAddress     string
	TemporalTaskQueue   string
	LLMMode             string
	LLMProvider         string
	LLMModel            string
	LLMBaseURL          string
	OpenAIAPIKey        string
	SearchBaseURL       string
	SearchModel         string
	SearchRatePerMinute int
	PipelineConfigPath  string
	SecretsKey          string
}

func Load() Config {
	controlPlanePort := getEnv("CONTROL_PLANE_PORT", "8080")
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = buildPostgresURL()
	}
	return Config{
		ControlPlanePort:    controlPlanePort,
		ControlPlaneURL:     getEnv("CONTROL_PLANE_URL", "http://localhost:"+controlPlanePort),
		AutomationURL:       getEnv("AUTOMATION_RUNNER_URL", "http://localhost:8081"),
		StoreBackend:        getEnv("STORE_BACKEND", "postgres"),
		PostgresURL:         postgresURL,
		TemporalAddress:     getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue:   getEnv("TEMPORAL_TASK_QUEUE", "civic-queries"),
		LLMMode:             getEnv("LLM_MODE", "remote"),
		LLMProvider:         getEnv("LLM_PROVIDER", "openai"),
		LLMModel:            getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMBaseURL:          getEnv("LLM_BASE_URL", ""),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		SearchBaseURL:       getEnv("SEARCH_BASE_URL", ""),
		SearchModel:         getEnv("SEARCH_MODEL", "gpt-4o-mini"),
		SearchRatePerMinute: getEnvInt("SEARCH_RATE_PER_MINUTE", 20),
		PipelineConfigPath:  getEnv("PIPELINE_CONFIG_PATH", "config/pipeline.yaml"),
		SecretsKey:          getEnv("SECRETS_KEY", ""),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "civic")
	password := getEnv("POSTGRES_PASSWORD", "civic")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "civic")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
