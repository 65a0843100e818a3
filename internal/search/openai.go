package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// RatePerMinute caps outbound search calls; zero disables limiting.
	RatePerMinute int
}

// OpenAIClient issues web searches through an OpenAI-compatible responses
// endpoint with the hosted web_search tool.
type OpenAIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.RatePerMinute)
	}
	return &OpenAIClient{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

func (c *OpenAIClient) Search(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("missing API key for search service")
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return "", errors.New("empty search query")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}

	tool := map[string]any{"type": "web_search"}
	if size := strings.TrimSpace(req.ContextSize); size != "" {
		tool["search_context_size"] = size
	}
	if geo := strings.TrimSpace(req.GeoHint); geo != "" {
		tool["user_location"] = map[string]any{
			"type":   "approximate",
			"region": geo,
		}
	}
	if len(req.AllowedDomains) > 0 {
		tool["filters"] = map[string]any{"allowed_domains": req.AllowedDomains}
	}

	payload := map[string]any{
		"model": model,
		"input": buildSearchInput(query, req),
		"tools": []any{tool},
	}
	if prompt := strings.TrimSpace(req.SystemPrompt); prompt != "" {
		payload["instructions"] = prompt
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("search request failed: %s", resp.Status)
	}

	var parsed struct {
		OutputText string `json:"output_text"`
		Output     []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if text := strings.TrimSpace(parsed.OutputText); text != "" {
		return text, nil
	}
	for _, item := range parsed.Output {
		if item.Type != "message" {
			continue
		}
		for _, content := range item.Content {
			if content.Type != "output_text" {
				continue
			}
			if text := strings.TrimSpace(content.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", errors.New("search response had no text output")
}

// buildSearchInput folds the date window into the query text; the hosted
// search tool has no dedicated date filter fields.
func buildSearchInput(query string, req Request) string {
	parts := []string{query}
	if after := strings.TrimSpace(req.DateAfter); after != "" {
		parts = append(parts, "Only use sources published after "+after+".")
	}
	if before := strings.TrimSpace(req.DateBefore); before != "" {
		parts = append(parts, "Only use sources published before "+before+".")
	}
	return strings.Join(parts, "\n")
}
