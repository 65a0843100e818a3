package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Result is the opaque outcome of one automated transaction. The pipeline
// never inspects the runner's internal steps, only this summary.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error"`
}

type Runner interface {
	Run(ctx context.Context, parameter string) (Result, error)
}

type HTTPRunnerConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPRunner drives the external browser-automation service that performs the
// parking payment transaction. One call, no retries: the transaction is an
// irreversible real-world action.
type HTTPRunner struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRunner(cfg HTTPRunnerConfig) *HTTPRunner {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &HTTPRunner{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRunner) Run(ctx context.Context, parameter string) (Result, error) {
	if r.baseURL == "" {
		return Result{}, errors.New("automation runner URL not configured")
	}
	body, err := json.Marshal(map[string]string{"duration": parameter})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("automation runner failed: %s", resp.Status)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, err
	}
	return result, nil
}
