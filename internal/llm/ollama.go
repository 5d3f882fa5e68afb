package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/noxassist/nox/internal/httpkit"
)

// DefaultTimeout bounds a single completion request. Exceeding it is
// treated exactly like a provider connection failure.
const DefaultTimeout = 120 * time.Second

// OllamaClient is a client for the Ollama generate API.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// OllamaConfig configures an OllamaClient.
type OllamaConfig struct {
	BaseURL string        // e.g. "http://localhost:11434"
	Model   string        // e.g. "gemma3n:e2b"
	Timeout time.Duration // zero means DefaultTimeout
	Logger  *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(cfg.Timeout),
		),
		logger: cfg.Logger,
	}
}

// generateRequest is the Ollama /api/generate request body.
type generateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the non-streaming /api/generate response body.
type generateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count,omitempty"`
}

// Generate sends a completion request to Ollama. Network errors, timeouts,
// non-200 statuses, and undecodable bodies all wrap ErrProviderUnavailable
// so the caller has a single failure branch to handle.
func (c *OllamaClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	reqBody := generateRequest{
		Model:  c.model,
		System: system,
		Prompt: prompt,
		Stream: false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, levelTrace, "ollama request", "model", c.model, "bytes", len(body))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return "", fmt.Errorf("%w: ollama returned status %d: %s", ErrProviderUnavailable, resp.StatusCode, errBody)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err)
	}

	c.logger.Log(ctx, levelTrace, "ollama response", "model", genResp.Model, "eval_count", genResp.EvalCount)

	return genResp.Response, nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ollama returned status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}

// Model returns the configured model name.
func (c *OllamaClient) Model() string {
	return c.model
}

// levelTrace mirrors config.LevelTrace without importing config.
const levelTrace = slog.Level(-8)
