package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zatekoja/clinicalcopilot/internal/infrastructure/observability"
	"github.com/zatekoja/clinicalcopilot/pkg/config"
	"golang.org/x/time/rate"
)

const (
	// ProviderName identifies this provider in the gateway
	ProviderName     = "anthropic"
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-3-5-haiku-latest"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1500
)

// Client is a text provider backed by the Anthropic Messages API
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new Anthropic client. A client without an API key is
// created but reports itself unavailable.
func NewClient(cfg *config.AnthropicConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = 50
	}

	return &Client{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Name implements providers.TextProvider
func (c *Client) Name() string { return ProviderName }

// IsAvailable reports whether an API key is configured
func (c *Client) IsAvailable() bool { return c.apiKey != "" }

// MakeRequest sends one system/user pair and returns the first text block
func (c *Client) MakeRequest(ctx context.Context, systemInstruction, userInput string) (string, error) {
	if !c.IsAvailable() {
		return "", errors.New("anthropic api key is not configured")
	}

	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	observability.RecordLLMRateLimitWait(ctx, ProviderName, c.model, time.Since(waitStart))

	body, err := json.Marshal(messagesRequest{
		Model:       c.model,
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.2,
		System:      systemInstruction,
		Messages:    []message{{Role: "user", Content: userInput}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordLLMRequest(ctx, ProviderName, c.model, 0, time.Since(start), err)
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.RecordLLMRequest(ctx, ProviderName, c.model, resp.StatusCode, time.Since(start), err)
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("anthropic API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			err = fmt.Errorf("anthropic API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		observability.RecordLLMRequest(ctx, ProviderName, c.model, resp.StatusCode, time.Since(start), err)
		return "", err
	}

	var parsed messagesResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		observability.RecordLLMRequest(ctx, ProviderName, c.model, resp.StatusCode, time.Since(start), err)
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" && block.Text != "" {
			observability.RecordLLMRequest(ctx, ProviderName, c.model, resp.StatusCode, time.Since(start), nil)
			return block.Text, nil
		}
	}

	err = errors.New("empty response from anthropic API")
	observability.RecordLLMRequest(ctx, ProviderName, c.model, resp.StatusCode, time.Since(start), err)
	return "", err
}

// HealthCheck lists models to confirm the key and endpoint work
func (c *Client) HealthCheck(ctx context.Context) bool {
	if !c.IsAvailable() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Anthropic-Version", apiVersion)
}
