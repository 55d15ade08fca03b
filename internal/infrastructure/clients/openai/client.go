package openai

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
	ProviderName   = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

// ErrUnauthorized is returned when the API key is rejected
var ErrUnauthorized = errors.New("openai: unauthorized")

// Client is a text provider backed by the OpenAI Responses API
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new OpenAI client. A client without an API key is
// created but reports itself unavailable.
func NewClient(cfg *config.OpenAIConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: newLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst),
	}
}

// newLimiter converts requests per minute into a token bucket. A negative
// rpm disables limiting.
func newLimiter(rpm, burst int) *rate.Limiter {
	if rpm < 0 {
		return nil
	}
	if rpm == 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = 5
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
}

// Name implements providers.TextProvider
func (c *Client) Name() string { return ProviderName }

// IsAvailable reports whether an API key is configured
func (c *Client) IsAvailable() bool { return c.apiKey != "" }

type responseContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseOutput struct {
	Content []responseContent `json:"content"`
}

type responseEnvelope struct {
	Output []responseOutput `json:"output"`
}

// MakeRequest sends one system/user pair and returns the first output text
func (c *Client) MakeRequest(ctx context.Context, systemInstruction, userInput string) (string, error) {
	if !c.IsAvailable() {
		return "", errors.New("openai api key is not configured")
	}

	if c.limiter != nil {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			observability.RecordLLMRequest(ctx, ProviderName, c.model, 0, 0, err)
			return "", fmt.Errorf("rate limiter: %w", err)
		}
		observability.RecordLLMRateLimitWait(ctx, ProviderName, c.model, time.Since(waitStart))
	}

	payload := map[string]interface{}{
		"model": c.model,
		"input": []map[string]string{
			{"role": "system", "content": systemInstruction},
			{"role": "user", "content": userInput},
		},
		"temperature":       0.2,
		"max_output_tokens": 1500,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordLLMRequest(ctx, ProviderName, c.model, 0, time.Since(start), err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("openai request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		observability.RecordLLMRequest(ctx, ProviderName, c.model, resp.StatusCode, time.Since(start), err)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return "", err
	}

	var envelope responseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		observability.RecordLLMRequest(ctx, ProviderName, c.model, resp.StatusCode, time.Since(start), err)
		return "", fmt.Errorf("failed to decode openai response: %w", err)
	}

	for _, out := range envelope.Output {
		for _, content := range out.Content {
			if content.Type == "output_text" && content.Text != "" {
				observability.RecordLLMRequest(ctx, ProviderName, c.model, resp.StatusCode, time.Since(start), nil)
				return content.Text, nil
			}
		}
	}

	err = errors.New("openai response missing output text")
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

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
