package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/zatekoja/clinicalcopilot/internal/domain/providers"
	"github.com/zatekoja/clinicalcopilot/internal/infrastructure/observability"
	"github.com/zatekoja/clinicalcopilot/pkg/config"
)

const (
	// DeepSeekProviderName identifies the OpenAI-compatible chat provider
	DeepSeekProviderName = "deepseek"

	defaultCompatBaseURL = "https://api.deepseek.com/v1"
	defaultCompatModel   = "deepseek-chat"
	compatRequestTimeout = 45 * time.Second
)

// OpenAICompatProvider talks to any OpenAI-compatible chat completions
// endpoint through the official SDK. SDK retries are disabled because the
// gateway owns retry and fallback.
type OpenAICompatProvider struct {
	name   string
	model  string
	apiKey string
	client openaigo.Client
}

// NewDeepSeekProvider creates the chat provider from configuration
func NewDeepSeekProvider(cfg *config.DeepSeekConfig) providers.TextProvider {
	return NewOpenAICompatProvider(DeepSeekProviderName, cfg.BaseURL, cfg.APIKey, cfg.Model, nil)
}

// NewOpenAICompatProvider creates a provider for baseURL. A nil httpClient
// uses a client with the default timeout.
func NewOpenAICompatProvider(name, baseURL, apiKey, model string, httpClient *http.Client) *OpenAICompatProvider {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultCompatBaseURL
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultCompatModel
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: compatRequestTimeout}
	}

	client := openaigo.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(compatRequestTimeout),
	)
	return &OpenAICompatProvider{
		name:   name,
		model:  model,
		apiKey: strings.TrimSpace(apiKey),
		client: client,
	}
}

// Name implements providers.TextProvider
func (p *OpenAICompatProvider) Name() string { return p.name }

// IsAvailable reports whether an API key is configured
func (p *OpenAICompatProvider) IsAvailable() bool { return p.apiKey != "" }

// MakeRequest sends a system and a user message and returns the first choice
func (p *OpenAICompatProvider) MakeRequest(ctx context.Context, systemInstruction, userInput string) (string, error) {
	if !p.IsAvailable() {
		return "", errors.New(p.name + " api key is not configured")
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model: openaigo.ChatModel(p.model),
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage(systemInstruction),
			openaigo.UserMessage(userInput),
		},
		Temperature: openaigo.Float(0.2),
	})
	if err != nil {
		observability.RecordLLMRequest(ctx, p.name, p.model, statusCode(err), time.Since(start), err)
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		err := errors.New(p.name + " returned no content")
		observability.RecordLLMRequest(ctx, p.name, p.model, http.StatusOK, time.Since(start), err)
		return "", err
	}

	observability.RecordLLMRequest(ctx, p.name, p.model, http.StatusOK, time.Since(start), nil)
	return resp.Choices[0].Message.Content, nil
}

// HealthCheck lists models to confirm the key and endpoint work
func (p *OpenAICompatProvider) HealthCheck(ctx context.Context) bool {
	if !p.IsAvailable() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.client.Models.List(ctx)
	return err == nil
}

func statusCode(err error) int {
	var apiErr *openaigo.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
