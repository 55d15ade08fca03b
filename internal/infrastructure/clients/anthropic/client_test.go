package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zatekoja/clinicalcopilot/pkg/config"
)

func TestClient_MakeRequest(t *testing.T) {
	var captured messagesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "key" || r.Header.Get("Anthropic-Version") != apiVersion {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"differentials\":[\"migraine\"]}"}],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	client := NewClient(&config.AnthropicConfig{APIKey: "key", BaseURL: server.URL, Model: "claude-test", RateLimitRPM: 6000})

	text, err := client.MakeRequest(context.Background(), "be terse", `{"task":"diagnosis"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != `{"differentials":["migraine"]}` {
		t.Errorf("unexpected text %q", text)
	}
	if captured.System != "be terse" || captured.Model != "claude-test" {
		t.Errorf("unexpected request %+v", captured)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Errorf("expected a single user message, got %+v", captured.Messages)
	}
}

func TestClient_MakeRequest_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	client := NewClient(&config.AnthropicConfig{APIKey: "key", BaseURL: server.URL, RateLimitRPM: 6000})

	_, err := client.MakeRequest(context.Background(), "s", "u")
	if err == nil || !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("expected API error message, got %v", err)
	}
}

func TestClient_MakeRequest_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[]}`))
	}))
	defer server.Close()

	client := NewClient(&config.AnthropicConfig{APIKey: "key", BaseURL: server.URL, RateLimitRPM: 6000})

	if _, err := client.MakeRequest(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected an error for empty content")
	}
}

func TestClient_CancelledWhileRateLimited(t *testing.T) {
	client := NewClient(&config.AnthropicConfig{APIKey: "key", BaseURL: "http://127.0.0.1:0", RateLimitRPM: 1})
	client.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.MakeRequest(ctx, "s", "u"); err == nil {
		t.Fatal("expected the limiter wait to fail on a cancelled context")
	}
}
