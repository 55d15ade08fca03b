package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalcopilot/internal/adapters/providers/llm"
	"github.com/zatekoja/clinicalcopilot/pkg/config"
)

func newCompatServer(t *testing.T, status int, body string) (*httptest.Server, *[]map[string]interface{}) {
	t.Helper()
	var requests []map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/chat/completions":
			var payload map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			requests = append(requests, payload)
			w.WriteHeader(status)
			w.Write([]byte(body))
		case "/v1/models":
			w.Write([]byte(`{"object":"list","data":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestOpenAICompatProvider_MakeRequest(t *testing.T) {
	server, requests := newCompatServer(t, http.StatusOK,
		`{"id":"c1","object":"chat.completion","created":1,"model":"deepseek-chat","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"treatment_plan\":\"rest\"}"}}]}`)

	provider := llm.NewOpenAICompatProvider("deepseek", server.URL+"/v1", "key", "", server.Client())

	text, err := provider.MakeRequest(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"treatment_plan":"rest"}`, text)

	require.Len(t, *requests, 1)
	payload := (*requests)[0]
	assert.Equal(t, "deepseek-chat", payload["model"])
	messages, ok := payload["messages"].([]interface{})
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestOpenAICompatProvider_ErrorsAreNotRetried(t *testing.T) {
	server, requests := newCompatServer(t, http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`)

	provider := llm.NewOpenAICompatProvider("compat", server.URL+"/v1", "key", "m", server.Client())

	_, err := provider.MakeRequest(context.Background(), "system", "user")
	assert.Error(t, err)
	assert.Len(t, *requests, 1)
}

func TestOpenAICompatProvider_EmptyChoices(t *testing.T) {
	server, _ := newCompatServer(t, http.StatusOK, `{"id":"c2","object":"chat.completion","created":1,"model":"m","choices":[]}`)

	provider := llm.NewOpenAICompatProvider("compat", server.URL+"/v1", "key", "m", server.Client())

	_, err := provider.MakeRequest(context.Background(), "system", "user")
	assert.EqualError(t, err, "compat returned no content")
}

func TestOpenAICompatProvider_Availability(t *testing.T) {
	server, _ := newCompatServer(t, http.StatusOK, `{}`)

	healthy := llm.NewOpenAICompatProvider("compat", server.URL+"/v1", "key", "m", server.Client())
	assert.True(t, healthy.IsAvailable())
	assert.True(t, healthy.HealthCheck(context.Background()))

	keyless := llm.NewDeepSeekProvider(&config.DeepSeekConfig{BaseURL: server.URL + "/v1"})
	assert.Equal(t, llm.DeepSeekProviderName, keyless.Name())
	assert.False(t, keyless.IsAvailable())
	assert.False(t, keyless.HealthCheck(context.Background()))
	_, err := keyless.MakeRequest(context.Background(), "s", "u")
	assert.Error(t, err)
}

func TestNewTextProviders_HeuristicAlwaysAvailable(t *testing.T) {
	all := llm.NewTextProviders(&config.Config{})

	names := llm.ProviderNames(all)
	assert.Equal(t, []string{"openai", "anthropic", llm.DeepSeekProviderName, llm.HeuristicProviderName}, names)
	for _, p := range all {
		assert.Equal(t, p.Name() == llm.HeuristicProviderName, p.IsAvailable(), p.Name())
	}
}
