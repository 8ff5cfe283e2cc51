package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SS8816/rulequery/internal/config"
	apperrors "github.com/SS8816/rulequery/internal/errors"
)

func openAIConfig(baseURL string) config.OracleConfig {
	return config.OracleConfig{
		Provider:    ProviderOpenAI,
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "gpt-4o",
		Temperature: 1.0,
		Timeout:     "5s",
	}
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.OracleConfig
	}{
		{
			name: "openai missing key",
			cfg:  config.OracleConfig{Provider: ProviderOpenAI},
		},
		{
			name: "azure missing deployment",
			cfg: config.OracleConfig{
				Provider: ProviderAzure,
				BaseURL:  "https://example.openai.azure.com",
				APIKey:   "k",
			},
		},
		{
			name: "unknown provider",
			cfg:  config.OracleConfig{Provider: "bedrock", APIKey: "k"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
		})
	}
}

func TestCompleteOpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		resp := chatResponse{Choices: []chatChoice{
			{Message: chatMessage{Role: "assistant", Content: "SELECT 1"}},
		}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client, err := NewClient(openAIConfig(server.URL))
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "generate a query")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out)
}

func TestCompleteAzureRouting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/my-gpt4o/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-06-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "azure-key", r.Header.Get("api-key"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Empty(t, req.Model)

		resp := chatResponse{Choices: []chatChoice{
			{Message: chatMessage{Role: "assistant", Content: "SELECT 2"}},
		}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client, err := NewClient(config.OracleConfig{
		Provider:   ProviderAzure,
		BaseURL:    server.URL,
		APIKey:     "azure-key",
		Deployment: "my-gpt4o",
		APIVersion: "2024-06-01",
		Timeout:    "5s",
	})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "generate")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", out)
}

func TestCompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := chatResponse{Error: &chatError{Message: "rate limited", Type: "rate_limit"}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client, err := NewClient(openAIConfig(server.URL))
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "generate")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeOracle))
	assert.Contains(t, err.Error(), "rate limited")
}

func TestCompleteHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(openAIConfig(server.URL))
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "generate")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeOracle))
	assert.Contains(t, err.Error(), "502")
}

func TestCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(chatResponse{}))
	}))
	defer server.Close()

	client, err := NewClient(openAIConfig(server.URL))
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "generate")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeOracle))
}
