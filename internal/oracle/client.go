// Package oracle provides text completion against an external generation
// service. The engine treats any failure here as an infrastructure fault,
// never a reason to retry SQL repair.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/SS8816/rulequery/internal/config"
	apperrors "github.com/SS8816/rulequery/internal/errors"
)

// Provider identifiers supported by the client.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
)

// Oracle generates a completion for a prompt.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Client implements Oracle with multiple provider support.
type Client struct {
	config     config.OracleConfig
	httpClient *http.Client
}

// NewClient creates an oracle client from configuration.
func NewClient(cfg config.OracleConfig) (*Client, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, apperrors.New(apperrors.ErrTypeConfig, "API key is required for openai provider")
		}

		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
	case ProviderAzure:
		if cfg.APIKey == "" {
			return nil, apperrors.New(apperrors.ErrTypeConfig, "API key is required for azure provider")
		}

		if cfg.BaseURL == "" {
			return nil, apperrors.New(apperrors.ErrTypeConfig, "base URL is required for azure provider")
		}

		if cfg.Deployment == "" {
			return nil, apperrors.New(apperrors.ErrTypeConfig, "deployment is required for azure provider")
		}
	default:
		return nil, apperrors.Newf(apperrors.ErrTypeConfig, "unsupported oracle provider: %s", cfg.Provider)
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.TimeoutDuration(),
		},
	}, nil
}

// chat completion structures shared by both providers
type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *chatError   `json:"error,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Complete sends the prompt to the configured provider and returns the raw
// completion text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: c.config.Temperature,
	}

	var (
		endpoint string
		headers  map[string]string
	)

	switch c.config.Provider {
	case ProviderAzure:
		endpoint = fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			strings.TrimSuffix(c.config.BaseURL, "/"), c.config.Deployment, c.config.APIVersion)
		headers = map[string]string{"api-key": c.config.APIKey}
	default:
		reqBody.Model = c.config.Model
		endpoint = strings.TrimSuffix(c.config.BaseURL, "/") + "/chat/completions"
		headers = map[string]string{"Authorization": "Bearer " + c.config.APIKey}
	}

	respBody, err := c.makeRequest(ctx, endpoint, headers, reqBody)
	if err != nil {
		return "", err
	}

	var response chatResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrTypeOracle, "failed to parse completion response")
	}

	if response.Error != nil {
		return "", apperrors.Newf(apperrors.ErrTypeOracle, "completion API error: %s", response.Error.Message)
	}

	if len(response.Choices) == 0 {
		return "", apperrors.New(apperrors.ErrTypeOracle, "completion returned no choices")
	}

	return response.Choices[0].Message.Content, nil
}

func (c *Client) makeRequest(ctx context.Context, endpoint string, headers map[string]string, reqBody interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeOracle, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeOracle, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeOracle, "completion request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTypeOracle, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.ErrTypeOracle,
			"completion request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
