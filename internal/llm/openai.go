package llm

import (
	"context"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/httpx"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultSmallModel = "gpt-4o-mini"
	defaultLargeModel = "gpt-4o"
)

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	SmallModel string
	LargeModel string
	Timeout    time.Duration
	Retries    int
}

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	smallModel string
	largeModel string
	http       *httpx.Client
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, clierr.Service("OPENAI_API_KEY is not set", nil)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		smallModel: orDefault(cfg.SmallModel, defaultSmallModel),
		largeModel: orDefault(cfg.LargeModel, defaultLargeModel),
		http:       httpx.New(timeout, cfg.Retries),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) UseModel(ctx context.Context, model ModelType, prompt string) (string, error) {
	req := chatRequest{
		Model:       c.smallModel,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}
	if model.Large() {
		req.Model = c.largeModel
	}
	if model.Structured() {
		req.ResponseFormat = map[string]string{"type": "json_object"}
		req.Messages = append([]chatMessage{{Role: "system", Content: "Respond with a single JSON object only."}}, req.Messages...)
	}

	var resp chatResponse
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := c.http.PostJSON(ctx, c.baseURL+"/chat/completions", headers, req, &resp); err != nil {
		return "", clierr.Service("model call failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", clierr.Service("model response has no choices", nil)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", clierr.Service("model response is empty", nil)
	}
	return content, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}
