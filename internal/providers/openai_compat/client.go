package openai_compat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/efugier/pipelm/internal/providers"
)

const maxResponseBytes = 4 << 20

type Config struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []providers.Message `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
}

// Chat performs exactly one request; callers decide whether to try again.
func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	body, err := BuildPayload(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	if err := validateURL(c.cfg.URL); err != nil {
		return providers.ChatResponse{}, err
	}

	respBody, err := c.post(ctx, body)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return parseChatCompletions(respBody)
}

// BuildPayload renders the chat completions body. Temperature is left out
// entirely when unset.
func BuildPayload(req providers.ChatRequest) ([]byte, error) {
	messages := req.Messages
	if messages == nil {
		messages = []providers.Message{}
	}
	b, err := json.Marshal(chatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &providers.TransportError{Detail: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &providers.TransportError{Status: resp.StatusCode, Detail: "read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &providers.TransportError{Status: resp.StatusCode, Detail: truncate(strings.TrimSpace(string(respBody)), 400)}
	}
	return respBody, nil
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &providers.TransportError{Detail: "api url is empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &providers.TransportError{Detail: "parse api url", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &providers.TransportError{Detail: fmt.Sprintf("unsupported url scheme %q", u.Scheme)}
	}
	return nil
}

func parseChatCompletions(body []byte) (providers.ChatResponse, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     *int `json:"prompt_tokens"`
			CompletionTokens *int `json:"completion_tokens"`
			TotalTokens      *int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return providers.ChatResponse{}, &providers.MalformedResponseError{Detail: "decode chat completion response", Err: err}
	}
	if len(resp.Choices) == 0 {
		return providers.ChatResponse{}, &providers.MalformedResponseError{Detail: "empty choices in chat completion response"}
	}
	text, ok := anyToText(resp.Choices[0].Message.Content)
	if !ok {
		return providers.ChatResponse{}, &providers.MalformedResponseError{Detail: "missing message content in chat completion response"}
	}
	u := resp.Usage
	if u == nil {
		return providers.ChatResponse{}, &providers.MalformedResponseError{Detail: "missing usage in chat completion response"}
	}
	if u.PromptTokens == nil || u.CompletionTokens == nil || u.TotalTokens == nil {
		return providers.ChatResponse{}, &providers.MalformedResponseError{Detail: "incomplete usage counters in chat completion response"}
	}
	return providers.ChatResponse{Text: text, Usage: providers.Usage{
		PromptTokens:     *u.PromptTokens,
		CompletionTokens: *u.CompletionTokens,
		TotalTokens:      *u.TotalTokens,
	}}, nil
}

func anyToText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if txt, ok := m["text"].(string); ok {
					parts = append(parts, txt)
				}
			}
		}
		return strings.Join(parts, "\n"), len(parts) > 0
	default:
		return "", false
	}
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
