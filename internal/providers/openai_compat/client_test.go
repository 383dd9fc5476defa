package openai_compat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/efugier/pipelm/internal/providers"
)

const okResponse = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "m-1",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "bonjour"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
}`

func TestBuildPayloadOmitsUnsetTemperature(t *testing.T) {
	body, err := BuildPayload(providers.ChatRequest{
		Model:    "m-1",
		Messages: []providers.Message{{Role: "user", Content: "Translate: hello"}},
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	want := `{"model":"m-1","messages":[{"role":"user","content":"Translate: hello"}]}`
	if string(body) != want {
		t.Fatalf("unexpected body\n got: %s\nwant: %s", body, want)
	}
}

func TestBuildPayloadKeepsExactTemperature(t *testing.T) {
	for _, temp := range []float64{0, 0.25, 1.3} {
		temp := temp
		body, err := BuildPayload(providers.ChatRequest{Model: "m", Temperature: &temp})
		if err != nil {
			t.Fatalf("build payload: %v", err)
		}
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		got, ok := payload["temperature"]
		if !ok {
			t.Fatalf("temperature missing for %v: %s", temp, body)
		}
		if got.(float64) != temp {
			t.Fatalf("expected temperature %v, got %v", temp, got)
		}
		if _, ok := payload["messages"].([]any); !ok {
			t.Fatalf("messages must serialize as an array: %s", body)
		}
	}
}

func TestChatSendsHeadersAndParsesResponse(t *testing.T) {
	var gotAuth, gotType, gotMethod string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotMethod = r.Method
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okResponse))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL + "/v1/chat/completions", APIKey: "sk-test"})
	resp, err := c.Chat(context.Background(), providers.ChatRequest{
		Model:    "m-1",
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Fatalf("expected POST, got %s", gotMethod)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if gotType != "application/json" {
		t.Fatalf("unexpected content type %q", gotType)
	}
	if string(gotBody) != `{"model":"m-1","messages":[{"role":"user","content":"hello"}]}` {
		t.Fatalf("unexpected request body %s", gotBody)
	}
	if resp.Text != "bonjour" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.Usage != (providers.Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}) {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
}

func TestChatNon2xxIsTransportError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL, APIKey: "k"}).Chat(context.Background(), providers.ChatRequest{Model: "m"})
	var terr *providers.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if terr.Status != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status %d", terr.Status)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestChatConnectionRefusedIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(Config{URL: url, APIKey: "k"}).Chat(context.Background(), providers.ChatRequest{Model: "m"})
	var terr *providers.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if terr.Status != 0 {
		t.Fatalf("expected no status, got %d", terr.Status)
	}
}

func TestChatRejectsBadURL(t *testing.T) {
	_, err := New(Config{URL: "ftp://example"}).Chat(context.Background(), providers.ChatRequest{Model: "m"})
	var terr *providers.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestParseChatCompletionsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `<html>`,
		"no choices":    `{"choices": [], "usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}}`,
		"no content":    `{"choices": [{"message": {"role": "assistant"}}], "usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}}`,
		"no usage":      `{"choices": [{"message": {"content": "hi"}}]}`,
		"numeric value": `{"choices": [{"message": {"content": 3}}], "usage": {}}`,
		"empty usage":   `{"choices": [{"message": {"content": "hi"}}], "usage": {}}`,
		"no total":      `{"choices": [{"message": {"content": "hi"}}], "usage": {"prompt_tokens": 1, "completion_tokens": 1}}`,
	}
	for name, body := range cases {
		_, err := parseChatCompletions([]byte(body))
		var merr *providers.MalformedResponseError
		if !errors.As(err, &merr) {
			t.Fatalf("%s: expected MalformedResponseError, got %v", name, err)
		}
	}
}

func TestParseChatCompletionsContentParts(t *testing.T) {
	resp, err := parseChatCompletions([]byte(`{
  "choices": [{"message": {"content": [{"type": "text", "text": "a"}, {"type": "text", "text": "b"}]}}],
  "usage": {"prompt_tokens": 1, "completion_tokens": 2, "total_tokens": 3}
}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Text != "a\nb" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
}
