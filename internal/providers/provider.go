package providers

import (
	"context"
	"fmt"
	"strings"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatResponse struct {
	Text  string
	Usage Usage
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

type UnsupportedProviderError struct {
	Requested string
	Supported []string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("%s is not implemented, use one among [%s]", e.Requested, strings.Join(e.Supported, ", "))
}

// TransportError covers everything between sending the request and getting a
// 2xx back. Status is 0 when no response was received.
type TransportError struct {
	Status int
	Detail string
	Err    error
}

func (e *TransportError) Error() string {
	msg := "transport error"
	if e.Status != 0 {
		msg = fmt.Sprintf("provider status %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

type MalformedResponseError struct {
	Detail string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Detail, e.Err)
	}
	return "malformed response: " + e.Detail
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
