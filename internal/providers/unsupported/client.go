package unsupported

import (
	"context"

	"github.com/efugier/pipelm/internal/providers"
)

// Client stands in for an api whose wire format is not implemented yet.
type Client struct {
	api       string
	supported []string
}

func New(api string, supported []string) *Client {
	return &Client{api: api, supported: supported}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	return providers.ChatResponse{}, &providers.UnsupportedProviderError{
		Requested: c.api,
		Supported: append([]string(nil), c.supported...),
	}
}
