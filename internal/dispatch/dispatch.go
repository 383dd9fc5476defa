package dispatch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/efugier/pipelm/internal/configfile"
	"github.com/efugier/pipelm/internal/metrics"
	"github.com/efugier/pipelm/internal/prompt"
	"github.com/efugier/pipelm/internal/providers"
	"github.com/efugier/pipelm/internal/providers/registry"
	"github.com/efugier/pipelm/internal/quota"
)

// Limiter refuses a request with an error when the api is over budget.
type Limiter interface {
	Check(ctx context.Context, api string, now time.Time) error
}

type Config struct {
	HTTPClient *http.Client
	Limiter    Limiter
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

type Dispatcher struct {
	httpClient *http.Client
	limiter    Limiter
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func New(cfg Config) *Dispatcher {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Dispatcher{
		httpClient: cfg.HTTPClient,
		limiter:    cfg.Limiter,
		logger:     cfg.Logger,
		metrics:    m,
		now:        time.Now,
	}
}

// Dispatch sends one resolved prompt to its api. There is no retry.
func (d *Dispatcher) Dispatch(ctx context.Context, resolved prompt.Resolved, cfg configfile.APIConfig, credential string) (providers.ChatResponse, error) {
	api := resolved.API().String()
	log := d.logger.With().Str("api", api).Str("model", resolved.Model()).Logger()

	p, err := registry.Build(registry.BuildOptions{
		API:        resolved.API(),
		URL:        cfg.URL,
		APIKey:     credential,
		HTTPClient: d.httpClient,
	})
	if err != nil {
		d.metrics.Failures.WithLabelValues(api, failureKind(err)).Inc()
		return providers.ChatResponse{}, err
	}

	if d.limiter != nil && registry.IsSupported(resolved.API()) {
		if err := d.limiter.Check(ctx, api, d.now()); err != nil {
			var qerr *quota.ExceededError
			if errors.As(err, &qerr) {
				d.metrics.QuotaDeny.WithLabelValues(api).Inc()
			}
			d.metrics.Failures.WithLabelValues(api, failureKind(err)).Inc()
			return providers.ChatResponse{}, err
		}
	}

	req := ToChatRequest(resolved)
	log.Debug().Str("url", cfg.URL).Int("messages", len(req.Messages)).Msg("dispatching request")

	d.metrics.Requests.WithLabelValues(api).Inc()
	started := time.Now()
	resp, err := p.Chat(ctx, req)
	if err != nil {
		d.metrics.Failures.WithLabelValues(api, failureKind(err)).Inc()
		log.Debug().Err(err).Dur("elapsed", time.Since(started)).Msg("request failed")
		return providers.ChatResponse{}, err
	}

	d.metrics.Tokens.WithLabelValues(api, "prompt").Add(float64(resp.Usage.PromptTokens))
	d.metrics.Tokens.WithLabelValues(api, "completion").Add(float64(resp.Usage.CompletionTokens))
	log.Debug().
		Dur("elapsed", time.Since(started)).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("request done")
	return resp, nil
}

func ToChatRequest(r prompt.Resolved) providers.ChatRequest {
	msgs := r.Messages()
	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, providers.Message{Role: m.Role, Content: m.Content})
	}
	req := providers.ChatRequest{Model: r.Model(), Messages: out}
	if t, ok := r.Temperature(); ok {
		req.Temperature = &t
	}
	return req
}

func failureKind(err error) string {
	var (
		uerr *providers.UnsupportedProviderError
		terr *providers.TransportError
		merr *providers.MalformedResponseError
		qerr *quota.ExceededError
	)
	switch {
	case errors.As(err, &uerr):
		return "unsupported"
	case errors.As(err, &terr):
		return "transport"
	case errors.As(err, &merr):
		return "malformed"
	case errors.As(err, &qerr):
		return "quota"
	default:
		return "other"
	}
}
