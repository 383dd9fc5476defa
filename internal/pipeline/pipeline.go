package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/efugier/pipelm/internal/configfile"
	"github.com/efugier/pipelm/internal/credentials"
	"github.com/efugier/pipelm/internal/dispatch"
	"github.com/efugier/pipelm/internal/prompt"
	"github.com/efugier/pipelm/internal/providers"
	"github.com/efugier/pipelm/internal/providers/registry"
	"github.com/efugier/pipelm/internal/storage"
)

const DefaultPromptName = "default"

// UsageRecorder persists token counts after a successful call.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, r storage.UsageRecord) (storage.UsageRecord, error)
}

type Config struct {
	Store       *configfile.Store
	Credentials *credentials.Resolver
	Dispatcher  *dispatch.Dispatcher
	Usage       UsageRecorder
	Policy      prompt.Policy
	Logger      zerolog.Logger
}

type Runner struct {
	store       *configfile.Store
	credentials *credentials.Resolver
	dispatcher  *dispatch.Dispatcher
	usage       UsageRecorder
	policy      prompt.Policy
	logger      zerolog.Logger
}

func New(cfg Config) *Runner {
	if cfg.Policy == "" {
		cfg.Policy = prompt.PolicyAppend
	}
	return &Runner{
		store:       cfg.Store,
		credentials: cfg.Credentials,
		dispatcher:  cfg.Dispatcher,
		usage:       cfg.Usage,
		policy:      cfg.Policy,
		logger:      cfg.Logger,
	}
}

type Request struct {
	PromptName string
	Overrides  prompt.Overrides
	Input      string
}

type Result struct {
	API   configfile.API
	Model string
	Text  string
	Usage providers.Usage
}

// PickPrompt reads the positional arguments: a known prompt name optionally
// followed by an instruction, or only an instruction for the default prompt.
func (r *Runner) PickPrompt(args []string) (name, instruction string, err error) {
	if len(args) == 0 {
		return DefaultPromptName, "", nil
	}
	prompts, err := r.store.LoadPrompts()
	if err != nil {
		return "", "", err
	}
	if _, ok := prompts[args[0]]; ok {
		return args[0], strings.Join(args[1:], " "), nil
	}
	return DefaultPromptName, strings.Join(args, " "), nil
}

// Preview returns the customised prompt with its model filled in, without
// touching the input or the network.
func (r *Runner) Preview(name string, o prompt.Overrides) (configfile.Prompt, configfile.APIConfig, error) {
	p, err := r.store.Prompt(name)
	if err != nil {
		return configfile.Prompt{}, configfile.APIConfig{}, err
	}
	p = prompt.Customize(p, o)

	apiCfg, err := r.store.APIConfig(p.API.String())
	if err != nil {
		return configfile.Prompt{}, configfile.APIConfig{}, err
	}
	if p.Model == "" {
		p.Model = apiCfg.DefaultModel
	}
	return p, apiCfg, nil
}

func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	name := req.PromptName
	if name == "" {
		name = DefaultPromptName
	}
	log := r.logger.With().Str("prompt", name).Logger()

	p, err := r.store.Prompt(name)
	if err != nil {
		return Result{}, err
	}
	p = prompt.Customize(p, req.Overrides)

	apiCfg, err := r.store.APIConfig(p.API.String())
	if err != nil {
		return Result{}, err
	}

	resolved, err := prompt.Resolve(p, apiCfg, req.Input, r.policy)
	if err != nil {
		return Result{}, err
	}
	log.Debug().Str("api", resolved.API().String()).Str("model", resolved.Model()).Msg("prompt resolved")

	// unsupported apis fail in dispatch; no need to run a key command first
	credential := ""
	if registry.IsSupported(resolved.API()) {
		credential, err = r.credentials.Resolve(ctx, resolved.API().String(), apiCfg)
		if err != nil {
			return Result{}, err
		}
	}

	resp, err := r.dispatcher.Dispatch(ctx, resolved, apiCfg, credential)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch %s: %w", resolved.API(), err)
	}

	if r.usage != nil {
		if _, err := r.usage.RecordUsage(ctx, storage.UsageRecord{
			PromptName:       name,
			API:              resolved.API().String(),
			Model:            resolved.Model(),
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}); err != nil {
			log.Warn().Err(err).Msg("failed to record usage")
		}
	}

	return Result{
		API:   resolved.API(),
		Model: resolved.Model(),
		Text:  resp.Text,
		Usage: resp.Usage,
	}, nil
}
