package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/efugier/pipelm/internal/config"
	"github.com/efugier/pipelm/internal/configfile"
	"github.com/efugier/pipelm/internal/credentials"
	"github.com/efugier/pipelm/internal/dispatch"
	"github.com/efugier/pipelm/internal/input"
	"github.com/efugier/pipelm/internal/metrics"
	"github.com/efugier/pipelm/internal/pipeline"
	"github.com/efugier/pipelm/internal/prompt"
	"github.com/efugier/pipelm/internal/quota"
	"github.com/efugier/pipelm/internal/storage"
)

type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	// overridable in tests
	stdinPiped  func() bool
	interactive func() bool
	runner      credentials.CommandRunner
}

type runFlags struct {
	api         string
	model       string
	temperature float64
	system      string
	context     string
	repeatInput bool
	placeholder string
}

func newRootCmd(a *app) *cobra.Command {
	if a.stdinPiped == nil {
		a.stdinPiped = input.StdinIsPiped
	}
	if a.interactive == nil {
		a.interactive = func() bool { return input.IsInteractive(a.cfg.NonInteractive) }
	}
	if a.runner == nil {
		a.runner = credentials.ShellRunner{}
	}

	f := &runFlags{}
	root := &cobra.Command{
		Use:           "pipelm [prompt|instruction] [instruction]",
		Short:         "Pipe text through a language model",
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var temp *float64
			if cmd.Flags().Changed("temperature") {
				temp = &f.temperature
			}
			return a.runPrompt(cmd, args, f, temp)
		},
	}
	addOverrideFlags(root, f)
	root.Flags().BoolVarP(&f.repeatInput, "repeat-input", "r", false, "write the input before the generated text")
	root.Flags().StringVar(&f.placeholder, "on-missing-placeholder", "", "append, ignore or error when the prompt has no placeholder")

	root.AddCommand(newShowCmd(a), newUsageCmd(a), newInitCmd(a))
	return root
}

func addOverrideFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVarP(&f.api, "api", "a", "", "api to use instead of the prompt's")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model to use instead of the prompt's")
	cmd.Flags().Float64VarP(&f.temperature, "temperature", "t", 0, "sampling temperature")
	cmd.Flags().StringVarP(&f.system, "system", "s", "", "system message replacing the prompt's first one")
	cmd.Flags().StringVarP(&f.context, "context", "c", "", "glob of files appended as context")
}

func newShowCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "show <prompt>",
		Short: "Print a prompt as it would be sent, without the input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.ensureStore(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			var temp *float64
			if cmd.Flags().Changed("temperature") {
				temp = &f.temperature
			}
			o, err := f.overrides(temp)
			if err != nil {
				return err
			}
			r := pipeline.New(pipeline.Config{Store: store, Logger: a.logger})
			p, _, err := r.Preview(args[0], o)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(p)
			if err != nil {
				return fmt.Errorf("render prompt: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	addOverrideFlags(cmd, f)
	return cmd
}

func newUsageCmd(a *app) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarise recorded token usage per api and model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.Usage.Enabled() {
				return fmt.Errorf("usage ledger disabled, set PIPELM_USAGE_DB_DSN")
			}
			ledger, err := storage.Open(cmd.Context(), a.cfg.Usage.Driver, a.cfg.Usage.DSN)
			if err != nil {
				return fmt.Errorf("open usage ledger: %w", err)
			}
			defer ledger.Close()

			from := time.Time{}
			if since > 0 {
				from = time.Now().Add(-since)
			}
			rows, err := ledger.Summarize(cmd.Context(), from)
			if err != nil {
				return err
			}
			return writeUsage(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only count calls newer than this, e.g. 24h")
	return cmd
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write default config files if they are missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := configfile.New(a.cfg.ConfigDir)
			gen, err := store.EnsureGenerated()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if gen.APIConfigs {
				fmt.Fprintf(out, "created %s\n", store.APIConfigsPath())
			}
			if gen.Prompts {
				fmt.Fprintf(out, "created %s\n", store.PromptsPath())
			}
			if !gen.Any() {
				fmt.Fprintf(out, "config already present in %s\n", store.Dir())
			}
			return nil
		},
	}
}

func (f *runFlags) overrides(temp *float64) (prompt.Overrides, error) {
	o := prompt.Overrides{Model: f.model, Temperature: temp, System: f.system}
	if f.api != "" {
		api, err := configfile.ParseAPI(f.api)
		if err != nil {
			return prompt.Overrides{}, fmt.Errorf("%w: %v", configfile.ErrUnknownAPI, err)
		}
		o.API = api
	}
	if f.context != "" {
		ctxText, err := prompt.LoadContext(f.context)
		if err != nil {
			return prompt.Overrides{}, err
		}
		o.Context = ctxText
	}
	return o, nil
}

// ensureStore scaffolds missing config files and warns about a setup that
// cannot reach any provider yet.
func (a *app) ensureStore(notice io.Writer) (*configfile.Store, error) {
	store := configfile.New(a.cfg.ConfigDir)
	gen, err := store.EnsureGenerated()
	if err != nil {
		return nil, err
	}
	if gen.Any() && a.interactive() {
		fmt.Fprintf(notice, "pipelm: wrote default config to %s, add an api_key or api_key_command to %s\n",
			store.Dir(), configfile.APIConfigsFile)
	}
	usable, err := store.Usable()
	if err != nil {
		return nil, err
	}
	if !usable {
		a.logger.Warn().Str("path", store.APIConfigsPath()).Msg("no api used by a prompt has a credential configured")
	}
	return store, nil
}

func (a *app) runPrompt(cmd *cobra.Command, args []string, f *runFlags, temp *float64) error {
	ctx := cmd.Context()

	store, err := a.ensureStore(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	policyName := a.cfg.PlaceholderPolicy
	if f.placeholder != "" {
		policyName = f.placeholder
	}
	policy, err := prompt.ParsePolicy(policyName)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidPlaceholder, err)
	}

	wired, err := a.buildDeps(ctx)
	if err != nil {
		return err
	}
	defer wired.close()

	runner := pipeline.New(pipeline.Config{
		Store:       store,
		Credentials: credentials.NewResolver(a.runner, a.cfg.Key.CommandTimeout),
		Dispatcher:  wired.dispatcher,
		Usage:       wired.usage,
		Policy:      policy,
		Logger:      a.logger,
	})

	name, instruction, err := runner.PickPrompt(args)
	if err != nil {
		return err
	}
	o, err := f.overrides(temp)
	if err != nil {
		return err
	}
	o.Instruction = instruction

	in := ""
	if a.stdinPiped() {
		if in, err = input.Read(cmd.InOrStdin()); err != nil {
			return err
		}
	}

	res, err := runner.Run(ctx, pipeline.Request{PromptName: name, Overrides: o, Input: in})
	wired.flushMetrics()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if f.repeatInput && in != "" {
		fmt.Fprint(out, in)
		if !strings.HasSuffix(in, "\n") {
			fmt.Fprintln(out)
		}
	}
	fmt.Fprint(out, res.Text)
	if !strings.HasSuffix(res.Text, "\n") {
		fmt.Fprintln(out)
	}
	return nil
}

type deps struct {
	dispatcher *dispatch.Dispatcher
	usage      pipeline.UsageRecorder
	metrics    *metrics.Metrics
	textfile   string
	logger     zerolog.Logger
	closers    []func() error
}

// buildDeps wires the optional redis quota and usage ledger. Both stay off
// unless their environment variables are set.
func (a *app) buildDeps(ctx context.Context) (*deps, error) {
	d := &deps{
		metrics:  metrics.Global(),
		textfile: a.cfg.Metric.TextfilePath,
		logger:   a.logger,
	}

	var limiter dispatch.Limiter
	if a.cfg.Redis.Enabled() && a.cfg.Rate.PerHour > 0 {
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		d.closers = append(d.closers, rdb.Close)
		limiter = quota.NewRateLimiter(rdb, a.cfg.Rate.PerHour)
	}

	if a.cfg.Usage.Enabled() {
		ledger, err := storage.Open(ctx, a.cfg.Usage.Driver, a.cfg.Usage.DSN)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("open usage ledger: %w", err)
		}
		d.closers = append(d.closers, ledger.Close)
		d.usage = ledger
	}

	d.dispatcher = dispatch.New(dispatch.Config{
		HTTPClient: &http.Client{Timeout: a.cfg.HTTP.ClientTimeout},
		Limiter:    limiter,
		Logger:     a.logger,
		Metrics:    d.metrics,
	})
	return d, nil
}

func (d *deps) flushMetrics() {
	if d.textfile == "" {
		return
	}
	if err := d.metrics.WriteTextfile(d.textfile); err != nil {
		d.logger.Warn().Err(err).Str("path", d.textfile).Msg("failed to write metrics")
	}
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Debug().Err(err).Msg("close")
		}
	}
}

func writeUsage(w io.Writer, rows []storage.UsageSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "API\tMODEL\tREQUESTS\tPROMPT\tCOMPLETION\tTOTAL")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			r.API, r.Model, r.Requests, r.PromptTokens, r.CompletionTokens, r.TotalTokens)
	}
	return tw.Flush()
}
