package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"ratelimiter/internal/config"
	"ratelimiter/internal/ratelimit"
	"ratelimiter/internal/storage"

	"github.com/spf13/cobra"
)

// checkResult is one line of the dry-run report.
type checkResult struct {
	Request      int               `json:"request"`
	At           time.Time         `json:"at"`
	Key          string            `json:"key"`
	Allowed      bool              `json:"allowed"`
	StatusCode   int               `json:"status_code"`
	Remaining    int               `json:"remaining"`
	RetryAfterMs int64             `json:"retry_after_ms,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

type checkOptions struct {
	client  string
	path    string
	count   int
	spacing time.Duration
}

func newCheckCmd() *cobra.Command {
	var opts checkOptions

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Dry-run the configured limit against an in-memory store",
		Long: "Runs --count checks for one client and path against a fresh in-memory store\n" +
			"using the rate_limit section of the loaded configuration, and prints each\n" +
			"decision as JSON. Time advances by --spacing between checks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			rlCfg, err := ratelimit.FromModel(cfg.RateLimit)
			if err != nil {
				return fmt.Errorf("invalid rate limit configuration: %w", err)
			}
			rlCfg.SweepInterval = 0
			return runCheck(cmd.Context(), cmd.OutOrStdout(), rlCfg, cfg.RateLimit.ExposeHeaders, opts)
		},
	}

	cmd.Flags().StringVar(&opts.client, "client", "127.0.0.1", "Client address of the simulated requests")
	cmd.Flags().StringVar(&opts.path, "path", "/", "Request path of the simulated requests")
	cmd.Flags().IntVar(&opts.count, "count", 1, "Number of requests to simulate")
	cmd.Flags().DurationVar(&opts.spacing, "spacing", 0, "Simulated time between requests")

	return cmd
}

func runCheck(ctx context.Context, out io.Writer, cfg ratelimit.Config, exposeHeaders bool, opts checkOptions) error {
	if opts.count < 1 {
		return errors.New("--count must be at least 1")
	}
	if opts.spacing < 0 {
		return errors.New("--spacing cannot be negative")
	}

	store := storage.NewMemoryStore()
	defer store.Close()

	clock := ratelimit.NewManualClock(time.Now().UTC())
	limiter, err := ratelimit.New(store, cfg,
		ratelimit.WithClock(clock),
		ratelimit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return err
	}
	defer limiter.Close()

	policy := ratelimit.ResponsePolicy{ExposeHeaders: exposeHeaders}
	desc := ratelimit.RequestDescriptor{ClientAddress: opts.client, Path: opts.path}
	enc := json.NewEncoder(out)

	for i := 1; i <= opts.count; i++ {
		if i > 1 {
			clock.Advance(opts.spacing)
		}
		now := clock.Now()
		d := limiter.CheckAt(ctx, desc, now)
		outcome := policy.ToOutcome(d)

		result := checkResult{
			Request:      i,
			At:           now,
			Key:          d.Key,
			Allowed:      d.Allowed,
			StatusCode:   outcome.StatusCode,
			Remaining:    d.Remaining,
			RetryAfterMs: d.RetryAfterMs(),
		}
		if len(outcome.Headers) > 0 {
			result.Headers = make(map[string]string, len(outcome.Headers))
			for name := range outcome.Headers {
				result.Headers[name] = outcome.Headers.Get(name)
			}
		}
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	return nil
}
