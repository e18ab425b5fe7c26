package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/intel-batch/pkg/batch"
	"github.com/Sternrassler/intel-batch/pkg/cache"
	"github.com/Sternrassler/intel-batch/pkg/client"
	"github.com/Sternrassler/intel-batch/pkg/config"
	"github.com/Sternrassler/intel-batch/pkg/input"
	"github.com/Sternrassler/intel-batch/pkg/logging"
	"github.com/Sternrassler/intel-batch/pkg/metrics"
	"github.com/Sternrassler/intel-batch/pkg/output"
	"github.com/Sternrassler/intel-batch/pkg/progress"
	"github.com/Sternrassler/intel-batch/pkg/ratelimit"
	"github.com/Sternrassler/intel-batch/pkg/retry"
	"github.com/Sternrassler/intel-batch/pkg/work"
)

func runBatch(cmd *cobra.Command, opts *Options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return wrapExitError("invalid configuration", err)
	}

	out := cmd.OutOrStdout()

	if opts.ValidateConfig {
		if err := cfg.ValidateCredentials(); err != nil {
			return wrapExitError("configuration check failed", err)
		}
		fmt.Fprintln(out, "Configuration is valid")
		return nil
	}

	if opts.Input == "" || opts.Output == "" {
		return wrapExitError("missing arguments", errors.New("--input and --output are required"))
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return wrapExitError("invalid configuration", err)
	}

	dir, err := prepareOutput(opts.Output)
	if err != nil {
		return wrapExitError("preparing output directory", err)
	}

	logFile, err := logging.OpenFile(dir.Path(output.LogFile))
	if err != nil {
		return wrapExitError("opening log file", err)
	}
	defer logFile.Close()

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
		File:   logFile,
	})

	items, err := input.Load(opts.Input)
	if err != nil {
		return wrapExitError("loading input", err)
	}
	logger.Info().
		Str("input", opts.Input).
		Int("items", len(items)).
		Msg("Input loaded")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Serve(ctx, cfg.Metrics.Addr, logger)
		if err != nil {
			return wrapExitError("starting metrics server", err)
		}
		defer srv.Shutdown()
	}

	runID := uuid.NewString()

	var resultCache batch.ResultCache
	var storeOpts []progress.Option
	storeOpts = append(storeOpts, progress.WithTotal(len(items)))

	if cfg.RedisEnabled() {
		rdb := redis.NewClient(cfg.RedisOptions())
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return wrapExitError("connecting to Redis at "+cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")

		resultCache = cache.NewManager(rdb, cache.Options{
			Prefix: cfg.Redis.KeyPrefix,
			TTL:    cfg.CacheTTL(),
			Logger: logger,
		})
		storeOpts = append(storeOpts, progress.WithMirror(
			progress.NewRedisMirror(rdb, cfg.Redis.KeyPrefix, runID, cfg.CacheTTL()),
		))
	}

	limiter := ratelimit.NewLimiter(cfg.MaxCallsPerMinute, logging.NewLogger("ratelimit"))
	executor := retry.NewExecutor(cfg.RetryConfig(), limiter, logging.NewLogger("retry"))

	factory, err := client.NewFactory(cfg.ClientConfig())
	if err != nil {
		return wrapExitError("creating intelligence client", err)
	}

	store, err := progress.NewStore(dir, logging.NewLogger("progress"), storeOpts...)
	if err != nil {
		return wrapExitError("creating progress store", err)
	}

	coordinator, err := batch.NewCoordinator(cfg.BatchConfig(), batch.Options{
		Factory:  factory,
		Executor: executor,
		Store:    store,
		Cache:    resultCache,
		Output:   dir,
		RunID:    runID,
		Logger:   logging.NewLogger("coordinator"),
	})
	if err != nil {
		return wrapExitError("invalid batch configuration", err)
	}

	result, runErr := coordinator.Run(ctx, items)
	if result != nil {
		printSummary(out, result.Report, dir, store.Finalized())
	}

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, context.Canceled):
		return wrapExitError("run interrupted", runErr)
	default:
		return wrapExitError("run failed", runErr)
	}
}

// loadConfig layers defaults, the optional config file, the environment and
// explicitly set flags, then validates the result.
func loadConfig(cmd *cobra.Command, opts *Options) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	lookup := opts.lookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("batch-size") {
		cfg.BatchSize = opts.BatchSize
	}
	if flags.Changed("workers") {
		cfg.NumWorkers = opts.Workers
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if flags.Changed("redis-addr") {
		cfg.Redis.Addr = opts.RedisAddr
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.LogLevel
	}
	if flags.Changed("pretty") {
		cfg.Logging.Pretty = opts.Pretty
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// prepareOutput creates the output directory. An existing non-directory at
// path is an error.
func prepareOutput(path string) (output.Dir, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil && !info.IsDir():
		return "", fmt.Errorf("%s exists and is not a directory", path)
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return "", err
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return output.Dir(path), nil
}

func printSummary(w io.Writer, r work.Report, dir output.Dir, finalized bool) {
	title := "Processing complete"
	if r.Interrupted {
		title = "Processing interrupted"
	} else if !finalized {
		title = "Processing stopped"
	}

	fmt.Fprintln(w, title)
	fmt.Fprintf(w, "  Total:        %d\n", r.Total)
	fmt.Fprintf(w, "  Succeeded:    %d\n", r.Succeeded)
	fmt.Fprintf(w, "  Failed:       %d\n", r.Failed)
	if r.Pending > 0 {
		fmt.Fprintf(w, "  Pending:      %d\n", r.Pending)
	}
	fmt.Fprintf(w, "  Success rate: %.1f%%\n", r.SuccessRate())
	fmt.Fprintf(w, "  Duration:     %s\n", r.Duration.Round(time.Millisecond))
	if finalized {
		fmt.Fprintf(w, "  Results:      %s\n", dir.Path(output.ResultsFinalFile))
		fmt.Fprintf(w, "  Failures:     %s\n", dir.Path(output.FailedFinalFile))
	} else {
		fmt.Fprintf(w, "  Progress:     %s\n", dir.Path(output.ResultsProgressFile))
	}
}
