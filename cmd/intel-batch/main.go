// Command intel-batch enriches a CSV of companies through the intelligence
// service, in rate-limited concurrent batches with crash-safe progress files.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitSuccess = 0 // Run completed, whatever the per-item outcomes
	ExitFailure = 1 // Setup error, fatal run error or interruption
)

// ExitError carries an exit code alongside the error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func wrapExitError(message string, err error) *ExitError {
	return &ExitError{Code: ExitFailure, Message: message, Err: err}
}

// exitCode maps an error returned by the root command to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Options holds the command line flags.
type Options struct {
	Input          string
	Output         string
	ConfigPath     string
	ValidateConfig bool
	BatchSize      int
	Workers        int
	MetricsAddr    string
	RedisAddr      string
	LogLevel       string
	Pretty         bool

	// lookupEnv reads the environment; tests replace it.
	lookupEnv func(string) (string, bool)
}

func newRootCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intel-batch",
		Short: "Enrich companies through the intelligence service in batches",
		Long: `intel-batch reads a CSV with "name" and "domain_key" columns, builds one
prompt per row and sends it to the intelligence service. Rows are processed in
batches on a bounded pool of workers under a shared per-minute call limit,
with exponential-backoff retries per item.

Every result is written to the output directory as soon as it arrives, and
cumulative progress files are refreshed after each group of batches, so an
interrupted run keeps what it finished.

Environment:
  INTEL_ENDPOINT, INTEL_API_KEY   intelligence service (required)
  REDIS_URL, REDIS_PASSWORD       enables the result cache and progress mirror
  METRICS_ADDR                    serves Prometheus metrics
  LOG_LEVEL                       debug, info, warn or error`,
		Example: `  intel-batch -i companies.csv -o results/
  intel-batch -i companies.csv -o results/ --batch-size 10 --workers 8
  intel-batch --validate-config`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Input, "input", "i", "", "input CSV file")
	flags.StringVarP(&opts.Output, "output", "o", "", "output directory (created if missing)")
	flags.StringVar(&opts.ConfigPath, "config", "", "YAML configuration file")
	flags.BoolVar(&opts.ValidateConfig, "validate-config", false, "check configuration and credentials, then exit")
	flags.IntVar(&opts.BatchSize, "batch-size", 0, "items per batch (overrides config)")
	flags.IntVar(&opts.Workers, "workers", 0, "concurrent batches (overrides config)")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.StringVar(&opts.RedisAddr, "redis-addr", "", "Redis address for the result cache and progress mirror")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&opts.Pretty, "pretty", false, "human-readable console logs")

	return cmd
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) int {
	opts := &Options{lookupEnv: lookupEnv}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv))
}
