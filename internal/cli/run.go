package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/loadtest/client"
	"github.com/wesleyorama2/surge/internal/loadtest/config"
	"github.com/wesleyorama2/surge/internal/loadtest/engine"
	"github.com/wesleyorama2/surge/internal/loadtest/output"
	"github.com/wesleyorama2/surge/internal/loadtest/report"
	"github.com/wesleyorama2/surge/internal/loadtest/telemetry"
	"github.com/wesleyorama2/surge/internal/logging"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [url]",
		Short: "Run a load test against one URL",
		Long: `Send requests to a single URL for a fixed duration with bounded concurrency
and an optional rate limit, then print latency, throughput and error statistics.

Quick mode:
  surge run -u http://localhost:8080/health -c 50 -r 30

With a rate limit and headers:
  surge run -u https://api.example.com/cart -m POST -d '{"sku":1}' \
    -g '{"Content-Type":"application/json"}' -c 20 -l 100 -r 60

Config file mode (flags override file values):
  surge run --config load.yaml --format json --output result.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLoadTest,
	}

	flags := cmd.Flags()

	flags.StringP("url", "u", "", "Target URL")
	flags.StringP("title", "v", "", "Title of the run (default \"DEFAULT\")")
	flags.StringP("method", "m", "", "HTTP method: GET or POST (default GET)")
	flags.StringP("headers", "g", "", "Request headers as a JSON object")
	flags.StringP("data", "d", "", "Request body for POST")
	flags.IntP("concurrent-requests", "c", 0, "Maximum number of requests in flight (default 1)")
	flags.IntP("tasks", "t", 0, "Number of OS threads executing Go code (default: number of CPUs)")
	flags.IntP("run-time", "r", 0, "Run time in seconds (default 60)")
	flags.IntP("sleep", "s", 0, "Delay in milliseconds before each request")
	flags.Float64P("rate-limit", "l", 0, "Maximum requests per second (default unlimited)")

	flags.String("config", "", "Load test configuration file (YAML or JSON)")
	flags.String("redirect", "", "Redirect policy: none, default or a hop count")
	flags.String("timeout", "", "Per-request timeout, e.g. 10s (default 60s)")
	flags.StringP("output", "o", "", "Write the report to a file (.json, .yaml or .yml)")
	flags.StringP("format", "f", "text", "Report format on stdout: text, json or yaml")
	flags.BoolP("quiet", "q", false, "Only print the final summary")
	flags.Bool("no-color", false, "Disable colored output")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flags.String("log-level", "warn", "Log level: debug, info, warn or error")
	flags.String("log-format", "console", "Log format: console or json")

	return cmd
}

// runLoadTest runs one load test from flags and an optional config file.
func runLoadTest(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	logLevel, _ := flags.GetString("log-level")
	logFormat, _ := flags.GetString("log-format")
	outputPath, _ := flags.GetString("output")
	formatName, _ := flags.GetString("format")
	quiet, _ := flags.GetBool("quiet")
	noColor, _ := flags.GetBool("no-color")
	metricsAddr, _ := flags.GetString("metrics-addr")

	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: logLevel, Format: logFormat, Output: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer logger.Sync()

	raiseFileLimit(cfg.Concurrency, logger)

	sender := client.New(
		client.WithTimeout(cfg.Timeout.Std()),
		client.WithMaxRedirects(cfg.Redirect.MaxHops()),
		client.WithPoolSize(cfg.Concurrency),
	)
	defer sender.CloseIdleConnections()

	opts := []engine.Option{engine.WithLogger(logger)}
	if metricsAddr != "" {
		tel := telemetry.New(prometheus.Labels{"title": cfg.Title})
		srv, err := tel.Listen(metricsAddr, logger)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		opts = append(opts, engine.WithObserver(tel))
	}

	eng, err := engine.New(engine.ConfigFrom(cfg), sender, opts...)
	if err != nil {
		return err
	}

	// Machine-readable reports own stdout; progress moves to stderr.
	var consoleOut io.Writer = cmd.OutOrStdout()
	if format != report.FormatText {
		consoleOut = cmd.ErrOrStderr()
	}
	console := output.NewConsole(output.ConsoleConfig{
		Title:         cfg.Title,
		TotalDuration: cfg.Duration.Std(),
		Writer:        consoleOut,
		Quiet:         quiet,
		NoColor:       noColor,
	})
	console.PrintHeader(cfg.Method.String(), cfg.URL, cfg.Concurrency, cfg.Rate)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for p := range eng.Progress() {
			console.Progress(p)
		}
	}()

	result, err := eng.Run(ctx)
	<-progressDone
	if err != nil {
		return fmt.Errorf("load test failed: %w", err)
	}

	if format == report.FormatText {
		console.PrintSummary(result)
	} else if err := report.Write(cmd.OutOrStdout(), result, format); err != nil {
		return err
	}

	if outputPath != "" {
		if err := report.WriteFile(outputPath, result); err != nil {
			return err
		}
		logger.Info("Report written", zap.String("path", outputPath))
	}

	return nil
}

// buildConfig merges the config file (if any) with explicitly set flags,
// applies defaults and validates the result.
func buildConfig(cmd *cobra.Command, args []string) (*config.LoadTestConfig, error) {
	flags := cmd.Flags()

	cfg := &config.LoadTestConfig{}
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if len(args) == 1 {
		cfg.URL = args[0]
	}
	if flags.Changed("url") {
		cfg.URL, _ = flags.GetString("url")
	}
	if flags.Changed("title") {
		cfg.Title, _ = flags.GetString("title")
	}
	if flags.Changed("method") {
		name, _ := flags.GetString("method")
		method, err := config.ParseMethod(name)
		if err != nil {
			return nil, err
		}
		cfg.Method = method
	}
	if flags.Changed("headers") {
		raw, _ := flags.GetString("headers")
		headers, err := config.ParseHeaders(raw)
		if err != nil {
			return nil, err
		}
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			cfg.Headers[k] = v
		}
	}
	if flags.Changed("data") {
		cfg.Body, _ = flags.GetString("data")
	}
	if flags.Changed("concurrent-requests") {
		cfg.Concurrency, _ = flags.GetInt("concurrent-requests")
		if cfg.Concurrency < 1 {
			return nil, &config.ValidationError{Field: "concurrency", Message: "concurrency must be at least 1"}
		}
	}
	if flags.Changed("tasks") {
		cfg.Workers, _ = flags.GetInt("tasks")
	}
	if flags.Changed("run-time") {
		seconds, _ := flags.GetInt("run-time")
		if seconds < 1 {
			return nil, &config.ValidationError{Field: "duration", Message: "run time must be at least 1 second"}
		}
		cfg.Duration = config.Duration(time.Duration(seconds) * time.Second)
	}
	if flags.Changed("sleep") {
		ms, _ := flags.GetInt("sleep")
		cfg.Delay = config.Duration(time.Duration(ms) * time.Millisecond)
	}
	if flags.Changed("rate-limit") {
		cfg.Rate, _ = flags.GetFloat64("rate-limit")
	}
	if flags.Changed("redirect") {
		raw, _ := flags.GetString("redirect")
		policy, err := config.ParseRedirectPolicy(raw)
		if err != nil {
			return nil, err
		}
		cfg.Redirect = policy
	}
	if flags.Changed("timeout") {
		raw, _ := flags.GetString("timeout")
		d, err := config.ParseDurationString(raw)
		if err != nil {
			return nil, &config.ValidationError{Field: "timeout", Message: err.Error()}
		}
		cfg.Timeout = config.Duration(d)
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
