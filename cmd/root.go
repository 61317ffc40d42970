package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/KaramelBytes/agentviz-cli/internal/backend"
	cfgpkg "github.com/KaramelBytes/agentviz-cli/internal/config"
	"github.com/KaramelBytes/agentviz-cli/internal/logging"
	"github.com/KaramelBytes/agentviz-cli/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	debug   bool
	// Backend/HTTP/retry flags (override config if set)
	flagBackendURL       string
	flagHTTPTimeoutSec   int
	flagRetryMaxAttempts int
	flagRetryBaseDelayMs int
	flagRetryMaxDelayMs  int

	// Loaded configuration
	cfg    *cfgpkg.Global
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "agentviz",
	Short: "AgentViz CLI: ask questions about a dataset through an analysis backend",
	Long: `AgentViz uploads a CSV, XLSX or SQL file to an analysis backend, then runs
natural-language queries against it. Each query returns an answer, equivalent
Python and SQL code, a validation verdict and charts.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.agentviz/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagBackendURL, "backend-url", "", "analysis backend base URL (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "HTTP client timeout in seconds (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMaxAttempts, "retry-max", 0, "max attempts on 429/5xx, 1 disables retries (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryBaseDelayMs, "retry-base-ms", 0, "base retry backoff in ms (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMaxDelayMs, "retry-max-ms", 0, "max retry backoff cap in ms (overrides config)")
}

func loadConfig() {
	l, err := logging.New(debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Warning: %v\n", err)
		l = zap.NewNop()
	}
	logger = l

	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: commands fall back to built-in defaults
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		return
	}
	cfg = c

	// Apply CLI overrides if provided
	f := rootCmd.PersistentFlags()
	if f.Changed("backend-url") && flagBackendURL != "" {
		cfg.BackendURL = flagBackendURL
	}
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		cfg.HTTPTimeoutSec = flagHTTPTimeoutSec
	}
	if f.Changed("retry-max") && flagRetryMaxAttempts > 0 {
		cfg.RetryMaxAttempts = flagRetryMaxAttempts
	}
	if f.Changed("retry-base-ms") && flagRetryBaseDelayMs > 0 {
		cfg.RetryBaseDelayMs = flagRetryBaseDelayMs
	}
	if f.Changed("retry-max-ms") && flagRetryMaxDelayMs > 0 {
		cfg.RetryMaxDelayMs = flagRetryMaxDelayMs
	}
	logger.Debug("config loaded", zap.String("backend_url", cfg.BackendURL), zap.Int("retry_max_attempts", cfg.RetryMaxAttempts))
}

// effectiveConfig returns the loaded config or built-in defaults when loading failed.
func effectiveConfig() *cfgpkg.Global {
	if cfg != nil {
		return cfg
	}
	c := &cfgpkg.Global{
		BackendURL:       backend.DefaultBaseURL,
		HTTPTimeoutSec:   60,
		StageTimeoutSec:  120,
		RetryMaxAttempts: 1,
		DefaultFormat:    "text",
	}
	if flagBackendURL != "" {
		c.BackendURL = flagBackendURL
	}
	return c
}

func newBackendClient() *backend.Client {
	c := effectiveConfig()
	return backend.NewClient(c.BackendURL, c.HTTPTimeout(), c.RetryMaxAttempts, c.RetryBaseDelay(), c.RetryMaxDelay()).
		WithLogger(logger)
}

func newController(opts ...session.Option) *session.Controller {
	c := effectiveConfig()
	base := []session.Option{session.WithLogger(logger), session.WithStageTimeout(c.StageTimeout())}
	return session.New(newBackendClient(), append(base, opts...)...)
}

// explain adds a hint for the common failure classes.
func explain(err error) error {
	if err == nil {
		return nil
	}
	var (
		unreach *backend.UnreachableError
		nfErr   *backend.SessionNotFoundError
		rlErr   *backend.RateLimitError
		brErr   *backend.BadRequestError
		sErr    *backend.ServerError
		mErr    *backend.MalformedResponseError
		vErr    *session.ValidationError
	)
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrSuperseded):
		return err
	case errors.As(err, &vErr):
		return err
	case errors.As(err, &unreach):
		return fmt.Errorf("analysis backend not reachable at %s. Start it or set --backend-url / AGENTVIZ_BACKEND_URL: %w", effectiveConfig().BackendURL, err)
	case errors.As(err, &nfErr):
		return fmt.Errorf("the backend no longer knows this session (it may have restarted). Process the file again: %w", err)
	case errors.As(err, &rlErr):
		if rlErr.RetryAfter > 0 {
			return fmt.Errorf("rate limited, try again in ~%ds: %w", int(rlErr.RetryAfter.Seconds()), err)
		}
		return fmt.Errorf("rate limited by backend, please retry: %w", err)
	case errors.As(err, &brErr):
		return fmt.Errorf("request rejected. Check the file type (%s) and contents: %w", strings.Join(session.SupportedExtensions, ", "), err)
	case errors.As(err, &sErr):
		return fmt.Errorf("backend error. Retry later or rerun with --debug: %w", err)
	case errors.As(err, &mErr):
		return fmt.Errorf("unexpected response from backend; is --backend-url pointing at the analysis service? %w", err)
	}
	return err
}
