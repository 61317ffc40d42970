package cmd

import (
	"fmt"
	"net/url"
	"strconv"

	cfgpkg "github.com/KaramelBytes/agentviz-cli/internal/config"
	"github.com/KaramelBytes/agentviz-cli/internal/report"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set AgentViz configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if cfg == nil {
			fmt.Fprintln(out, "No config loaded")
			return nil
		}
		fmt.Fprintf(out, "backend_url: %s\n", cfg.BackendURL)
		fmt.Fprintf(out, "http_timeout_sec: %d\n", cfg.HTTPTimeoutSec)
		fmt.Fprintf(out, "stage_timeout_sec: %d\n", cfg.StageTimeoutSec)
		fmt.Fprintf(out, "retry_max_attempts: %d\n", cfg.RetryMaxAttempts)
		fmt.Fprintf(out, "retry_base_delay_ms: %d\n", cfg.RetryBaseDelayMs)
		fmt.Fprintf(out, "retry_max_delay_ms: %d\n", cfg.RetryMaxDelayMs)
		fmt.Fprintf(out, "default_format: %s\n", cfg.DefaultFormat)
		if cfg.ChartsDir != "" {
			fmt.Fprintf(out, "charts_dir: %s\n", cfg.ChartsDir)
		}
		fmt.Fprintf(out, "history_file: %s\n", cfg.HistoryFile)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = c
		}
		switch key {
		case "backend_url":
			u, err := url.Parse(val)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("invalid backend_url: %s (expected e.g. http://localhost:8000)", val)
			}
			cfg.BackendURL = val
		case "http_timeout_sec":
			i, err := positiveInt(key, val)
			if err != nil {
				return err
			}
			cfg.HTTPTimeoutSec = i
		case "stage_timeout_sec":
			i, err := positiveInt(key, val)
			if err != nil {
				return err
			}
			cfg.StageTimeoutSec = i
		case "retry_max_attempts":
			i, err := positiveInt(key, val)
			if err != nil {
				return err
			}
			cfg.RetryMaxAttempts = i
		case "retry_base_delay_ms":
			i, err := positiveInt(key, val)
			if err != nil {
				return err
			}
			cfg.RetryBaseDelayMs = i
		case "retry_max_delay_ms":
			i, err := positiveInt(key, val)
			if err != nil {
				return err
			}
			cfg.RetryMaxDelayMs = i
		case "default_format":
			f, err := report.ParseFormat(val)
			if err != nil {
				return err
			}
			cfg.DefaultFormat = string(f)
		case "charts_dir":
			cfg.ChartsDir = val
		case "history_file":
			cfg.HistoryFile = val
		default:
			return fmt.Errorf("unknown key: %s", key)
		}
		if err := cfgpkg.Save(cfg, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Saved config")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func positiveInt(key, val string) (int, error) {
	i, err := strconv.Atoi(val)
	if err != nil || i <= 0 {
		return 0, fmt.Errorf("invalid positive int for %s: %v", key, val)
	}
	return i, nil
}
