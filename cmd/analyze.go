package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/KaramelBytes/agentviz-cli/internal/report"
	"github.com/KaramelBytes/agentviz-cli/internal/session"
	"github.com/spf13/cobra"
)

var (
	anaQuery      string
	anaFormat     string
	anaOutputPath string
	anaChartsDir  string
	anaTimeoutSec int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Upload a dataset and optionally run one query against it",
	Long: `Upload a CSV, XLSX or SQL file to the analysis backend and print the dataset
overview. With --query the question is answered in the same run, together with
Python/SQL code, a validation verdict and charts.`,
	Example: `  agentviz analyze sales.csv
  agentviz analyze sales.csv -q "total revenue by region" -f markdown -o report.md
  agentviz analyze sales.xlsx -q "monthly trend" --charts-dir charts/`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := effectiveConfig()
		formatName := anaFormat
		if !cmd.Flags().Changed("format") && conf.DefaultFormat != "" {
			formatName = conf.DefaultFormat
		}
		format, err := report.ParseFormat(formatName)
		if err != nil {
			return err
		}
		src, err := session.LoadSourceFile(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if anaTimeoutSec > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(anaTimeoutSec)*time.Second)
			defer cancel()
		}

		ctrl := newController()
		ctrl.SelectFile(src)
		ctrl.SetQuery(anaQuery)
		runErr := ctrl.ProcessData(ctx)
		v := ctrl.Snapshot()
		if runErr != nil && v.Session == nil {
			return explain(runErr)
		}

		if anaOutputPath != "" {
			if err := report.WriteFile(anaOutputPath, v, format); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote report to %s\n", anaOutputPath)
		} else if err := report.Render(cmd.OutOrStdout(), v, format); err != nil {
			return err
		}

		dir := anaChartsDir
		if dir == "" {
			dir = conf.ChartsDir
		}
		if dir != "" {
			paths, err := report.ExportCharts(dir, v.Charts)
			if err != nil {
				return err
			}
			if len(paths) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %d chart(s) to %s\n", len(paths), dir)
			}
		}

		if v.State.Failed() {
			return explain(runErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&anaQuery, "query", "q", "", "question to ask about the dataset after upload")
	analyzeCmd.Flags().StringVarP(&anaFormat, "format", "f", "text", "output format: text | markdown | json | yaml")
	analyzeCmd.Flags().StringVarP(&anaOutputPath, "output", "o", "", "write the report to this path instead of stdout")
	analyzeCmd.Flags().StringVar(&anaChartsDir, "charts-dir", "", "directory to export charts into (overrides config charts_dir)")
	analyzeCmd.Flags().IntVar(&anaTimeoutSec, "timeout-sec", 0, "overall timeout for the run in seconds (0 = none)")
}
