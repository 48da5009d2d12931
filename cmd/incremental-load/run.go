package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/incrementalload"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/reportsink"
)

func runCmd() *cobra.Command {
	var (
		xlsxPath string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation pass over every outstanding normalization error",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// stdout carries the report.
			logger := newLogger(cfg, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, true, false)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.orchestrator().Run(ctx)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				err = enc.Encode(report)
			} else {
				err = report.WriteTable(out)
			}
			if err != nil {
				return fmt.Errorf("write report: %w", err)
			}

			if xlsxPath != "" {
				if err := writeWorkbookFile(xlsxPath, report); err != nil {
					return err
				}
				logger.Info().Str("path", xlsxPath).Msg("report workbook written")
			}

			a.archive(ctx, report)
			a.pushMetrics(ctx)

			if report.HasPartialState() {
				logger.Warn().Str("run_id", report.RunID.String()).Msg("some failed batches left partial state behind")
			}
			if n := report.Failed(); n > 0 {
				return fmt.Errorf("%d of %d batches failed", n, len(report.Batches))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "report-xlsx", "", "Also write the report as an Excel workbook to this path")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON instead of a table")
	return cmd
}

func writeWorkbookFile(path string, report *incrementalload.Report) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create workbook: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close workbook: %w", cerr)
		}
	}()
	return reportsink.WriteWorkbook(f, report)
}
