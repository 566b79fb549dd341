package cli

import (
	"fmt"
	"time"

	"ledger-engine/internal/adapter/storage/sqlite"

	"github.com/spf13/cobra"
)

func newExportCmd(rc *RootConfig) *cobra.Command {
	var (
		dbPath string
		since  string
		batch  int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the transaction log into a SQLite audit file",
		Long: `Copy ledger transactions recorded at or after --since into a SQLite file.
Re-running an export over the same window is safe; rows already present are kept.

Example:
  ledgerctl export --db ./audit.sqlite --since 2026-01-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var from time.Time
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("since: %w", err)
				}
				from = t
			}

			ctx := cmd.Context()
			engine, err := openApp(ctx, rc)
			if err != nil {
				return err
			}
			defer engine.Close()

			exporter, err := sqlite.NewAuditExporter(dbPath)
			if err != nil {
				return fmt.Errorf("open audit db: %w", err)
			}
			defer exporter.Close()

			n, err := exporter.ExportSince(ctx, engine.Store.Transactions(), from, batch)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			total, err := exporter.Count(ctx)
			if err != nil {
				return fmt.Errorf("count: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d transactions to %s (%d total)\n", n, dbPath, total)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dbPath, "db", "d", "./ledger-audit.sqlite", "path to SQLite audit DB")
	cmd.Flags().StringVar(&since, "since", "", "export transactions from this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&batch, "batch", 500, "rows read per page")
	return cmd
}
