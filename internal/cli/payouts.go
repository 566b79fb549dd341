package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPayoutsCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "Manage scheduled investment payouts",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Pay every investment payout that is due now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := openApp(ctx, rc)
			if err != nil {
				return err
			}
			defer engine.Close()

			summary, err := engine.Scheduler.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("run payouts: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed=%d completed=%d failed=%d skipped=%d\n",
				summary.Processed, summary.Completed, summary.Failed, summary.Skipped)
			return nil
		},
	}

	cmd.AddCommand(run)
	return cmd
}
