package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"ledger-engine/internal/service"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newAmortizeCmd() *cobra.Command {
	var (
		principal string
		rate      string
		term      int
		start     string
	)

	cmd := &cobra.Command{
		Use:   "amortize",
		Short: "Print the amortization schedule of a fixed-payment loan",
		Long: `Print the month-by-month schedule of a loan repaid in equal installments.

Example:
  ledgerctl amortize --principal 12000 --rate 12 --term 12`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := decimal.NewFromString(principal)
			if err != nil {
				return fmt.Errorf("principal: %w", err)
			}
			r, err := decimal.NewFromString(rate)
			if err != nil {
				return fmt.Errorf("rate: %w", err)
			}
			firstDue := time.Now().UTC().AddDate(0, 1, 0)
			if start != "" {
				if firstDue, err = time.Parse("2006-01-02", start); err != nil {
					return fmt.Errorf("start: %w", err)
				}
			}

			schedule, err := service.GenerateSchedule(p, r, term, firstDue)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Monthly payment: %s\n\n", schedule[0].Payment.StringFixed(2))
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "Period\tDue\tPayment\tPrincipal\tInterest\tBalance\t")
			total := decimal.Zero
			for _, e := range schedule {
				total = total.Add(e.InterestPortion)
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t\n",
					e.Period, e.DueDate.Format("2006-01-02"),
					e.Payment.StringFixed(2), e.PrincipalPortion.StringFixed(2),
					e.InterestPortion.StringFixed(2), e.BalanceAfter.StringFixed(2))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nTotal interest: %s\n", total.StringFixed(2))
			return nil
		},
	}

	cmd.Flags().StringVarP(&principal, "principal", "p", "", "loan principal (required)")
	cmd.Flags().StringVarP(&rate, "rate", "r", "", "annual interest rate in percent (required)")
	cmd.Flags().IntVarP(&term, "term", "t", 12, "term in months")
	cmd.Flags().StringVar(&start, "start", "", "first due date (YYYY-MM-DD), defaults to one month from today")
	_ = cmd.MarkFlagRequired("principal")
	_ = cmd.MarkFlagRequired("rate")
	return cmd
}
