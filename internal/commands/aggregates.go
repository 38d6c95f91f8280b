package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Muesli84/FinanceManager-sub001/internal/aggregate"
	"github.com/Muesli84/FinanceManager-sub001/internal/booklog"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

func newAggregatesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregates",
		Short: "Inspect and maintain per-period posting sums",
	}
	cmd.AddCommand(newAggregatesListCommand(), newAggregatesRebuildCommand())
	return cmd
}

func newAggregatesListCommand() *cobra.Command {
	var period string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print aggregate rows",
		Args:  cobra.NoArgs,
		RunE: withApp(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			rows, err := a.store.ListAggregates(ctx, a.owner)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PERIOD\tSTART\tKIND\tENTITY\tSUBTYPE\tAMOUNT")
			for _, r := range rows {
				if period != "" && string(r.Period) != period {
					continue
				}
				entity := model.Posting{
					Kind:          r.Kind,
					AccountID:     r.AccountID,
					ContactID:     r.ContactID,
					SavingsPlanID: r.SavingsPlanID,
					SecurityID:    r.SecurityID,
				}.EntityID()
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Period, r.PeriodStart.Format("2006-01-02"), r.Kind, entity, r.SecuritySubType, r.Amount.StringFixed(2))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&period, "period", "", "only this period (month, quarter, half-year, year)")
	return cmd
}

func newAggregatesRebuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute all aggregates from the postings",
		Args:  cobra.NoArgs,
		RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			n, err := aggregate.Rebuild(ctx, a.store, a.owner)
			if err != nil {
				return err
			}
			a.record(booklog.ActionRebuild, "", "", "rebuilt", fmt.Sprintf("%d postings", n))
			fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt aggregates from %d postings\n", n)
			return nil
		}),
	}
}
