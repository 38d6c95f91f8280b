package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Muesli84/FinanceManager-sub001/internal/booklog"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

func newDraftsCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "List drafts awaiting booking",
		Args:  cobra.NoArgs,
		RunE: withApp(false, func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			ds, err := a.drafts.List(ctx, a.owner)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			shown := 0
			for _, d := range ds {
				if d.Status == model.DraftStatusCommitted && !all {
					continue
				}
				shown++
				printDraftSummary(out, d)
			}
			if shown == 0 {
				fmt.Fprintln(out, "No open drafts")
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "include committed drafts")

	cmd.AddCommand(
		newDraftsShowCommand(),
		newDraftsAccountCommand(),
		newDraftsCancelCommand(),
		newDraftsHistoryCommand(),
	)
	return cmd
}

func newDraftsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <draft-id>",
		Short: "Show the entries of a draft",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(false, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			d, err := a.drafts.Get(ctx, a.owner, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printDraftSummary(out, d)
			return printEntries(out, d)
		}),
	}
}

// printEntries writes one tab-separated line per entry.
func printEntries(out io.Writer, d *model.Draft) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tDATE\tAMOUNT\tSTATUS\tCOUNTERPART\tSUBJECT\tASSIGNED")
	for _, e := range d.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.BookingDate.Format("2006-01-02"),
			e.Amount.StringFixed(2),
			e.Status,
			e.CounterpartyName,
			e.Subject,
			assignment(e),
		)
	}
	return tw.Flush()
}

func assignment(e *model.DraftEntry) string {
	var parts []string
	if e.ContactID != "" {
		parts = append(parts, "contact="+e.ContactID)
	}
	if e.SavingsPlanID != "" {
		parts = append(parts, "plan="+e.SavingsPlanID)
	}
	if e.SecurityID != "" {
		parts = append(parts, "security="+e.SecurityID+"/"+string(e.TransactionType))
	}
	if e.SplitDraftID != "" {
		parts = append(parts, "split="+e.SplitDraftID)
	}
	if e.Ambiguous {
		parts = append(parts, "review")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func newDraftsAccountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "account <draft-id> <account-id>",
		Short: "Set the bank account of a draft",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			d, err := a.drafts.SetAccount(ctx, a.owner, args[0], args[1])
			if err != nil {
				return err
			}
			printDraftSummary(cmd.OutOrStdout(), d)
			return nil
		}),
	}
}

func newDraftsCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <draft-id>",
		Short: "Discard a draft",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if err := a.drafts.Cancel(ctx, a.owner, args[0]); err != nil {
				return err
			}
			a.record(booklog.ActionCancel, args[0], "", "cancelled", "")
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled draft %s\n", args[0])
			return nil
		}),
	}
}

func newDraftsHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <draft-id>",
		Short: "Show the booking log of a draft",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(false, func(_ context.Context, a *app, cmd *cobra.Command, args []string) error {
			entries, err := booklog.Read(a.dataDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range booklog.ByDraft(entries, args[0]) {
				fmt.Fprintf(out, "%s %s %s %s %s\n", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Action, e.EntryID, e.Outcome, e.Details)
			}
			return nil
		}),
	}
}
