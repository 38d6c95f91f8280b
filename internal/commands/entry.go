package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Muesli84/FinanceManager-sub001/internal/drafts"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

func newEntryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entry",
		Short: "Edit draft entries",
	}
	cmd.AddCommand(newEntrySetCommand(), newEntryTradeCommand())
	return cmd
}

func newEntrySetCommand() *cobra.Command {
	var (
		contact  string
		plan     string
		archive  bool
		security string
		txType   string
		quantity string
		fee      string
		tax      string
	)

	cmd := &cobra.Command{
		Use:   "set <draft-id> <entry-id>",
		Short: "Assign contact, savings plan or security to an entry",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			draftID, entryID := args[0], args[1]
			flags := cmd.Flags()
			var e *model.DraftEntry
			var err error

			if flags.Changed("contact") {
				if e, err = a.drafts.SetEntryContact(ctx, a.owner, draftID, entryID, contact); err != nil {
					return err
				}
			}
			if flags.Changed("savings-plan") {
				if e, err = a.drafts.SetEntrySavingsPlan(ctx, a.owner, draftID, entryID, plan); err != nil {
					return err
				}
			}
			if flags.Changed("archive") {
				if e, err = a.drafts.SetArchiveOnBooking(ctx, a.owner, draftID, entryID, archive); err != nil {
					return err
				}
			}
			if flags.Changed("security") {
				sa := drafts.SecurityAssignment{SecurityID: security, TransactionType: model.SecurityTransactionType(txType)}
				if sa.Quantity, err = nullDecimal("quantity", quantity); err != nil {
					return err
				}
				if sa.Fee, err = nullDecimal("fee", fee); err != nil {
					return err
				}
				if sa.Tax, err = nullDecimal("tax", tax); err != nil {
					return err
				}
				if e, err = a.drafts.SetEntrySecurity(ctx, a.owner, draftID, entryID, sa); err != nil {
					return err
				}
			}
			if e == nil {
				return fmt.Errorf("nothing to set")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", e.ID, assignment(e))
			return nil
		}),
	}

	f := cmd.Flags()
	f.StringVar(&contact, "contact", "", "contact id")
	f.StringVar(&plan, "savings-plan", "", "savings plan id (empty clears)")
	f.BoolVar(&archive, "archive", false, "archive the savings plan once booked")
	f.StringVar(&security, "security", "", "security id (empty clears the trade)")
	f.StringVar(&txType, "type", "", "trade type: buy, sell or dividend (inferred when empty)")
	f.StringVar(&quantity, "quantity", "", "number of units")
	f.StringVar(&fee, "fee", "", "fee amount")
	f.StringVar(&tax, "tax", "", "tax amount")

	return cmd
}

func nullDecimal(name, s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func newEntryTradeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trade <draft-id> <entry-id> <file>",
		Short: "Fill quantity, fee and tax from a broker trade confirmation",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[2])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[2], err)
			}
			e, err := a.drafts.ApplyTradeDocument(ctx, a.owner, args[0], args[1], filepath.Base(args[2]), data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s quantity=%s\n", e.ID, assignment(e), e.Quantity.Decimal.String())
			return nil
		}),
	}
}
