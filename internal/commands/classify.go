package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Muesli84/FinanceManager-sub001/internal/booklog"
)

func newClassifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <draft-id>",
		Short: "Re-run classification on a draft",
		Long: "Detects the account and assigns contacts and securities to entries\n" +
			"that have none yet. Assignments made by hand are kept.",
		Args: cobra.ExactArgs(1),
		RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			sum, err := a.drafts.Classify(ctx, a.owner, args[0])
			if err != nil {
				return err
			}
			details := fmt.Sprintf("contacts=%d securities=%d ambiguous=%d unresolved=%d",
				sum.ContactsAssigned, sum.SecuritiesAssigned, sum.Ambiguous, sum.Unresolved)
			a.record(booklog.ActionClassify, args[0], "", "classified", details)

			out := cmd.OutOrStdout()
			if sum.AccountDetected {
				fmt.Fprintln(out, "account detected")
			}
			fmt.Fprintln(out, details)
			return nil
		}),
	}
}
