package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Muesli84/FinanceManager-sub001/internal/booklog"
)

func newSplitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "split <draft-id> <entry-id> [child-draft-id]",
		Short: "Link a draft as the itemization of an entry",
		Long: "The child draft, together with every draft of its upload, is booked\n" +
			"through the entry. Omit the child to unlink.",
		Args: cobra.RangeArgs(2, 3),
		RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			child := ""
			if len(args) == 3 {
				child = args[2]
			}
			if _, err := a.drafts.AssignSplitDraft(ctx, a.owner, args[0], args[1], child); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if child == "" {
				a.record(booklog.ActionSplit, args[0], args[1], "unlinked", "")
				fmt.Fprintf(out, "Unlinked split of %s\n", args[1])
				return nil
			}
			a.record(booklog.ActionSplit, args[0], args[1], "linked", child)
			fmt.Fprintf(out, "Linked %s to %s\n", child, args[1])
			return nil
		}),
	}
}
