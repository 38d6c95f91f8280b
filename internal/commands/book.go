package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Muesli84/FinanceManager-sub001/internal/booking"
	"github.com/Muesli84/FinanceManager-sub001/internal/booklog"
	"github.com/Muesli84/FinanceManager-sub001/internal/gitops"
)

// errNotBooked is returned when validation refused the booking.
var errNotBooked = errors.New("booking refused")

func newBookCommand() *cobra.Command {
	var entryID string
	var confirm bool

	cmd := &cobra.Command{
		Use:   "book <draft-id>",
		Short: "Book a draft or one of its entries",
		Long: "Validates the draft and writes its postings. Warnings such as a\n" +
			"transfer to yourself without a savings plan refuse the booking unless\n" +
			"--confirm is given. Booked postings are appended to the journal.",
		Args: cobra.ExactArgs(1),
		RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			return runBook(ctx, a, cmd.OutOrStdout(), booking.Request{
				OwnerID:             a.owner,
				DraftID:             args[0],
				EntryID:             entryID,
				ConfirmSelfTransfer: confirm,
			})
		}),
	}

	cmd.Flags().StringVar(&entryID, "entry", "", "book only this entry")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "book despite warnings")

	return cmd
}

func runBook(ctx context.Context, a *app, out io.Writer, req booking.Request) error {
	res, err := a.engine.Book(ctx, req)
	if err != nil {
		a.record(booklog.ActionBook, req.DraftID, req.EntryID, "failed", err.Error())
		return err
	}

	for _, m := range res.Messages {
		fmt.Fprintf(out, "%s %s: %s\n", strings.ToUpper(string(m.Severity)), m.Code, m.Message)
	}

	if !res.Success {
		outcome := "rejected"
		if res.HasWarnings {
			outcome = "warning"
		}
		a.record(booklog.ActionBook, req.DraftID, req.EntryID, outcome, messageCodes(res.Messages))
		if res.HasWarnings {
			fmt.Fprintln(out, "Re-run with --confirm to book anyway")
		}
		return errNotBooked
	}

	// The store already holds the postings; a failed export can be redone
	// from the store and must not hide the successful booking.
	if err := a.journal.Append(res.Postings); err != nil {
		a.log.Error().Err(err).Str("draft", req.DraftID).Msg("journal export failed")
		fmt.Fprintf(out, "warning: journal export failed: %v\n", err)
	}
	summary := fmt.Sprintf("%d postings", len(res.Postings))
	a.record(booklog.ActionBook, req.DraftID, req.EntryID, "booked", summary)
	fmt.Fprintf(out, "Booked %s\n", summary)

	if hash := a.commitJournal(ctx, fmt.Sprintf("book: %s (%s)", req.DraftID, summary)); hash != "" {
		fmt.Fprintf(out, "Journal committed (%s)\n", hash)
	}
	return nil
}

// commitJournal commits the journal directory when it is a git repository
// and auto commit is on. Returns the short hash, empty when nothing was committed.
func (a *app) commitJournal(ctx context.Context, message string) string {
	dir := a.cfg.JournalPath(a.dir)
	if !a.cfg.Git.AutoCommit || !gitops.IsRepo(dir) {
		return ""
	}
	author := gitops.Author{Name: a.cfg.Git.AuthorName, Email: a.cfg.Git.AuthorEmail}
	hash, err := gitops.Commit(ctx, dir, message, author)
	if err != nil {
		if !errors.Is(err, gitops.ErrNothingToCommit) {
			a.log.Error().Err(err).Msg("journal commit failed")
		}
		return ""
	}
	return hash
}

func messageCodes(msgs []booking.Message) string {
	codes := make([]string, 0, len(msgs))
	for _, m := range msgs {
		codes = append(codes, m.Code)
	}
	return strings.Join(codes, " ")
}
