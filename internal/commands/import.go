package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Muesli84/FinanceManager-sub001/internal/booklog"
	"github.com/Muesli84/FinanceManager-sub001/internal/drafts"
	"github.com/Muesli84/FinanceManager-sub001/internal/importer"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

func newImportCommand() *cobra.Command {
	var inbox bool

	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Create drafts from statement files",
		Long: "Parses each file with the first reader that recognizes it, classifies\n" +
			"the movements and stores one draft per file. With --inbox the files in\n" +
			"import/ are read and moved to import/processed/ once imported.",
		RunE: withApp(true, func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if !inbox && len(args) == 0 {
				return fmt.Errorf("no files given (use --inbox to read import/)")
			}
			return runImport(ctx, a, cmd.OutOrStdout(), args, inbox)
		}),
	}

	cmd.Flags().BoolVar(&inbox, "inbox", false, "import every statement in import/")

	return cmd
}

func runImport(ctx context.Context, a *app, out io.Writer, paths []string, inbox bool) error {
	var files []drafts.UploadFile
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		files = append(files, drafts.UploadFile{Name: filepath.Base(p), Data: data})
	}

	var inboxFiles []string
	if inbox {
		found, err := importer.Scan(a.dir)
		if err != nil {
			return err
		}
		for _, f := range found {
			data, err := os.ReadFile(f.Path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", f.Name, err)
			}
			files = append(files, drafts.UploadFile{Name: f.Name, Data: data})
			inboxFiles = append(inboxFiles, f.Name)
		}
	}
	if len(files) == 0 {
		fmt.Fprintln(out, "Nothing to import")
		return nil
	}

	failed := 0
	imported := make(map[string]bool, len(files))
	i := 0
	for d, err := range a.drafts.CreateFromUpload(ctx, a.owner, files) {
		name := files[i].Name
		i++
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			failed++
			fmt.Fprintf(out, "%s: %v\n", name, err)
			a.record(booklog.ActionImport, "", "", "failed", name+": "+err.Error())
			continue
		}
		imported[name] = true
		printDraftSummary(out, d)
		a.record(booklog.ActionImport, d.ID, "", "created", d.OriginalFileName)
	}

	for _, name := range inboxFiles {
		if !imported[name] {
			continue
		}
		if err := importer.MarkProcessed(a.dir, name); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be imported", failed, len(files))
	}
	return nil
}

func printDraftSummary(out io.Writer, d *model.Draft) {
	account := d.AccountID
	if account == "" {
		account = "-"
	}
	unresolved := 0
	for _, e := range d.Entries {
		if e.ContactID == "" || e.Ambiguous {
			unresolved++
		}
	}
	fmt.Fprintf(out, "draft %s %s: %d entries, account %s, %d to review\n",
		d.ID, d.OriginalFileName, len(d.Entries), account, unresolved)
}
