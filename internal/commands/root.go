package commands

import (
	"github.com/spf13/cobra"

	"github.com/Muesli84/FinanceManager-sub001/internal/buildinfo"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "finman",
		Short:   "Import, classify and book bank statements",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("dir", ".", "finman directory holding finman.yaml")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus metrics on this address while running")

	rootCmd.AddCommand(
		newInitCommand(),
		newImportCommand(),
		newDraftsCommand(),
		newClassifyCommand(),
		newEntryCommand(),
		newSplitCommand(),
		newBookCommand(),
		newAggregatesCommand(),
	)

	return rootCmd
}
