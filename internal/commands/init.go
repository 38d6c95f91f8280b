package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Muesli84/FinanceManager-sub001/internal/config"
	"github.com/Muesli84/FinanceManager-sub001/internal/gitops"
	"github.com/Muesli84/FinanceManager-sub001/internal/masterdata"
)

func newInitCommand() *cobra.Command {
	var owner string
	var name string
	var currency string
	var useGit bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new finman directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			if err := runInit(cmd.Context(), absDir, owner, name, currency, useGit); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized finman directory at %s\n", absDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	cmd.Flags().StringVar(&name, "name", "", "owner display name, used for the self contact")
	cmd.Flags().StringVar(&currency, "currency", "EUR", "default currency of statements")
	cmd.Flags().BoolVar(&useGit, "git", false, "keep the journal directory in a git repository")

	return cmd
}

func runInit(ctx context.Context, dir, owner, name, currency string, useGit bool) error {
	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}

	cfg := config.Default(owner)
	cfg.Owner.Name = name
	cfg.Currency = currency

	// Create directory structure.
	dirs := []string{
		cfg.DataPath(dir),
		cfg.JournalPath(dir),
		filepath.Join(dir, "import"),
		filepath.Join(dir, "import", "processed"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	if err := masterdata.NewService(masterdata.Default(name)).Save(dir); err != nil {
		return fmt.Errorf("writing master data: %w", err)
	}

	gitignore := "data/\n.env\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	if useGit {
		if err := gitops.Init(ctx, cfg.JournalPath(dir)); err != nil {
			return fmt.Errorf("initializing journal repository: %w", err)
		}
	}

	return nil
}
