package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the folio CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "folio",
		Short: "Paged document version control",
		Long: `folio serves and administers the paged document engine.

Commits edit a block range of one page. They start local to their author,
are pushed for review, merged into develop by an admin, and promoted to
release together.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file (defaults to $FOLIO_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewGrantCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewCommitCommand(opts))
	cmd.AddCommand(NewLifecycleCommand(opts, "push", "Push a local commit for review"))
	cmd.AddCommand(NewLifecycleCommand(opts, "merge", "Merge a pushed commit into develop"))
	cmd.AddCommand(NewPromoteCommand(opts))
	cmd.AddCommand(NewPageCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))

	return cmd
}
