package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"folio/api/internal/app"

	"github.com/spf13/cobra"
)

// actorFlag registers the --as flag that names the acting user.
func actorFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "as", "", "acting user id")
	_ = cmd.MarkFlagRequired("as")
}

func NewCommitCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		userID string
		input  app.CreateCommitInput
		file   string
	)
	cmd := &cobra.Command{
		Use:   "commit <project>",
		Short: "Record a local commit replacing a block range of one page",
		Long: `Record a local commit. The blocks [start, end) of the page are replaced
by the lines of --text, or of --file when given ("-" reads stdin).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				text, err := readText(cmd, file)
				if err != nil {
					return err
				}
				input.Text = text
			}
			rt, err := openRuntime(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			service, err := rt.service(false)
			if err != nil {
				return err
			}
			commit, err := service.CreateCommit(cmd.Context(), userID, args[0], input)
			if err != nil {
				return err
			}
			return emit(cmd, rootOpts, map[string]any{"commit": app.CommitView(commit, "")}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s %s page %d [%d,%d)\n", commit.Hash, commit.Mode, commit.Page, commit.OldStart, commit.OldEnd)
				return err
			})
		},
	}
	actorFlag(cmd, &userID)
	cmd.Flags().IntVar(&input.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&input.OldStart, "start", 0, "first replaced block")
	cmd.Flags().IntVar(&input.OldEnd, "end", 0, "end of the replaced range (exclusive)")
	cmd.Flags().StringVar(&input.Text, "text", "", "replacement text")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read replacement text from a file")
	cmd.Flags().StringVarP(&input.Title, "title", "m", "", "commit title")
	cmd.Flags().StringVar(&input.Description, "description", "", "commit description")
	return cmd
}

func readText(cmd *cobra.Command, file string) (string, error) {
	if file == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimSuffix(string(data), "\n"), nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", file, err)
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}

// NewLifecycleCommand builds the push and merge commands.
func NewLifecycleCommand(rootOpts *RootOptions, command, short string) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   command + " <project> <hash>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd, rootOpts, userID, args[0], command, args[1])
		},
	}
	actorFlag(cmd, &userID)
	return cmd
}

func NewPromoteCommand(rootOpts *RootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "promote <project>",
		Short: "Promote every develop commit to release and mirror the release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd, rootOpts, userID, args[0], "promote", "")
		},
	}
	actorFlag(cmd, &userID)
	return cmd
}

func runLifecycle(cmd *cobra.Command, rootOpts *RootOptions, userID, projectID, command, hash string) error {
	rt, err := openRuntime(cmd.Context(), rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()
	service, err := rt.service(false)
	if err != nil {
		return err
	}
	result, err := service.Lifecycle(cmd.Context(), userID, projectID, command, hash)
	if err != nil {
		return err
	}
	return emit(cmd, rootOpts, app.LifecycleView(result), func(w io.Writer) error {
		switch {
		case result.Merge != nil:
			_, err = fmt.Fprintf(w, "merged %s: %d shifted, %d rebased, %d discarded\n",
				result.Commit.Hash, result.Merge.Shifted, result.Merge.Rebased, len(result.Merge.Deleted))
		case result.Promote != nil:
			_, err = fmt.Fprintf(w, "promoted %d commit(s)\n", result.Promote.Promoted)
			if err == nil && result.Snapshot != nil {
				_, err = fmt.Fprintf(w, "mirrored as %s (%s)\n", result.Snapshot.Tag, result.Snapshot.Hash)
			}
		default:
			_, err = fmt.Fprintf(w, "%s %s %s\n", command, result.Commit.Hash, result.Commit.Status)
		}
		return err
	})
}

func NewPageCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		userID string
		query  app.PageQuery
	)
	cmd := &cobra.Command{
		Use:   "page <project> <number>",
		Short: "Print a page as of a commit or a mode head",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("page must be a number: %q", args[1])
			}
			query.Page = number
			rt, err := openRuntime(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			service, err := rt.service(false)
			if err != nil {
				return err
			}
			page, found, err := service.Page(cmd.Context(), userID, args[0], query)
			if err != nil {
				return err
			}
			if !found {
				return emit(cmd, rootOpts, map[string]any{"page": nil}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, "(no such page)")
					return err
				})
			}
			return emit(cmd, rootOpts, map[string]any{"page": app.PageView(page)}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, page.Content())
				return err
			})
		},
	}
	actorFlag(cmd, &userID)
	cmd.Flags().StringVar(&query.Mode, "mode", "", "local, develop or release head")
	cmd.Flags().StringVar(&query.Hash, "hash", "", "commit hash")
	return cmd
}

func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		userID string
		query  app.LogQueryInput
	)
	cmd := &cobra.Command{
		Use:   "log <project>",
		Short: "Walk the commit chain back from a head",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			service, err := rt.service(false)
			if err != nil {
				return err
			}
			entries, err := service.Log(cmd.Context(), userID, args[0], query)
			if err != nil {
				return err
			}
			return emit(cmd, rootOpts, map[string]any{"log": app.EntryViews(entries)}, func(w io.Writer) error {
				for _, entry := range entries {
					if _, err := fmt.Fprintf(w, "%s %-7s %-6s p%d %s\n",
						entry.Hash, entry.Mode, entry.Status, entry.Page, entry.Title); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	actorFlag(cmd, &userID)
	cmd.Flags().StringVar(&query.Mode, "mode", "", "start from the head of this mode")
	cmd.Flags().StringVar(&query.Hash, "hash", "", "start from this commit")
	cmd.Flags().IntVar(&query.Depth, "depth", 0, "maximum walk depth")
	cmd.Flags().IntVarP(&query.Limit, "limit", "n", 0, "maximum entries")
	return cmd
}

func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		userID string
		input  app.ExportInput
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <project>",
		Short: "Render every page of a version as html, pdf or docx",
		Long: `Render every page of a version into one document. The version is picked
with --mode or --hash like the page command. PDF needs chromium and DOCX
needs pandoc on the PATH.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			service, err := rt.service(false)
			if err != nil {
				return err
			}
			result, err := service.Export(cmd.Context(), userID, args[0], input)
			if err != nil {
				return err
			}
			target := output
			if target == "" {
				target = result.Filename
			}
			if target == "-" {
				_, err := cmd.OutOrStdout().Write(result.Data)
				return err
			}
			if err := os.WriteFile(target, result.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", target, err)
			}
			payload := map[string]any{"file": target, "bytes": len(result.Data), "mimeType": result.MimeType}
			return emit(cmd, rootOpts, payload, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "wrote %s (%d bytes)\n", target, len(result.Data))
				return err
			})
		},
	}
	actorFlag(cmd, &userID)
	cmd.Flags().StringVar(&input.Format, "to", "pdf", "html, pdf or docx")
	cmd.Flags().StringVar(&input.Mode, "mode", "", "local, develop or release head")
	cmd.Flags().StringVar(&input.Hash, "hash", "", "commit hash")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (\"-\" writes stdout)")
	return cmd
}
