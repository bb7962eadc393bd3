package cli

import (
	"fmt"
	"io"
	"time"

	"folio/api/internal/auth"
	"folio/api/internal/rbac"

	"github.com/spf13/cobra"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			payload := map[string]any{"dialect": rt.store.Dialect(), "migrated": true}
			return emit(cmd, rootOpts, payload, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "migrations applied (%s)\n", rt.store.Dialect())
				return err
			})
		},
	}
}

// NewGrantCommand sets a user's level on a project.
func NewGrantCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <project> <user> <level>",
		Short: "Set a user's level on a project (admin, member, viewer, none)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := rbac.Parse(args[2])
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.store.SetProjectLevel(cmd.Context(), args[0], args[1], level); err != nil {
				return err
			}
			payload := map[string]any{"project": args[0], "user": args[1], "level": level.String()}
			return emit(cmd, rootOpts, payload, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s is now %s on %s\n", args[1], level, args[0])
				return err
			})
		},
	}
}

// NewTokenCommand issues a bearer token for local development.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user>",
		Short: "Issue a signed API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if name == "" {
				name = args[0]
			}
			token, err := auth.IssueToken([]byte(cfg.JWTSecret), args[0], name, ttl)
			if err != nil {
				return err
			}
			payload := map[string]any{"token": token, "expiresIn": int64(ttl / time.Second)}
			return emit(cmd, rootOpts, payload, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, token)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the user id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
