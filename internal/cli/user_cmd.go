package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/nousos/nous/internal/config"
	"github.com/nousos/nous/internal/hooks"
	"github.com/spf13/cobra"
)

func withBackend(ctx context.Context, fn func(cfg config.Config, be *backend) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	be, err := openBackend(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer be.Close()
	return fn(cfg, be)
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> <email> <password>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(cfg config.Config, be *backend) error {
				if err := ensureJWTSecret(&cfg); err != nil {
					return err
				}
				svc, err := be.authService(cfg, hooks.NewManager(log))
				if err != nil {
					return err
				}
				sess, err := svc.Signup(cmd.Context(), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", sess.User.ID, sess.User.Email)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(_ config.Config, be *backend) error {
				users, err := be.users.List(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tCREATED")
				for _, u := range users {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.CreatedAt.Format("2006-01-02"))
				}
				return tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id|email>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(_ config.Config, be *backend) error {
				id, err := be.resolveUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := be.users.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				return nil
			})
		},
	})

	return cmd
}
