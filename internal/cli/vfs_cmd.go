package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/nousos/nous/internal/hooks"
	"github.com/nousos/nous/internal/vfs"
	"github.com/spf13/cobra"
)

// withUserVFS opens the configured backend and mounts the VFS of the user
// named by ref (an id or an email).
func withUserVFS(ctx context.Context, ref string, fn func(v vfs.VFS) error) error {
	if ref == "" {
		return fmt.Errorf("--user is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	hm := hooks.NewManager(log)
	be, err := openBackend(ctx, cfg, hm)
	if err != nil {
		return err
	}
	defer be.Close()
	if cfg.VFS.Audit {
		vfs.NewAuditTrail(be.docs, log).Register(hm)
	}

	userID, err := be.resolveUser(ctx, ref)
	if err != nil {
		return err
	}
	v, err := be.mounter.Mount(userID)
	if err != nil {
		return err
	}
	return fn(v)
}

func newVFSCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "vfs",
		Short: "Read and write a user's documents",
		Long: `Paths take the form collection:doc.field, for example
identity:persona or identity:persona.tone.formality.`,
	}
	cmd.PersistentFlags().StringVarP(&user, "user", "u", "", "user id or email")

	cmd.AddCommand(&cobra.Command{
		Use:   "read <path>",
		Short: "Print a document or field as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserVFS(cmd.Context(), user, func(v vfs.VFS) error {
				data, err := v.Read(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), data)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "write <path> <value>",
		Short: "Merge a JSON object into a document, or set a field",
		Example: `  nous vfs write -u ana@example.com identity:persona '{"tone":{"formality":"casual"}}'
  nous vfs write -u ana@example.com identity:persona.name Ana`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserVFS(cmd.Context(), user, func(v vfs.VFS) error {
				if err := v.Write(cmd.Context(), args[0], parseData(args[1])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list <collection>",
		Short: "List document ids of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserVFS(cmd.Context(), user, func(v vfs.VFS) error {
				ids, err := v.List(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <path>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserVFS(cmd.Context(), user, func(v vfs.VFS) error {
				if err := v.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "exists <path>",
		Short: "Print whether a document or field exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserVFS(cmd.Context(), user, func(v vfs.VFS) error {
				ok, err := v.Exists(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ok)
				return nil
			})
		},
	})

	return cmd
}

// parseData decodes s as JSON; anything that is not valid JSON is taken as
// a plain string.
func parseData(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
