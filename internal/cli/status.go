package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/nousos/nous/internal/config"
	"github.com/nousos/nous/internal/store"
	"github.com/nousos/nous/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show NOUS status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s (api %s, commit %s)\n\n", version.AppName, version.Version, version.APIVersion, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Server:  port=%d bind=%s tls=%v\n", cfg.Server.Port, cfg.Server.Bind, cfg.Server.TLS.Enabled)
			secret := "set"
			if cfg.Auth.JWTSecret == "" {
				secret = "unset (generated on serve)"
			}
			fmt.Fprintf(out, "Auth:    mode=%s ttl=%dm secret=%s\n", cfg.Auth.Mode, cfg.Auth.TokenTTLMinutes, secret)

			storage := cfg.Storage.Backend
			switch storage {
			case "sqlite":
				storage += " " + paths.DatabasePath(cfg.Storage)
			case "firestore":
				storage += " project=" + cfg.Storage.Firestore.ProjectID
			}
			if b := cfg.Storage.Blobs.Backend; b != "" {
				storage += ", blobs=" + b
			}
			fmt.Fprintf(out, "Storage: %s\n", storage)
			fmt.Fprintf(out, "VFS:     encrypt=%v audit=%v\n", cfg.VFS.Encrypt, cfg.VFS.Audit)
			fmt.Fprintf(out, "Limits:  chat=%d/min api=%d/min actions=%d/day\n",
				cfg.Limits.ChatPerMinute, cfg.Limits.APIPerMinute, cfg.Limits.DailyActions)
			if cfg.Metrics.Enabled {
				fmt.Fprintf(out, "Metrics: %s\n", cfg.Metrics.Path)
			}

			if cfg.Storage.Backend == "sqlite" {
				printDatabaseSummary(cmd, paths.DatabasePath(cfg.Storage))
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return nil
		},
	}

	return cmd
}

// printDatabaseSummary prints account and document counts of an existing
// database. A missing file is not created.
func printDatabaseSummary(cmd *cobra.Command, path string) {
	out := cmd.OutOrStdout()
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(out, "Users:   (no database yet)")
		return
	}
	db, err := store.Open(path, log)
	if err != nil {
		fmt.Fprintf(out, "Users:   error opening database: %v\n", err)
		return
	}
	defer db.Close()

	ctx := cmd.Context()
	users, err := store.NewUserStore(db).List(ctx)
	if err != nil {
		fmt.Fprintf(out, "Users:   error listing users: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Users:   %d\n", len(users))

	colls, err := store.NewDocStore(db).Collections(ctx)
	if err != nil || len(colls) == 0 {
		return
	}
	names := make([]string, 0, len(colls))
	for name := range colls {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, colls[name]))
	}
	fmt.Fprintf(out, "Docs:    %s\n", strings.Join(parts, " "))
}
