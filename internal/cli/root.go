package cli

import (
	"io"

	"github.com/nousos/nous/internal/config"
	"github.com/nousos/nous/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths     config.Paths
	log       *logging.Logger
	logCloser io.Closer = io.NopCloser(nil)
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nous",
		Short: "NOUS OS backend",
		Long:  "NOUS OS serves the personal life dashboard: accounts, the per-user VFS, chat and the agent catalog.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if err := config.LoadDotEnv(paths.Config); err != nil {
				return err
			}

			// A broken config file is reported by the command that needs it;
			// logging falls back to defaults.
			cfg, _ := config.Load(paths.Config)
			opts := logging.Options{
				Level:        cfg.Logging.Level,
				ConsoleStyle: cfg.Logging.ConsoleStyle,
				File:         cfg.Logging.File,
			}
			if logLevel != "" {
				opts.Level = logLevel
			}
			if opts.Level == "" {
				opts.Level = "info"
			}
			log, logCloser, err = logging.Open(opts)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logCloser.Close()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.nous/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVFSCmd())
	cmd.AddCommand(newUserCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
