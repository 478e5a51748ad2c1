package cli

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Slach/logs-insights/pkg/config"
	"github.com/Slach/logs-insights/pkg/logging"
	"github.com/Slach/logs-insights/pkg/models"
	"github.com/Slach/logs-insights/pkg/pprof"
	"github.com/Slach/logs-insights/pkg/types"
)

// NewRootCommand builds the command tree. Flags are bound into cli.
func NewRootCommand(cli *types.CLI, version string) *cobra.Command {
	var profiler *pprof.Profiler

	rootCmd := &cobra.Command{
		Use:           "logs-insights",
		Short:         "Logs Insights - run log queries kept in .insights documents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.InitLogFile(cli.LogPath, cli.LogLevel, version); err != nil {
				return errors.Wrap(err, "failed to initialize logger")
			}
			if cli.Pprof {
				p, err := pprof.Start(cli.PprofPath)
				if err != nil {
					return err
				}
				profiler = p
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if profiler == nil {
				return nil
			}
			return profiler.Stop()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cli.ConfigPath, "config", "", "Path to config file (default: ~/.logs-insights/logs-insights.yml)")
	rootCmd.PersistentFlags().StringVar(&cli.LogPath, "log", "", "Path to log file (default: ~/.logs-insights/logs-insights.log)")
	rootCmd.PersistentFlags().StringVar(&cli.LogLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cli.ConnectTo, "connect", "", "Context name to use from config")
	rootCmd.PersistentFlags().DurationVar(&cli.PollInterval, "poll-interval", 0, "Interval between result polls (default from config, 1s)")
	rootCmd.PersistentFlags().BoolVar(&cli.Pprof, "pprof", false, "Write CPU and memory profiles")
	rootCmd.PersistentFlags().StringVar(&cli.PprofPath, "pprof-path", "", "Directory for profiles (default: ~/.logs-insights)")

	rootCmd.AddCommand(
		newOpenCommand(cli, version),
		newServeCommand(cli, version),
		newRunCommand(cli, version),
		newNewCommand(cli),
		newGroupsCommand(cli, version),
		newProfilesCommand(cli),
		newShowCommand(),
	)
	return rootCmd
}

// loadState reads the configuration and selects the context named by
// --connect, or the default one. A missing default is not an error: the
// backend reports it when first used.
func loadState(cli *types.CLI, version string) (*models.AppState, error) {
	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return nil, err
	}

	state := models.NewAppState(cfg, cli, version)
	err = state.SelectContext(cli.ConnectTo)
	switch {
	case err == nil:
		log.Info().Str("context", state.SelectedContext().Name).Msg("context selected")
	case cli.ConnectTo == "" && errors.Is(err, config.ErrContextNotFound):
		log.Warn().Err(err).Msg("no context selected")
	default:
		return nil, err
	}
	return state, nil
}
