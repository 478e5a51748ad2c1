package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Slach/logs-insights/pkg/config"
	"github.com/Slach/logs-insights/pkg/document"
	"github.com/Slach/logs-insights/pkg/insights"
	"github.com/Slach/logs-insights/pkg/stdio"
	"github.com/Slach/logs-insights/pkg/timezone"
	"github.com/Slach/logs-insights/pkg/tui"
	"github.com/Slach/logs-insights/pkg/tui/widgets"
	"github.com/Slach/logs-insights/pkg/types"
)

func newOpenCommand(cli *types.CLI, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "open [file.insights...]",
		Short: "Open query documents in the terminal UI",
		Long:  "Open query documents in the terminal UI. Missing files are created with a default query.",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := loadState(cli, version)
			if err != nil {
				return err
			}
			docs := make([]document.Document, 0, len(args))
			for _, path := range args {
				doc, err := openOrCreate(path)
				if err != nil {
					return err
				}
				docs = append(docs, doc)
			}
			return tui.NewApp(state, docs...).Run()
		},
	}
}

// openOrCreate opens path, seeding it with the default query when missing.
func openOrCreate(path string) (*document.File, error) {
	doc, err := document.OpenFile(path)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	text, err := insights.Serialize(insights.Default(nil))
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Msg("creating query document")
	return document.CreateFile(path, text)
}

func newServeCommand(cli *types.CLI, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve <file.insights>",
		Short: "Run a session for one document over stdin/stdout",
		Long: "Run a session for one document, exchanging newline-delimited JSON messages " +
			"with an editor over stdin and stdout.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := loadState(cli, version)
			if err != nil {
				return err
			}
			defer func() {
				if err := state.Close(); err != nil {
					log.Error().Err(err).Stack().Send()
				}
			}()

			doc, err := document.OpenFile(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := stdio.NewServer(cmd.OutOrStdout(), doc.Path())
			sess, err := state.Sessions.Open(ctx, state.SessionOptions(doc, server, server, server))
			if err != nil {
				return err
			}
			go doc.Watch(ctx, state.PollInterval())
			return server.Serve(ctx, cmd.InOrStdin(), sess)
		},
	}
}

func newNewCommand(cli *types.CLI) *cobra.Command {
	params := &cli.NewParams
	cmd := &cobra.Command{
		Use:   "new <file.insights>",
		Short: "Create a query document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := buildQuery(params)
			if err != nil {
				return err
			}
			text, err := insights.Serialize(q)
			if err != nil {
				return err
			}
			if err := writeDocument(cmd.Context(), args[0], text, params.Force); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), args[0])
			return err
		},
	}
	cmd.Flags().StringSliceVarP(&params.Groups, "group", "g", nil, "Log group to query, repeatable")
	cmd.Flags().VarP(&params.Relative, "relative", "r", "Relative time span such as PT15M or P1D")
	cmd.Flags().StringVar(&params.FromTime, "from", "", "Start of an absolute time span")
	cmd.Flags().StringVar(&params.ToTime, "to", "", "End of an absolute time span")
	cmd.Flags().StringVarP(&params.Query, "query", "q", "", "Query string")
	cmd.Flags().StringVar(&params.Timezone, "timezone", "", "Zone of --from and --to without an offset (default: system zone)")
	cmd.Flags().BoolVarP(&params.Force, "force", "f", false, "Overwrite an existing document")
	cmd.MarkFlagsMutuallyExclusive("relative", "from")
	cmd.MarkFlagsMutuallyExclusive("relative", "to")
	cmd.MarkFlagsRequiredTogether("from", "to")
	return cmd
}

func buildQuery(params *types.NewParams) (insights.Query, error) {
	q := insights.Default(params.Groups)
	if params.Query != "" {
		q.QueryString = params.Query
	}
	if params.Relative != "" {
		q = q.SetRelative(string(params.Relative))
	}
	if params.FromTime != "" || params.ToTime != "" {
		loc, err := timezone.Load(params.Timezone)
		if err != nil {
			return insights.Query{}, err
		}
		from, err := params.ParseFromTime(loc)
		if err != nil {
			return insights.Query{}, err
		}
		to, err := params.ParseToTime(loc)
		if err != nil {
			return insights.Query{}, err
		}
		if !from.Before(to) {
			return insights.Query{}, errors.Errorf("--from %s must be before --to %s", params.FromTime, params.ToTime)
		}
		q = q.SetAbsolute(from.Unix(), to.Unix())
	}
	return q, nil
}

func writeDocument(ctx context.Context, path, text string, force bool) error {
	_, err := document.CreateFile(path, text)
	if err == nil || !force || !errors.Is(err, os.ErrExist) {
		return err
	}
	doc, err := document.OpenFile(path)
	if err != nil {
		return err
	}
	return doc.Replace(ctx, text)
}

func newGroupsCommand(cli *types.CLI, version string) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List the log groups of the selected context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := loadState(cli, version)
			if err != nil {
				return err
			}
			defer func() {
				if err := state.Close(); err != nil {
					log.Error().Err(err).Stack().Send()
				}
			}()
			groups, err := state.Backend.ListLogGroups(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, group := range groups {
				if strings.HasPrefix(group, prefix) {
					fmt.Fprintln(out, group)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list groups starting with prefix")
	return cmd
}

func newProfilesCommand(cli *types.CLI) *cobra.Command {
	return &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"contexts"},
		Short:   "List the configured contexts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cli.ConfigPath)
			if err != nil {
				return err
			}
			selected := cli.ConnectTo
			if selected == "" {
				selected = cfg.DefaultContext
			}
			printProfiles(cmd.OutOrStdout(), cfg, selected)
			return nil
		},
	}
}

func printProfiles(out io.Writer, cfg *config.Config, selected string) {
	marked := lipgloss.NewStyle().Bold(true)
	for _, c := range cfg.Contexts {
		var target string
		if c.Backend == config.BackendCloudWatch {
			target = fmt.Sprintf("cloudwatch %s/%s", c.Profile, c.Region)
		} else {
			target = fmt.Sprintf("clickhouse %s:%d/%s", c.Host, c.Port, c.Database)
		}
		if c.Name == selected {
			fmt.Fprintln(out, marked.Render(fmt.Sprintf("* %s\t%s", c.Name, target)))
			continue
		}
		fmt.Fprintf(out, "  %s\t%s\n", c.Name, target)
	}
}

func newShowCommand() *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "show <file.insights>",
		Short: "Validate a query document and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := document.OpenFile(args[0])
			if err != nil {
				return err
			}
			text, err := doc.Text()
			if err != nil {
				return err
			}
			q, err := insights.Parse(text)
			if err != nil {
				return err
			}
			text, err = insights.Serialize(q.MigrateLegacy().Normalize())
			if err != nil {
				return err
			}
			if !plain && isTerminal(cmd.OutOrStdout()) {
				text = widgets.Highlight(text, "json")
			}
			_, err = io.WriteString(cmd.OutOrStdout(), text)
			return err
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Do not highlight")
	return cmd
}
