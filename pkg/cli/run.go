package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Slach/logs-insights/pkg/backend"
	"github.com/Slach/logs-insights/pkg/document"
	"github.com/Slach/logs-insights/pkg/models"
	"github.com/Slach/logs-insights/pkg/protocol"
	"github.com/Slach/logs-insights/pkg/session"
	"github.com/Slach/logs-insights/pkg/types"
	"github.com/Slach/logs-insights/pkg/utils"
)

// Output formats of the run command.
const (
	OutputAuto  = "auto"
	OutputTable = "table"
	OutputJSON  = "json"
)

var errRunTimeout = errors.New("query timed out")

func newRunCommand(cli *types.CLI, version string) *cobra.Command {
	params := &cli.RunParams
	cmd := &cobra.Command{
		Use:   "run <file.insights>",
		Short: "Execute a query document and print the results",
		Args:  cobra.ExactArgs(1),
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
			page, err := runQuery(cmd.Context(), state, doc, params.Timeout)
			if err != nil {
				return err
			}
			return printPage(cmd.OutOrStdout(), cmd.ErrOrStderr(), page, params.Output)
		},
	}
	cmd.Flags().StringVarP(&params.Output, "output", "o", OutputAuto, "Output format: auto, table or json")
	cmd.Flags().DurationVar(&params.Timeout, "timeout", 5*time.Minute, "Stop the query after this long, 0 waits forever")
	return cmd
}

// captureView is a headless view remembering the last page and the first
// error notice.
type captureView struct {
	mu   sync.Mutex
	page backend.ResultPage
	err  error
	done chan struct{}
	once sync.Once
}

func newCaptureView() *captureView {
	return &captureView{done: make(chan struct{})}
}

func (v *captureView) ID() string { return "run" }

func (v *captureView) Post(msg protocol.Outbound) error {
	result, ok := msg.(protocol.Result)
	if !ok {
		return nil
	}
	v.mu.Lock()
	v.page = result.Page
	v.mu.Unlock()
	if result.Page.Status.Terminal() {
		v.once.Do(func() { close(v.done) })
	}
	return nil
}

func (v *captureView) Notify(n session.Notice) {
	if n.Level != session.LevelError {
		log.Warn().Str("action", n.Action).Msg(n.Message)
		return
	}
	v.mu.Lock()
	if v.err == nil {
		v.err = n.Err
		if v.err == nil {
			v.err = errors.New(n.Message)
		}
	}
	v.mu.Unlock()
	v.once.Do(func() { close(v.done) })
}

func (v *captureView) result() (backend.ResultPage, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page, v.err
}

// runQuery executes doc once and waits for a terminal status. On timeout
// the query is stopped and the partial page is returned with errRunTimeout.
func runQuery(ctx context.Context, state *models.AppState, doc document.Document, timeout time.Duration) (backend.ResultPage, error) {
	view := newCaptureView()
	sess, err := state.Sessions.Open(ctx, state.SessionOptions(doc, view, nil, nil))
	if err != nil {
		return backend.ResultPage{}, err
	}
	defer sess.Close()

	if err := sess.Handle(ctx, protocol.Execute{}); err != nil {
		return backend.ResultPage{}, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-view.done:
		page, err := view.result()
		if err == nil && page.Status == backend.StatusFailed {
			err = errors.Errorf("query %s", page.Status)
		}
		return page, err
	case <-expired:
		if err := sess.Handle(context.Background(), protocol.Stop{}); err != nil {
			log.Warn().Err(err).Msg("stop query after timeout")
		}
		page, _ := view.result()
		return page, errors.Wrapf(errRunTimeout, "after %s", timeout)
	case <-ctx.Done():
		page, _ := view.result()
		return page, ctx.Err()
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printPage(out, errOut io.Writer, page backend.ResultPage, format string) error {
	if format == OutputAuto || format == "" {
		format = OutputJSON
		if isTerminal(out) {
			format = OutputTable
		}
	}
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	case OutputTable:
		fmt.Fprintln(out, renderTable(page))
		fmt.Fprintf(errOut, "%s  %s\n", page.Status, utils.FormatStatistics(page.Statistics))
		return nil
	}
	return errors.Errorf("unknown output format %q", format)
}

// renderTable lays records out with a column per field, in first-seen order.
func renderTable(page backend.ResultPage) string {
	var headers []string
	index := map[string]int{}
	for _, record := range page.Results {
		for _, f := range record.Fields {
			if f.Field == "@ptr" {
				continue
			}
			if _, ok := index[f.Field]; !ok {
				index[f.Field] = len(headers)
				headers = append(headers, f.Field)
			}
		}
	}
	rows := make([][]string, 0, len(page.Results))
	for _, record := range page.Results {
		row := make([]string, len(headers))
		for _, f := range record.Fields {
			if i, ok := index[f.Field]; ok {
				row[i] = f.Value
			}
		}
		rows = append(rows, row)
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("105")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}
