package tui

import (
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"
)

// Available commands
const (
	CmdHelp    = "help"
	CmdConnect = "connect"
	CmdQuit    = "quit"
	CmdRun     = "run"
	CmdStop    = "stop"
	CmdGroups  = "groups"
	CmdTime    = "time"
	CmdQuery   = "query"
	CmdNew     = "new"
	CmdClose   = "close"
)

var availableCommands = []string{
	CmdHelp,
	CmdConnect,
	CmdQuit,
	CmdRun,
	CmdStop,
	CmdGroups,
	CmdTime,
	CmdQuery,
	CmdNew,
	CmdClose,
}

// Help text, rendered with glamour.
const helpText = `# Logs Insights

## Commands

| command | action |
|---|---|
| ` + "`:run`" + ` | execute the query of the current tab |
| ` + "`:stop`" + ` | stop the running query |
| ` + "`:groups`" + ` | pick the log groups to query |
| ` + "`:time`" + ` | edit the time span |
| ` + "`:query`" + ` | edit the query string |
| ` + "`:new`" + ` | open an untitled tab |
| ` + "`:close`" + ` | close the current tab |
| ` + "`:connect <name>`" + ` | switch to another configured context |
| ` + "`:help`" + ` | show this help |
| ` + "`:quit`" + ` | exit |

## Keys

- **ctrl+r** run, **ctrl+x** stop
- **g** log groups, **t** time span, **e** query string
- **enter** show the record under the cursor
- **o** open the records correlated with the one under the cursor
- **tab** / **shift+tab** switch tabs
- **esc** close a panel, **q** quit
`

func renderHelp(width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Warn().Err(err).Msg("help renderer")
		return helpText
	}
	out, err := r.Render(helpText)
	if err != nil {
		log.Warn().Err(err).Msg("render help")
		return helpText
	}
	return out
}
