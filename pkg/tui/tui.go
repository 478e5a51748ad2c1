package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/Slach/logs-insights/pkg/document"
	"github.com/Slach/logs-insights/pkg/insights"
	"github.com/Slach/logs-insights/pkg/models"
	"github.com/Slach/logs-insights/pkg/protocol"
	"github.com/Slach/logs-insights/pkg/session"
	"github.com/Slach/logs-insights/pkg/timespan"
	"github.com/Slach/logs-insights/pkg/timezone"
	"github.com/Slach/logs-insights/pkg/tui/widgets"
	"github.com/Slach/logs-insights/pkg/utils"
)

// Page types
type pageType string

const (
	pageMain   pageType = "main"
	pageHelp   pageType = "help"
	pagePicker pageType = "picker"
	pageTime   pageType = "time"
	pageQuery  pageType = "query"
	pageDetail pageType = "detail"
)

const (
	docPaneHeight = 10
	maxVisibleCmd = 8
	watchInterval = time.Second
)

// App is the main bubbletea model. Each tab is one document with its own
// session; sessions push into the program through tabView.
type App struct {
	state *models.AppState
	ctx   context.Context
	stop  context.CancelFunc
	send  func(tea.Msg)

	tabs     []*tab
	active   int
	untitled int
	initial  []document.Document

	currentPage            pageType
	message                string
	messageStyle           lipgloss.Style
	commandMode            bool
	commandInput           textinput.Model
	commandSuggestions     []string
	selectedSuggestion     int
	suggestionScrollOffset int
	width                  int
	height                 int

	picker  *pickerModal
	timeEd  *timeEditor
	queryEd *queryEditor
	docView widgets.DocumentView
	detail  widgets.DocumentView
	help    string
	now     func() time.Time
}

// NewApp creates the app for state. Documents are opened as tabs on start.
func NewApp(state *models.AppState, docs ...document.Document) *App {
	ti := textinput.New()
	ti.Placeholder = "Enter command..."
	ti.Prompt = ":"
	ti.CharLimit = 100

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		state:        state,
		ctx:          ctx,
		stop:         cancel,
		send:         func(tea.Msg) {},
		initial:      docs,
		currentPage:  pageMain,
		commandInput: ti,
		messageStyle: dimStyle,
		message:      "Press ':' to enter command mode, '?' for help",
		docView:      widgets.NewDocumentView("document", 80, docPaneHeight),
		detail:       widgets.NewDocumentView("record", 80, 20),
		width:        80,
		height:       24,
	}
}

// Init opens the initial documents
func (a *App) Init() tea.Cmd {
	cmds := make([]tea.Cmd, 0, len(a.initial))
	for _, doc := range a.initial {
		cmds = append(cmds, a.openDocument(doc))
	}
	a.initial = nil
	return tea.Batch(cmds...)
}

// Run starts the program and closes every session when it exits.
func (a *App) Run() error {
	defer func() {
		a.stop()
		if err := a.state.Close(); err != nil {
			log.Error().Err(err).Stack().Send()
		}
	}()

	p := tea.NewProgram(a, tea.WithAltScreen())
	a.send = p.Send
	_, err := p.Run()
	return err
}

// openDocument adds a tab for doc and attaches its session off the loop.
func (a *App) openDocument(doc document.Document) tea.Cmd {
	a.untitled++
	id := fmt.Sprintf("tab-%d", a.untitled)
	t := newTab(id, docTitle(doc), doc)
	t.results.setSize(a.width, a.resultsHeight())
	a.tabs = append(a.tabs, t)
	a.active = len(a.tabs) - 1

	send := a.send
	opts := a.state.SessionOptions(doc, &tabView{id: id, send: send}, groupPicker{send: send}, tabOpener{send: send})
	if a.now != nil {
		opts.Now = a.now
	}
	if f, ok := doc.(*document.File); ok {
		watchCtx, cancel := context.WithCancel(a.ctx)
		t.stopWatch = cancel
		t.watched = make(chan struct{})
		go func(done chan struct{}) {
			defer close(done)
			f.Watch(watchCtx, watchInterval)
		}(t.watched)
	}
	ctx := a.ctx
	return func() tea.Msg {
		s, err := a.state.Sessions.Open(ctx, opts)
		return TabReadyMsg{Tab: id, Session: s, Err: err}
	}
}

func docTitle(doc document.Document) string {
	if f, ok := doc.(*document.File); ok {
		return filepath.Base(f.Path())
	}
	return doc.URI()
}

func (a *App) tab(id string) *tab {
	for _, t := range a.tabs {
		if t.id == id {
			return t
		}
	}
	return nil
}

func (a *App) current() *tab {
	if a.active < 0 || a.active >= len(a.tabs) {
		return nil
	}
	return a.tabs[a.active]
}

func (a *App) resultsHeight() int {
	h := a.height - docPaneHeight - 6
	if h < 3 {
		h = 3
	}
	return h
}

func (a *App) setMessage(style lipgloss.Style, format string, args ...interface{}) {
	a.messageStyle = style
	a.message = fmt.Sprintf(format, args...)
}

func (a *App) refreshDocView() {
	t := a.current()
	if t == nil {
		return
	}
	text, err := insights.Serialize(t.query)
	if err != nil {
		text = err.Error()
	}
	a.docView.SetTitle(t.title)
	a.docView.SetText(text, "json")
}

// Update handles all messages and state updates
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		for _, t := range a.tabs {
			t.results.setSize(a.width, a.resultsHeight())
		}
		a.docView.SetSize(a.width, docPaneHeight)
		a.detail.SetSize(a.width, a.height-2)
		a.help = ""
		return a, nil

	case TabReadyMsg:
		t := a.tab(msg.Tab)
		if t == nil {
			if msg.Session != nil {
				msg.Session.Close()
			}
			return a, nil
		}
		if msg.Err != nil {
			a.removeTab(t)
			a.setMessage(errorStyle, "open %s: %v", t.title, msg.Err)
			return a, nil
		}
		t.sess = msg.Session
		return a, nil

	case SessionMsg:
		t := a.tab(msg.Tab)
		if t == nil {
			return a, nil
		}
		expanded, err := t.apply(msg.Msg)
		if err != nil {
			log.Error().Err(err).Str("tab", t.id).Msg("apply session message")
		}
		if t == a.current() {
			if _, ok := msg.Msg.(protocol.QuerySnapshot); ok {
				a.refreshDocView()
			}
			if expanded != nil {
				a.detail.SetTitle(fmt.Sprintf("record %s", expanded.ID))
				a.detail.SetRecord(sortedFields(expanded.Record), expanded.Record)
				a.currentPage = pageDetail
			}
		}
		return a, nil

	case NoticeMsg:
		t := a.tab(msg.Tab)
		if t == nil {
			return a, nil
		}
		n := msg.Notice
		t.notice = &n
		if t == a.current() {
			a.showNotice(n)
		}
		return a, nil

	case PickRequestMsg:
		if a.picker != nil {
			msg.Reply <- nil
			return a, nil
		}
		a.picker = newPickerModal(msg)
		a.currentPage = pagePicker
		return a, textinput.Blink

	case OpenTabMsg:
		return a, a.openUntitled(msg.Query)

	case tea.KeyMsg:
		if a.commandMode {
			return a, a.updateCommandMode(msg)
		}
		return a, a.updateKeys(msg)
	}
	return a, nil
}

// openUntitled opens q in a new in-memory document.
func (a *App) openUntitled(q insights.Query) tea.Cmd {
	text, err := insights.Serialize(q)
	if err != nil {
		a.setMessage(errorStyle, "%v", err)
		return nil
	}
	return a.openDocument(document.NewMemory(fmt.Sprintf("untitled:%d", a.untitled+1), text))
}

func (a *App) showNotice(n session.Notice) {
	style := dimStyle
	switch n.Level {
	case session.LevelError:
		style = errorStyle
	case session.LevelWarn:
		style = warnStyle
	}
	if n.Action != "" {
		a.setMessage(style, "%s: %s", n.Action, n.Message)
		return
	}
	a.setMessage(style, "%s", n.Message)
}

func (a *App) updateCommandMode(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		a.resetCommandMode()
		return nil
	case "enter":
		var command string
		input := strings.TrimSpace(a.commandInput.Value())
		if a.selectedSuggestion >= 0 && a.selectedSuggestion < len(a.commandSuggestions) && !strings.Contains(input, " ") {
			command = a.commandSuggestions[a.selectedSuggestion]
		} else {
			command = input
		}
		a.resetCommandMode()
		return a.executeCommand(command)
	case "tab":
		if len(a.commandSuggestions) > 0 {
			a.commandInput.SetValue(a.commandSuggestions[a.selectedSuggestion] + " ")
			a.commandInput.CursorEnd()
			a.commandSuggestions = nil
			a.selectedSuggestion = 0
			a.suggestionScrollOffset = 0
		}
		return nil
	case "down", "ctrl+n":
		if len(a.commandSuggestions) > 0 {
			a.selectedSuggestion = (a.selectedSuggestion + 1) % len(a.commandSuggestions)
			a.scrollSuggestions()
		}
		return nil
	case "up", "ctrl+p":
		if len(a.commandSuggestions) > 0 {
			a.selectedSuggestion = (a.selectedSuggestion + len(a.commandSuggestions) - 1) % len(a.commandSuggestions)
			a.scrollSuggestions()
		}
		return nil
	}
	var cmd tea.Cmd
	a.commandInput, cmd = a.commandInput.Update(msg)
	a.updateCommandSuggestions()
	return cmd
}

func (a *App) resetCommandMode() {
	a.commandMode = false
	a.commandInput.SetValue("")
	a.commandInput.Blur()
	a.commandSuggestions = nil
	a.selectedSuggestion = 0
	a.suggestionScrollOffset = 0
}

func (a *App) scrollSuggestions() {
	if a.selectedSuggestion < a.suggestionScrollOffset {
		a.suggestionScrollOffset = a.selectedSuggestion
	}
	if a.selectedSuggestion >= a.suggestionScrollOffset+maxVisibleCmd {
		a.suggestionScrollOffset = a.selectedSuggestion - maxVisibleCmd + 1
	}
}

func (a *App) updateCommandSuggestions() {
	input := strings.TrimSpace(a.commandInput.Value())
	if strings.Contains(input, " ") {
		a.commandSuggestions = nil
		return
	}
	if input == "" {
		a.commandSuggestions = append([]string{}, availableCommands...)
		a.selectedSuggestion = 0
		return
	}

	var suggestions []string
	for _, cmd := range availableCommands {
		if strings.HasPrefix(cmd, input) {
			suggestions = append(suggestions, cmd)
		}
	}
	if len(suggestions) == 0 {
		for _, cmd := range availableCommands {
			if strings.Contains(cmd, input) {
				suggestions = append(suggestions, cmd)
			}
		}
	}

	a.commandSuggestions = suggestions
	if a.selectedSuggestion >= len(suggestions) {
		a.selectedSuggestion = 0
		a.suggestionScrollOffset = 0
	}
}

// updateKeys handles keys outside command mode.
func (a *App) updateKeys(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "ctrl+c" {
		return tea.Quit
	}
	switch a.currentPage {
	case pagePicker:
		closed, cmd := a.picker.update(msg)
		if closed {
			a.picker = nil
			a.currentPage = pageMain
		}
		return cmd
	case pageTime:
		q, done, accepted, cmd := a.timeEd.update(msg)
		if done {
			a.timeEd = nil
			a.currentPage = pageMain
		}
		if accepted {
			return a.dispatch(protocol.QueryEdit{Query: q})
		}
		return cmd
	case pageQuery:
		q, done, accepted, cmd := a.queryEd.update(msg)
		if done {
			a.queryEd = nil
			a.currentPage = pageMain
		}
		if accepted {
			return a.dispatch(protocol.QueryEdit{Query: q})
		}
		return cmd
	case pageHelp, pageDetail:
		switch msg.String() {
		case "esc", "q":
			a.currentPage = pageMain
			return nil
		}
		var cmd tea.Cmd
		a.detail, cmd = a.detail.Update(msg)
		return cmd
	}

	switch msg.String() {
	case ":":
		a.commandMode = true
		a.commandInput.Focus()
		a.updateCommandSuggestions()
		return textinput.Blink
	case "q":
		return tea.Quit
	case "?":
		return a.executeCommand(CmdHelp)
	case "ctrl+r":
		return a.executeCommand(CmdRun)
	case "ctrl+x":
		return a.executeCommand(CmdStop)
	case "g":
		return a.executeCommand(CmdGroups)
	case "t":
		return a.executeCommand(CmdTime)
	case "e":
		return a.executeCommand(CmdQuery)
	case "tab":
		a.switchTab(1)
		return nil
	case "shift+tab":
		a.switchTab(-1)
		return nil
	case "enter":
		return a.expandSelected()
	case "o":
		return a.openSelected()
	}
	if t := a.current(); t != nil {
		var cmd tea.Cmd
		t.results, cmd = t.results.update(msg)
		return cmd
	}
	return nil
}

// ready returns the current tab once its session is attached.
func (a *App) ready() *tab {
	t := a.current()
	if t == nil {
		a.setMessage(warnStyle, "no document open, use :new")
		return nil
	}
	if t.sess == nil {
		a.setMessage(warnStyle, "%s is still opening", t.title)
		return nil
	}
	return t
}

// dispatch hands msg to the session of the current tab.
func (a *App) dispatch(msg protocol.Inbound) tea.Cmd {
	t := a.ready()
	if t == nil {
		return nil
	}
	return handle(a.ctx, t.sess, msg)
}

func (a *App) switchTab(delta int) {
	if len(a.tabs) == 0 {
		return
	}
	a.active = (a.active + delta + len(a.tabs)) % len(a.tabs)
	a.refreshDocView()
	if t := a.current(); t.notice != nil {
		a.showNotice(*t.notice)
	}
}

func (a *App) removeTab(t *tab) {
	for i, other := range a.tabs {
		if other != t {
			continue
		}
		a.tabs = append(a.tabs[:i], a.tabs[i+1:]...)
		if t.stopWatch != nil {
			t.stopWatch()
		}
		if a.active >= len(a.tabs) {
			a.active = len(a.tabs) - 1
		}
		a.refreshDocView()
		return
	}
}

func (a *App) expandSelected() tea.Cmd {
	t := a.current()
	if t == nil {
		return nil
	}
	record, ok := t.results.selected()
	if !ok {
		return nil
	}
	return a.dispatch(protocol.Expand{ID: record.ID})
}

// openSelected opens the records sharing the correlation field of the
// selected record, around its timestamp.
func (a *App) openSelected() tea.Cmd {
	t := a.current()
	if t == nil {
		return nil
	}
	record, ok := t.results.selected()
	if !ok {
		return nil
	}
	field := a.state.Config.UI.CorrelationField
	id, ok := record.Value(field)
	if !ok || id == "" {
		a.setMessage(warnStyle, "record has no %s field", field)
		return nil
	}
	ts, ok := record.Value("@timestamp")
	if !ok {
		a.setMessage(warnStyle, "record has no @timestamp field")
		return nil
	}
	return a.dispatch(protocol.OpenRequest{ID: id, Timestamp: protocol.Timestamp(ts)})
}

func (a *App) executeCommand(input string) tea.Cmd {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return nil
	}
	name, args := fields[0], fields[1:]
	log.Info().Str("command", name).Strs("args", args).Msg("Executing command")

	switch name {
	case CmdHelp:
		a.currentPage = pageHelp
		if a.help == "" {
			a.help = renderHelp(a.width - 4)
		}
		a.detail.SetTitle("help")
		a.detail.SetContent(a.help)

	case CmdQuit:
		return tea.Quit

	case CmdConnect:
		if len(args) == 0 {
			a.setMessage(dimStyle, "%s; contexts: %s", a.state.ConnectionInfo(), strings.Join(a.state.Config.Names(), ", "))
			return nil
		}
		if err := a.state.SelectContext(args[0]); err != nil {
			a.setMessage(errorStyle, "%v", err)
			return nil
		}
		a.setMessage(dimStyle, "connected to %s", a.state.ConnectionInfo())

	case CmdRun:
		return a.dispatch(protocol.Execute{})

	case CmdStop:
		return a.dispatch(protocol.Stop{})

	case CmdGroups:
		return a.dispatch(protocol.Select{})

	case CmdTime:
		t := a.ready()
		if t == nil {
			return nil
		}
		a.timeEd = newTimeEditor(t.query, timespan.NewResolver(a.now), timezone.LoadOrLocal(a.state.Config.UI.Timezone))
		a.currentPage = pageTime
		return textinput.Blink

	case CmdQuery:
		t := a.ready()
		if t == nil {
			return nil
		}
		a.queryEd = newQueryEditor(t.query, a.width-6, a.height/2)
		a.currentPage = pageQuery

	case CmdNew:
		var groups []string
		if t := a.current(); t != nil {
			groups = t.query.GroupNames()
		}
		return a.openUntitled(insights.Default(groups))

	case CmdClose:
		t := a.current()
		if t == nil {
			return nil
		}
		a.removeTab(t)
		if s := t.sess; s != nil {
			return func() tea.Msg {
				s.Close()
				return nil
			}
		}

	default:
		a.setMessage(errorStyle, "Unknown command: %s, type :help for available commands", name)
	}
	return nil
}

func (a *App) View() string {
	var content string
	switch a.currentPage {
	case pagePicker:
		content = a.picker.view(a.width - 2)
	case pageTime:
		content = a.timeEd.view(a.width - 2)
	case pageQuery:
		content = a.queryEd.view(a.width - 2)
	case pageHelp, pageDetail:
		content = a.detail.View()
	default:
		content = a.renderMainPage()
	}

	if a.commandMode {
		content = lipgloss.JoinVertical(lipgloss.Left, content, "", a.renderCommandMode())
	}
	return content
}

func (a *App) renderMainPage() string {
	header := a.renderTabs()
	t := a.current()
	if t == nil {
		return lipgloss.JoinVertical(lipgloss.Left,
			header,
			"",
			"No document open. Use :new or run logs-insights open <file>.",
			"",
			a.messageStyle.Render(a.message))
	}

	status := fmt.Sprintf("%s · %s", t.status(), a.state.ConnectionInfo())
	if stats := utils.FormatStatistics(t.page.Statistics); stats != "" {
		status += " · " + stats
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		a.docView.View(),
		t.results.view(),
		dimStyle.Render(status),
		a.messageStyle.Render(a.message))
}

func (a *App) renderTabs() string {
	if len(a.tabs) == 0 {
		return titleStyle.Render("logs-insights")
	}
	parts := make([]string, 0, len(a.tabs))
	for i, t := range a.tabs {
		label := t.title
		if t.running {
			label += " ●"
		}
		if i == a.active {
			parts = append(parts, activeTab.Render(label))
		} else {
			parts = append(parts, inactiveTab.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (a *App) renderCommandMode() string {
	commandView := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(0, 1).
		Render(a.commandInput.View())

	helpLine := lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Render("Tab: Complete | Enter: Run | ↑↓: Navigate | Esc: Cancel")

	if len(a.commandSuggestions) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, commandView, helpLine)
	}

	end := a.suggestionScrollOffset + maxVisibleCmd
	if end > len(a.commandSuggestions) {
		end = len(a.commandSuggestions)
	}
	var lines []string
	for i := a.suggestionScrollOffset; i < end; i++ {
		suggestion := a.commandSuggestions[i]
		if i == a.selectedSuggestion {
			lines = append(lines, lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("6")).
				Bold(true).
				Render("▶ "+suggestion))
		} else {
			lines = append(lines, lipgloss.NewStyle().
				Foreground(lipgloss.Color("8")).
				Render("  "+suggestion))
		}
	}
	suggestionsView := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, commandView, suggestionsView, helpLine)
}
