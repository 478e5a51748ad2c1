package tui

import (
	"context"
	"fmt"
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/Slach/logs-insights/pkg/backend"
	"github.com/Slach/logs-insights/pkg/document"
	"github.com/Slach/logs-insights/pkg/insights"
	"github.com/Slach/logs-insights/pkg/protocol"
	"github.com/Slach/logs-insights/pkg/session"
)

// SessionMsg carries a session push to the tab it belongs to.
type SessionMsg struct {
	Tab string
	Msg protocol.Outbound
}

// NoticeMsg is a session notification for one tab.
type NoticeMsg struct {
	Tab    string
	Notice session.Notice
}

// TabReadyMsg is sent once the session of a new tab is attached.
type TabReadyMsg struct {
	Tab     string
	Session *session.Session
	Err     error
}

// OpenTabMsg asks the app to open a new untitled tab holding Query.
type OpenTabMsg struct {
	Query insights.Query
}

// tabView is the session.View of one tab. Pushes become bubbletea messages.
type tabView struct {
	id   string
	send func(tea.Msg)
}

func (v *tabView) ID() string { return v.id }

func (v *tabView) Post(msg protocol.Outbound) error {
	v.send(SessionMsg{Tab: v.id, Msg: msg})
	return nil
}

func (v *tabView) Notify(n session.Notice) {
	v.send(NoticeMsg{Tab: v.id, Notice: n})
}

// tabOpener turns open_request into a new tab.
type tabOpener struct {
	send func(tea.Msg)
}

func (o tabOpener) Open(_ context.Context, q insights.Query) error {
	o.send(OpenTabMsg{Query: q})
	return nil
}

// tab is one document with its session and the latest pushed state.
type tab struct {
	id    string
	title string
	doc   document.Document
	sess  *session.Session

	query   insights.Query
	page    backend.ResultPage
	hasPage bool
	running bool
	notice  *session.Notice

	results resultsTable

	// stopWatch ends the file watcher; watched is closed once it returned.
	stopWatch context.CancelFunc
	watched   chan struct{}
}

func newTab(id, title string, doc document.Document) *tab {
	return &tab{id: id, title: title, doc: doc, results: newResultsTable()}
}

// apply folds one push into the tab.
func (t *tab) apply(msg protocol.Outbound) (*protocol.ExpandResult, error) {
	var expanded *protocol.ExpandResult
	err := msg.Visit(outboundFunc{
		query: func(m protocol.QuerySnapshot) error {
			t.query = m.Query
			return nil
		},
		result: func(m protocol.Result) error {
			t.page = m.Page
			t.hasPage = true
			t.running = !m.Page.Status.Terminal()
			t.results.setPage(m.Page)
			return nil
		},
		expand: func(m protocol.ExpandResult) error {
			expanded = &m
			return nil
		},
	})
	return expanded, err
}

func (t *tab) status() string {
	switch {
	case t.sess == nil:
		return "opening"
	case t.running:
		return fmt.Sprintf("%s %s", t.page.Status, t.sess.ActiveQueryID())
	case t.hasPage:
		return string(t.page.Status)
	}
	return "idle"
}

type outboundFunc struct {
	query  func(protocol.QuerySnapshot) error
	result func(protocol.Result) error
	expand func(protocol.ExpandResult) error
}

var _ protocol.OutboundHandler = outboundFunc{}

func (f outboundFunc) OnQuery(m protocol.QuerySnapshot) error { return f.query(m) }

func (f outboundFunc) OnResult(m protocol.Result) error { return f.result(m) }

func (f outboundFunc) OnExpandResult(m protocol.ExpandResult) error { return f.expand(m) }

// handle runs one inbound message off the event loop. The session reports
// failures through Notify, so the command itself yields no message.
func handle(ctx context.Context, s *session.Session, msg protocol.Inbound) tea.Cmd {
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		if err := s.Handle(ctx, msg); err != nil {
			log.Debug().Err(err).Str("message", msg.Type()).Str("document", s.URI()).Msg("handled with error")
		}
		return nil
	}
}

// sortedFields returns the record fields in name order.
func sortedFields(record map[string]string) []string {
	names := make([]string, 0, len(record))
	for name := range record {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
