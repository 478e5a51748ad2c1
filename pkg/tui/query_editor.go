package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Slach/logs-insights/pkg/insights"
)

// queryEditor edits the query string of a document.
type queryEditor struct {
	base insights.Query
	area textarea.Model
}

func newQueryEditor(q insights.Query, width, height int) *queryEditor {
	ta := textarea.New()
	ta.Placeholder = insights.DefaultQueryString
	ta.ShowLineNumbers = true
	ta.CharLimit = 0
	ta.SetWidth(width)
	ta.SetHeight(height)
	ta.SetValue(q.QueryString)
	ta.Focus()
	return &queryEditor{base: q, area: ta}
}

// update returns done when the editor closes and accepted when ctrl+s saved it.
func (e *queryEditor) update(msg tea.KeyMsg) (q insights.Query, done, accepted bool, cmd tea.Cmd) {
	switch msg.String() {
	case "esc":
		return insights.Query{}, true, false, nil
	case "ctrl+s":
		q = e.base
		q.QueryString = strings.TrimRight(e.area.Value(), "\n")
		return q, true, true, nil
	}
	e.area, cmd = e.area.Update(msg)
	return insights.Query{}, false, false, cmd
}

func (e *queryEditor) view(width int) string {
	return modalStyle.Width(width).Render(
		titleStyle.Render("Query") + "\n\n" + e.area.View() + "\n\n" +
			dimStyle.Render("ctrl+s apply · esc cancel"))
}
