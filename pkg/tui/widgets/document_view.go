package widgets

import (
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DocumentView is a scrollable, titled panel for highlighted text: the
// query document or one expanded record.
type DocumentView struct {
	viewport viewport.Model
	title    string
	content  string
	width    int
	height   int
}

// NewDocumentView creates a panel of the given outer size.
func NewDocumentView(title string, width, height int) DocumentView {
	vp := viewport.New(width-4, height-3) // border, padding and title
	return DocumentView{viewport: vp, title: title, width: width, height: height}
}

// SetSize updates the dimensions
func (m *DocumentView) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width - 4
	m.viewport.Height = height - 3
}

func (m *DocumentView) SetTitle(title string) { m.title = title }

// SetText highlights text with the chroma lexer for language, plain text
// when the lexer fails.
func (m *DocumentView) SetText(text, language string) {
	m.content = Highlight(text, language)
	m.viewport.SetContent(m.content)
	m.viewport.GotoTop()
}

// SetContent shows already rendered text.
func (m *DocumentView) SetContent(content string) {
	m.content = content
	m.viewport.SetContent(content)
	m.viewport.GotoTop()
}

// SetRecord shows fields as aligned name: value lines in the given order.
func (m *DocumentView) SetRecord(names []string, record map[string]string) {
	width := 0
	for _, name := range names {
		if len(name) > width {
			width = len(name)
		}
	}
	nameStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("105")).Bold(true)
	var b strings.Builder
	for _, name := range names {
		value := strings.ReplaceAll(record[name], "\n", "\n"+strings.Repeat(" ", width+2))
		fmt.Fprintf(&b, "%s  %s\n", nameStyle.Render(fmt.Sprintf("%-*s", width, name)), value)
	}
	m.content = b.String()
	m.viewport.SetContent(m.content)
	m.viewport.GotoTop()
}

// Content returns what the panel shows.
func (m DocumentView) Content() string { return m.content }

// Update scrolls the viewport.
func (m DocumentView) Update(msg tea.Msg) (DocumentView, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model
func (m DocumentView) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("white")).
		Padding(0, 1)

	borderStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(0, 1)

	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(m.title), borderStyle.Render(m.viewport.View()))
}

// Highlight renders text with terminal256 ANSI colors.
func Highlight(text, language string) string {
	var highlighted strings.Builder
	if err := quick.Highlight(&highlighted, text, language, "terminal256", "monokai"); err != nil {
		return text
	}
	return highlighted.String()
}
