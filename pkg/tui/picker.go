package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pickerVisible = 12

// PickRequestMsg asks the app to show the log-group picker. The choice, or
// nil when dismissed, is sent on Reply.
type PickRequestMsg struct {
	Available []string
	Selected  []string
	Reply     chan<- []string
}

// groupPicker is the session.Picker of the TUI. It hands the request to
// the event loop and waits for the modal to answer.
type groupPicker struct {
	send func(tea.Msg)
}

func (p groupPicker) PickLogGroups(ctx context.Context, available, selected []string) ([]string, error) {
	reply := make(chan []string, 1)
	p.send(PickRequestMsg{Available: available, Selected: selected, Reply: reply})
	select {
	case groups := <-reply:
		return groups, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pickerModal is a filtered multi-select list of log groups.
type pickerModal struct {
	items    []string
	visible  []string
	checked  map[string]bool
	cursor   int
	offset   int
	filter   textinput.Model
	reply    chan<- []string
	answered bool
}

func newPickerModal(req PickRequestMsg) *pickerModal {
	ti := textinput.New()
	ti.Placeholder = "filter log groups"
	ti.Prompt = "/"
	ti.CharLimit = 256
	ti.Focus()

	checked := make(map[string]bool, len(req.Selected))
	for _, name := range req.Selected {
		checked[name] = true
	}
	m := &pickerModal{items: req.Available, checked: checked, filter: ti, reply: req.Reply}
	m.applyFilter()
	return m
}

func (m *pickerModal) applyFilter() {
	filter := strings.ToLower(m.filter.Value())
	m.visible = m.visible[:0]
	for _, item := range m.items {
		if filter == "" || strings.Contains(strings.ToLower(item), filter) {
			m.visible = append(m.visible, item)
		}
	}
	if m.cursor >= len(m.visible) {
		m.cursor = len(m.visible) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	m.offset = 0
	m.scroll()
}

func (m *pickerModal) scroll() {
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+pickerVisible {
		m.offset = m.cursor - pickerVisible + 1
	}
}

// picked keeps the order of the available list.
func (m *pickerModal) picked() []string {
	var out []string
	for _, item := range m.items {
		if m.checked[item] {
			out = append(out, item)
		}
	}
	return out
}

func (m *pickerModal) answer(groups []string) {
	if m.answered {
		return
	}
	m.answered = true
	m.reply <- groups
}

// update returns true once the modal is closed.
func (m *pickerModal) update(msg tea.KeyMsg) (bool, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.answer(nil)
		return true, nil
	case "enter":
		m.answer(m.picked())
		return true, nil
	case "up", "ctrl+p":
		if m.cursor > 0 {
			m.cursor--
			m.scroll()
		}
		return false, nil
	case "down", "ctrl+n":
		if m.cursor < len(m.visible)-1 {
			m.cursor++
			m.scroll()
		}
		return false, nil
	case " ", "tab":
		if m.cursor < len(m.visible) {
			name := m.visible[m.cursor]
			m.checked[name] = !m.checked[name]
		}
		return false, nil
	case "ctrl+a":
		all := true
		for _, item := range m.visible {
			all = all && m.checked[item]
		}
		for _, item := range m.visible {
			m.checked[item] = !all
		}
		return false, nil
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.applyFilter()
	return false, cmd
}

func (m *pickerModal) view(width int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Log groups (%d selected)", len(m.picked()))))
	b.WriteString("\n")
	b.WriteString(m.filter.View())
	b.WriteString("\n\n")
	if len(m.visible) == 0 {
		b.WriteString(dimStyle.Render("no matching log groups"))
	}
	end := m.offset + pickerVisible
	if end > len(m.visible) {
		end = len(m.visible)
	}
	for i := m.offset; i < end; i++ {
		name := m.visible[i]
		box := "[ ]"
		if m.checked[name] {
			box = "[x]"
		}
		line := fmt.Sprintf("%s %s", box, name)
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("space toggle · ctrl+a all · enter apply · esc cancel"))
	return modalStyle.Width(width).Render(b.String())
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	modalStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
	activeTab     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62")).Padding(0, 1)
	inactiveTab   = lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Padding(0, 1)
)
