package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"github.com/Slach/logs-insights/pkg/insights"
	"github.com/Slach/logs-insights/pkg/timespan"
	"github.com/Slach/logs-insights/pkg/timezone"
)

const editLayout = "2006-01-02 15:04:05"

type spanMode int

const (
	spanRelative spanMode = iota
	spanAbsolute
)

// timeEditor edits the span of a query, either a relative unit and
// magnitude or an absolute from/to pair.
type timeEditor struct {
	base  insights.Query
	mode  spanMode
	units []string
	unit  int
	field int // 0 magnitude (relative) or from (absolute), 1 to
	loc   *time.Location

	magnitude textinput.Model
	from      textinput.Model
	to        textinput.Model
	err       error
}

func newTimeEditor(q insights.Query, resolver timespan.Resolver, loc *time.Location) *timeEditor {
	if loc == nil {
		loc = time.Local
	}
	e := &timeEditor{base: q, units: timespan.Units(), loc: loc}

	unit, n := timespan.ToEditableRelative(q.RelativeTime)
	for i, u := range e.units {
		if u == unit {
			e.unit = i
		}
	}
	e.magnitude = newInput("magnitude", strconv.Itoa(n), 6)

	start, end := resolver.ToEditableAbsolute(q.StartTime, q.EndTime)
	e.from = newInput("from", time.Unix(start, 0).In(loc).Format(editLayout), 32)
	e.to = newInput("to", time.Unix(end, 0).In(loc).Format(editLayout), 32)

	if q.RelativeTime == "" && q.StartTime != nil {
		e.mode = spanAbsolute
	}
	e.focus()
	return e
}

func newInput(placeholder, value string, limit int) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = limit
	ti.Prompt = ""
	ti.SetValue(value)
	return ti
}

func (e *timeEditor) focus() {
	e.magnitude.Blur()
	e.from.Blur()
	e.to.Blur()
	switch {
	case e.mode == spanRelative:
		e.magnitude.Focus()
	case e.field == 0:
		e.from.Focus()
	default:
		e.to.Focus()
	}
}

// result builds the edited query.
func (e *timeEditor) result() (insights.Query, error) {
	if e.mode == spanRelative {
		n, err := strconv.Atoi(strings.TrimSpace(e.magnitude.Value()))
		if err != nil || n <= 0 {
			return insights.Query{}, errors.Errorf("magnitude must be a positive number, got %q", e.magnitude.Value())
		}
		token := timespan.ComposeRelative(e.units[e.unit], n)
		if err := timespan.Validate(token); err != nil {
			return insights.Query{}, err
		}
		return e.base.SetRelative(token), nil
	}
	from, err := dateparse.ParseIn(strings.TrimSpace(e.from.Value()), e.loc)
	if err != nil {
		return insights.Query{}, errors.Wrap(err, "from")
	}
	to, err := dateparse.ParseIn(strings.TrimSpace(e.to.Value()), e.loc)
	if err != nil {
		return insights.Query{}, errors.Wrap(err, "to")
	}
	if !from.Before(to) {
		return insights.Query{}, errors.New("from must be before to")
	}
	return e.base.SetAbsolute(from.Unix(), to.Unix()), nil
}

// update returns the edited query once enter is accepted; done is true
// when the editor closes.
func (e *timeEditor) update(msg tea.KeyMsg) (q insights.Query, done, accepted bool, cmd tea.Cmd) {
	switch msg.String() {
	case "esc":
		return insights.Query{}, true, false, nil
	case "enter":
		q, err := e.result()
		if err != nil {
			e.err = err
			return insights.Query{}, false, false, nil
		}
		return q, true, true, nil
	case "ctrl+t":
		if e.mode == spanRelative {
			e.mode = spanAbsolute
		} else {
			e.mode = spanRelative
		}
		e.field = 0
		e.err = nil
		e.focus()
		return insights.Query{}, false, false, nil
	case "tab", "shift+tab":
		if e.mode == spanAbsolute {
			e.field = 1 - e.field
			e.focus()
		}
		return insights.Query{}, false, false, nil
	case "left", "right":
		if e.mode == spanRelative {
			if msg.String() == "right" {
				e.unit = (e.unit + 1) % len(e.units)
			} else {
				e.unit = (e.unit + len(e.units) - 1) % len(e.units)
			}
			return insights.Query{}, false, false, nil
		}
	}
	e.err = nil
	switch {
	case e.mode == spanRelative:
		e.magnitude, cmd = e.magnitude.Update(msg)
	case e.field == 0:
		e.from, cmd = e.from.Update(msg)
	default:
		e.to, cmd = e.to.Update(msg)
	}
	return insights.Query{}, false, false, cmd
}

func (e *timeEditor) view(width int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Time span"))
	b.WriteString("\n\n")
	if e.mode == spanRelative {
		unit := e.units[e.unit]
		fmt.Fprintf(&b, "last %s  ‹ %s ›\n", e.magnitude.View(), timespan.UnitLabel(unit))
		token := timespan.ComposeRelative(unit, atoiOr(e.magnitude.Value(), 0))
		b.WriteString(dimStyle.Render(token))
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("←/→ unit · ctrl+t absolute · enter apply · esc cancel"))
	} else {
		fmt.Fprintf(&b, "from %s\n", e.from.View())
		fmt.Fprintf(&b, "to   %s\n", e.to.View())
		b.WriteString(dimStyle.Render(fmt.Sprintf("times in %s, any format dateparse accepts", timezone.Label(e.loc, time.Now()))))
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("tab field · ctrl+t relative · enter apply · esc cancel"))
	}
	if e.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(e.err.Error()))
	}
	return modalStyle.Width(width).Render(b.String())
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}
