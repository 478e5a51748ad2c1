package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/evertras/bubble-table/table"

	"github.com/Slach/logs-insights/pkg/backend"
)

const (
	maxColumns   = 6
	minColWidth  = 8
	timeColWidth = 23

	// rowIndexKey carries the record index in row data; no column shows it.
	rowIndexKey = "#row"
)

// resultsTable shows the records of the latest page. Columns follow the
// order in which field names first appear.
type resultsTable struct {
	model   table.Model
	records []backend.Record
	fields  []string
	width   int
	height  int
}

func newResultsTable() resultsTable {
	r := resultsTable{width: 80, height: 10}
	r.model = table.New(nil).
		Focused(true).
		HeaderStyle(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("105"))).
		HighlightStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))).
		WithBaseStyle(lipgloss.NewStyle().BorderForeground(lipgloss.Color("240")).Align(lipgloss.Left))
	return r
}

func (r *resultsTable) setPage(page backend.ResultPage) {
	cursor := r.cursor()
	r.records = page.Results
	r.fields = fieldNames(page.Results)
	r.layout()
	if cursor >= len(r.records) {
		cursor = len(r.records) - 1
	}
	if cursor >= 0 {
		r.model = r.model.WithHighlightedRow(cursor)
	}
}

func (r *resultsTable) setSize(width, height int) {
	r.width = width
	r.height = height
	r.layout()
}

// layout rebuilds columns and rows for the current size.
func (r *resultsTable) layout() {
	rows := make([]table.Row, 0, len(r.records))
	for i, record := range r.records {
		data := table.RowData{rowIndexKey: i}
		for _, name := range r.fields {
			v, _ := record.Value(name)
			data[name] = strings.ReplaceAll(v, "\n", " ")
		}
		rows = append(rows, table.NewRow(data))
	}
	// header, borders and the pagination footer
	pageSize := r.height - 5
	if pageSize < 1 {
		pageSize = 1
	}
	r.model = r.model.
		WithColumns(columns(r.fields, r.width)).
		WithRows(rows).
		WithPageSize(pageSize)
}

func (r *resultsTable) cursor() int {
	if len(r.records) == 0 {
		return 0
	}
	i, ok := r.model.HighlightedRow().Data[rowIndexKey].(int)
	if !ok {
		return 0
	}
	return i
}

// selected is the record under the cursor.
func (r *resultsTable) selected() (backend.Record, bool) {
	if len(r.records) == 0 {
		return backend.Record{}, false
	}
	i, ok := r.model.HighlightedRow().Data[rowIndexKey].(int)
	if !ok || i < 0 || i >= len(r.records) {
		return backend.Record{}, false
	}
	return r.records[i], true
}

func (r resultsTable) update(msg tea.Msg) (resultsTable, tea.Cmd) {
	var cmd tea.Cmd
	r.model, cmd = r.model.Update(msg)
	return r, cmd
}

func (r resultsTable) view() string {
	if len(r.records) == 0 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("no records")
	}
	return r.model.View()
}

func fieldNames(records []backend.Record) []string {
	seen := map[string]bool{}
	var names []string
	for _, record := range records {
		for _, f := range record.Fields {
			if f.Field == "@ptr" || seen[f.Field] {
				continue
			}
			seen[f.Field] = true
			names = append(names, f.Field)
		}
	}
	if len(names) > maxColumns {
		names = names[:maxColumns]
	}
	return names
}

// columns splits width across fields. @timestamp keeps a fixed width and
// the last column takes what is left. Field names double as row keys.
func columns(fields []string, width int) []table.Column {
	if len(fields) == 0 {
		return []table.Column{table.NewColumn("", "", width)}
	}
	widths := make([]int, len(fields))
	left := width - 2*len(fields)
	flexible := 0
	for i, name := range fields {
		if name == "@timestamp" {
			widths[i] = timeColWidth
			left -= timeColWidth
			continue
		}
		flexible++
	}
	if flexible > 0 {
		each := left / flexible
		if each < minColWidth {
			each = minColWidth
		}
		last := -1
		for i := range widths {
			if widths[i] == 0 {
				widths[i] = each
				left -= each
				last = i
			}
		}
		if last >= 0 && left > 0 {
			widths[last] += left
		}
	}

	cols := make([]table.Column, len(fields))
	for i, name := range fields {
		cols[i] = table.NewColumn(name, name, widths[i])
	}
	return cols
}
