package tui

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slach/logs-insights/pkg/backend"
	"github.com/Slach/logs-insights/pkg/backend/backendtest"
	"github.com/Slach/logs-insights/pkg/config"
	"github.com/Slach/logs-insights/pkg/document"
	"github.com/Slach/logs-insights/pkg/insights"
	"github.com/Slach/logs-insights/pkg/models"
	"github.com/Slach/logs-insights/pkg/timespan"
	"github.com/Slach/logs-insights/pkg/types"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

var fixedNow = time.Date(2022, 1, 9, 3, 0, 0, 0, time.UTC)

const fifteenMinutes = `{"logGroupNames":["app"],"relativeTime":"PT15M","queryString":"fields @message"}`

func timeResolver() timespan.Resolver {
	return timespan.NewResolver(func() time.Time { return fixedNow })
}

type harness struct {
	t    *testing.T
	app  *App
	doc  *document.Memory
	fake *backendtest.Fake
	msgs chan tea.Msg
}

func newHarness(t *testing.T, fake *backendtest.Fake) *harness {
	t.Helper()
	cfg := &config.Config{
		PollInterval: 5 * time.Millisecond,
		UI:           config.UI{CorrelationField: config.DefaultCorrelationField},
	}
	state := models.NewAppState(cfg, &types.CLI{}, "test")
	state.Backend = backend.NewHolder(backend.StaticProfile("test"), func(context.Context, string) (backend.Client, error) {
		return fake, nil
	})

	h := &harness{t: t, doc: document.NewMemory("untitled:doc", fifteenMinutes), fake: fake, msgs: make(chan tea.Msg, 4096)}
	h.app = NewApp(state, h.doc)
	h.app.send = func(msg tea.Msg) { h.msgs <- msg }
	h.app.now = func() time.Time { return fixedNow }
	t.Cleanup(func() {
		h.app.stop()
		_ = state.Close()
	})

	h.run(h.app.Init())
	h.waitFor(func() bool {
		tab := h.app.current()
		return tab != nil && tab.sess != nil && len(tab.query.LogGroupNames) > 0
	})
	return h
}

// run executes cmd off the test goroutine, the way the program does.
func (h *harness) run(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	go func() {
		if msg := cmd(); msg != nil {
			h.msgs <- msg
		}
	}()
}

func (h *harness) update(msg tea.Msg) {
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, cmd := range batch {
			h.run(cmd)
		}
		return
	}
	_, cmd := h.app.Update(msg)
	h.run(cmd)
}

func (h *harness) drain() {
	for {
		select {
		case msg := <-h.msgs:
			h.update(msg)
		default:
			return
		}
	}
}

func (h *harness) waitFor(cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		h.drain()
		if cond() {
			return
		}
		time.Sleep(tick)
	}
	h.t.Fatal("condition not met in time")
}

func (h *harness) key(msg tea.KeyMsg) {
	h.update(msg)
}

func (h *harness) typeText(s string) {
	h.update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

func (h *harness) document() insights.Query {
	text, err := h.doc.Text()
	require.NoError(h.t, err)
	q, err := insights.Parse(text)
	require.NoError(h.t, err)
	return q
}

func TestOpenDocumentShowsSnapshot(t *testing.T) {
	h := newHarness(t, backendtest.NewFake("Q1"))
	assert.Len(t, h.app.tabs, 1)
	assert.Equal(t, "untitled:doc", h.app.current().title)
	assert.Contains(t, h.app.docView.Content(), "PT15M")
	assert.Contains(t, h.app.View(), "untitled:doc")
}

func TestRunShowsResults(t *testing.T) {
	fake := backendtest.NewFake("Q1",
		backend.ResultPage{Status: backend.StatusRunning},
		backend.ResultPage{
			Status:     backend.StatusComplete,
			Statistics: &backend.Statistics{RecordsMatched: 2, RecordsScanned: 10},
			Results: []backend.Record{
				{ID: "r1", Fields: []backend.Field{{Field: "@timestamp", Value: "2022-01-09 02:59:00.000"}, {Field: "@message", Value: "first"}}},
				{ID: "r2", Fields: []backend.Field{{Field: "@timestamp", Value: "2022-01-09 02:58:00.000"}, {Field: "@message", Value: "second"}}},
			},
		},
	)
	h := newHarness(t, fake)

	h.key(tea.KeyMsg{Type: tea.KeyCtrlR})
	h.waitFor(func() bool { return h.app.current().page.Status == backend.StatusComplete })

	tab := h.app.current()
	assert.False(t, tab.running)
	assert.Equal(t, []string{"@timestamp", "@message"}, tab.results.fields)
	view := h.app.View()
	assert.Contains(t, view, "Complete")
	assert.Contains(t, view, "first")
	assert.Equal(t, fixedNow.Unix()-900, fake.LastStart().StartTime)
}

func TestStopKey(t *testing.T) {
	fake := backendtest.NewFake("Q1", backend.ResultPage{Status: backend.StatusRunning})
	h := newHarness(t, fake)

	h.key(tea.KeyMsg{Type: tea.KeyCtrlR})
	h.waitFor(func() bool { return h.app.current().running })
	h.key(tea.KeyMsg{Type: tea.KeyCtrlX})
	h.waitFor(func() bool { return h.app.current().page.Status == backend.StatusCancelled })
	assert.Equal(t, 1, fake.StopCount())
}

func TestNoticeIsShown(t *testing.T) {
	h := newHarness(t, backendtest.NewFake("Q1"))
	require.NoError(t, h.doc.Replace(context.Background(), `{"logGroupNames":["app"],"relativeTime":"XYZ"}`))
	h.waitFor(func() bool { return h.app.current().query.RelativeTime == "XYZ" })

	h.key(tea.KeyMsg{Type: tea.KeyCtrlR})
	h.waitFor(func() bool { return h.app.current().notice != nil })
	assert.Contains(t, h.app.message, "malformed duration")
	assert.Equal(t, 0, h.fake.StartCount())
}

func TestPickerReplacesGroups(t *testing.T) {
	fake := backendtest.NewFake("Q1")
	fake.Groups = []string{"app", "db", "web"}
	h := newHarness(t, fake)

	h.typeText("g")
	h.waitFor(func() bool { return h.app.currentPage == pagePicker })
	assert.Equal(t, []string{"app"}, h.app.picker.picked())

	h.key(tea.KeyMsg{Type: tea.KeySpace}) // uncheck app
	h.key(tea.KeyMsg{Type: tea.KeyDown})
	h.key(tea.KeyMsg{Type: tea.KeySpace})
	h.key(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, pageMain, h.app.currentPage)

	h.waitFor(func() bool { return len(h.document().LogGroupNames) == 1 && h.document().LogGroupNames[0] == "db" })
	h.waitFor(func() bool { return assert.ObjectsAreEqual([]string{"db"}, h.app.current().query.LogGroupNames) })
}

func TestPickerEscapeLeavesDocument(t *testing.T) {
	fake := backendtest.NewFake("Q1")
	fake.Groups = []string{"app", "db"}
	h := newHarness(t, fake)

	h.typeText("g")
	h.waitFor(func() bool { return h.app.currentPage == pagePicker })
	h.key(tea.KeyMsg{Type: tea.KeyEsc})
	h.waitFor(func() bool { return h.app.picker == nil })

	text, err := h.doc.Text()
	require.NoError(t, err)
	assert.Equal(t, fifteenMinutes, text, "a dismissed pick never rewrites the document")
}

func TestTimeEditorWritesRelativeSpan(t *testing.T) {
	h := newHarness(t, backendtest.NewFake("Q1"))

	h.typeText("t")
	require.Equal(t, pageTime, h.app.currentPage)
	h.app.timeEd.magnitude.SetValue("2")
	h.key(tea.KeyMsg{Type: tea.KeyRight})
	h.key(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, pageMain, h.app.currentPage)

	h.waitFor(func() bool { return h.document().RelativeTime == "PT2H" })
	assert.Equal(t, "fields @message", h.document().QueryString)
}

func TestQueryEditorWritesQueryString(t *testing.T) {
	h := newHarness(t, backendtest.NewFake("Q1"))

	h.typeText("e")
	require.Equal(t, pageQuery, h.app.currentPage)
	h.app.queryEd.area.SetValue("fields @message | limit 5")
	h.key(tea.KeyMsg{Type: tea.KeyCtrlS})

	h.waitFor(func() bool { return h.document().QueryString == "fields @message | limit 5" })
	assert.Equal(t, "PT15M", h.document().RelativeTime)
}

func TestExpandShowsDetail(t *testing.T) {
	fake := backendtest.NewFake("Q1", backend.ResultPage{
		Status:  backend.StatusComplete,
		Results: []backend.Record{{ID: "r1", Fields: []backend.Field{{Field: "@message", Value: "boom"}}}},
	})
	fake.Records["r1"] = map[string]string{"@message": "boom", "@logStream": "web-1"}
	h := newHarness(t, fake)

	h.key(tea.KeyMsg{Type: tea.KeyCtrlR})
	h.waitFor(func() bool { return h.app.current().hasPage })
	h.key(tea.KeyMsg{Type: tea.KeyEnter})
	h.waitFor(func() bool { return h.app.currentPage == pageDetail })

	assert.Contains(t, h.app.detail.Content(), "web-1")
	h.key(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, pageMain, h.app.currentPage)
}

func TestOpenSelectedOpensCorrelatedTab(t *testing.T) {
	fake := backendtest.NewFake("Q1", backend.ResultPage{
		Status: backend.StatusComplete,
		Results: []backend.Record{{ID: "r1", Fields: []backend.Field{
			{Field: "@timestamp", Value: "2022-01-09 03:13:56.962"},
			{Field: "@requestId", Value: "req-42"},
		}}},
	})
	h := newHarness(t, fake)

	h.key(tea.KeyMsg{Type: tea.KeyCtrlR})
	h.waitFor(func() bool { return h.app.current().hasPage })
	h.typeText("o")
	h.waitFor(func() bool { return len(h.app.tabs) == 2 && h.app.current().sess != nil && h.app.current().query.QueryString != "" })

	q := h.app.current().query
	assert.Contains(t, q.QueryString, "req-42")
	assert.Equal(t, []string{"app"}, q.LogGroupNames)
	require.NotNil(t, q.StartTime)
	assert.Equal(t, int64(30*60), *q.EndTime-*q.StartTime)

	h.key(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, 0, h.app.active)
}

func TestOpenSelectedWithoutCorrelationField(t *testing.T) {
	fake := backendtest.NewFake("Q1", backend.ResultPage{
		Status:  backend.StatusComplete,
		Results: []backend.Record{{ID: "r1", Fields: []backend.Field{{Field: "@message", Value: "x"}}}},
	})
	h := newHarness(t, fake)
	h.key(tea.KeyMsg{Type: tea.KeyCtrlR})
	h.waitFor(func() bool { return h.app.current().hasPage })

	h.typeText("o")
	assert.Contains(t, h.app.message, "@requestId")
	assert.Len(t, h.app.tabs, 1)
}

func TestCommandMode(t *testing.T) {
	h := newHarness(t, backendtest.NewFake("Q1"))

	h.typeText(":")
	require.True(t, h.app.commandMode)
	assert.Equal(t, availableCommands, h.app.commandSuggestions)

	h.typeText("he")
	assert.Equal(t, []string{CmdHelp}, h.app.commandSuggestions)
	h.key(tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, h.app.commandMode)
	assert.Equal(t, pageHelp, h.app.currentPage)
	assert.NotEmpty(t, h.app.help)

	h.key(tea.KeyMsg{Type: tea.KeyEsc})
	h.typeText(":")
	h.typeText("bogus")
	h.key(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Contains(t, h.app.message, "Unknown command: bogus")
}

func TestNewAndCloseCommands(t *testing.T) {
	h := newHarness(t, backendtest.NewFake("Q1"))

	h.typeText(":")
	h.typeText("new")
	h.key(tea.KeyMsg{Type: tea.KeyEnter})
	h.waitFor(func() bool { return len(h.app.tabs) == 2 && h.app.current().sess != nil })
	assert.Equal(t, []string{"app"}, h.app.current().query.LogGroupNames)
	assert.Equal(t, insights.DefaultQueryString, h.app.current().query.QueryString)
	assert.Equal(t, 2, h.app.state.Sessions.Len())

	h.typeText(":")
	h.typeText("close")
	h.key(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Len(t, h.app.tabs, 1)
	h.waitFor(func() bool { return h.app.state.Sessions.Len() == 1 })
}

func TestCloseStopsFileWatcher(t *testing.T) {
	h := newHarness(t, backendtest.NewFake("Q1"))
	f, err := document.CreateFile(filepath.Join(t.TempDir(), "watched.insights"), fifteenMinutes)
	require.NoError(t, err)

	h.run(h.app.openDocument(f))
	h.waitFor(func() bool { return len(h.app.tabs) == 2 && h.app.current().sess != nil })
	watched := h.app.current().watched
	require.NotNil(t, watched)
	select {
	case <-watched:
		t.Fatal("watcher ended while the tab is open")
	default:
	}

	h.typeText(":")
	h.typeText("close")
	h.key(tea.KeyMsg{Type: tea.KeyEnter})
	require.Len(t, h.app.tabs, 1)
	select {
	case <-watched:
	case <-time.After(waitFor):
		t.Fatal("watcher still running after the tab was closed")
	}
	h.waitFor(func() bool { return h.app.state.Sessions.Len() == 1 })
}

func TestResultsTableSelection(t *testing.T) {
	record := func(id, msg string) backend.Record {
		return backend.Record{ID: id, Fields: []backend.Field{
			{Field: "@timestamp", Value: "2022-01-09 02:59:00.000"},
			{Field: "@message", Value: msg},
			{Field: "@ptr", Value: id},
		}}
	}
	r := newResultsTable()
	_, ok := r.selected()
	assert.False(t, ok, "nothing to select")

	r.setPage(backend.ResultPage{Results: []backend.Record{record("r1", "first"), record("r2", "second")}})
	assert.Equal(t, []string{"@timestamp", "@message"}, r.fields)
	got, ok := r.selected()
	require.True(t, ok)
	assert.Equal(t, "r1", got.ID)

	r, _ = r.update(tea.KeyMsg{Type: tea.KeyDown})
	got, ok = r.selected()
	require.True(t, ok)
	assert.Equal(t, "r2", got.ID)

	r.setPage(backend.ResultPage{Results: []backend.Record{record("r1", "first"), record("r2", "second"), record("r3", "third")}})
	got, _ = r.selected()
	assert.Equal(t, "r2", got.ID, "cursor kept across pages")
	assert.Contains(t, r.view(), "second")
	assert.NotContains(t, r.view(), "#row")

	r.setPage(backend.ResultPage{Results: []backend.Record{record("r9", "only")}})
	got, _ = r.selected()
	assert.Equal(t, "r9", got.ID, "cursor clamped to the shorter page")
}

func TestColumnsFillWidth(t *testing.T) {
	cols := columns([]string{"@timestamp", "@message", "level"}, 100)
	require.Len(t, cols, 3)
	assert.Equal(t, timeColWidth, cols[0].Width())
	total := 0
	for _, c := range cols {
		total += c.Width()
	}
	assert.Equal(t, 100-2*3, total)
}

func TestFieldNamesSkipPointer(t *testing.T) {
	names := fieldNames([]backend.Record{
		{Fields: []backend.Field{{Field: "@timestamp"}, {Field: "@ptr"}}},
		{Fields: []backend.Field{{Field: "@message"}, {Field: "@timestamp"}}},
	})
	assert.Equal(t, []string{"@timestamp", "@message"}, names)
}

func TestPickerFilter(t *testing.T) {
	reply := make(chan []string, 1)
	m := newPickerModal(PickRequestMsg{Available: []string{"app-api", "app-web", "db"}, Reply: reply})
	m.update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("app")})
	assert.Equal(t, []string{"app-api", "app-web"}, m.visible)

	m.update(tea.KeyMsg{Type: tea.KeyCtrlA})
	closed, _ := m.update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, closed)
	assert.Equal(t, []string{"app-api", "app-web"}, <-reply)
	assert.True(t, strings.Contains(m.view(60), "2 selected"))
}

func TestTimeEditorAbsolute(t *testing.T) {
	q := insights.Query{RelativeTime: "PT15M"}
	e := newTimeEditor(q, timeResolver(), time.UTC)
	assert.Equal(t, spanRelative, e.mode)
	assert.Equal(t, "2022-01-09 02:45:00", e.from.Value())
	assert.Equal(t, "2022-01-09 03:00:00", e.to.Value())

	e.update(tea.KeyMsg{Type: tea.KeyCtrlT})
	require.Equal(t, spanAbsolute, e.mode)
	e.from.SetValue("2022-01-08 10:00:00")
	e.to.SetValue("2022-01-08 11:00:00")
	out, err := e.result()
	require.NoError(t, err)
	assert.Empty(t, out.RelativeTime)
	assert.Equal(t, time.Date(2022, 1, 8, 10, 0, 0, 0, time.UTC).Unix(), *out.StartTime)
	assert.Equal(t, time.Date(2022, 1, 8, 11, 0, 0, 0, time.UTC).Unix(), *out.EndTime)

	e.to.SetValue("2022-01-08 09:00:00")
	_, err = e.result()
	assert.Error(t, err)

	_, done, accepted, _ := e.update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, done)
	assert.False(t, accepted)
	assert.Error(t, e.err)
}

func TestTimeEditorStartsAbsolute(t *testing.T) {
	start, end := int64(1641600000), int64(1641603600)
	e := newTimeEditor(insights.Query{StartTime: &start, EndTime: &end}, timeResolver(), time.UTC)
	assert.Equal(t, spanAbsolute, e.mode)
	assert.Equal(t, "2022-01-08 00:00:00", e.from.Value())

	e.update(tea.KeyMsg{Type: tea.KeyCtrlT})
	out, err := e.result()
	require.NoError(t, err)
	assert.Equal(t, "PT15M", out.RelativeTime)
	assert.Nil(t, out.StartTime)
}
