package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slach/logs-insights/pkg/backend"
	"github.com/Slach/logs-insights/pkg/backend/backendtest"
	"github.com/Slach/logs-insights/pkg/config"
	"github.com/Slach/logs-insights/pkg/document"
	"github.com/Slach/logs-insights/pkg/insights"
	"github.com/Slach/logs-insights/pkg/models"
	"github.com/Slach/logs-insights/pkg/types"
)

const testConfig = `
default_context: local
contexts:
  - name: local
    backend: clickhouse
    host: localhost
    port: 9000
    database: logs
  - name: prod
    backend: cloudwatch
    profile: prod
    region: eu-west-1
`

// execute runs the command tree with args, logging into dir.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	configPath := filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))
	}
	cmd := NewRootCommand(&types.CLI{}, "test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log", filepath.Join(dir, "test.log"), "--config", configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func readQuery(t *testing.T, path string) insights.Query {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	q, err := insights.Parse(string(data))
	require.NoError(t, err)
	return q
}

func TestNewCommandRelative(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "errors.insights")

	out, err := execute(t, dir, "new", path, "-g", "app", "-g", "worker", "--relative", "PT30M", "-q", "filter @message like /ERROR/")
	require.NoError(t, err)
	assert.Contains(t, out, "errors.insights")

	q := readQuery(t, path)
	assert.Equal(t, []string{"app", "worker"}, q.LogGroupNames)
	assert.Equal(t, "PT30M", q.RelativeTime)
	assert.Nil(t, q.StartTime)
	assert.Equal(t, "filter @message like /ERROR/", q.QueryString)
}

func TestNewCommandAbsolute(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "window.insights")

	_, err := execute(t, dir, "new", path, "--from", "2022-01-09T03:00:00Z", "--to", "2022-01-09T03:30:00Z")
	require.NoError(t, err)

	q := readQuery(t, path)
	require.NotNil(t, q.StartTime)
	require.NotNil(t, q.EndTime)
	assert.Equal(t, int64(1641697200), *q.StartTime)
	assert.Equal(t, int64(1641699000), *q.EndTime)
	assert.Empty(t, q.RelativeTime)
	assert.Equal(t, insights.DefaultQueryString, q.QueryString)
}

func TestNewCommandRejects(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.insights")

	_, err := execute(t, dir, "new", path, "--relative", "PT0X")
	assert.Error(t, err, "invalid relative token")

	_, err = execute(t, dir, "new", path, "--from", "2022-01-09T04:00:00Z", "--to", "2022-01-09T03:00:00Z")
	assert.Error(t, err, "from after to")

	_, err = execute(t, dir, "new", path, "--relative", "PT5M", "--from", "2022-01-09T03:00:00Z", "--to", "2022-01-09T04:00:00Z")
	assert.Error(t, err, "relative and absolute together")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestNewCommandForce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q.insights")
	require.NoError(t, os.WriteFile(path, []byte(`{"queryString":"old"}`), 0644))

	_, err := execute(t, dir, "new", path, "-q", "new")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrExist))
	assert.Equal(t, "old", readQuery(t, path).QueryString)

	_, err = execute(t, dir, "new", path, "-q", "new", "--force")
	require.NoError(t, err)
	assert.Equal(t, "new", readQuery(t, path).QueryString)
}

func TestShowCommandMigratesLegacyGroup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.insights")
	require.NoError(t, os.WriteFile(path, []byte(`{
  // hand written
  "logGroupName": "app",
  "relativeTime": "PT15M",
}`), 0644))

	out, err := execute(t, dir, "show", path)
	require.NoError(t, err)
	q, err := insights.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, q.LogGroupNames)
	assert.Empty(t, q.LogGroupName)
	assert.NotContains(t, out, "\x1b[", "not a terminal, no highlighting")
}

func TestShowCommandInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.insights")
	require.NoError(t, os.WriteFile(path, []byte(`{"queryString": `), 0644))

	_, err := execute(t, dir, "show", path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, insights.ErrInvalidDocument))
}

func TestProfilesCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "profiles")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "* local")
	assert.Contains(t, lines[0], "clickhouse localhost:9000/logs")
	assert.Contains(t, lines[1], "  prod")
	assert.Contains(t, lines[1], "cloudwatch prod/eu-west-1")

	out, err = execute(t, dir, "--connect", "prod", "contexts")
	require.NoError(t, err)
	assert.Contains(t, out, "* prod")
}

func TestOpenOrCreateSeedsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.insights")

	doc, err := openOrCreate(path)
	require.NoError(t, err)
	text, err := doc.Text()
	require.NoError(t, err)
	q, err := insights.Parse(text)
	require.NoError(t, err)
	assert.Equal(t, insights.Default(nil), q)

	_, err = openOrCreate(path)
	assert.NoError(t, err, "existing file is opened")
}

func newTestState(fake *backendtest.Fake) *models.AppState {
	cfg := &config.Config{PollInterval: 5 * time.Millisecond}
	state := models.NewAppState(cfg, &types.CLI{}, "test")
	state.Backend = backend.NewHolder(backend.StaticProfile("test"), func(context.Context, string) (backend.Client, error) {
		return fake, nil
	})
	return state
}

func TestRunQueryWaitsForTerminalStatus(t *testing.T) {
	fake := backendtest.NewFake("q-1",
		backend.ResultPage{Status: backend.StatusRunning},
		backend.ResultPage{
			Status:     backend.StatusComplete,
			Statistics: &backend.Statistics{RecordsMatched: 1, RecordsScanned: 10, BytesScanned: 2048},
			Results: []backend.Record{{ID: "ptr-1", Fields: []backend.Field{
				{Field: "@timestamp", Value: "2022-01-09 03:13:56.962"},
				{Field: "@message", Value: "boom"},
				{Field: "@ptr", Value: "ptr-1"},
			}}},
		},
	)
	state := newTestState(fake)
	t.Cleanup(func() { _ = state.Close() })
	doc := document.NewMemory("untitled:run", `{"logGroupNames":["app"],"relativeTime":"PT15M","queryString":"fields @message"}`)

	page, err := runQuery(context.Background(), state, doc, time.Second)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusComplete, page.Status)
	require.Len(t, page.Results, 1)
	assert.Equal(t, 0, state.Sessions.Len(), "session closed after the run")

	var out, errOut bytes.Buffer
	require.NoError(t, printPage(&out, &errOut, page, OutputJSON))
	var decoded backend.ResultPage
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, page, decoded)

	out.Reset()
	require.NoError(t, printPage(&out, &errOut, page, OutputTable))
	assert.Contains(t, out.String(), "@message")
	assert.Contains(t, out.String(), "boom")
	assert.NotContains(t, out.String(), "@ptr")
	assert.Contains(t, errOut.String(), "Complete")
}

func TestRunQueryTimeoutStops(t *testing.T) {
	fake := backendtest.NewFake("q-2", backend.ResultPage{Status: backend.StatusRunning})
	state := newTestState(fake)
	t.Cleanup(func() { _ = state.Close() })
	doc := document.NewMemory("untitled:slow", `{"logGroupNames":["app"],"relativeTime":"PT15M"}`)

	_, err := runQuery(context.Background(), state, doc, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errRunTimeout))
	assert.GreaterOrEqual(t, fake.StopCount(), 1)
}

func TestRunQueryStartFailure(t *testing.T) {
	fake := backendtest.NewFake("q-3")
	fake.StartErr = errors.Wrap(backend.ErrInvalidQuery, "unexpected token")
	state := newTestState(fake)
	t.Cleanup(func() { _ = state.Close() })
	doc := document.NewMemory("untitled:bad", `{"logGroupNames":["app"],"relativeTime":"PT15M","queryString":"fields |"}`)

	_, err := runQuery(context.Background(), state, doc, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrInvalidQuery))
}

func TestPrintPageUnknownFormat(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, printPage(&out, &out, backend.ResultPage{}, "xml"))
}
