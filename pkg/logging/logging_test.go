package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &textWriter{out: &buf}

	event := `{"level":"info","time":"1641698036962","caller":"pkg/session/handlers.go:87","message":"query started","query_id":"Q1","records":3,"sql":"SELECT 1\nFROM t"}` + "\n"
	n, err := w.Write([]byte(event))
	require.NoError(t, err)
	assert.Equal(t, len(event), n)
	assert.Equal(t,
		"1641698036962 INFO  pkg/session/handlers.go:87 > query started query_id=Q1 records=3\n"+
			"  sql:\n    SELECT 1\n    FROM t\n",
		buf.String())
}

func TestTextWriterPassesNonJSON(t *testing.T) {
	var buf bytes.Buffer
	w := &textWriter{out: &buf}
	_, err := w.Write([]byte("plain text\n"))
	require.NoError(t, err)
	assert.Equal(t, "plain text\n", buf.String())
}

func TestInitLogFile(t *testing.T) {
	saved := log.Logger
	savedLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = saved
		zerolog.SetGlobalLevel(savedLevel)
	})

	path := filepath.Join(t.TempDir(), "nested", "logs-insights.log")
	require.NoError(t, InitLogFile(path, "debug", "test"))
	log.Debug().Str("document", "untitled:1").Msg("session attached")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session attached document=untitled:1 version=test")

	assert.Error(t, InitLogFile(path, "loud", "test"))
}

func TestCallerMarshaler(t *testing.T) {
	assert.Equal(t, "pkg/session/session.go:42", callerMarshaler(0, "/go/src/github.com/Slach/logs-insights/pkg/session/session.go", 42))
	assert.Equal(t, "/tmp/x.go:1", callerMarshaler(0, "/tmp/x.go", 1))
}
