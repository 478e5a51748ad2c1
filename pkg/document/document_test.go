package document

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryReplaceNotifies(t *testing.T) {
	doc := NewMemory("untitled:1", "{}")
	var calls int32
	unsubscribe := doc.Subscribe(func() {
		text, err := doc.Text()
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, text)
		atomic.AddInt32(&calls, 1)
	})

	require.NoError(t, doc.Replace(context.Background(), `{"a":1}`))
	require.NoError(t, doc.Replace(context.Background(), `{"a":1}`))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "identical content is not a change")

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, doc.Subscribers())
	require.NoError(t, doc.Replace(context.Background(), `{}`))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMemoryReplaceCancelled(t *testing.T) {
	doc := NewMemory("untitled:1", "{}")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, doc.Replace(ctx, "x"))
	text, _ := doc.Text()
	assert.Equal(t, "{}", text)
}

func TestFileReplaceIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "errors.insights")
	doc, err := CreateFile(path, "{}\n")
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.ToSlash(path), doc.URI())

	var calls int32
	doc.Subscribe(func() { atomic.AddInt32(&calls, 1) })

	require.NoError(t, doc.Replace(context.Background(), "{\n  \"relativeTime\": \"PT1H\"\n}\n"))
	text, err := doc.Text()
	require.NoError(t, err)
	assert.Contains(t, text, "PT1H")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileCreateRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.insights")
	_, err := CreateFile(path, "{}")
	require.NoError(t, err)
	_, err = CreateFile(path, "{}")
	require.Error(t, err)
}

func TestFilePollDetectsExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.insights")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))
	doc, err := OpenFile(path)
	require.NoError(t, err)

	var calls int32
	doc.Subscribe(func() { atomic.AddInt32(&calls, 1) })

	changed, err := doc.Poll()
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(path, []byte(`{"queryString":"fields @message"}`), 0644))
	changed, err = doc.Poll()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	changed, err = doc.Poll()
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.Remove(path))
	_, err = doc.Poll()
	require.Error(t, err)
}

func TestOpenFileMissing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.insights"))
	require.Error(t, err)
}
