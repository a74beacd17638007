package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/ingest"
)

type captureIngestor struct {
	mu   sync.Mutex
	reqs []*ingest.Request
}

func (c *captureIngestor) IngestItem(_ context.Context, req *ingest.Request) (*ingest.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return &ingest.Job{ID: fmt.Sprintf("job-%d", len(c.reqs))}, nil
}

func (c *captureIngestor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

func (c *captureIngestor) requests() []*ingest.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ingest.Request, len(c.reqs))
	copy(out, c.reqs)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func startWatcher(t *testing.T, dir string, debounce time.Duration) (*Watcher, *captureIngestor) {
	t.Helper()
	sink := &captureIngestor{}
	w, err := NewWatcher(WatcherConfig{
		Dirs:     []string{dir},
		Project:  "demo",
		Tags:     []string{"notes"},
		Debounce: debounce,
	}, sink, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w, sink
}

func TestWatcherIngestsNewFiles(t *testing.T) {
	dir := t.TempDir()
	_, sink := startWatcher(t, dir, 30*time.Millisecond)

	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("# hello"), 0o644))

	waitFor(t, 3*time.Second, func() bool { return sink.count() == 1 })

	req := sink.requests()[0]
	assert.Equal(t, "demo", req.Project)
	assert.Equal(t, "note.md", req.Filename)
	assert.Equal(t, []byte("# hello"), req.Data)
	assert.True(t, strings.HasPrefix(req.SourceURI, "file://"), req.SourceURI)
	assert.Equal(t, []string{"watched", "notes"}, req.Tags)
	assert.Equal(t, ingest.PriorityLow, req.Priority)
}

func TestWatcherDebouncesWriteBursts(t *testing.T) {
	dir := t.TempDir()
	_, sink := startWatcher(t, dir, 80*time.Millisecond)

	path := filepath.Join(dir, "draft.txt")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("revision %d", i)), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	waitFor(t, 3*time.Second, func() bool { return sink.count() >= 1 })
	// Give a late duplicate a chance to show up before asserting.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, []byte("revision 4"), sink.requests()[0].Data)
}

func TestWatcherIgnoresHiddenAndTempFiles(t *testing.T) {
	dir := t.TempDir()
	_, sink := startWatcher(t, dir, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "buffer.swp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup~"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.txt"), []byte("keep"), 0o644))

	waitFor(t, 3*time.Second, func() bool { return sink.count() == 1 })
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, sink.count())
	assert.Equal(t, "real.txt", sink.requests()[0].Filename)
}

func TestWatcherSkipsOversizedFiles(t *testing.T) {
	dir := t.TempDir()
	sink := &captureIngestor{}
	w, err := NewWatcher(WatcherConfig{
		Dirs:         []string{dir},
		Project:      "demo",
		Debounce:     20 * time.Millisecond,
		MaxFileBytes: 16,
	}, sink, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), []byte(strings.Repeat("x", 64)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.txt"), []byte("tiny"), 0o644))

	waitFor(t, 3*time.Second, func() bool { return sink.count() == 1 })
	assert.Equal(t, "ok.txt", sink.requests()[0].Filename)
}

func TestWatcherValidatesConfig(t *testing.T) {
	sink := &captureIngestor{}

	_, err := NewWatcher(WatcherConfig{Dirs: []string{t.TempDir()}}, sink, nil)
	require.Error(t, err)

	_, err = NewWatcher(WatcherConfig{Project: "demo"}, sink, nil)
	require.Error(t, err)

	_, err = NewWatcher(WatcherConfig{Project: "demo", Dirs: []string{"/does/not/exist"}}, sink, nil)
	require.Error(t, err)

	_, err = NewWatcher(WatcherConfig{Project: "demo", Dirs: []string{t.TempDir()}}, nil, nil)
	require.Error(t, err)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, _ := startWatcher(t, dir, 20*time.Millisecond)
	w.Stop()
	w.Stop()
}
