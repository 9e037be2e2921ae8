package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"dyncmd/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type counter struct {
	n   atomic.Int32
	err error
}

func (c *counter) Reload() error {
	c.n.Add(1)
	return c.err
}

func newWatcher(t *testing.T, dir string, target Reloader) *Watcher {
	t.Helper()
	w, err := New(dir, target, Options{
		Debounce: 30 * time.Millisecond,
		Tick:     10 * time.Millisecond,
		Logger:   logging.NewNop(logging.CategoryWatch),
	})
	require.NoError(t, err)
	return w
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/x/commands.json", true},
		{"/x/roll.cmd.go", true},
		{"/x/commands.json.tmp", false},
		{"/x/roll.cmd.go.tmp", false},
		{"/x/notes.txt", false},
		{"/x/main.go", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Relevant(tt.path), tt.path)
	}
}

func TestReloadAfterBurst(t *testing.T) {
	dir := t.TempDir()
	c := &counter{}
	w := newWatcher(t, dir, c)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()
	assert.True(t, w.IsWatching())

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "commands.json"), []byte("{}"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roll.cmd.go"), []byte("package main"), 0644))

	require.Eventually(t, func() bool { return c.n.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	s := w.Stats()
	assert.GreaterOrEqual(t, s.Events, 2)
	assert.Equal(t, int(c.n.Load()), s.Reloads)
	assert.Less(t, s.Reloads, s.Events, "bursts are coalesced")
	assert.Equal(t, filepath.Join(dir, "roll.cmd.go"), s.LastEventPath)
}

func TestIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	c := &counter{}
	w := newWatcher(t, dir, c)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "commands.json.tmp"), []byte("{}"), 0644))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), c.n.Load())
	assert.Equal(t, 0, w.Stats().Events)
}

func TestReloadErrorCounted(t *testing.T) {
	dir := t.TempDir()
	c := &counter{err: errors.New("bad manifest")}
	w := newWatcher(t, dir, c)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "commands.json"), []byte("{"), 0644))
	require.Eventually(t, func() bool { return w.Stats().Errors >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	w := newWatcher(t, dir, &counter{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, w.IsWatching, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, w.IsWatching())
	w.Stop()
}

func TestStartMissingDir(t *testing.T) {
	w := newWatcher(t, filepath.Join(t.TempDir(), "missing"), &counter{})
	err := w.Run(context.Background())
	require.Error(t, err)
}
