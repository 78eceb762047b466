package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverDocuments(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"b/doc10.pdf", "b/doc2.pdf", "a.png", "notes.txt", ".secret/x.pdf", ".y.jpg"} {
		writeFile(t, filepath.Join(root, p), "x")
	}

	found, stats, err := DiscoverDocuments(root, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.png"),
		filepath.Join(root, "b/doc2.pdf"),
		filepath.Join(root, "b/doc10.pdf"),
	}, found)
	assert.Equal(t, uint32(3), stats.Matched)

	_, _, err = DiscoverDocuments("  ", true)
	assert.Error(t, err)
}

func TestWatcherEmitsDebounced(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "existing.pdf"), "x")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 50 * time.Millisecond})
	require.NoError(t, err)

	next := func() string {
		select {
		case p := <-events:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("no watcher event")
			return ""
		}
	}
	assert.Equal(t, filepath.Join(root, "existing.pdf"), next())

	target := filepath.Join(root, "new.png")
	f, err := os.Create(target)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = f.WriteString("chunk")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
	writeFile(t, filepath.Join(root, "ignored.txt"), "x")

	assert.Equal(t, target, next())
	select {
	case p := <-events:
		t.Fatalf("unexpected second event %s", p)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok, "events channel should close after cancel")
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestWatcherRequiresRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{})
	assert.Error(t, err)
}
