package confwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, path, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
}

func TestReloadDeliversNewContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "menu.conf")
	writeConf(t, path, "a ignore #menu: One")

	w, err := New(path, 50*time.Millisecond, nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	got := make(chan string, 4)
	w.AddHandler(func(text string) { got <- text })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	writeConf(t, path, "b ignore #menu: Two")

	select {
	case text := <-got:
		assert.Equal(t, "b ignore #menu: Two", text)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload delivered")
	}
}

func TestBurstCollapsesToOneReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "menu.conf")
	writeConf(t, path, "initial")

	w, err := New(path, 100*time.Millisecond, nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	got := make(chan string, 16)
	w.AddHandler(func(text string) { got <- text })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	for i := 0; i < 5; i++ {
		writeConf(t, path, "final")
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case text := <-got:
		assert.Equal(t, "final", text)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload delivered")
	}

	// The burst settled into a single delivery.
	select {
	case <-got:
		t.Fatal("burst delivered more than once")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestOtherFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "menu.conf")
	writeConf(t, path, "initial")

	w, err := New(path, 50*time.Millisecond, nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	got := make(chan string, 4)
	w.AddHandler(func(text string) { got <- text })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	writeConf(t, filepath.Join(dir, "other.conf"), "noise")

	select {
	case <-got:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestMissingDirectoryRejected(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent", "menu.conf"), 0, nil)
	require.Error(t, err)
}
