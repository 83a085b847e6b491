package log

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesAndRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "home-control.log")

	l, err := NewLogger(path)
	require.NoError(t, err)
	defer l.Close()

	l.Log("first %d", 1)

	// Simulate logrotate moving the file away
	rotated := filepath.Join(dir, "home-control.log.1")
	require.NoError(t, os.Rename(path, rotated))
	require.NoError(t, l.Rotate())

	slog.New(slog.NewTextHandler(l, nil)).Info("second", "n", 2)

	old, err := os.ReadFile(rotated)
	require.NoError(t, err)
	assert.Contains(t, string(old), "first 1")

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(current), "msg=second n=2")
	assert.NotContains(t, string(current), "first 1")
}

func TestLoggerClosed(t *testing.T) {
	l, err := NewLogger(filepath.Join(t.TempDir(), "x.log"))
	require.NoError(t, err)
	l.Close()

	_, err = l.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, l.Rotate())
	l.Log("ignored")
}

func TestSetLoggerClosesPrevious(t *testing.T) {
	first, err := NewLogger(filepath.Join(t.TempDir(), "a.log"))
	require.NoError(t, err)
	SetLogger(first)
	assert.Same(t, first, GetLogger())

	SetLogger(nil)
	assert.Nil(t, GetLogger())
	_, err = first.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
