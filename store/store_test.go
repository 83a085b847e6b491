package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type credentials struct {
	Address  string `json:"address"`
	Username string `json:"username"`
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "home.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var got credentials
	found, err := s.Get(ctx, "Philips Hue", "bridge", &got)
	require.NoError(t, err)
	assert.False(t, found)

	want := credentials{Address: "192.168.1.2", Username: "abc"}
	require.NoError(t, s.Set(ctx, "Philips Hue", "bridge", want))

	found, err = s.Get(ctx, "Philips Hue", "bridge", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)

	// Overwrite
	want.Username = "def"
	require.NoError(t, s.Set(ctx, "Philips Hue", "bridge", want))
	_, err = s.Get(ctx, "Philips Hue", "bridge", &got)
	require.NoError(t, err)
	assert.Equal(t, "def", got.Username)
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Bucket("a").Set(ctx, "key", 1))
	require.NoError(t, s.Bucket("b").Set(ctx, "key", 2))

	var v int
	_, err := s.Bucket("a").Get(ctx, "key", &v)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	keys, err := s.keys(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"key"}, keys)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	bucket := s.Bucket("Philips Hue")

	require.NoError(t, bucket.Set(ctx, "bridge", credentials{Address: "x"}))
	require.NoError(t, bucket.Delete(ctx, "bridge"))
	require.NoError(t, bucket.Delete(ctx, "bridge"))

	var got credentials
	found, err := bucket.Get(ctx, "bridge", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReopenKeepsValues(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "home.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "ns", "key", "value"))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	var v string
	found, err := s.Get(ctx, "ns", "key", &v)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", v)
	assert.Equal(t, path, s.Path())
}
