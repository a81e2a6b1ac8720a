package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryKVStore(t *testing.T) {
	store := NewInMemoryKVStore()

	_, err := store.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put("history:a", []byte("1")))
	require.NoError(t, store.Put("history:b", []byte("2")))
	require.NoError(t, store.Put("other", []byte("3")))

	value, err := store.Get("history:a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(value))

	keys, err := store.Keys("history:")
	require.NoError(t, err)
	assert.Equal(t, []string{"history:a", "history:b"}, keys)

	require.NoError(t, store.Delete("history:a"))
	_, err = store.Get("history:a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileBasedKVStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "kv.json")

	store, err := NewFileBasedKVStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put("k", []byte(`{"v":1}`)))
	require.NoError(t, store.Close())

	reopened, err := NewFileBasedKVStore(path)
	require.NoError(t, err)
	value, err := reopened.Get("k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(value))

	require.NoError(t, reopened.Delete("k"))
	again, err := NewFileBasedKVStore(path)
	require.NoError(t, err)
	_, err = again.Get("k")
	assert.ErrorIs(t, err, ErrNotFound)
}
