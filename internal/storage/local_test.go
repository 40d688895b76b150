package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "backups/1/b.json", "application/json", []byte("b")))
	require.NoError(t, store.Put(ctx, "backups/1/a.json", "application/json", []byte("a")))
	require.NoError(t, store.Put(ctx, "backups/2/c.json", "application/json", []byte("c")))

	keys, err := store.List(ctx, "backups/1/")
	require.NoError(t, err)
	require.Equal(t, []string{"backups/1/a.json", "backups/1/b.json"}, keys)

	data, err := store.Get(ctx, "backups/1/a.json")
	require.NoError(t, err)
	require.Equal(t, "a", string(data))

	require.NoError(t, store.Delete(ctx, "backups/1/a.json"))
	_, err = store.Get(ctx, "backups/1/a.json")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Delete(ctx, "backups/1/a.json"))
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, store.Put(context.Background(), "../escape.json", "", []byte("x")))
	_, err = store.Get(context.Background(), "  ")
	require.Error(t, err)
}
