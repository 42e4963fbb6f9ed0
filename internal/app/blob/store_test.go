package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIsStableHexSHA256(t *testing.T) {
	require.Equal(t,
		"2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae",
		Hash([]byte("foo")))
	require.NotEqual(t, Hash([]byte("foo")), Hash([]byte("bar")))
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	url, err := store.Put(ctx, "a.pdf", []byte("pdf-bytes"))
	require.NoError(t, err)
	require.NotEmpty(t, url)

	got, err := store.Get(ctx, url)
	require.NoError(t, err)
	require.Equal(t, []byte("pdf-bytes"), got)

	// Same name, distinct blobs.
	other, err := store.Put(ctx, "a.pdf", []byte("different"))
	require.NoError(t, err)
	require.NotEqual(t, url, other)

	_, err = store.Get(ctx, "mem://missing/a.pdf")
	require.Error(t, err)
}

func TestFileStoreWritesUnderDir(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	url, err := store.Put(ctx, "../escape.pdf", []byte("data"))
	require.NoError(t, err)
	// Path traversal in the name is stripped to its base.
	require.NotContains(t, url, "..")

	got, err := store.Get(ctx, url)
	require.NoError(t, err)
	require.Equal(t, []byte("data"), got)

	_, err = store.Get(ctx, "not-a-blob-url")
	require.Error(t, err)
}
