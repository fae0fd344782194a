package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	d := &Database{}
	require.NoError(t, d.InitDB(path))

	stamp := time.Unix(0, 1700000000123456789)
	require.NoError(t, d.Put(LogsBucket, "b.txt", Entry{Size: 10, StoredAt: stamp}))
	require.NoError(t, d.Put(LogsBucket, "a.txt", Entry{Size: 20, StoredAt: stamp}))
	require.NoError(t, d.Put(ArtifactsBucket, "td1.go", Entry{Size: 30, StoredAt: stamp}))

	names, err := d.Names(LogsBucket)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "b.txt"}, names)

	e, ok, err := d.Get(ArtifactsBucket, "td1.go")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(30), e.Size)
	require.True(t, stamp.Equal(e.StoredAt))

	_, ok, err = d.Get(ArtifactsBucket, "missing.go")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, d.Delete(LogsBucket, "a.txt"))
	err = d.Put("unknown", "x", Entry{})
	require.EqualError(t, err, "unknown bucket not found")
	require.NoError(t, d.Close())

	// reopening keeps the recorded entries
	d = &Database{}
	require.NoError(t, d.InitDB(path))
	defer d.Close()
	names, err = d.Names(LogsBucket)
	require.NoError(t, err)
	require.Equal(t, []string{"b.txt"}, names)
}

func TestDecodeEntry(t *testing.T) {
	e, err := decodeEntry([]byte("42:1700000000000000000"))
	require.NoError(t, err)
	require.Equal(t, int64(42), e.Size)

	_, err = decodeEntry([]byte("42"))
	require.EqualError(t, err, "malformed catalog entry")

	_, err = decodeEntry([]byte("x:1"))
	require.ErrorContains(t, err, "malformed catalog entry size")

	_, err = decodeEntry([]byte("1:y"))
	require.ErrorContains(t, err, "malformed catalog entry time")
}
