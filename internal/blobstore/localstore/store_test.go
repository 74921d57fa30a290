package localstore

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/dmitrijs2005/geocrypt/internal/blobstore"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore() (*Store, afero.Fs) {
	fs := afero.NewBasePathFs(afero.NewMemMapFs(), "/blobs")
	return New(fs), fs
}

func TestStore_PutGetDelete(t *testing.T) {
	s, fs := newMemStore()
	ctx := context.Background()
	key := "alice/ezjmgtws/doc.txt"

	require.NoError(t, s.Put(ctx, key, []byte("sealed")))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed"), got)

	require.NoError(t, s.Put(ctx, key, []byte("overwritten")))
	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("overwritten"), got)

	entries, err := afero.ReadDir(fs, filepath.Join("alice", "ezjmgtws"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_GetMissing(t *testing.T) {
	s, _ := newMemStore()

	_, err := s.Get(context.Background(), "bob/u4pruydq/none.bin")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_DeleteMissingIsOK(t *testing.T) {
	s, _ := newMemStore()

	assert.NoError(t, s.Delete(context.Background(), "bob/u4pruydq/none.bin"))
}

func TestStore_RejectsUnsafeKeys(t *testing.T) {
	s, _ := newMemStore()
	ctx := context.Background()

	for _, key := range []string{
		"",
		"/etc/passwd",
		"../escape",
		"alice/../bob/doc",
		"alice//doc",
		"alice/./doc",
		"alice/doc/",
		`alice\doc`,
		"alice/.upload-123",
		"nul\x00byte",
	} {
		t.Run(key, func(t *testing.T) {
			assert.ErrorIs(t, s.Put(ctx, key, []byte("x")), blobstore.ErrInvalidKey)
			_, err := s.Get(ctx, key)
			assert.ErrorIs(t, err, blobstore.ErrInvalidKey)
			assert.ErrorIs(t, s.Delete(ctx, key), blobstore.ErrInvalidKey)
		})
	}
}

func TestStore_CanceledContext(t *testing.T) {
	s, _ := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Put(ctx, "a/b", []byte("x")), context.Canceled)
}

func TestNewOS_FilesStayUnderRoot(t *testing.T) {
	root := t.TempDir()
	s, err := NewOS(root)
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "alice/ezjmgtws/doc.txt", []byte("sealed")))

	fi, err := os.Stat(filepath.Join(root, "alice", "ezjmgtws", "doc.txt"))
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	}
}
