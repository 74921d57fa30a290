// Package localstore is the fallback blob tier: envelopes kept as files
// under a single directory on local persistent storage.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/geocrypt/internal/blobstore"
	"github.com/dmitrijs2005/geocrypt/internal/filex"
	"github.com/spf13/afero"
)

const (
	dirPerm  os.FileMode = 0o770
	tempName             = ".upload-*"
)

// Store maps keys to files relative to the root of fs.
type Store struct {
	fs afero.Fs
}

// New returns a Store over fs. Keys resolve relative to its root.
func New(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewOS returns a Store rooted at dir on the OS filesystem, creating dir
// when missing.
func NewOS(dir string) (*Store, error) {
	osFs := afero.NewOsFs()
	root, err := filex.EnsureDir(osFs, dir)
	if err != nil {
		return nil, fmt.Errorf("local storage dir: %w", err)
	}
	return New(afero.NewBasePathFs(osFs, root)), nil
}

// Put writes blob to a temp file next to the target and renames it into
// place, so readers never observe a partial blob.
func (s *Store) Put(ctx context.Context, key string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := keyPath(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err := s.fs.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	f, err := afero.TempFile(s.fs, dir, tempName)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(blob); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("sync %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("close %s: %w", key, err)
	}

	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// Get reads the file for key. A missing file yields blobstore.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := keyPath(key)
	if err != nil {
		return nil, err
	}

	b, err := afero.ReadFile(s.fs, p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return b, nil
}

// Delete removes the file for key; a missing file counts as deleted. Empty
// parent directories are left in place.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := keyPath(key)
	if err != nil {
		return err
	}

	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// keyPath turns a slash separated key into a relative file path. Absolute
// keys, empty segments and dot segments are rejected, so two distinct keys
// never share a path and no key escapes the root.
func keyPath(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.ContainsAny(key, "\\\x00") {
		return "", fmt.Errorf("%w: %q", blobstore.ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q", blobstore.ErrInvalidKey, key)
		}
		if strings.HasPrefix(seg, ".upload-") {
			return "", fmt.Errorf("%w: reserved segment in %q", blobstore.ErrInvalidKey, key)
		}
	}
	return filepath.FromSlash(path.Clean(key)), nil
}
