package filex

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// EnsureDir creates dir on fs when it is missing and returns its absolute
// path. A relative dir is resolved against the working directory.
func EnsureDir(fs afero.Fs, dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getwd: %w", err)
		}
		dir = filepath.Join(cwd, dir)
	}

	if fi, err := fs.Stat(dir); err == nil && !fi.IsDir() {
		return "", fmt.Errorf("mkdir %s: not a directory", dir)
	}

	if err := fs.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return dir, nil
}
