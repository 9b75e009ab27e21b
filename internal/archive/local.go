package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/servicetracker/internal/filex"
)

// Dir archives into a directory tree on the local filesystem.
type Dir struct {
	root string
}

func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) Put(_ context.Context, name string, data []byte) (string, error) {
	dst := filepath.Join(d.root, filepath.FromSlash(name))
	if _, err := filex.EnsureSubdDir(filepath.Dir(dst), ""); err != nil {
		return "", err
	}
	if err := filex.WriteFileAtomic(dst, data, 0o640); err != nil {
		return "", fmt.Errorf("archive %s: %w", name, err)
	}
	return dst, nil
}

// Exists reports whether name was archived under d.
func (d *Dir) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(d.root, filepath.FromSlash(name)))
	return err == nil
}
