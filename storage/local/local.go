// Package local is the directory-backed storage backend. A backend
// serves exactly the subtree under its configured location; paths are
// confined to it.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ipfs/go-cid"

	"wildland.io/core/cidutil"
	"wildland.io/core/storage"
	"wildland.io/core/storage/registry"
)

func init() {
	registry.MustRegister("local", func(p storage.Params) (storage.Backend, error) {
		location := p.String("location")
		if location == "" {
			return nil, fmt.Errorf("local: missing location")
		}
		return New(location, p.Bool("read-only"))
	})
}

// Backend serves files from a local directory.
type Backend struct {
	root     string
	readOnly bool
}

// New returns a backend rooted at root. The directory must exist.
func New(root string, readOnly bool) (*Backend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Backend{root: abs, readOnly: readOnly}, nil
}

func (b *Backend) Mount(ctx context.Context) error {
	info, err := os.Stat(b.root)
	if err != nil {
		return mapError(err)
	}
	if !info.IsDir() {
		return storage.ErrNotDir
	}
	return nil
}

func (b *Backend) Unmount() error { return nil }
func (b *Backend) ReadOnly() bool { return b.readOnly }

// resolve maps a backend path to a filesystem path. Cleaning the path
// as absolute first keeps ".." components from escaping the root.
func (b *Backend) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	return filepath.Join(b.root, filepath.FromSlash(clean)), nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return storage.ErrNotFound
	case errors.Is(err, fs.ErrExist):
		return storage.ErrExists
	case errors.Is(err, fs.ErrPermission):
		return storage.ErrReadOnly
	default:
		return err
	}
}

func (b *Backend) Getattr(p string) (storage.FileInfo, error) {
	full, err := b.resolve(p)
	if err != nil {
		return storage.FileInfo{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return storage.FileInfo{}, mapError(err)
	}
	return storage.FileInfo{
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

func (b *Backend) List(p string) ([]storage.Entry, error) {
	full, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		var perr *os.PathError
		if errors.As(err, &perr) && perr.Err.Error() == "not a directory" {
			return nil, storage.ErrNotDir
		}
		return nil, err
	}
	out := make([]storage.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, storage.Entry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

func (b *Backend) Open(p string, readOnly bool) (storage.File, error) {
	if !readOnly && b.readOnly {
		return nil, storage.ErrReadOnly
	}
	full, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, mapError(err)
	}
	if info.IsDir() {
		return nil, storage.ErrIsDir
	}
	flag := os.O_RDONLY
	if !readOnly {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(full, flag, 0)
	if err != nil {
		return nil, mapError(err)
	}
	return &file{f: f, readOnly: readOnly}, nil
}

func (b *Backend) Create(p string) (storage.File, error) {
	if b.readOnly {
		return nil, storage.ErrReadOnly
	}
	full, err := b.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, mapError(err)
	}
	return &file{f: f}, nil
}

func (b *Backend) Unlink(p string) error {
	if b.readOnly {
		return storage.ErrReadOnly
	}
	full, err := b.resolve(p)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		return mapError(err)
	}
	if info.IsDir() {
		return storage.ErrIsDir
	}
	return mapError(os.Remove(full))
}

func (b *Backend) Mkdir(p string) error {
	if b.readOnly {
		return storage.ErrReadOnly
	}
	full, err := b.resolve(p)
	if err != nil {
		return err
	}
	return mapError(os.Mkdir(full, 0o755))
}

func (b *Backend) Rmdir(p string) error {
	if b.readOnly {
		return storage.ErrReadOnly
	}
	full, err := b.resolve(p)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		return mapError(err)
	}
	if !info.IsDir() {
		return storage.ErrNotDir
	}
	if err := os.Remove(full); err != nil {
		var perr *os.PathError
		if errors.As(err, &perr) && strings.Contains(perr.Err.Error(), "not empty") {
			return storage.ErrNotEmpty
		}
		return mapError(err)
	}
	return nil
}

// Rename moves a file within the backend.
func (b *Backend) Rename(oldPath, newPath string) error {
	if b.readOnly {
		return storage.ErrReadOnly
	}
	from, err := b.resolve(oldPath)
	if err != nil {
		return err
	}
	to, err := b.resolve(newPath)
	if err != nil {
		return err
	}
	return mapError(os.Rename(from, to))
}

// ContentHash returns the CIDv1 (raw, sha2-256) of the file contents.
func (b *Backend) ContentHash(p string) (cid.Cid, error) {
	full, err := b.resolve(p)
	if err != nil {
		return cid.Undef, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return cid.Undef, mapError(err)
	}
	return cidutil.ContentCID(data)
}

// ChangeToken derives a token from the file's size and mtime. It is
// cheaper than ContentHash and changes whenever the file plausibly did.
func (b *Backend) ChangeToken(p string) (string, error) {
	full, err := b.resolve(p)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", mapError(err)
	}
	return cidutil.ChangeToken(info.Size(), info.ModTime()), nil
}

type file struct {
	f        *os.File
	readOnly bool
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	if f.readOnly {
		return 0, storage.ErrReadOnly
	}
	return f.f.WriteAt(p, off)
}

func (f *file) Truncate(size int64) error {
	if f.readOnly {
		return storage.ErrReadOnly
	}
	return f.f.Truncate(size)
}

func (f *file) Release() error { return f.f.Close() }
