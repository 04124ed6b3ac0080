// Package archivefs serves a TAR archive as a read-only storage
// backend. The archive is indexed once at mount; file bytes are read
// straight from the archive file afterwards.
package archivefs

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"wildland.io/core/storage"
	"wildland.io/core/storage/registry"
)

func init() {
	registry.MustRegister("archive", func(p storage.Params) (storage.Backend, error) {
		location := p.String("location")
		if location == "" {
			return nil, fmt.Errorf("archive: missing location")
		}
		return New(location), nil
	})
}

type entry struct {
	info storage.FileInfo

	// offset of the file bytes within the archive, for regular files.
	offset int64

	// children of a directory, by name.
	children map[string]*entry
}

// Backend is a read-only TAR archive backend.
type Backend struct {
	location string

	mu   sync.Mutex
	f    *os.File
	root *entry
}

// New returns a backend for the archive at location. The archive is
// opened at Mount.
func New(location string) *Backend {
	return &Backend{location: location}
}

func (b *Backend) Mount(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f != nil {
		return nil
	}
	f, err := os.Open(b.location)
	if err != nil {
		return err
	}
	root, err := index(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("archive %s: %w", b.location, err)
	}
	b.f = f
	b.root = root
	return nil
}

func (b *Backend) Unmount() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	b.root = nil
	return err
}

func (b *Backend) ReadOnly() bool { return true }

// index reads all archive headers and builds the directory tree.
// Missing intermediate directories are synthesized.
func index(f *os.File) (*entry, error) {
	root := &entry{
		info:     storage.FileInfo{IsDir: true},
		children: map[string]*entry{},
	}
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return root, nil
		}
		if err != nil {
			return nil, err
		}
		name := path.Clean("/" + hdr.Name)
		if name == "/" {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			mkdirAll(root, name).info.ModTime = hdr.ModTime
		case tar.TypeReg:
			offset, err := f.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, err
			}
			dir := mkdirAll(root, path.Dir(name))
			dir.children[path.Base(name)] = &entry{
				info: storage.FileInfo{
					Size:    hdr.Size,
					ModTime: hdr.ModTime,
				},
				offset: offset,
			}
		}
	}
}

func mkdirAll(root *entry, p string) *entry {
	n := root
	if p == "/" {
		return n
	}
	for _, part := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		child, ok := n.children[part]
		if !ok || child.children == nil {
			child = &entry{
				info:     storage.FileInfo{IsDir: true},
				children: map[string]*entry{},
			}
			n.children[part] = child
		}
		n = child
	}
	return n
}

func (b *Backend) lookup(p string) (*entry, error) {
	if b.root == nil {
		return nil, fmt.Errorf("archive: not mounted")
	}
	n := b.root
	p = path.Clean("/" + p)
	if p == "/" {
		return n, nil
	}
	for _, part := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if n.children == nil {
			return nil, storage.ErrNotDir
		}
		child, ok := n.children[part]
		if !ok {
			return nil, storage.ErrNotFound
		}
		n = child
	}
	return n, nil
}

func (b *Backend) Getattr(p string) (storage.FileInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.lookup(p)
	if err != nil {
		return storage.FileInfo{}, err
	}
	return n.info, nil
}

func (b *Backend) List(p string) ([]storage.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.lookup(p)
	if err != nil {
		return nil, err
	}
	if n.children == nil {
		return nil, storage.ErrNotDir
	}
	out := make([]storage.Entry, 0, len(n.children))
	for name, child := range n.children {
		out = append(out, storage.Entry{Name: name, IsDir: child.children != nil})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) Open(p string, readOnly bool) (storage.File, error) {
	if !readOnly {
		return nil, storage.ErrReadOnly
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.lookup(p)
	if err != nil {
		return nil, err
	}
	if n.children != nil {
		return nil, storage.ErrIsDir
	}
	return &file{b: b, e: n}, nil
}

func (b *Backend) Create(string) (storage.File, error) { return nil, storage.ErrReadOnly }
func (b *Backend) Unlink(string) error                 { return storage.ErrReadOnly }
func (b *Backend) Mkdir(string) error                  { return storage.ErrReadOnly }
func (b *Backend) Rmdir(string) error                  { return storage.ErrReadOnly }

type file struct {
	b *Backend
	e *entry
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.e.info.Size {
		return 0, io.EOF
	}
	short := false
	if max := f.e.info.Size - off; int64(len(p)) > max {
		p = p[:max]
		short = true
	}
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	if f.b.f == nil {
		return 0, fmt.Errorf("archive: not mounted")
	}
	n, err := f.b.f.ReadAt(p, f.e.offset+off)
	if err == nil && short {
		err = io.EOF
	}
	return n, err
}

func (f *file) WriteAt([]byte, int64) (int, error) { return 0, storage.ErrReadOnly }
func (f *file) Truncate(int64) error               { return storage.ErrReadOnly }
func (f *file) Release() error                     { return nil }
