// Package staticfs is an in-memory storage backend. It serves inline
// content from storage manifests and doubles as the fixture backend in
// tests.
package staticfs

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"wildland.io/core/storage"
	"wildland.io/core/storage/registry"
)

func init() {
	registry.MustRegister("static", func(p storage.Params) (storage.Backend, error) {
		content, err := p.Map("content")
		if err != nil {
			return nil, err
		}
		b := New()
		b.readOnly = p.Bool("read-only")
		if err := b.seed(content); err != nil {
			return nil, err
		}
		return b, nil
	})
}

type node struct {
	dir     map[string]*node
	data    []byte
	modTime time.Time
}

func (n *node) isDir() bool { return n.dir != nil }

// Backend is an in-memory tree of files and directories.
type Backend struct {
	mu       sync.RWMutex
	root     *node
	readOnly bool
}

// New returns an empty writable in-memory backend.
func New() *Backend {
	return &Backend{root: &node{dir: map[string]*node{}, modTime: time.Now()}}
}

// NewReadOnly returns an empty backend that rejects mutation.
func NewReadOnly() *Backend {
	b := New()
	b.readOnly = true
	return b
}

// seed populates the tree from a nested content mapping: mapping values
// are directories, strings and byte slices are file contents.
func (b *Backend) seed(content storage.Params) error {
	return seedDir(b.root, content)
}

func seedDir(n *node, content storage.Params) error {
	for name, v := range content {
		switch val := v.(type) {
		case string:
			n.dir[name] = &node{data: []byte(val), modTime: time.Now()}
		case []byte:
			n.dir[name] = &node{data: val, modTime: time.Now()}
		default:
			sub, err := storage.Params{"d": v}.Map("d")
			if err != nil {
				return fmt.Errorf("static: content entry %q: %w", name, err)
			}
			child := &node{dir: map[string]*node{}, modTime: time.Now()}
			if err := seedDir(child, sub); err != nil {
				return err
			}
			n.dir[name] = child
		}
	}
	return nil
}

// AddFile inserts a file, creating parent directories. Intended for
// fixture construction; ignores the read-only flag.
func (b *Backend) AddFile(p string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	parts := split(p)
	n := b.root
	for _, part := range parts[:len(parts)-1] {
		child, ok := n.dir[part]
		if !ok || !child.isDir() {
			child = &node{dir: map[string]*node{}, modTime: time.Now()}
			n.dir[part] = child
		}
		n = child
	}
	n.dir[parts[len(parts)-1]] = &node{data: data, modTime: time.Now()}
}

func split(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// lookup walks to a node; the caller holds the lock.
func (b *Backend) lookup(p string) (*node, error) {
	n := b.root
	for _, part := range split(p) {
		if !n.isDir() {
			return nil, storage.ErrNotDir
		}
		child, ok := n.dir[part]
		if !ok {
			return nil, storage.ErrNotFound
		}
		n = child
	}
	return n, nil
}

// lookupParent walks to the parent directory of p.
func (b *Backend) lookupParent(p string) (*node, string, error) {
	parts := split(p)
	if len(parts) == 0 {
		return nil, "", storage.ErrExists
	}
	n := b.root
	for _, part := range parts[:len(parts)-1] {
		child, ok := n.dir[part]
		if !ok {
			return nil, "", storage.ErrNotFound
		}
		if !child.isDir() {
			return nil, "", storage.ErrNotDir
		}
		n = child
	}
	return n, parts[len(parts)-1], nil
}

func (b *Backend) Mount(ctx context.Context) error { return nil }
func (b *Backend) Unmount() error                  { return nil }
func (b *Backend) ReadOnly() bool                  { return b.readOnly }

func (b *Backend) Getattr(p string) (storage.FileInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, err := b.lookup(p)
	if err != nil {
		return storage.FileInfo{}, err
	}
	return storage.FileInfo{
		Size:    int64(len(n.data)),
		ModTime: n.modTime,
		IsDir:   n.isDir(),
	}, nil
}

func (b *Backend) List(p string) ([]storage.Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, err := b.lookup(p)
	if err != nil {
		return nil, err
	}
	if !n.isDir() {
		return nil, storage.ErrNotDir
	}
	out := make([]storage.Entry, 0, len(n.dir))
	for name, child := range n.dir {
		out = append(out, storage.Entry{Name: name, IsDir: child.isDir()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) Open(p string, readOnly bool) (storage.File, error) {
	if !readOnly && b.readOnly {
		return nil, storage.ErrReadOnly
	}
	b.mu.RLock()
	n, err := b.lookup(p)
	b.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if n.isDir() {
		return nil, storage.ErrIsDir
	}
	return &file{b: b, n: n, readOnly: readOnly}, nil
}

func (b *Backend) Create(p string) (storage.File, error) {
	if b.readOnly {
		return nil, storage.ErrReadOnly
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	parent, name, err := b.lookupParent(p)
	if err != nil {
		return nil, err
	}
	if existing, ok := parent.dir[name]; ok {
		if existing.isDir() {
			return nil, storage.ErrIsDir
		}
		existing.data = nil
		existing.modTime = time.Now()
		return &file{b: b, n: existing}, nil
	}
	n := &node{modTime: time.Now()}
	parent.dir[name] = n
	return &file{b: b, n: n}, nil
}

func (b *Backend) Unlink(p string) error {
	if b.readOnly {
		return storage.ErrReadOnly
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	parent, name, err := b.lookupParent(p)
	if err != nil {
		return err
	}
	n, ok := parent.dir[name]
	if !ok {
		return storage.ErrNotFound
	}
	if n.isDir() {
		return storage.ErrIsDir
	}
	delete(parent.dir, name)
	return nil
}

func (b *Backend) Mkdir(p string) error {
	if b.readOnly {
		return storage.ErrReadOnly
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	parent, name, err := b.lookupParent(p)
	if err != nil {
		return err
	}
	if _, ok := parent.dir[name]; ok {
		return storage.ErrExists
	}
	parent.dir[name] = &node{dir: map[string]*node{}, modTime: time.Now()}
	return nil
}

func (b *Backend) Rmdir(p string) error {
	if b.readOnly {
		return storage.ErrReadOnly
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	parent, name, err := b.lookupParent(p)
	if err != nil {
		return err
	}
	n, ok := parent.dir[name]
	if !ok {
		return storage.ErrNotFound
	}
	if !n.isDir() {
		return storage.ErrNotDir
	}
	if len(n.dir) > 0 {
		return storage.ErrNotEmpty
	}
	delete(parent.dir, name)
	return nil
}

type file struct {
	b        *Backend
	n        *node
	readOnly bool
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	f.b.mu.RLock()
	defer f.b.mu.RUnlock()
	if off >= int64(len(f.n.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.n.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	if f.readOnly {
		return 0, storage.ErrReadOnly
	}
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	if grow := off + int64(len(p)) - int64(len(f.n.data)); grow > 0 {
		f.n.data = append(f.n.data, make([]byte, grow)...)
	}
	copy(f.n.data[off:], p)
	f.n.modTime = time.Now()
	return len(p), nil
}

func (f *file) Truncate(size int64) error {
	if f.readOnly {
		return storage.ErrReadOnly
	}
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	switch {
	case size <= int64(len(f.n.data)):
		f.n.data = f.n.data[:size]
	default:
		f.n.data = append(f.n.data, make([]byte, size-int64(len(f.n.data)))...)
	}
	f.n.modTime = time.Now()
	return nil
}

func (f *file) Release() error { return nil }
