// Package delegatefs is a decorator backend: it exposes a subtree of
// another backend, optionally forcing it read-only. Categorization uses
// it to point synthesized containers back into the reference backend.
package delegatefs

import (
	"context"
	"fmt"
	"path"

	"github.com/ipfs/go-cid"

	"wildland.io/core/storage"
	"wildland.io/core/storage/registry"
)

func init() {
	registry.MustRegister("delegate", func(p storage.Params) (storage.Backend, error) {
		inner, err := p.Map("storage")
		if err != nil {
			return nil, err
		}
		if inner == nil {
			return nil, fmt.Errorf("delegate: missing inner storage")
		}
		backend, err := registry.FromParams(inner)
		if err != nil {
			return nil, err
		}
		return New(backend, p.String("subdirectory"), p.Bool("read-only")), nil
	})
}

// Backend delegates to an inner backend under a fixed subdirectory.
type Backend struct {
	inner    storage.Backend
	subdir   string
	readOnly bool
}

// New wraps inner. subdir may be empty for a plain passthrough.
func New(inner storage.Backend, subdir string, readOnly bool) *Backend {
	return &Backend{inner: inner, subdir: path.Clean("/" + subdir), readOnly: readOnly}
}

func (b *Backend) rebase(p string) string {
	return path.Join(b.subdir, path.Clean("/"+p))
}

func (b *Backend) Mount(ctx context.Context) error { return b.inner.Mount(ctx) }
func (b *Backend) Unmount() error                  { return b.inner.Unmount() }

func (b *Backend) ReadOnly() bool {
	return b.readOnly || b.inner.ReadOnly()
}

func (b *Backend) Getattr(p string) (storage.FileInfo, error) {
	return b.inner.Getattr(b.rebase(p))
}

func (b *Backend) List(p string) ([]storage.Entry, error) {
	return b.inner.List(b.rebase(p))
}

func (b *Backend) Open(p string, readOnly bool) (storage.File, error) {
	if !readOnly && b.ReadOnly() {
		return nil, storage.ErrReadOnly
	}
	return b.inner.Open(b.rebase(p), readOnly)
}

func (b *Backend) Create(p string) (storage.File, error) {
	if b.ReadOnly() {
		return nil, storage.ErrReadOnly
	}
	return b.inner.Create(b.rebase(p))
}

func (b *Backend) Unlink(p string) error {
	if b.ReadOnly() {
		return storage.ErrReadOnly
	}
	return b.inner.Unlink(b.rebase(p))
}

func (b *Backend) Mkdir(p string) error {
	if b.ReadOnly() {
		return storage.ErrReadOnly
	}
	return b.inner.Mkdir(b.rebase(p))
}

func (b *Backend) Rmdir(p string) error {
	if b.ReadOnly() {
		return storage.ErrReadOnly
	}
	return b.inner.Rmdir(b.rebase(p))
}

// ContentHash passes through when the inner backend supports it.
func (b *Backend) ContentHash(p string) (cid.Cid, error) {
	h, ok := b.inner.(storage.ContentHasher)
	if !ok {
		return cid.Undef, storage.ErrNotSupported
	}
	return h.ContentHash(b.rebase(p))
}

// ChangeToken passes through when the inner backend supports it.
func (b *Backend) ChangeToken(p string) (string, error) {
	t, ok := b.inner.(storage.ChangeTokener)
	if !ok {
		return "", storage.ErrNotSupported
	}
	return t.ChangeToken(b.rebase(p))
}
