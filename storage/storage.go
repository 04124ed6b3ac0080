// Package storage defines the backend capability interface that every
// storage driver implements, plus the optional capabilities a driver may
// additionally provide.
//
// Contract:
//   - Paths are slash-separated and relative to the backend root; "" or
//     "/" is the root directory.
//   - Getattr and Open MUST return ErrNotFound for absent paths.
//   - Mutating operations MUST return ErrReadOnly on read-only backends.
//   - Backends MUST be safe for concurrent use after Mount returns.
package storage

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"
)

// FileInfo describes a file or directory.
type FileInfo struct {
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Entry is one directory listing entry.
type Entry struct {
	Name  string
	IsDir bool
}

// File is an open file handle.
type File interface {
	ReadAt(p []byte, off int64) (int, error)
	// WriteAt returns ErrReadOnly on handles opened read-only.
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
	Release() error
}

// Backend is the capability interface of a storage driver.
type Backend interface {
	// Mount prepares the backend for use. Unmount releases it; no other
	// method may be called after Unmount.
	Mount(ctx context.Context) error
	Unmount() error

	ReadOnly() bool

	Getattr(path string) (FileInfo, error)
	List(path string) ([]Entry, error)

	Open(path string, readOnly bool) (File, error)
	Create(path string) (File, error)
	Unlink(path string) error
	Mkdir(path string) error
	Rmdir(path string) error
}

// Subcontainer is a container synthesized by a backend from its own
// contents. Storage holds the inline fields of a backend serving the
// subcontainer's data.
type Subcontainer struct {
	UUID       string
	Paths      []string
	Title      string
	Categories []string
	Storage    Params
}

// SubcontainerLister is implemented by backends that expose parts of
// their tree as containers of their own.
type SubcontainerLister interface {
	ListSubcontainers(ctx context.Context) ([]Subcontainer, error)
}

// Renamer is implemented by backends with a native rename. Callers
// without it fall back to copy and unlink.
type Renamer interface {
	Rename(oldPath, newPath string) error
}

// ContentHasher is implemented by backends that can produce a content
// identifier for a file without the caller reading it.
type ContentHasher interface {
	ContentHash(path string) (cid.Cid, error)
}

// ChangeTokener is implemented by backends that can produce a cheap
// token which changes whenever the file does.
type ChangeTokener interface {
	ChangeToken(path string) (string, error)
}

// ReadFile reads a whole file through the capability interface.
func ReadFile(b Backend, path string) ([]byte, error) {
	info, err := b.Getattr(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir {
		return nil, ErrIsDir
	}
	f, err := b.Open(path, true)
	if err != nil {
		return nil, err
	}
	defer f.Release()
	buf := make([]byte, info.Size)
	n, err := f.ReadAt(buf, 0)
	if err != nil && int64(n) != info.Size {
		return nil, err
	}
	return buf[:n], nil
}

// WriteFile replaces a whole file through the capability interface,
// creating it when absent.
func WriteFile(b Backend, path string, data []byte) error {
	f, err := b.Open(path, false)
	if err != nil {
		f, err = b.Create(path)
		if err != nil {
			return err
		}
	}
	if err := f.Truncate(0); err != nil {
		f.Release()
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		f.Release()
		return err
	}
	return f.Release()
}
