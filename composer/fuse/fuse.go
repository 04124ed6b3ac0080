// Package fuse exposes a composed mount table as a FUSE filesystem.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	gopath "path"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"wildland.io/core/composer"
	"wildland.io/core/storage"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	Mountpoint string

	// Table is the mount table to expose.
	Table *composer.Table

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Mount mounts the composed tree at the configured mountpoint. The
// caller must call Unmount on the returned server when done. The
// mountpoint directory is created if it does not exist.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Table == nil {
		return nil, fmt.Errorf("mount table is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &pathNode{table: options.Table, logger: options.Logger, path: "/"}

	// Short timeouts: the namespace changes whenever a mount is added
	// or removed, and merged directories can appear without any
	// operation through this mount.
	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "wildland",
			Name:       "wildland",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("filesystem mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// errno maps composed-tree errors onto FUSE error numbers.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, storage.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, storage.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, storage.ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, storage.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, storage.ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, storage.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, storage.ErrNotSupported):
		return syscall.ENOSYS
	case errors.Is(err, composer.ErrAmbiguousMutation):
		return syscall.EPERM
	default:
		return syscall.EIO
	}
}

// pathNode serves one composed path. Every filesystem operation goes
// back through the mount table, so nodes never cache entry state.
type pathNode struct {
	gofuse.Inode
	table  *composer.Table
	logger *slog.Logger
	path   string
}

var _ gofuse.InodeEmbedder = (*pathNode)(nil)
var _ gofuse.NodeLookuper = (*pathNode)(nil)
var _ gofuse.NodeReaddirer = (*pathNode)(nil)
var _ gofuse.NodeGetattrer = (*pathNode)(nil)
var _ gofuse.NodeOpener = (*pathNode)(nil)
var _ gofuse.NodeCreater = (*pathNode)(nil)
var _ gofuse.NodeUnlinker = (*pathNode)(nil)
var _ gofuse.NodeMkdirer = (*pathNode)(nil)
var _ gofuse.NodeRmdirer = (*pathNode)(nil)
var _ gofuse.NodeRenamer = (*pathNode)(nil)
var _ gofuse.NodeSetattrer = (*pathNode)(nil)

func (n *pathNode) child(name string) string {
	return gopath.Join(n.path, name)
}

func fillAttr(info storage.FileInfo, out *fuse.Attr) {
	if info.IsDir {
		out.Mode = syscall.S_IFDIR | 0o755
	} else {
		out.Mode = syscall.S_IFREG | 0o644
	}
	out.Size = uint64(info.Size)
	if !info.ModTime.IsZero() {
		out.SetTimes(nil, &info.ModTime, nil)
	}
}

func (n *pathNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	childPath := n.child(name)
	info, err := n.table.Getattr(childPath)
	if err != nil {
		return nil, errno(err)
	}
	mode := uint32(syscall.S_IFREG)
	if info.IsDir {
		mode = syscall.S_IFDIR
	}
	node := &pathNode{table: n.table, logger: n.logger, path: childPath}
	child := n.NewInode(ctx, node, gofuse.StableAttr{Mode: mode})
	fillAttr(info, &out.Attr)
	return child, 0
}

func (n *pathNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := n.table.Getattr(n.path)
	if err != nil {
		return errno(err)
	}
	fillAttr(info, &out.Attr)
	return 0
}

func (n *pathNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	listing, err := n.table.List(n.path)
	if err != nil {
		return nil, errno(err)
	}
	entries := make([]fuse.DirEntry, 0, len(listing))
	for _, e := range listing {
		mode := uint32(syscall.S_IFREG)
		if e.IsDir {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return &sliceDirStream{entries: entries}, 0
}

func (n *pathNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	readOnly := flags&(syscall.O_WRONLY|syscall.O_RDWR) == 0
	f, err := n.table.Open(n.path, readOnly)
	if err != nil {
		return nil, 0, errno(err)
	}
	if flags&syscall.O_TRUNC != 0 {
		if err := f.Truncate(0); err != nil {
			f.Release()
			return nil, 0, errno(err)
		}
	}
	return &fileHandle{f: f}, 0, 0
}

func (n *pathNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	childPath := n.child(name)
	f, err := n.table.Create(childPath)
	if err != nil {
		return nil, nil, 0, errno(err)
	}
	node := &pathNode{table: n.table, logger: n.logger, path: childPath}
	child := n.NewInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG})
	out.Mode = syscall.S_IFREG | 0o644
	return child, &fileHandle{f: f}, 0, 0
}

func (n *pathNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return errno(n.table.Unlink(n.child(name)))
}

func (n *pathNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	childPath := n.child(name)
	if err := n.table.Mkdir(childPath); err != nil {
		return nil, errno(err)
	}
	node := &pathNode{table: n.table, logger: n.logger, path: childPath}
	child := n.NewInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFDIR})
	out.Mode = syscall.S_IFDIR | 0o755
	return child, 0
}

func (n *pathNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errno(n.table.Rmdir(n.child(name)))
}

func (n *pathNode) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	target, ok := newParent.(*pathNode)
	if !ok {
		return syscall.EXDEV
	}
	return errno(n.table.Rename(n.child(name), target.child(newName)))
}

func (n *pathNode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if h, okh := f.(*fileHandle); okh {
			if err := h.f.Truncate(int64(size)); err != nil {
				return errno(err)
			}
		} else {
			w, err := n.table.Open(n.path, false)
			if err != nil {
				return errno(err)
			}
			terr := w.Truncate(int64(size))
			w.Release()
			if terr != nil {
				return errno(terr)
			}
		}
	}
	return n.Getattr(ctx, f, out)
}

// fileHandle adapts an open storage file to the FUSE handle
// interfaces.
type fileHandle struct {
	f storage.File
}

var _ gofuse.FileReader = (*fileHandle)(nil)
var _ gofuse.FileWriter = (*fileHandle)(nil)
var _ gofuse.FileReleaser = (*fileHandle)(nil)

func (h *fileHandle) Read(_ context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.f.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Write(_ context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.f.WriteAt(data, off)
	if err != nil {
		return uint32(n), errno(err)
	}
	return uint32(n), 0
}

func (h *fileHandle) Release(_ context.Context) syscall.Errno {
	return errno(h.f.Release())
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
