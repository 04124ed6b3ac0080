package fuse

import (
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"wildland.io/core/composer"
	"wildland.io/core/storage"
)

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		err  error
		want syscall.Errno
	}{
		{nil, 0},
		{storage.ErrNotFound, syscall.ENOENT},
		{storage.ErrExists, syscall.EEXIST},
		{storage.ErrNotDir, syscall.ENOTDIR},
		{storage.ErrIsDir, syscall.EISDIR},
		{storage.ErrReadOnly, syscall.EROFS},
		{storage.ErrNotEmpty, syscall.ENOTEMPTY},
		{storage.ErrNotSupported, syscall.ENOSYS},
		{composer.ErrAmbiguousMutation, syscall.EPERM},
		{syscall.ECONNRESET, syscall.EIO},
	}
	for _, c := range cases {
		if got := errno(c.err); got != c.want {
			t.Errorf("errno(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestFillAttr(t *testing.T) {
	mod := time.Date(2021, 3, 14, 9, 26, 53, 0, time.UTC)

	var out fuse.Attr
	fillAttr(storage.FileInfo{Size: 42, ModTime: mod}, &out)
	if out.Mode != syscall.S_IFREG|0o644 {
		t.Errorf("file mode = %o", out.Mode)
	}
	if out.Size != 42 {
		t.Errorf("size = %d", out.Size)
	}
	if out.Mtime != uint64(mod.Unix()) {
		t.Errorf("mtime = %d", out.Mtime)
	}

	out = fuse.Attr{}
	fillAttr(storage.FileInfo{IsDir: true}, &out)
	if out.Mode != syscall.S_IFDIR|0o755 {
		t.Errorf("dir mode = %o", out.Mode)
	}
}

func TestMountRequiresConfiguration(t *testing.T) {
	if _, err := Mount(Options{}); err == nil {
		t.Fatal("missing mountpoint accepted")
	}
	if _, err := Mount(Options{Mountpoint: t.TempDir()}); err == nil {
		t.Fatal("missing table accepted")
	}
}
