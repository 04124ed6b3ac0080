// Package testkit runs conformance tests shared by storage backends.
package testkit

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"wildland.io/core/storage"
)

// NewBackend constructs a fresh, empty, writable backend for a test.
// The returned backend MUST be isolated from other tests.
type NewBackend func(t *testing.T) storage.Backend

// RunBackendConformance exercises the capability interface contract
// against a writable backend.
func RunBackendConformance(t *testing.T, newBackend NewBackend) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateReadBack", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Mount(ctx); err != nil {
			t.Fatalf("Mount failed: %v", err)
		}
		defer b.Unmount()

		want := []byte("hello, wildland storage")
		if err := storage.WriteFile(b, "/hello.txt", want); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		got, err := storage.ReadFile(b, "/hello.txt")
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("ReadFile = %q, want %q", got, want)
		}

		info, err := b.Getattr("/hello.txt")
		if err != nil {
			t.Fatalf("Getattr failed: %v", err)
		}
		if info.IsDir || info.Size != int64(len(want)) {
			t.Fatalf("Getattr = %+v", info)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Mount(ctx); err != nil {
			t.Fatalf("Mount failed: %v", err)
		}
		defer b.Unmount()

		if _, err := b.Getattr("/nope"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("Getattr error = %v, want ErrNotFound", err)
		}
		if _, err := b.Open("/nope", true); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("Open error = %v, want ErrNotFound", err)
		}
	})

	t.Run("DirLifecycle", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Mount(ctx); err != nil {
			t.Fatalf("Mount failed: %v", err)
		}
		defer b.Unmount()

		if err := b.Mkdir("/sub"); err != nil {
			t.Fatalf("Mkdir failed: %v", err)
		}
		if err := b.Mkdir("/sub"); !errors.Is(err, storage.ErrExists) {
			t.Fatalf("second Mkdir error = %v, want ErrExists", err)
		}
		if err := storage.WriteFile(b, "/sub/f", []byte("x")); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}

		entries, err := b.List("/sub")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(entries) != 1 || entries[0].Name != "f" || entries[0].IsDir {
			t.Fatalf("List = %v", entries)
		}

		if err := b.Rmdir("/sub"); !errors.Is(err, storage.ErrNotEmpty) {
			t.Fatalf("Rmdir of non-empty dir error = %v, want ErrNotEmpty", err)
		}
		if err := b.Unlink("/sub/f"); err != nil {
			t.Fatalf("Unlink failed: %v", err)
		}
		if err := b.Rmdir("/sub"); err != nil {
			t.Fatalf("Rmdir failed: %v", err)
		}
		if _, err := b.Getattr("/sub"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("Getattr after Rmdir error = %v, want ErrNotFound", err)
		}
	})

	t.Run("TruncateAndRange", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Mount(ctx); err != nil {
			t.Fatalf("Mount failed: %v", err)
		}
		defer b.Unmount()

		f, err := b.Create("/range")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := f.WriteAt([]byte("0123456789"), 0); err != nil {
			t.Fatalf("WriteAt failed: %v", err)
		}
		if _, err := f.WriteAt([]byte("AB"), 3); err != nil {
			t.Fatalf("WriteAt(offset) failed: %v", err)
		}
		if err := f.Truncate(6); err != nil {
			t.Fatalf("Truncate failed: %v", err)
		}
		if err := f.Release(); err != nil {
			t.Fatalf("Release failed: %v", err)
		}

		got, err := storage.ReadFile(b, "/range")
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if string(got) != "012AB5" {
			t.Fatalf("ReadFile = %q, want %q", got, "012AB5")
		}
	})
}

// RunReadOnlyConformance checks that a read-only backend rejects every
// mutation with ErrReadOnly.
func RunReadOnlyConformance(t *testing.T, b storage.Backend) {
	t.Helper()
	if !b.ReadOnly() {
		t.Fatalf("backend does not report read-only")
	}
	if _, err := b.Open("/any", false); !errors.Is(err, storage.ErrReadOnly) {
		t.Errorf("Open for write error = %v, want ErrReadOnly", err)
	}
	if _, err := b.Create("/any"); !errors.Is(err, storage.ErrReadOnly) {
		t.Errorf("Create error = %v, want ErrReadOnly", err)
	}
	if err := b.Unlink("/any"); !errors.Is(err, storage.ErrReadOnly) {
		t.Errorf("Unlink error = %v, want ErrReadOnly", err)
	}
	if err := b.Mkdir("/any"); !errors.Is(err, storage.ErrReadOnly) {
		t.Errorf("Mkdir error = %v, want ErrReadOnly", err)
	}
	if err := b.Rmdir("/any"); !errors.Is(err, storage.ErrReadOnly) {
		t.Errorf("Rmdir error = %v, want ErrReadOnly", err)
	}
}
