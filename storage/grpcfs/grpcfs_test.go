package grpcfs

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"wildland.io/core/storage"
	"wildland.io/core/storage/staticfs"
)

func newPair(t *testing.T, inner storage.Backend) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterFsServer(srv, &Server{Backend: inner})

	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { cc.Close() })

	return NewClient(cc, 2*time.Second)
}

func TestRoundTrip(t *testing.T) {
	inner := staticfs.New()
	inner.AddFile("/docs/readme.md", []byte("remote hello"))

	c := newPair(t, inner)
	if err := c.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if c.ReadOnly() {
		t.Fatal("writable backend reported read-only")
	}

	got, err := storage.ReadFile(c, "/docs/readme.md")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "remote hello" {
		t.Fatalf("ReadFile = %q", got)
	}

	entries, err := c.List("/docs")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "readme.md" {
		t.Fatalf("List = %v", entries)
	}

	if err := storage.WriteFile(c, "/new.txt", []byte("written over the wire")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	back, err := storage.ReadFile(inner, "/new.txt")
	if err != nil || string(back) != "written over the wire" {
		t.Fatalf("inner ReadFile = %q, %v", back, err)
	}

	if err := c.Mkdir("/sub"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := c.Rmdir("/sub"); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
	if err := c.Unlink("/new.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
}

func TestErrorsCrossTheWire(t *testing.T) {
	c := newPair(t, staticfs.New())
	if err := c.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	if _, err := c.Getattr("/missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Getattr error = %v, want ErrNotFound", err)
	}
	if err := c.Mkdir("/d"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := c.Mkdir("/d"); !errors.Is(err, storage.ErrExists) {
		t.Errorf("second Mkdir error = %v, want ErrExists", err)
	}
	if _, err := c.Open("/d", true); !errors.Is(err, storage.ErrIsDir) {
		t.Errorf("Open(dir) error = %v, want ErrIsDir", err)
	}
}

func TestReadOnlyRemote(t *testing.T) {
	c := newPair(t, staticfs.NewReadOnly())
	if err := c.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if !c.ReadOnly() {
		t.Fatal("read-only backend not reported")
	}
	if _, err := c.Create("/f"); !errors.Is(err, storage.ErrReadOnly) {
		t.Errorf("Create error = %v, want ErrReadOnly", err)
	}
}
