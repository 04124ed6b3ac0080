// Package grpcfs exposes a storage backend over gRPC: Server wraps any
// storage.Backend, Client implements storage.Backend against a remote
// Fs service. wl-storaged is the standalone daemon side.
package grpcfs

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"wildland.io/core/storage"
	"wildland.io/core/storage/registry"
)

func init() {
	registry.MustRegister("grpcfs", func(p storage.Params) (storage.Backend, error) {
		address := p.String("address")
		if address == "" {
			return nil, fmt.Errorf("grpcfs: missing address")
		}
		return Dial(address, DialOptions{})
	})
}

// Client implements storage.Backend over an Fs gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client FsClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration

	readOnly bool
}

// DialOptions configures Dial.
type DialOptions struct {
	// Timeout applies per RPC when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int
}

// Dial connects to an Fs service. The connection is established lazily;
// Mount performs the first round trip.
func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return NewClient(cc, opts.Timeout), nil
}

// NewClient wraps an existing connection.
func NewClient(cc *grpc.ClientConn, timeout time.Duration) *Client {
	return &Client{cc: cc, client: NewFsClient(cc), Timeout: timeout}
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

// Mount queries the remote read-only flag, which doubles as a liveness
// check.
func (c *Client) Mount(ctx context.Context) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.ReadOnly(ctx, &emptypb.Empty{})
	if err != nil {
		return mapRPC(err)
	}
	c.readOnly = reply.GetValue()
	return nil
}

func (c *Client) Unmount() error {
	if c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) ReadOnly() bool { return c.readOnly }

func (c *Client) Getattr(path string) (storage.FileInfo, error) {
	ctx, cancel := c.ctx(context.Background())
	defer cancel()
	reply, err := c.client.Getattr(ctx, wrapperspb.String(path))
	if err != nil {
		return storage.FileInfo{}, mapRPC(err)
	}
	return decodeInfo(reply)
}

func (c *Client) List(path string) ([]storage.Entry, error) {
	ctx, cancel := c.ctx(context.Background())
	defer cancel()
	reply, err := c.client.List(ctx, wrapperspb.String(path))
	if err != nil {
		return nil, mapRPC(err)
	}
	out := make([]storage.Entry, 0, len(reply.GetValues()))
	for _, v := range reply.GetValues() {
		s := v.GetStructValue()
		out = append(out, storage.Entry{
			Name:  stringField(s, "name"),
			IsDir: boolField(s, "is_dir"),
		})
	}
	return out, nil
}

func (c *Client) Open(path string, readOnly bool) (storage.File, error) {
	if !readOnly && c.readOnly {
		return nil, storage.ErrReadOnly
	}
	// The remote service is stateless per call, so Open just validates.
	info, err := c.Getattr(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir {
		return nil, storage.ErrIsDir
	}
	return &file{c: c, path: path, readOnly: readOnly}, nil
}

func (c *Client) Create(path string) (storage.File, error) {
	if c.readOnly {
		return nil, storage.ErrReadOnly
	}
	ctx, cancel := c.ctx(context.Background())
	defer cancel()
	if _, err := c.client.Create(ctx, wrapperspb.String(path)); err != nil {
		return nil, mapRPC(err)
	}
	return &file{c: c, path: path}, nil
}

func (c *Client) Unlink(path string) error {
	ctx, cancel := c.ctx(context.Background())
	defer cancel()
	if _, err := c.client.Unlink(ctx, wrapperspb.String(path)); err != nil {
		return mapRPC(err)
	}
	return nil
}

func (c *Client) Mkdir(path string) error {
	ctx, cancel := c.ctx(context.Background())
	defer cancel()
	if _, err := c.client.Mkdir(ctx, wrapperspb.String(path)); err != nil {
		return mapRPC(err)
	}
	return nil
}

func (c *Client) Rmdir(path string) error {
	ctx, cancel := c.ctx(context.Background())
	defer cancel()
	if _, err := c.client.Rmdir(ctx, wrapperspb.String(path)); err != nil {
		return mapRPC(err)
	}
	return nil
}

type file struct {
	c        *Client
	path     string
	readOnly bool
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	ctx, cancel := f.c.ctx(context.Background())
	defer cancel()
	reply, err := f.c.client.Read(ctx, &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"path":   structpb.NewStringValue(f.path),
			"offset": int64Value(off),
			"length": int64Value(int64(len(p))),
		},
	})
	if err != nil {
		return 0, mapRPC(err)
	}
	n := copy(p, reply.GetValue())
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	if f.readOnly {
		return 0, storage.ErrReadOnly
	}
	ctx, cancel := f.c.ctx(context.Background())
	defer cancel()
	reply, err := f.c.client.Write(ctx, &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"path":   structpb.NewStringValue(f.path),
			"offset": int64Value(off),
			"data":   structpb.NewStringValue(base64.StdEncoding.EncodeToString(p)),
		},
	})
	if err != nil {
		return 0, mapRPC(err)
	}
	return int(reply.GetValue()), nil
}

func (f *file) Truncate(size int64) error {
	if f.readOnly {
		return storage.ErrReadOnly
	}
	ctx, cancel := f.c.ctx(context.Background())
	defer cancel()
	_, err := f.c.client.Truncate(ctx, &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"path": structpb.NewStringValue(f.path),
			"size": int64Value(size),
		},
	})
	if err != nil {
		return mapRPC(err)
	}
	return nil
}

func (f *file) Release() error { return nil }
