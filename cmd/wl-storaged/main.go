// wl-storaged serves a storage backend over the Fs gRPC service, so a
// remote client can mount it with a storage manifest of type "grpc".
package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"wildland.io/core/storage"
	"wildland.io/core/storage/grpcfs"
	"wildland.io/core/storage/registry"

	_ "wildland.io/core/storage/archivefs"
	_ "wildland.io/core/storage/local"
)

func main() {
	fs := pflag.NewFlagSet("wl-storaged", pflag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1:7787", "listen address")
	backendType := fs.String("type", "local", "storage backend type")
	location := fs.String("location", "", "backend location (directory or archive path)")
	readOnly := fs.Bool("read-only", false, "serve the backend read-only")
	listBackends := fs.Bool("list-backends", false, "list registered backend types and exit")

	_ = fs.Parse(os.Args[1:])
	if *listBackends {
		for _, name := range registry.Names() {
			fmt.Fprintln(os.Stdout, name)
		}
		return
	}

	backend, err := registry.New(*backendType, storage.Params{
		"location":  *location,
		"read-only": *readOnly,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := backend.Mount(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer backend.Unmount()

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lis.Close()

	s := grpc.NewServer()
	grpcfs.RegisterFsServer(s, &grpcfs.Server{Backend: backend})

	fmt.Fprintf(os.Stderr, "wl-storaged listening on %s (type=%s)\n", lis.Addr().String(), *backendType)
	if err := s.Serve(lis); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
