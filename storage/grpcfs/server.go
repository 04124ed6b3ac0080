package grpcfs

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strconv"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"wildland.io/core/storage"
)

// Server exposes a storage.Backend over the Fs gRPC service.
type Server struct {
	UnimplementedFsServer
	Backend storage.Backend
}

func (s *Server) backend() (storage.Backend, error) {
	if s == nil || s.Backend == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing backend")
	}
	return s.Backend, nil
}

func (s *Server) Getattr(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	info, err := b.Getattr(in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	return encodeInfo(info), nil
}

func (s *Server) List(ctx context.Context, in *wrapperspb.StringValue) (*structpb.ListValue, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	entries, err := b.List(in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	values := make([]*structpb.Value, 0, len(entries))
	for _, e := range entries {
		values = append(values, structpb.NewStructValue(&structpb.Struct{
			Fields: map[string]*structpb.Value{
				"name":   structpb.NewStringValue(e.Name),
				"is_dir": structpb.NewBoolValue(e.IsDir),
			},
		}))
	}
	return &structpb.ListValue{Values: values}, nil
}

func (s *Server) Read(ctx context.Context, in *structpb.Struct) (*wrapperspb.BytesValue, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	path := stringField(in, "path")
	offset, err := int64Field(in, "offset")
	if err != nil {
		return nil, err
	}
	length, err := int64Field(in, "length")
	if err != nil {
		return nil, err
	}

	f, err := b.Open(path, true)
	if err != nil {
		return nil, mapErr(err)
	}
	defer f.Release()

	buf := make([]byte, length)
	n, rerr := f.ReadAt(buf, offset)
	if rerr != nil && !errors.Is(rerr, io.EOF) {
		return nil, mapErr(rerr)
	}
	return wrapperspb.Bytes(buf[:n]), nil
}

func (s *Server) Write(ctx context.Context, in *structpb.Struct) (*wrapperspb.Int64Value, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	path := stringField(in, "path")
	offset, err := int64Field(in, "offset")
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(stringField(in, "data"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad data encoding")
	}

	f, err := b.Open(path, false)
	if err != nil {
		return nil, mapErr(err)
	}
	n, werr := f.WriteAt(data, offset)
	if rerr := f.Release(); werr == nil {
		werr = rerr
	}
	if werr != nil {
		return nil, mapErr(werr)
	}
	return wrapperspb.Int64(int64(n)), nil
}

func (s *Server) Truncate(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	size, err := int64Field(in, "size")
	if err != nil {
		return nil, err
	}
	f, err := b.Open(stringField(in, "path"), false)
	if err != nil {
		return nil, mapErr(err)
	}
	terr := f.Truncate(size)
	if rerr := f.Release(); terr == nil {
		terr = rerr
	}
	if terr != nil {
		return nil, mapErr(terr)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Create(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	f, err := b.Create(in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	if err := f.Release(); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Unlink(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	if err := b.Unlink(in.GetValue()); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Mkdir(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	if err := b.Mkdir(in.GetValue()); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Rmdir(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	if err := b.Rmdir(in.GetValue()); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) ReadOnly(ctx context.Context, in *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bool(b.ReadOnly()), nil
}

func encodeInfo(info storage.FileInfo) *structpb.Struct {
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"size":     structpb.NewStringValue(strconv.FormatInt(info.Size, 10)),
			"mtime_ns": structpb.NewStringValue(strconv.FormatInt(info.ModTime.UnixNano(), 10)),
			"is_dir":   structpb.NewBoolValue(info.IsDir),
		},
	}
}

func decodeInfo(s *structpb.Struct) (storage.FileInfo, error) {
	size, err := int64Field(s, "size")
	if err != nil {
		return storage.FileInfo{}, err
	}
	mtime, err := int64Field(s, "mtime_ns")
	if err != nil {
		return storage.FileInfo{}, err
	}
	return storage.FileInfo{
		Size:    size,
		ModTime: time.Unix(0, mtime),
		IsDir:   boolField(s, "is_dir"),
	}, nil
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func int64Field(s *structpb.Struct, key string) (int64, error) {
	v := s.GetFields()[key].GetStringValue()
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "field %q is not an int64", key)
	}
	return n, nil
}

func int64Value(n int64) *structpb.Value {
	return structpb.NewStringValue(strconv.FormatInt(n, 10))
}
