package grpcfs

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"wildland.io/core/storage"
)

// mapErr translates storage errors to gRPC status codes on the server.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, storage.ErrExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, storage.ErrReadOnly):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, storage.ErrNotDir), errors.Is(err, storage.ErrIsDir),
		errors.Is(err, storage.ErrNotEmpty):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, storage.ErrNotSupported):
		return status.Error(codes.Unimplemented, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// mapRPC translates gRPC failures back to storage errors on the client.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return storage.ErrNotFound
	case codes.AlreadyExists:
		return storage.ErrExists
	case codes.PermissionDenied:
		return storage.ErrReadOnly
	case codes.Unimplemented:
		return storage.ErrNotSupported
	case codes.FailedPrecondition:
		// FailedPrecondition multiplexes the directory-shape errors;
		// disambiguate by message.
		switch st.Message() {
		case storage.ErrNotDir.Error():
			return storage.ErrNotDir
		case storage.ErrIsDir.Error():
			return storage.ErrIsDir
		case storage.ErrNotEmpty.Error():
			return storage.ErrNotEmpty
		}
		return err
	default:
		return err
	}
}
