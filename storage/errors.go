package storage

import "errors"

var (
	ErrNotFound     = errors.New("storage: not found")
	ErrExists       = errors.New("storage: already exists")
	ErrNotDir       = errors.New("storage: not a directory")
	ErrIsDir        = errors.New("storage: is a directory")
	ErrReadOnly     = errors.New("storage: read-only")
	ErrNotEmpty     = errors.New("storage: directory not empty")
	ErrNotSupported = errors.New("storage: operation not supported")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
