package vfs

import "errors"

var (
	ErrInvalidPath    = errors.New("invalid VFS path")
	ErrNotFound       = errors.New("path not found")
	ErrInvalidData    = errors.New("document data must be an object")
	ErrNotImplemented = errors.New("not implemented")
	ErrNoUser         = errors.New("vfs: user id is required")
)
