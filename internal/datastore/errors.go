package datastore

import (
	"errors"
	"fmt"
	"io/fs"
)

// File-level failures. They classify why a data file could not be used.
var (
	ErrNotFound          = errors.New("data file not found")
	ErrPermissionDenied  = errors.New("data file not readable")
	ErrMalformedDocument = errors.New("malformed data file")
	ErrDirectoryCreate   = errors.New("cannot create directory")

	// ErrStorageUnavailable means no candidate file could be loaded and a
	// fresh one could not be written. It is the only fatal datastore error.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Registry failures.
var (
	ErrMissingBackend   = errors.New("descriptor has no backend")
	ErrMissingBackendID = errors.New("backend has no id")
	ErrBackendExists    = errors.New("backend already registered")
	ErrBackendNotFound  = errors.New("backend not registered")
)

// FileError reports a failure to use a specific data file. Kind is one of
// ErrNotFound, ErrPermissionDenied or ErrMalformedDocument.
type FileError struct {
	Path string
	Kind error
	Err  error
}

func (e *FileError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Path, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Path, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *FileError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// readError classifies an error returned while opening or reading path.
// Anything that is neither "missing" nor "forbidden" still makes the file
// unreadable, so it is reported as ErrPermissionDenied.
func readError(path string, err error) error {
	kind := ErrPermissionDenied
	if errors.Is(err, fs.ErrNotExist) {
		kind = ErrNotFound
	}
	return &FileError{Path: path, Kind: kind, Err: err}
}

func malformed(path string, err error) error {
	return &FileError{Path: path, Kind: ErrMalformedDocument, Err: err}
}
