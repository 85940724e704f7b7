package cid

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned by HashImageSet when the set has no entries.
var ErrEmptyInput = errors.New("cid: empty input")

// ReadError reports that the input bytes could not be materialised.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("cid: read input: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// HashEngineError wraps a failure of the underlying hashing primitive.
type HashEngineError struct {
	Err error
}

func (e *HashEngineError) Error() string {
	return fmt.Sprintf("cid: hash engine: %v", e.Err)
}

func (e *HashEngineError) Unwrap() error {
	return e.Err
}

// UnsupportedOperationError is returned when a block store operation is
// attempted under a capability that forbids it.
type UnsupportedOperationError struct {
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("cid: unsupported block store operation %q in only-hash mode", e.Operation)
}

// PathError reports an image-set path that cannot be placed in a directory tree.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("cid: invalid path %q: %s", e.Path, e.Reason)
}

// IsUnsupported reports whether err was caused by a forbidden block store call.
func IsUnsupported(err error) bool {
	var u *UnsupportedOperationError
	return errors.As(err, &u)
}
