package blockio

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable is returned when a device cannot be opened or sized.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrCancelled is returned at a chunk boundary once the stop flag is set.
	ErrCancelled = errors.New("cancelled by user")
	// ErrChunkSize is returned for chunk sizes smaller than one logical block.
	ErrChunkSize = errors.New("chunk size smaller than logical block size")
)

// Op names the direction of a failed transfer.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// IOError reports a single failed chunk. It is the ReadFailed/WriteFailed
// outcome; the caller decides whether it ends the operation.
type IOError struct {
	Op     Op
	Offset int64
	Length int
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s failed at offset %d (+%d): %v", e.Op, e.Offset, e.Length, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// AsIOError unwraps err into an *IOError if it carries one.
func AsIOError(err error) (*IOError, bool) {
	var ioe *IOError
	if errors.As(err, &ioe) {
		return ioe, true
	}
	return nil, false
}

func unavailable(path string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, path, err)
}
