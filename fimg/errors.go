package fimg

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Every kernel failure returned from this package is marked with one of these categories and still
// wraps the kernel's unix.Errno, so callers can test both with errors.Is.
var (
	// ErrIdentity indicates the storage identity of a device descriptor could not be determined
	ErrIdentity = errors.New("cannot determine device identity")
	// ErrAllocation indicates the kernel refused to create or name a buffer object
	ErrAllocation = errors.New("buffer object allocation failed")
	// ErrNotFound indicates a shared name did not resolve to a buffer object
	ErrNotFound = errors.New("buffer object not found")
	// ErrMapping indicates a buffer object could not be mapped into the process
	ErrMapping = errors.New("buffer object mapping failed")
	// ErrSubmit indicates the kernel rejected a command submission
	ErrSubmit = errors.New("command submission failed")
	// ErrNotSupported indicates the kernel has no mechanism to query or wait on completion timestamps
	ErrNotSupported = errors.New("timestamp wait and query are not supported")
)

func kernelError(err error, category error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), category)
}

func isUnsupported(err error) bool {
	return errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.ENOSYS)
}

// KernelErrno extracts the kernel error code carried by an error returned from this package
func KernelErrno(err error) (unix.Errno, bool) {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}
