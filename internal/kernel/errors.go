package kernel

// errors.go declares the error kinds from the kernel's error-handling design, each a sentinel
// wrapped by a *Error carrying the failing operation.

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArg is returned for a null or out-of-range user argument.
	ErrInvalidArg = errors.New("invalid argument")

	// ErrNoMemory is returned when the frame bitmap or kernel heap is exhausted.
	ErrNoMemory = errors.New("no memory")

	// ErrNotFound is returned when a lock, condition variable, pipe, or child is looked up and
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotOwner is returned when a lock is released by a process that does not hold it.
	ErrNotOwner = errors.New("not owner")

	// ErrBadAccess is returned when a user pointer or buffer does not lie entirely in R1.
	ErrBadAccess = errors.New("bad access")

	// ErrNotLoadable is returned when an executable's header is malformed or its layout
	// cannot fit in R1.
	ErrNotLoadable = errors.New("not loadable")

	// ErrUnrecoverableLoad is returned when an executable's segments fail to read after R1 has
	// already been wiped; the caller must be killed.
	ErrUnrecoverableLoad = errors.New("unrecoverable load")

	// ErrOrphan is returned to a process whose parent has already exited.
	ErrOrphan = errors.New("orphan")
)

// Error wraps one of the sentinels above with the operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("kernel: %s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Op: op, Err: err}
}
