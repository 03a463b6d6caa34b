package engine

import (
	"errors"

	"github.com/bryan-buckman/newsdex/internal/kv"
)

// Error kinds returned by Engine. Classify with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")

	ErrStoreUnavailable = kv.ErrUnavailable
	ErrBatchFailed      = kv.ErrBatchFailed
	ErrConflict         = kv.ErrConflict
)

func invalid(msg string) error {
	return &argError{msg: msg}
}

type argError struct{ msg string }

func (e *argError) Error() string        { return "invalid argument: " + e.msg }
func (e *argError) Is(target error) bool { return target == ErrInvalidArgument }
