package reactor

import (
	"errors"
	"fmt"

	"github.com/sharnoff/ioapp/internal/trace"
)

// ErrOperationAborted is reported to the completion handler of an operation that was cancelled
// by its owner, e.g. a timer wait after Timer.Cancel, or a socket read after the socket was
// closed. Compare with errors.Is; the actual error may wrap the underlying cause.
var ErrOperationAborted = errors.New("operation aborted")

// PanicError is produced when a handler or hook panics. It is logged, and may be recorded by the
// owner of the handler, but is never re-raised.
type PanicError struct {
	Value any
	Stack trace.Stack
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value if it was an error.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Recover converts a value from recover() into a *PanicError. It returns nil if r is nil.
//
// It must be called from the deferred function itself, for the captured stack to include the
// panicking frames.
func Recover(r any) *PanicError {
	if r == nil {
		return nil
	}
	// skip Recover, and the deferred function that called it
	return &PanicError{Value: r, Stack: trace.Capture(nil, 2)}
}
