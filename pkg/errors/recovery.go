package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered panic value into a fatal internal error
// carrying the goroutine stack.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", r)
	}

	return ErrInternal.
		WithCause(err).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack())).
		AsFatal()
}
