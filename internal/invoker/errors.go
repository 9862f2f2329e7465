package invoker

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

var (
	// ErrTaskNotStarted is reported when a test method returns a Task that
	// was created but never started. Awaiting it would hang forever.
	ErrTaskNotStarted = errors.New("test method returned a task that was never started")

	// ErrArityMismatch matches every *ArityError via errors.Is.
	ErrArityMismatch = errors.New("argument count mismatch")

	// ErrScopeClosed is returned by Go when the async void scope has already
	// finished waiting for its operations.
	ErrScopeClosed = errors.New("async void scope is closed")

	// ErrNoAsyncScope is returned by Go when the context carries no scope.
	ErrNoAsyncScope = errors.New("context carries no async void scope")

	// ErrNilInstance is reported when a factory returns no instance for a
	// non-static test method.
	ErrNilInstance = errors.New("test class factory returned a nil instance")
)

// ArityError reports a call whose argument count does not match the
// declared parameter count of the target function.
type ArityError struct {
	// Target names the test method or constructor.
	Target string

	// Expected is the declared parameter count.
	Expected int

	// Actual is the number of supplied arguments.
	Actual int
}

// Error implements the error interface.
func (e *ArityError) Error() string {
	return fmt.Sprintf("%s: expected %d parameter value(s), but %d parameter value(s) were provided",
		e.Target, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrArityMismatch) true for any ArityError.
func (e *ArityError) Is(target error) bool {
	return target == ErrArityMismatch
}

// PanicError wraps a value recovered from a panic in user code.
type PanicError struct {
	// Value is whatever was passed to panic.
	Value any

	// Stack is the goroutine stack captured at recovery.
	Stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// AggregateError holds two or more failures in capture order.
type AggregateError struct {
	Errors []error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d failures occurred:", len(e.Errors))
	for _, err := range e.Errors {
		b.WriteString("\n\t* ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap exposes every captured failure to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// IsPanic returns true if err is or wraps a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}

// IsArityMismatch returns true if err is or wraps an ArityError.
func IsArityMismatch(err error) bool {
	return errors.Is(err, ErrArityMismatch)
}
