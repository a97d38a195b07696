package solver

import (
	"context"
	"errors"
	"fmt"
)

// Failure reasons.
var (
	ErrInvalidProgram = errors.New("invalid program")
	ErrInfeasible     = errors.New("program is infeasible")
	ErrUnbounded      = errors.New("program is unbounded")
	ErrNotConverged   = errors.New("solver did not converge")
	ErrTimeout        = errors.New("solver time limit reached")
)

// Failure is the error every backend returns. Reason is one of the sentinel
// errors above; Err carries the underlying cause, if any.
type Failure struct {
	Reason error
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Reason.Error()
	}
	return fmt.Sprintf("%v: %v", f.Reason, f.Err)
}

// Unwrap exposes both the reason and the cause to errors.Is and errors.As.
func (f *Failure) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Reason}
	}
	return []error{f.Reason, f.Err}
}

func fail(reason, err error) error {
	return &Failure{Reason: reason, Err: err}
}

func failf(reason error, format string, args ...any) error {
	return &Failure{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// contextFailure maps a done context onto ErrTimeout.
func contextFailure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fail(ErrTimeout, err)
	}
	return nil
}
