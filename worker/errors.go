package worker

import (
	"github.com/pithecene-io/kiln/types"
)

type workerError struct {
	msg       string
	errorType string
}

func (e *workerError) Error() string     { return e.msg }
func (e *workerError) ErrorType() string { return e.errorType }

var (
	// ErrWorkerTimeout is returned when no response arrives within the
	// request timeout.
	ErrWorkerTimeout error = &workerError{msg: "worker timed out", errorType: types.ErrorTypeWorkerTimeout}
	// ErrWorkerExited is returned when the worker's output ends or becomes
	// unreadable mid-request.
	ErrWorkerExited error = &workerError{msg: "worker exited", errorType: types.ErrorTypeWorkerCrash}
)

// MetaException marks an error response produced by a runtime exception
// in the worker (compile failure, returned error, panic) rather than by
// an error Outcome from the program.
const MetaException = "exception"
