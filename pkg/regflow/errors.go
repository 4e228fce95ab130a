package regflow

import (
	"errors"

	"github.com/sensorlab/regflow/pkg/regflow/entry"
)

// Sentinel errors returned by the client API.
var (
	// ErrStaleTrigger indicates the requested trigger occurrence has
	// already passed (current counter beyond the requested one).
	ErrStaleTrigger = errors.New("trigger occurrence already passed")

	// ErrAlreadyOccurred indicates the requested trigger occurrence equals
	// the current counter and the submission did not allow that.
	ErrAlreadyOccurred = errors.New("trigger occurrence already happened")

	// ErrInvalidArgument indicates a malformed transaction: bad event ids
	// or an unrecognized entry kind.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOutOfMemory indicates the response buffer budget is exhausted.
	ErrOutOfMemory = errors.New("response buffer budget exhausted")

	// ErrTimedOut indicates a poll entry exceeded its declared timeout.
	ErrTimedOut = errors.New("poll timed out")

	// ErrCancelled indicates the transaction was cancelled before it ran.
	ErrCancelled = errors.New("transaction cancelled")

	// ErrNotFound indicates no waiting transaction matches the given id.
	ErrNotFound = errors.New("transaction not found")

	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("client closed")
)

// codeFor maps an execution error to its wire code.
func codeFor(err error) entry.Code {
	switch {
	case err == nil:
		return entry.CodeOK
	case errors.Is(err, ErrTimedOut):
		return entry.CodeTimedOut
	case errors.Is(err, ErrInvalidArgument):
		return entry.CodeInvalid
	case errors.Is(err, ErrOutOfMemory):
		return entry.CodeOutOfMemory
	case errors.Is(err, ErrCancelled):
		return entry.CodeCancelled
	default:
		return entry.CodeIO
	}
}
