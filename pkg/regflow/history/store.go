// Package history records summaries of completed transactions for
// post-mortem diagnostics.
package history

import (
	"errors"
	"time"

	"github.com/sensorlab/regflow/pkg/regflow/entry"
)

// Record is the diagnostic summary of one completed transaction execution.
type Record struct {
	TransactionID  int64
	TriggerEventID int64
	TriggerCounter int64
	NumEntries     int

	ErrorCode       entry.Code
	CompletionIndex int32

	SubmittedAt time.Time
	CompletedAt time.Time
}

// Store keeps recently completed transaction records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds a record, evicting the oldest if the store is bounded.
	Append(rec Record) error

	// Recent returns up to n records, newest first.
	Recent(n int) ([]Record, error)

	// Close releases any resources.
	Close() error
}

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("history store closed")
