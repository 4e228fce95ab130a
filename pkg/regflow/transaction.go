package regflow

import (
	"time"

	"github.com/sensorlab/regflow/pkg/regflow/entry"
	"github.com/sensorlab/regflow/pkg/regflow/event"
)

// TriggerSpec describes when a transaction becomes ready to run.
type TriggerSpec struct {
	// EventID is the trigger event, or event.None for immediate execution.
	EventID int64

	// Counter selects which occurrence releases the transaction: an
	// explicit occurrence counter, event.OnNextOccurrence, or
	// event.EveryTime. Ignored when EventID is event.None.
	Counter int64

	// AllowCounterEqual downgrades the transaction to immediate execution
	// when the explicit Counter equals the event's current counter,
	// instead of rejecting the submission.
	AllowCounterEqual bool
}

// Transaction is an ordered batch of register operations submitted
// together, yielding exactly one success or error event. A live
// transaction is a member of exactly one of: a registry bucket, the
// process queue, or "currently executing".
type Transaction struct {
	// ID is assigned at queue time from the client's monotonic counter.
	ID int64

	// Trigger describes when the transaction runs. Validation may
	// downgrade the trigger to event.None (see
	// TriggerSpec.AllowCounterEqual).
	Trigger TriggerSpec

	// CurrentTriggerCounter is set during submission to the trigger
	// event's counter at validation time, for caller visibility.
	// -1 when the transaction has no trigger.
	CurrentTriggerCounter int64

	// SuccessEventID and ErrorEventID are the events the outcome is
	// emitted under.
	SuccessEventID int64
	ErrorEventID   int64

	// RunInEventContext requests inline execution in the event-delivery
	// context when the device's bus class permits it.
	RunInEventContext bool

	// Entries is the ordered operation sequence. Repeating iterations
	// share this slice; the executor never mutates it.
	Entries []entry.Entry

	resp        *entry.Response
	submittedAt time.Time
}

// repeating reports whether the transaction re-arms on every trigger
// occurrence.
func (t *Transaction) repeating() bool {
	return t.Trigger.EventID != event.None && t.Trigger.Counter == event.EveryTime
}

// cloneIteration builds the per-occurrence instance of a repeating
// transaction: same header and entry sequence, fresh response buffer.
func (t *Transaction) cloneIteration() *Transaction {
	return &Transaction{
		ID:                    t.ID,
		Trigger:               t.Trigger,
		CurrentTriggerCounter: t.CurrentTriggerCounter,
		SuccessEventID:        t.SuccessEventID,
		ErrorEventID:          t.ErrorEventID,
		RunInEventContext:     t.RunInEventContext,
		Entries:               t.Entries,
		resp:                  t.resp.CloneHeader(),
		submittedAt:           t.submittedAt,
	}
}
