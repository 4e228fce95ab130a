package regflow

import (
	"github.com/sensorlab/regflow/pkg/regflow/entry"
	"github.com/sensorlab/regflow/pkg/regflow/event"
	"github.com/sensorlab/regflow/pkg/regflow/observability"
)

// EventTrigger records an occurrence of eventID at the given counter value
// and dispatches the transactions waiting on it. Error-marked transactions
// move to the process queue for teardown. Eligible transactions run inline
// when they asked for event-context execution and the device bus allows
// it, otherwise they move to the queue. Repeating transactions spawn one
// iteration per occurrence and stay registered. inIRQ reflects the
// caller's context and is forwarded to inline execution and event
// delivery.
func (c *Client) EventTrigger(eventID, counter int64, inIRQ bool) {
	if eventID < 0 {
		return
	}
	c.dev.Counters().Observe(eventID, counter)

	var batch event.Batch

	c.mu.Lock()
	bucket, ok := c.registry[eventID]
	if !ok {
		c.mu.Unlock()
		return
	}

	moved := 0
	var remaining []*Transaction
	var inlineRuns []*Transaction

	for _, t := range bucket {
		if t.resp.ErrorCode != 0 {
			c.queue = append(c.queue, t)
			moved++
			continue
		}

		switch {
		case t.repeating():
			iter, ok := c.cloneIterationLocked(t)
			if !ok {
				// The iteration could not be funded. The repetition ends
				// here: the original carries the error to teardown.
				t.resp.ErrorCode = entry.CodeOutOfMemory
				c.queue = append(c.queue, t)
				moved++
				continue
			}
			if c.runnableInline(t) {
				inlineRuns = append(inlineRuns, iter)
			} else {
				c.queue = append(c.queue, iter)
				moved++
			}
			remaining = append(remaining, t)

		case t.Trigger.Counter == event.OnNextOccurrence || t.Trigger.Counter == counter:
			if c.runnableInline(t) {
				inlineRuns = append(inlineRuns, t)
			} else {
				c.queue = append(c.queue, t)
				moved++
			}

		default:
			// Explicit counter not reached yet.
			remaining = append(remaining, t)
		}
	}

	// The registry is consistent before the lock is released: waiters
	// whose occurrence has not come stay attached and remain visible to
	// Cancel and Flush; only the transactions about to execute are
	// detached, covered by the in-flight count until they finish.
	if len(remaining) > 0 {
		c.registry[eventID] = remaining
	} else {
		delete(c.registry, eventID)
	}
	if moved > 0 {
		c.signalWorker()
	}
	c.inflight += len(inlineRuns)
	c.mu.Unlock()

	for _, t := range inlineRuns {
		c.execute(t, &batch, inIRQ)
	}
	if len(inlineRuns) > 0 {
		c.mu.Lock()
		c.inflight -= len(inlineRuns)
		c.idle.Broadcast()
		c.mu.Unlock()
	}

	observability.LogDispatch(c.log, eventID, counter, moved, len(inlineRuns))
	c.deliverBatch(&batch, inIRQ)
}

// runnableInline reports whether t may execute in the triggering event's
// context. The device bus class has the final say: a deferred bus may
// sleep mid-transfer and event context cannot tolerate that.
func (c *Client) runnableInline(t *Transaction) bool {
	return t.RunInEventContext && c.dev.Bus == BusInline
}

// cloneIterationLocked funds and builds one iteration of a repeating
// transaction. Reports false when the response budget cannot cover it.
func (c *Client) cloneIterationLocked(t *Transaction) (*Transaction, bool) {
	if !c.budget.reserve(t.resp.Size()) {
		return nil, false
	}
	return t.cloneIteration(), true
}
