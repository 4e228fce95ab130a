package regflow

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sensorlab/regflow/pkg/regflow/entry"
	"github.com/sensorlab/regflow/pkg/regflow/event"
	"github.com/sensorlab/regflow/pkg/regflow/history"
	"github.com/sensorlab/regflow/pkg/regflow/observability"
)

// workerLoop drains the process queue whenever signalled, until the client
// stops. It is the only goroutine that pops from the queue.
func (c *Client) workerLoop() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case <-c.wake:
			c.drainQueue()
		}
	}
}

// drainQueue runs queued transactions to completion in FIFO order.
// Error-marked transactions tear down without touching the device. The
// client lock is dropped around each execution; Flush waits on the idle
// condition this broadcasts.
func (c *Client) drainQueue() {
	var batch event.Batch

	c.mu.Lock()
	c.working = true
	c.metrics.RecordQueueDepth(context.Background(), len(c.queue))

	for len(c.queue) > 0 {
		t := c.queue[0]
		c.queue = c.queue[1:]

		if t.resp.ErrorCode != 0 {
			c.finishCancelledLocked(t, &batch)
			continue
		}
		c.mu.Unlock()
		c.execute(t, &batch, false)
		c.mu.Lock()
	}

	c.working = false
	c.idle.Broadcast()
	c.mu.Unlock()

	c.deliverBatch(&batch, false)
}

// finishCancelledLocked tears down a queued transaction that was marked
// with an error before it could run: one error event, a history record,
// and the response bytes back to the budget. The device is not touched.
func (c *Client) finishCancelledLocked(t *Transaction, batch *event.Batch) {
	batch.Push(t.ErrorEventID, headerOnlyResponse(t.ID, t.resp.ErrorCode))
	c.recordHistory(t)
	c.budget.release(t.resp.Size())
	observability.LogExecuted(c.log, t.ID, int32(t.resp.ErrorCode), 0)
}

// execute runs a transaction's entries against the device and emits its
// outcome. With a nil batch (cleanup), no events are emitted and failures
// are only logged. Must be called without the client lock held.
func (c *Client) execute(t *Transaction, batch *event.Batch, inIRQ bool) {
	_, span := c.spans.StartExecuteSpan(context.Background(), t.ID)
	start := time.Now()

	code := c.runEntries(t, inIRQ)
	t.resp.ErrorCode = code

	elapsed := time.Since(start)
	if batch != nil {
		eventID := t.SuccessEventID
		if code != 0 {
			eventID = t.ErrorEventID
		}
		batch.Push(eventID, t.resp.Encode())
	} else if code != 0 {
		observability.LogCleanupError(c.log, t.ID, int32(code))
	}

	c.recordHistory(t)
	c.budget.release(t.resp.Size())
	c.metrics.RecordExecution(context.Background(), elapsed, int32(code))
	observability.LogExecuted(c.log, t.ID, int32(code), float64(elapsed.Microseconds())/1000.0)

	var spanErr error
	if code != 0 {
		spanErr = fmt.Errorf("execution failed: %s", code)
	}
	c.spans.EndSpanWithError(span, spanErr)
}

// runEntries executes the entry sequence in order, stopping at the first
// failure. Read results land in the preallocated response slots in entry
// order. The bias from a SetBias entry applies to every later addressed
// entry; it does not accumulate across entries or iterations.
func (c *Client) runEntries(t *Transaction, inIRQ bool) entry.Code {
	width := c.dev.widthBytes()
	var bias uint64

	for i := range t.Entries {
		e := t.Entries[i].Biased(bias)

		switch e.Kind {
		case entry.KindWrite, entry.KindWriteBatch, entry.KindModify:
			if err := c.dev.IO.RegisterIO(&e, inIRQ, c.dev.WidthBits); err != nil {
				return entry.CodeIO
			}

		case entry.KindRead:
			slot := t.resp.NextResult(e.Bank, e.Offset)
			if err := c.dev.IO.RegisterIO(&e, inIRQ, c.dev.WidthBits); err != nil {
				return entry.CodeIO
			}
			putUint(slot.Data, e.Value, width)

		case entry.KindReadBatch:
			slot := t.resp.NextResult(e.Bank, e.Offset)
			e.Buf = slot.Data
			if err := c.dev.IO.RegisterIO(&e, inIRQ, c.dev.WidthBits); err != nil {
				return entry.CodeIO
			}

		case entry.KindBias:
			bias = e.Bias

		case entry.KindPoll:
			if err := c.pollEntry(&e, inIRQ); err != nil {
				return codeFor(err)
			}

		default:
			return entry.CodeInvalid
		}
		t.resp.CompletionIndex = int32(i)
	}
	return entry.CodeOK
}

// pollEntry repeatedly reads the register until the masked value matches,
// sleeping between attempts, or fails with ErrTimedOut when the deadline
// passes. A read failure aborts the poll immediately.
func (c *Client) pollEntry(e *entry.Entry, inIRQ bool) error {
	want := e.Value & e.Mask
	deadline := time.Now().Add(e.Timeout)

	for {
		read := entry.Read(e.Bank, e.Offset)
		if err := c.dev.IO.RegisterIO(&read, inIRQ, c.dev.WidthBits); err != nil {
			return err
		}
		if read.Value&e.Mask == want {
			e.Value = read.Value
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrTimedOut
		}
		time.Sleep(c.pollInterval)
	}
}

// recordHistory appends the transaction's outcome to the history store.
// Storage failures are logged and otherwise ignored.
func (c *Client) recordHistory(t *Transaction) {
	rec := history.Record{
		TransactionID:   t.ID,
		TriggerEventID:  t.Trigger.EventID,
		TriggerCounter:  t.Trigger.Counter,
		NumEntries:      len(t.Entries),
		ErrorCode:       t.resp.ErrorCode,
		CompletionIndex: t.resp.CompletionIndex,
		SubmittedAt:     t.submittedAt,
		CompletedAt:     time.Now(),
	}
	if err := c.hist.Append(rec); err != nil {
		observability.LogHistoryError(c.log, t.ID, err)
	}
}

// headerOnlyResponse encodes a response header with no results, used for
// transactions torn down before execution.
func headerOnlyResponse(id int64, code entry.Code) []byte {
	r := entry.Response{ID: id, ErrorCode: code, CompletionIndex: -1}
	return r.Encode()
}

func putUint(b []byte, v uint64, width int) {
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}
