/*
Package regflow provides a deferred, event-triggered register I/O
transaction engine for device-control drivers.

# Overview

Clients submit ordered batches of register operations ("transactions") that
execute either immediately or when an asynchronous hardware or software
event occurs. Triggers can name one specific occurrence of an event, the
very next occurrence, or every future occurrence (repeating). Results are
delivered exclusively through emitted success/error events, never as a
synchronous return value.

The engine is built around three execution contexts that share one
per-client lock:

  - event delivery (possibly interrupt-like), which matches occurrences
    against waiting transactions and moves or clones them onto the ready
    queue, or executes them inline when the device's bus class permits;
  - a single worker goroutine per client, which drains the ready queue and
    runs each entry sequence against the register-access capability;
  - synchronous callers performing submit, cancel, replace and flush.

Register I/O always happens with the lock released: a transaction is
detached from all shared collections before any blocking call, so it can
never be observed by a second lock holder while executing. Outgoing events
are buffered into a caller-local batch and handed to the deliverer only
after the lock is released.

# Basic Usage

	dev := regflow.NewDevice("sensor0", regflow.BusInline, 32, regs)
	client := regflow.NewClient(dev,
	    regflow.WithDeliverer(sink),
	)
	defer client.Close()

	id, err := client.Submit(ctx, &regflow.Transaction{
	    Trigger:        regflow.TriggerSpec{EventID: event.None},
	    SuccessEventID: evDone,
	    ErrorEventID:   evFailed,
	    Entries: []entry.Entry{
	        entry.Write(0, 0x100, 0x1),
	        entry.Read(0, 0x104),
	    },
	})

An event-triggered transaction waits in the client's registry until the
trigger fires:

	client.Submit(ctx, &regflow.Transaction{
	    Trigger: regflow.TriggerSpec{
	        EventID: evFrameStart,
	        Counter: event.EveryTime,
	    },
	    ...
	})

	// From the interrupt demux path:
	client.EventTrigger(evFrameStart, occurrence, true)

# Periodic I/O

SubmitPeriodic runs an entry sequence on a fixed period, batching results
from several periods into one success event. An execution error emits an
error event and deactivates the instance.
*/
package regflow
