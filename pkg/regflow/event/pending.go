package event

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is one outgoing event: the id it is emitted under, an opaque
// payload (typically an encoded response), and delivery metadata.
type Envelope struct {
	// EnvelopeID uniquely identifies this emission for tracing.
	EnvelopeID string

	// EventID is the success or error event id the payload is emitted under.
	EventID int64

	// Payload is the encoded event body.
	Payload []byte

	// Timestamp is when the event was pushed onto the batch.
	Timestamp time.Time
}

// Batch accumulates outgoing events during one dispatch or execution pass.
// A Batch is caller-local and not synchronized: it is built while the
// per-client lock is held and handed to a Deliverer after release.
type Batch struct {
	envelopes []Envelope
}

// Push appends an event to the batch.
func (b *Batch) Push(eventID int64, payload []byte) {
	b.envelopes = append(b.envelopes, Envelope{
		EnvelopeID: uuid.New().String(),
		EventID:    eventID,
		Payload:    payload,
		Timestamp:  time.Now(),
	})
}

// Len returns the number of buffered events.
func (b *Batch) Len() int {
	return len(b.envelopes)
}

// Envelopes returns the buffered events in push order.
func (b *Batch) Envelopes() []Envelope {
	return b.envelopes
}

// Deliverer hands a finished batch to the device's event-delivery
// subsystem. Implementations must tolerate being called from
// interrupt-like contexts when inIRQ is true (no blocking).
type Deliverer interface {
	Deliver(batch []Envelope, inIRQ bool)
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(batch []Envelope, inIRQ bool)

// Deliver calls f.
func (f DelivererFunc) Deliver(batch []Envelope, inIRQ bool) {
	f(batch, inIRQ)
}

// ChanDeliverer is a loopback Deliverer that forwards envelopes to a
// channel, for tests and in-process consumers. Envelopes that do not fit
// in the channel buffer are dropped rather than blocking the engine.
type ChanDeliverer struct {
	C chan Envelope
}

// NewChanDeliverer returns a ChanDeliverer with the given buffer size.
func NewChanDeliverer(buffer int) *ChanDeliverer {
	return &ChanDeliverer{C: make(chan Envelope, buffer)}
}

// Deliver implements Deliverer.
func (d *ChanDeliverer) Deliver(batch []Envelope, _ bool) {
	for _, env := range batch {
		select {
		case d.C <- env:
		default:
		}
	}
}
