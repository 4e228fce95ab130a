package regflow

import (
	"sync"
	"testing"
	"time"

	"github.com/sensorlab/regflow/pkg/regflow/event"
	"github.com/sensorlab/regflow/pkg/regflow/mmio"
)

// eventSink collects delivered envelopes for assertions.
type eventSink struct {
	mu  sync.Mutex
	got []event.Envelope
}

func (s *eventSink) Deliver(batch []event.Envelope, _ bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, batch...)
}

func (s *eventSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func (s *eventSink) envelopes() []event.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Envelope, len(s.got))
	copy(out, s.got)
	return out
}

// waitFor blocks until the sink holds at least n envelopes or the deadline
// passes, and returns a snapshot.
func (s *eventSink) waitFor(t *testing.T, n int) []event.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.count() >= n {
			return s.envelopes()
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, s.count())
	return nil
}

// settle gives asynchronous work a moment to land, for negative
// assertions.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

const testBank int32 = 0

// newTestClient builds a 32-bit memory-mapped device with one 4 KiB bank
// and a client delivering into a fresh sink.
func newTestClient(t *testing.T, opts ...Option) (*Client, *mmio.Mem, *eventSink) {
	t.Helper()
	mem := mmio.New().AddBank(testBank, 4096)
	dev := NewDevice("test-sensor", BusInline, 32, mem)
	sink := &eventSink{}
	opts = append([]Option{WithDeliverer(sink)}, opts...)
	c := NewClient(dev, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c, mem, sink
}

// newDeferredClient is newTestClient on a deferred-bus device.
func newDeferredClient(t *testing.T, opts ...Option) (*Client, *mmio.Mem, *eventSink) {
	t.Helper()
	mem := mmio.New().AddBank(testBank, 4096)
	dev := NewDevice("test-sensor-i2c", BusDeferred, 32, mem)
	sink := &eventSink{}
	opts = append([]Option{WithDeliverer(sink)}, opts...)
	c := NewClient(dev, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c, mem, sink
}
