package regflow

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sensorlab/regflow/pkg/regflow/entry"
	"github.com/sensorlab/regflow/pkg/regflow/event"
	"github.com/sensorlab/regflow/pkg/regflow/observability"
)

// PeriodicIO is a register sequence executed repeatedly on a fixed period.
// Read results from consecutive periods are buffered into samples; every
// BatchSize periods the accumulated samples are emitted in one success
// event. The instance stays active until cancelled, flushed, or stopped by
// an I/O error.
type PeriodicIO struct {
	// ID is assigned at submission.
	ID int64

	// Period is the execution interval.
	Period time.Duration

	// BatchSize is the number of periods batched into one success event.
	BatchSize int

	// SuccessEventID and ErrorEventID are the emission events.
	SuccessEventID int64
	ErrorEventID   int64

	// Entries is the sequence executed each period.
	Entries []entry.Entry

	active      bool
	finished    bool
	errorCode   entry.Code
	batchCount  int
	samples     []PeriodicSample
	submittedAt time.Time
}

// PeriodicSample holds the read results of one period.
type PeriodicSample struct {
	Timestamp time.Time
	Results   []entry.IOResult
}

// periodList groups the active periodic instances sharing one period
// behind a single timer goroutine.
type periodList struct {
	items []*PeriodicIO
	stop  chan struct{}
	done  chan struct{}
}

// SubmitPeriodic validates and activates a periodic I/O instance,
// returning its assigned id. Instances sharing a period share one timer.
func (c *Client) SubmitPeriodic(ctx context.Context, p *PeriodicIO) (id int64, err error) {
	_, span := c.spans.StartSubmitSpan(ctx, c.id)
	defer func() { c.spans.EndSpanWithError(span, err) }()

	if p.Period <= 0 || p.BatchSize < 1 || len(p.Entries) == 0 {
		return 0, fmt.Errorf("%w: bad periodic parameters", ErrInvalidArgument)
	}
	for _, eid := range []int64{p.SuccessEventID, p.ErrorEventID} {
		if _, err := c.dev.Counters().FindOrCreate(eid); err != nil {
			return 0, fmt.Errorf("%w: device event state: %v", ErrInvalidArgument, err)
		}
		if _, err := c.counters.FindOrCreate(eid); err != nil {
			return 0, fmt.Errorf("%w: client event state: %v", ErrInvalidArgument, err)
		}
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrClientClosed
	}
	if !c.budget.reserve(p.batchBytes(c.dev.widthBytes())) {
		return 0, ErrOutOfMemory
	}

	c.pmu.Lock()
	p.ID = c.pnextID
	c.pnextID++
	p.active = true
	p.submittedAt = time.Now()

	pl, ok := c.periods[p.Period]
	if !ok {
		pl = &periodList{stop: make(chan struct{}), done: make(chan struct{})}
		c.periods[p.Period] = pl
		go c.runPeriodTimer(p.Period, pl)
	}
	pl.items = append(pl.items, p)
	c.pmu.Unlock()

	observability.LogSubmit(c.log, p.ID, event.None, 0)
	return p.ID, nil
}

// CancelPeriodic deactivates a periodic instance. Its teardown runs on the
// periodic worker and emits one Cancelled error event. Returns ErrNotFound
// if no active instance matches.
func (c *Client) CancelPeriodic(id int64) error {
	c.pmu.Lock()
	defer c.pmu.Unlock()

	for period, pl := range c.periods {
		for i, p := range pl.items {
			if p.ID != id {
				continue
			}
			p.errorCode = entry.CodeCancelled
			c.detachPeriodicLocked(period, pl, i)
			c.pqueue = append(c.pqueue, p)
			c.signalPeriodicWorker()
			c.metrics.RecordCancellation(context.Background())
			observability.LogCancelled(c.log, id)
			return nil
		}
	}
	return ErrNotFound
}

// FlushPeriodic cancels every active periodic instance, waits for the
// periodic worker to finish their teardown, and stops all timers. When it
// returns, no periodic work remains.
func (c *Client) FlushPeriodic() {
	c.pmu.Lock()
	cancelled := 0
	for period, pl := range c.periods {
		for _, p := range pl.items {
			if p.errorCode == 0 {
				p.errorCode = entry.CodeCancelled
			}
			p.active = false
			c.pqueue = append(c.pqueue, p)
			cancelled++
		}
		pl.items = nil
		close(pl.stop)
		delete(c.periods, period)
	}
	if len(c.pqueue) > 0 {
		c.signalPeriodicWorker()
	}
	for c.pworking || len(c.pqueue) > 0 {
		c.pidle.Wait()
	}
	c.pmu.Unlock()

	observability.LogFlush(c.log, cancelled)
}

// detachPeriodicLocked removes item i from a period's list, stopping the
// timer when the list empties.
func (c *Client) detachPeriodicLocked(period time.Duration, pl *periodList, i int) {
	pl.items[i].active = false
	pl.items = append(pl.items[:i], pl.items[i+1:]...)
	if len(pl.items) == 0 {
		close(pl.stop)
		delete(c.periods, period)
	}
}

// runPeriodTimer moves every instance on one period's list to the periodic
// queue each tick, until the list is torn down.
func (c *Client) runPeriodTimer(period time.Duration, pl *periodList) {
	defer close(pl.done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-pl.stop:
			return
		case <-ticker.C:
			c.pmu.Lock()
			for _, p := range pl.items {
				if p.active {
					c.pqueue = append(c.pqueue, p)
				}
			}
			if len(c.pqueue) > 0 {
				c.signalPeriodicWorker()
			}
			c.pmu.Unlock()
		}
	}
}

// periodicLoop drains the periodic queue whenever signalled, until the
// client stops.
func (c *Client) periodicLoop() {
	defer close(c.pdone)
	for {
		select {
		case <-c.stop:
			return
		case <-c.pwake:
			c.drainPeriodic()
		}
	}
}

// drainPeriodic runs one period (or teardown) for each queued instance.
func (c *Client) drainPeriodic() {
	var batch event.Batch

	c.pmu.Lock()
	c.pworking = true

	for len(c.pqueue) > 0 {
		p := c.pqueue[0]
		c.pqueue = c.pqueue[1:]

		if p.errorCode != 0 {
			c.finishPeriodicLocked(p, &batch)
			continue
		}
		c.pmu.Unlock()
		c.runPeriodOnce(p, &batch)
		c.pmu.Lock()
	}

	c.pworking = false
	c.pidle.Broadcast()
	c.pmu.Unlock()

	c.deliverBatch(&batch, false)
}

// finishPeriodicLocked emits the error event for a stopped instance and
// returns its buffer reservation. A tick may have queued the instance
// again before teardown ran; the finished flag keeps teardown single-shot.
func (c *Client) finishPeriodicLocked(p *PeriodicIO, batch *event.Batch) {
	if p.finished {
		return
	}
	p.finished = true
	resp := PeriodicResponse{ID: p.ID, ErrorCode: p.errorCode, BatchSize: p.BatchSize}
	batch.Push(p.ErrorEventID, resp.Encode())
	c.budget.release(p.batchBytes(c.dev.widthBytes()))
}

// runPeriodOnce executes one period of p, buffering the sample and
// emitting a success event when the batch fills. An entry failure
// deactivates the instance and emits its error event immediately.
func (c *Client) runPeriodOnce(p *PeriodicIO, batch *event.Batch) {
	width := c.dev.widthBytes()
	sample := PeriodicSample{Timestamp: time.Now()}
	var bias uint64
	code := entry.CodeOK

run:
	for i := range p.Entries {
		e := p.Entries[i].Biased(bias)

		switch e.Kind {
		case entry.KindWrite, entry.KindWriteBatch, entry.KindModify:
			if err := c.dev.IO.RegisterIO(&e, false, c.dev.WidthBits); err != nil {
				code = entry.CodeIO
				break run
			}

		case entry.KindRead:
			if err := c.dev.IO.RegisterIO(&e, false, c.dev.WidthBits); err != nil {
				code = entry.CodeIO
				break run
			}
			data := make([]byte, width)
			putUint(data, e.Value, width)
			sample.Results = append(sample.Results, entry.IOResult{Bank: e.Bank, Offset: e.Offset, Data: data})

		case entry.KindReadBatch:
			e.Buf = make([]byte, e.Size)
			if err := c.dev.IO.RegisterIO(&e, false, c.dev.WidthBits); err != nil {
				code = entry.CodeIO
				break run
			}
			sample.Results = append(sample.Results, entry.IOResult{Bank: e.Bank, Offset: e.Offset, Data: e.Buf})

		case entry.KindBias:
			bias = e.Bias

		default:
			code = entry.CodeInvalid
			break run
		}
	}

	c.pmu.Lock()
	if code != 0 {
		p.errorCode = code
		c.removePeriodicLocked(p)
		c.finishPeriodicLocked(p, batch)
		c.pmu.Unlock()
		observability.LogPeriodicStopped(c.log, p.ID, int32(code))
		return
	}

	p.samples = append(p.samples, sample)
	p.batchCount++
	if p.batchCount >= p.BatchSize {
		resp := PeriodicResponse{ID: p.ID, BatchSize: p.BatchSize, Samples: p.samples}
		batch.Push(p.SuccessEventID, resp.Encode())
		p.samples = nil
		p.batchCount = 0
	}
	c.pmu.Unlock()
}

// removePeriodicLocked detaches p from whatever period list still holds it.
func (c *Client) removePeriodicLocked(p *PeriodicIO) {
	pl, ok := c.periods[p.Period]
	if !ok {
		return
	}
	for i, item := range pl.items {
		if item == p {
			c.detachPeriodicLocked(p.Period, pl, i)
			return
		}
	}
}

// batchBytes estimates the encoded size of one full batch, for admission
// against the response buffer budget.
func (p *PeriodicIO) batchBytes(widthBytes int) int {
	return periodicHeaderSize + p.BatchSize*(8+entry.PayloadSize(p.Entries, widthBytes))
}

func (c *Client) signalPeriodicWorker() {
	select {
	case c.pwake <- struct{}{}:
	default:
	}
}

// Periodic response wire layout: a header of id, error code, batch size
// and sample count, then per sample a nanosecond timestamp and its
// length-prefixed read results. All fields little-endian.
const periodicHeaderSize = 8 + 4 + 4 + 4

// PeriodicResponse is the payload carried by periodic success and error
// events.
type PeriodicResponse struct {
	ID        int64
	ErrorCode entry.Code
	BatchSize int
	Samples   []PeriodicSample
}

// Encode serializes the response into its wire layout.
func (r *PeriodicResponse) Encode() []byte {
	var buf []byte
	var scratch [8]byte

	put32 := func(v int32) {
		binary.LittleEndian.PutUint32(scratch[:4], uint32(v))
		buf = append(buf, scratch[:4]...)
	}
	put64 := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:8], v)
		buf = append(buf, scratch[:8]...)
	}

	put64(uint64(r.ID))
	put32(int32(r.ErrorCode))
	put32(int32(r.BatchSize))
	put32(int32(len(r.Samples)))

	for _, s := range r.Samples {
		put64(uint64(s.Timestamp.UnixNano()))
		put32(int32(len(s.Results)))
		for _, res := range s.Results {
			put32(res.Bank)
			put64(res.Offset)
			put32(int32(len(res.Data)))
			buf = append(buf, res.Data...)
		}
	}
	return buf
}

// DecodePeriodic parses a periodic response from its wire layout.
func DecodePeriodic(data []byte) (*PeriodicResponse, error) {
	if len(data) < periodicHeaderSize {
		return nil, fmt.Errorf("periodic response too short: %d bytes", len(data))
	}
	r := &PeriodicResponse{
		ID:        int64(binary.LittleEndian.Uint64(data[0:8])),
		ErrorCode: entry.Code(binary.LittleEndian.Uint32(data[8:12])),
		BatchSize: int(int32(binary.LittleEndian.Uint32(data[12:16]))),
	}
	numSamples := int(int32(binary.LittleEndian.Uint32(data[16:20])))
	rest := data[periodicHeaderSize:]

	for i := 0; i < numSamples; i++ {
		if len(rest) < 12 {
			return nil, fmt.Errorf("truncated sample header at index %d", i)
		}
		s := PeriodicSample{Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(rest[0:8])))}
		numResults := int(int32(binary.LittleEndian.Uint32(rest[8:12])))
		rest = rest[12:]

		for j := 0; j < numResults; j++ {
			if len(rest) < 16 {
				return nil, fmt.Errorf("truncated result header in sample %d", i)
			}
			res := entry.IOResult{
				Bank:   int32(binary.LittleEndian.Uint32(rest[0:4])),
				Offset: binary.LittleEndian.Uint64(rest[4:12]),
			}
			n := int(binary.LittleEndian.Uint32(rest[12:16]))
			rest = rest[16:]
			if len(rest) < n {
				return nil, fmt.Errorf("truncated result data in sample %d", i)
			}
			res.Data = append([]byte(nil), rest[:n]...)
			rest = rest[n:]
			s.Results = append(s.Results, res)
		}
		r.Samples = append(r.Samples, s)
	}
	return r, nil
}
