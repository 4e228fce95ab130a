package regflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sensorlab/regflow/pkg/regflow/config"
	"github.com/sensorlab/regflow/pkg/regflow/entry"
	"github.com/sensorlab/regflow/pkg/regflow/event"
	"github.com/sensorlab/regflow/pkg/regflow/history"
	"github.com/sensorlab/regflow/pkg/regflow/observability"
)

// budget bounds the total bytes of outstanding response buffers for one
// client. A zero or negative limit means unlimited. This is the admission
// control that stands in for allocation failure: exhausting it fails a
// submission, or forces a repeating transaction into a terminal error when
// its next iteration cannot be funded.
type budget struct {
	mu    sync.Mutex
	limit int64
	used  int64
}

func newBudget(limit int64) *budget {
	return &budget{limit: limit}
}

func (b *budget) reserve(n int) bool {
	if b.limit <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used+int64(n) > b.limit {
		return false
	}
	b.used += int64(n)
	return true
}

func (b *budget) release(n int) {
	if b.limit <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used -= int64(n)
	if b.used < 0 {
		b.used = 0
	}
}

// Client owns all transaction state for one consumer of a device: the
// event-indexed registry of waiting transactions, the ready-to-run process
// queue, the single worker goroutine that drains it, and the periodic I/O
// timers. All methods are safe for concurrent use.
type Client struct {
	id  string
	dev *Device

	log     *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	hist    history.Store
	deliver event.Deliverer

	pollInterval time.Duration
	budget       *budget

	// counters is the client-scope event counter table; the device-scope
	// table lives on dev.
	counters *event.CounterTable

	mu       sync.Mutex
	idle     *sync.Cond
	registry map[int64][]*Transaction
	queue    []*Transaction
	nextID   int64
	working  bool
	inflight int
	closed   bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	// Periodic I/O state, guarded by its own lock so timer ticks never
	// contend with transaction dispatch.
	pmu      sync.Mutex
	pidle    *sync.Cond
	periods  map[time.Duration]*periodList
	pqueue   []*PeriodicIO
	pworking bool
	pnextID  int64
	pwake    chan struct{}
	pdone    chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger. Nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *Client) { c.metrics = m }
}

// WithSpans sets the trace span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(c *Client) { c.spans = s }
}

// WithHistory sets the diagnostic history store. The client closes it on
// Close.
func WithHistory(h history.Store) Option {
	return func(c *Client) { c.hist = h }
}

// WithDeliverer sets the outgoing event deliverer.
func WithDeliverer(d event.Deliverer) Option {
	return func(c *Client) { c.deliver = d }
}

// WithPollInterval sets the sleep between poll-entry read attempts.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithResponseBudget bounds the total bytes of outstanding response
// buffers. Zero means unlimited.
func WithResponseBudget(bytes int64) Option {
	return func(c *Client) { c.budget = newBudget(bytes) }
}

// WithEngineOptions applies config-decoded engine settings: history
// capacity or path, poll interval and response budget. If the SQLite
// history at the configured path cannot be opened, the client falls back
// to the in-memory ring.
func WithEngineOptions(opts config.EngineOptions) Option {
	return func(c *Client) {
		c.hist = history.NewRing(opts.HistoryCapacity)
		if opts.HistoryPath != "" {
			if store, err := history.NewSQLiteStore(opts.HistoryPath); err == nil {
				c.hist = store
			} else {
				slog.Warn("history database unavailable, using in-memory ring",
					slog.String("path", opts.HistoryPath),
					slog.String("error", err.Error()))
			}
		}
		if opts.PollInterval > 0 {
			c.pollInterval = opts.PollInterval
		}
		c.budget = newBudget(opts.ResponseBudgetBytes)
	}
}

// NewClient creates a client for dev and starts its worker goroutines.
func NewClient(dev *Device, opts ...Option) *Client {
	c := &Client{
		id:           uuid.New().String(),
		dev:          dev,
		metrics:      observability.NoopMetrics{},
		spans:        observability.NoopSpanManager{},
		hist:         history.NewRing(history.DefaultCapacity),
		deliver:      event.DelivererFunc(func([]event.Envelope, bool) {}),
		pollInterval: time.Millisecond,
		budget:       newBudget(0),
		counters:     event.NewCounterTable(),
		registry:     make(map[int64][]*Transaction),
		periods:      make(map[time.Duration]*periodList),
		wake:         make(chan struct{}, 1),
		pwake:        make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		pdone:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = observability.EnrichLogger(c.log, c.id, dev.Name)
	c.idle = sync.NewCond(&c.mu)
	c.pidle = sync.NewCond(&c.pmu)

	go c.workerLoop()
	go c.periodicLoop()
	return c
}

// ID returns the client's identity, used in traces and logs.
func (c *Client) ID() string {
	return c.id
}

// Counters returns the client-scope event counter table.
func (c *Client) Counters() *event.CounterTable {
	return c.counters
}

// Submit validates, prepares and queues a transaction. On success it
// returns the assigned transaction id; the outcome is delivered later via
// the transaction's success or error event. On failure the transaction was
// never queued.
func (c *Client) Submit(ctx context.Context, t *Transaction) (id int64, err error) {
	_, span := c.spans.StartSubmitSpan(ctx, c.id)
	defer func() { c.spans.EndSpanWithError(span, err) }()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClientClosed
	}
	id, err = c.submitLocked(t, t.Trigger.AllowCounterEqual)
	c.mu.Unlock()

	if err != nil {
		observability.LogSubmitRejected(c.log, t.Trigger.EventID, err)
		return 0, err
	}
	c.metrics.RecordSubmission(ctx, t.Trigger.EventID != event.None)
	observability.LogSubmit(c.log, id, t.Trigger.EventID, t.Trigger.Counter)
	return id, nil
}

func (c *Client) submitLocked(t *Transaction, allowCounterEq bool) (int64, error) {
	if err := c.validateLocked(t, allowCounterEq); err != nil {
		return 0, err
	}
	if err := c.prepareLocked(t); err != nil {
		return 0, err
	}
	c.queueLocked(t)
	return t.ID, nil
}

// validateLocked checks the trigger against the current occurrence counter
// and ensures counter state exists for both emission events in the device
// and client scopes. Performs no I/O.
func (c *Client) validateLocked(t *Transaction, allowCounterEq bool) error {
	t.CurrentTriggerCounter = -1

	if t.Trigger.EventID != event.None {
		cur, ok := c.dev.Counters().Current(t.Trigger.EventID)
		if !ok {
			cur = 0
		}
		t.CurrentTriggerCounter = cur

		if event.Explicit(t.Trigger.Counter) {
			switch {
			case t.Trigger.Counter == cur:
				if !allowCounterEq {
					return ErrAlreadyOccurred
				}
				// Occurrence already happened and the caller opted in:
				// run the transaction immediately instead.
				t.Trigger.EventID = event.None
			case t.Trigger.Counter < cur:
				return ErrStaleTrigger
			}
		}
	}

	for _, id := range []int64{t.SuccessEventID, t.ErrorEventID} {
		if _, err := c.dev.Counters().FindOrCreate(id); err != nil {
			return fmt.Errorf("%w: device event state: %v", ErrInvalidArgument, err)
		}
		if _, err := c.counters.FindOrCreate(id); err != nil {
			return fmt.Errorf("%w: client event state: %v", ErrInvalidArgument, err)
		}
	}
	return nil
}

// prepareLocked sizes and allocates the response buffer and assigns the
// transaction id. Never blocks; safe while the client lock is held.
func (c *Client) prepareLocked(t *Transaction) error {
	resp := entry.NewResponse(c.nextID, t.Entries, c.dev.widthBytes())
	if !c.budget.reserve(resp.Size()) {
		return ErrOutOfMemory
	}
	t.ID = c.nextID
	t.resp = resp
	return nil
}

// queueLocked places the transaction into the process queue (no trigger)
// or the registry bucket for its trigger event, and advances the id
// counter.
func (c *Client) queueLocked(t *Transaction) {
	if t.Trigger.EventID == event.None {
		c.queue = append(c.queue, t)
		c.signalWorker()
	} else {
		c.registry[t.Trigger.EventID] = append(c.registry[t.Trigger.EventID], t)
	}
	t.submittedAt = time.Now()
	c.nextID++
}

// Cancel marks the waiting transaction with the given id as cancelled. The
// transaction stays in its registry bucket; the next matching occurrence
// or a flush routes it to teardown, which emits exactly one Cancelled
// error event. Transactions already on the process queue or executing are
// not reachable. Returns ErrNotFound if no waiting transaction matches.
func (c *Client) Cancel(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, bucket := range c.registry {
		for _, t := range bucket {
			if t.ID == id {
				t.resp.ErrorCode = entry.CodeCancelled
				c.metrics.RecordCancellation(context.Background())
				observability.LogCancelled(c.log, id)
				return nil
			}
		}
	}
	return ErrNotFound
}

// Replace atomically swaps a waiting transaction for a new one sharing its
// id: under a single lock acquisition the new transaction is validated,
// the waiting twin is cancelled, and the new instance is prepared and
// queued. There is no window where both are runnable. The new transaction
// receives a fresh id which is returned.
func (c *Client) Replace(ctx context.Context, t *Transaction) (id int64, err error) {
	_, span := c.spans.StartSubmitSpan(ctx, c.id)
	defer func() { c.spans.EndSpanWithError(span, err) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClientClosed
	}
	if err := c.validateLocked(t, false); err != nil {
		return 0, err
	}
	if err := c.cancelWaitingLocked(t.ID); err != nil {
		return 0, err
	}
	if err := c.prepareLocked(t); err != nil {
		return 0, err
	}
	c.queueLocked(t)
	return t.ID, nil
}

func (c *Client) cancelWaitingLocked(id int64) error {
	for _, bucket := range c.registry {
		for _, t := range bucket {
			if t.ID == id {
				t.resp.ErrorCode = entry.CodeCancelled
				return nil
			}
		}
	}
	return ErrNotFound
}

// Flush cancels every waiting transaction (except the reserved cleanup
// bucket), cancels everything on the process queue, and waits for both the
// worker and any inline executions in flight to finish. When Flush
// returns, no transaction remains queued, waiting or executing, and every
// cancelled transaction has received a Cancelled error event.
func (c *Client) Flush() {
	var batch event.Batch
	cancelled := 0

	c.mu.Lock()
	for eventID, bucket := range c.registry {
		if eventID == event.ClientCleanup {
			continue
		}
		for _, t := range bucket {
			c.cancelOutLocked(t, &batch)
			cancelled++
		}
		delete(c.registry, eventID)
	}
	for _, t := range c.queue {
		if t.resp.ErrorCode == 0 {
			t.resp.ErrorCode = entry.CodeCancelled
		}
		cancelled++
	}
	if len(c.queue) > 0 {
		c.signalWorker()
	}
	for c.working || c.inflight > 0 || len(c.queue) > 0 {
		c.idle.Wait()
	}
	// The worker drained everything while we waited. Anything still here
	// slipped in through a path that should not exist; cancel it rather
	// than leak it.
	if n := len(c.queue); n > 0 {
		observability.LogFlushResidue(c.log, n)
		for _, t := range c.queue {
			c.cancelOutLocked(t, &batch)
		}
		c.queue = nil
	}
	c.mu.Unlock()

	observability.LogFlush(c.log, cancelled)
	c.deliverBatch(&batch, false)
}

// cancelOutLocked terminates a waiting transaction in place: marks it
// cancelled, emits its error event into batch, and returns its response
// bytes to the budget.
func (c *Client) cancelOutLocked(t *Transaction, batch *event.Batch) {
	if t.resp.ErrorCode == 0 {
		t.resp.ErrorCode = entry.CodeCancelled
	}
	batch.Push(t.ErrorEventID, headerOnlyResponse(t.ID, t.resp.ErrorCode))
	c.budget.release(t.resp.Size())
	c.metrics.RecordCancellation(context.Background())
}

// RunCleanup executes the reserved cleanup bucket synchronously and
// removes it. Transactions already carrying an error, or any transaction
// while the device is disabled, are cancelled instead of executed. No
// outcome events are emitted; failures are logged. The bucket fires at
// most once, typically at client teardown.
func (c *Client) RunCleanup() {
	c.mu.Lock()
	bucket, ok := c.registry[event.ClientCleanup]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.registry, event.ClientCleanup)

	for _, t := range bucket {
		if t.resp.ErrorCode != 0 || !c.dev.Enabled() {
			c.budget.release(t.resp.Size())
			c.metrics.RecordCancellation(context.Background())
			continue
		}
		c.inflight++
		c.mu.Unlock()
		c.execute(t, nil, false)
		c.mu.Lock()
		c.inflight--
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

// Close runs the cleanup bucket, flushes the client, stops its worker
// goroutines and closes the history store. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.FlushPeriodic()
	c.Flush()
	c.RunCleanup()
	close(c.stop)
	<-c.done
	<-c.pdone
	return c.hist.Close()
}

func (c *Client) signalWorker() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) deliverBatch(batch *event.Batch, inIRQ bool) {
	if batch.Len() == 0 {
		return
	}
	c.deliver.Deliver(batch.Envelopes(), inIRQ)
	c.metrics.RecordEventsDelivered(context.Background(), batch.Len())
}
