package event

import (
	"fmt"
	"sync"
)

// Reserved event ids. Valid triggerable and emittable event ids are
// non-negative; the reserved ids select engine behavior instead.
const (
	// None marks a transaction with no trigger: it executes immediately.
	None int64 = -1

	// ClientCleanup is the reserved pseudo-event whose bucket is executed
	// synchronously at client teardown rather than cancelled.
	ClientCleanup int64 = -2
)

// Trigger counter modes. A non-negative counter matches one specific
// occurrence; the reserved values match positionally.
const (
	// OnNextOccurrence matches the very next occurrence unconditionally.
	OnNextOccurrence int64 = -1

	// EveryTime matches every future occurrence; the registration
	// persists until cancelled or flushed.
	EveryTime int64 = -2
)

// Explicit reports whether a trigger counter names one specific occurrence
// rather than a positional mode.
func Explicit(counter int64) bool {
	return counter != OnNextOccurrence && counter != EveryTime
}

// CounterTable tracks the occurrence counter of every event id seen in one
// scope. Counters are created lazily and are strictly non-decreasing.
// Safe for concurrent use.
type CounterTable struct {
	mu       sync.Mutex
	counters map[int64]int64
}

// NewCounterTable returns an empty table.
func NewCounterTable() *CounterTable {
	return &CounterTable{counters: make(map[int64]int64)}
}

// Current returns the occurrence counter for id, and whether the id has
// ever been observed or created in this scope.
func (t *CounterTable) Current(id int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.counters[id]
	return c, ok
}

// FindOrCreate ensures a counter entry exists for id, creating it at zero
// on first reference. Reserved ids cannot carry state and are rejected.
func (t *CounterTable) FindOrCreate(id int64) (int64, error) {
	if id < 0 {
		return 0, fmt.Errorf("event id %d is reserved", id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counters[id]; ok {
		return c, nil
	}
	t.counters[id] = 0
	return 0, nil
}

// Observe records a delivered occurrence counter for id, creating the entry
// if needed. The stored counter never moves backwards: a stale delivery is
// ignored.
func (t *CounterTable) Observe(id, counter int64) {
	if id < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.counters[id]; !ok || counter > cur {
		t.counters[id] = counter
	}
}

// Len returns the number of tracked event ids.
func (t *CounterTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counters)
}
