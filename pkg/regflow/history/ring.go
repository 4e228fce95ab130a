package history

import "sync"

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 32

// Ring is a fixed-capacity in-memory history: each new record overwrites
// the oldest once the ring is full. Capacity is set at construction time.
type Ring struct {
	mu     sync.Mutex
	slots  []Record
	next   int
	filled int
	closed bool
}

// NewRing creates a ring with the given capacity. Non-positive capacities
// fall back to DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{slots: make([]Record, capacity)}
}

// Append implements Store.
func (r *Ring) Append(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrStoreClosed
	}

	r.slots[r.next] = rec
	r.next = (r.next + 1) % len(r.slots)
	if r.filled < len(r.slots) {
		r.filled++
	}
	return nil
}

// Recent implements Store.
func (r *Ring) Recent(n int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrStoreClosed
	}

	if n > r.filled {
		n = r.filled
	}
	out := make([]Record, 0, n)
	idx := r.next
	for i := 0; i < n; i++ {
		idx--
		if idx < 0 {
			idx = len(r.slots) - 1
		}
		out = append(out, r.slots[idx])
	}
	return out, nil
}

// Len returns the number of stored records. Useful for testing.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filled
}

// Close implements Store.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
